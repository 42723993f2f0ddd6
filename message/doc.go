// Package message defines the canister messaging model shared by the
// queueing subsystem: requests, responses, ingress messages, reject
// contexts, and coarse (second granularity) deadlines.
//
// All message values are treated as immutable once constructed. The
// queueing layer stores pointers to them and never mutates the pointees.
package message
