// Package canqueue implements the per-canister message queueing subsystem
// of a replicated execution runtime: an ingress queue, paired input/output
// queues per peer canister, a shared message pool with time-based
// expiration and load shedding of best-effort traffic, round-robin input
// scheduling, slot-based backpressure, and guaranteed-response memory
// accounting.
//
// The core is single-threaded cooperative: every operation requires
// exclusive access to the CanisterQueues value, never blocks and performs
// no I/O. Concurrency, clocks and logging live in the driver package.
package canqueue
