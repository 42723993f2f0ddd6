package canqueue

import (
	"github.com/joeycumines/go-canqueue/message"
)

// Test-only accessors, exposing internal state that downstream drivers'
// tests (and this package's own) need to observe. Not for production use.

// LocalSubnetInputScheduleForTesting returns a copy of the local subnet
// input schedule.
func (x *CanisterQueues) LocalSubnetInputScheduleForTesting() []message.CanisterID {
	return append([]message.CanisterID(nil), x.localSubnetInputSchedule...)
}

// RemoteSubnetInputScheduleForTesting returns a copy of the remote subnet
// input schedule.
func (x *CanisterQueues) RemoteSubnetInputScheduleForTesting() []message.CanisterID {
	return append([]message.CanisterID(nil), x.remoteSubnetInputSchedule...)
}

// PopCanisterOutputForTesting pops the next message from the output queue
// to peer, or nil.
func (x *CanisterQueues) PopCanisterOutputForTesting(peer message.CanisterID) message.Message {
	pair, ok := x.canisterQueues[peer]
	if !ok {
		return nil
	}
	return popAndAdvance(pair.output, x.pool)
}

// OutputQueueIterForTesting returns the non-stale contents of the output
// queue to peer, head first, without consuming them; or nil if no such
// queue exists.
func (x *CanisterQueues) OutputQueueIterForTesting(peer message.CanisterID) []message.Message {
	pair, ok := x.canisterQueues[peer]
	if !ok {
		return nil
	}
	var msgs []message.Message
	for _, id := range pair.output.Items() {
		if msg := x.pool.Get(id); msg != nil {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

// QueuePairCountForTesting returns the number of peer queue pairs, empty
// or not.
func (x *CanisterQueues) QueuePairCountForTesting() int {
	return len(x.canisterQueues)
}

// CheckInvariantsForTesting validates queue head non-staleness, slot
// reservation stats consistency, and schedule integrity against the given
// local canister partition. The set of enqueued-response callbacks is not
// checked.
func (x *CanisterQueues) CheckInvariantsForTesting(own message.CanisterID, localCanisters map[message.CanisterID]struct{}) error {
	if err := x.testInvariants(); err != nil {
		return err
	}
	return x.schedulesOk(own, localCanisters)
}
