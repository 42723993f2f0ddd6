package canqueue

import (
	"fmt"
	"math"

	"github.com/joeycumines/go-canqueue/internal/queue"
	"github.com/joeycumines/go-canqueue/message"
)

// unknownCanister is passed as the own canister ID to schedulesOk when the
// local/remote partition cannot be decided.
const unknownCanister = message.CanisterID(math.MaxUint64)

// testInvariants validates the invariants not covered by schedulesOk: no
// stale references at queue heads, and reservation stats matching the
// actual queues. Used during deserialization and by tests.
func (x *CanisterQueues) testInvariants() error {
	for _, peer := range x.sortedPeers() {
		pair := x.canisterQueues[peer]
		if err := x.canisterQueueOK(pair.input, peer, `input`); err != nil {
			return err
		}
		if err := x.canisterQueueOK(pair.output, peer, `output`); err != nil {
			return err
		}
	}

	calculated := x.calculateQueueStats(
		x.queueStats.guaranteedResponseMemoryReservations,
		x.queueStats.transientStreamGuaranteedResponsesSizeBytes,
	)
	if x.queueStats != calculated {
		return fmt.Errorf("inconsistent stats: expected %+v, actual %+v", calculated, x.queueStats)
	}

	return nil
}

// canisterQueueOK validates the hard invariant that a queue is either
// empty or starts with a non-stale reference.
func (x *CanisterQueues) canisterQueueOK(q *queue.CanisterQueue, peer message.CanisterID, direction string) error {
	if id, ok := q.Peek(); ok && x.pool.Get(id) == nil {
		return fmt.Errorf("stale reference at the head of %s queue to/from %v", direction, peer)
	}
	return nil
}

// calculateQueueStats recomputes the reservation stats from the queues.
// The memory reservation count and stream byte size are taken from the
// caller, as the queues do not track them.
func (x *CanisterQueues) calculateQueueStats(memoryReservations, streamResponseBytes int) QueueStats {
	var stats QueueStats
	stats.guaranteedResponseMemoryReservations = memoryReservations
	stats.transientStreamGuaranteedResponsesSizeBytes = streamResponseBytes
	for _, pair := range x.canisterQueues {
		stats.inputQueuesReservedSlots += pair.input.ReservedSlots()
		stats.outputQueuesReservedSlots += pair.output.ReservedSlots()
	}
	return stats
}

// schedulesOk validates the input schedules: no duplicates within or
// across the two schedules; their union matching the scheduled set; and
// every peer with a non-empty input queue found in exactly one schedule
// (the correct one, where the local/remote partition can be decided).
//
// own may be passed as unknownCanister when the partition cannot be
// decided (e.g. during deserialization); peers are then accepted in
// either schedule.
func (x *CanisterQueues) schedulesOk(own message.CanisterID, localCanisters map[message.CanisterID]struct{}) error {
	local := make(map[message.CanisterID]struct{}, len(x.localSubnetInputSchedule))
	for _, peer := range x.localSubnetInputSchedule {
		local[peer] = struct{}{}
	}
	remote := make(map[message.CanisterID]struct{}, len(x.remoteSubnetInputSchedule))
	for _, peer := range x.remoteSubnetInputSchedule {
		remote[peer] = struct{}{}
	}

	if len(local) != len(x.localSubnetInputSchedule) || len(remote) != len(x.remoteSubnetInputSchedule) {
		return fmt.Errorf("duplicate entries in input schedules: local %v, remote %v",
			x.localSubnetInputSchedule, x.remoteSubnetInputSchedule)
	}
	for peer := range local {
		if _, ok := remote[peer]; ok {
			return fmt.Errorf("canister %v present in both input schedules", peer)
		}
	}

	if len(local)+len(remote) != len(x.inputScheduleCanisters) {
		return fmt.Errorf("inconsistent input schedules: local %v, remote %v, %d canisters in scheduled set",
			x.localSubnetInputSchedule, x.remoteSubnetInputSchedule, len(x.inputScheduleCanisters))
	}
	for peer := range x.inputScheduleCanisters {
		if _, ok := local[peer]; ok {
			continue
		}
		if _, ok := remote[peer]; !ok {
			return fmt.Errorf("scheduled canister %v absent from both input schedules", peer)
		}
	}

	for _, peer := range x.sortedPeers() {
		if x.canisterQueues[peer].input.Len() == 0 {
			continue
		}

		if own != unknownCanister && (peer == own || containsCanister(localCanisters, peer)) {
			// Definitely a local canister.
			if _, ok := local[peer]; !ok {
				return fmt.Errorf("local canister %v with non-empty input queue absent from local input schedule", peer)
			}
			delete(local, peer)
			continue
		}

		// Remote canister, deleted local canister, or unknown partition.
		// Accept either schedule.
		if _, ok := remote[peer]; ok {
			delete(remote, peer)
		} else if _, ok := local[peer]; ok {
			delete(local, peer)
		} else {
			return fmt.Errorf("canister %v with non-empty input queue absent from input schedules", peer)
		}
	}

	// A currently empty input queue may legitimately remain scheduled, if
	// all its messages expired or were shed after it was enqueued.

	return nil
}
