package canqueue

import (
	"errors"
	"fmt"
	"math"

	"github.com/joeycumines/go-canqueue/internal/pool"
	"github.com/joeycumines/go-canqueue/internal/queue"
	"github.com/joeycumines/go-canqueue/message"
)

type (
	// Record is the canonical serialized form of a CanisterQueues. It is a
	// logical record: the encoding to bytes is left to the checkpointing
	// layer.
	//
	// The legacy InputQueues / OutputQueues parallel lists are accepted on
	// decode for backward compatibility and rejected on encode.
	Record struct {
		IngressQueue                         []*message.Ingress
		CanisterQueues                       []QueuePairRecord
		Pool                                 *PoolRecord
		NextInputQueue                       NextInputQueue
		LocalSubnetInputSchedule             []message.CanisterID
		RemoteSubnetInputSchedule            []message.CanisterID
		GuaranteedResponseMemoryReservations uint64

		// Legacy per-queue message lists; decode only.
		InputQueues  []LegacyQueueRecord
		OutputQueues []LegacyQueueRecord
	}

	// QueuePairRecord is the serialized queue pair from/to one peer.
	QueuePairRecord struct {
		Peer        message.CanisterID
		InputQueue  QueueRecord
		OutputQueue QueueRecord
	}

	// QueueRecord is the serialized form of a single canister queue:
	// capacities, reserved response slots, and the raw pool references.
	QueueRecord struct {
		RequestCapacity  int
		ResponseCapacity int
		ReservedSlots    int
		Items            []uint64
	}

	// PoolRecord is the serialized form of the message pool: messages in
	// id order, both priority queues as sorted vectors.
	PoolRecord struct {
		Messages         []PoolEntryRecord
		MessageDeadlines []DeadlineRecord
		MessageSizes     []SizeRecord
		NextMessageID    uint64
	}

	// PoolEntryRecord pairs a raw message id with its message.
	PoolEntryRecord struct {
		ID      uint64
		Message message.Message
	}

	// DeadlineRecord is a deadline queue entry.
	DeadlineRecord struct {
		DeadlineSeconds uint32
		ID              uint64
	}

	// SizeRecord is a load shedding queue entry.
	SizeRecord struct {
		SizeBytes int
		ID        uint64
	}

	// LegacyQueueRecord is a legacy per-queue message list: the messages
	// themselves rather than pool references. Guaranteed requests in
	// legacy output queues carry their derived lifetime deadlines in
	// Deadlines, keyed by queue index.
	LegacyQueueRecord struct {
		Peer          message.CanisterID
		Capacity      int
		ReservedSlots int
		Messages      []message.Message
		Deadlines     []LegacyQueueDeadline
	}

	// LegacyQueueDeadline records the derived deadline of the guaranteed
	// request at the given queue index.
	LegacyQueueDeadline struct {
		Index           int
		DeadlineSeconds uint32
	}
)

// CheckpointLoadingMetrics observes soft invariant violations discovered
// while decoding a Record. Violations are reported, not treated as decode
// failures, so that forward progress is preserved.
type CheckpointLoadingMetrics interface {
	ObserveBrokenSoftInvariant(msg string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveBrokenSoftInvariant(string) {}

// Record returns the canonical serialized form.
func (x *CanisterQueues) Record() *Record {
	r := &Record{
		IngressQueue:                         x.ingressQueue.Snapshot(),
		NextInputQueue:                       x.nextInputQueue,
		LocalSubnetInputSchedule:             append([]message.CanisterID(nil), x.localSubnetInputSchedule...),
		RemoteSubnetInputSchedule:            append([]message.CanisterID(nil), x.remoteSubnetInputSchedule...),
		GuaranteedResponseMemoryReservations: uint64(x.queueStats.guaranteedResponseMemoryReservations),
	}

	for _, peer := range x.sortedPeers() {
		pair := x.canisterQueues[peer]
		r.CanisterQueues = append(r.CanisterQueues, QueuePairRecord{
			Peer:        peer,
			InputQueue:  queueRecord(pair.input.Snapshot()),
			OutputQueue: queueRecord(pair.output.Snapshot()),
		})
	}

	if snapshot := x.pool.Snapshot(); !snapshot.IsEmpty() {
		r.Pool = poolRecord(snapshot)
	}

	return r
}

func queueRecord(snapshot queue.CanisterQueueSnapshot) QueueRecord {
	r := QueueRecord{
		RequestCapacity:  snapshot.RequestCapacity,
		ResponseCapacity: snapshot.ResponseCapacity,
		ReservedSlots:    snapshot.ReservedSlots,
	}
	for _, id := range snapshot.Items {
		r.Items = append(r.Items, uint64(id))
	}
	return r
}

func poolRecord(snapshot pool.Snapshot) *PoolRecord {
	r := &PoolRecord{NextMessageID: snapshot.NextID}
	for _, entry := range snapshot.Messages {
		r.Messages = append(r.Messages, PoolEntryRecord{ID: uint64(entry.ID), Message: entry.Msg})
	}
	for _, entry := range snapshot.MessageDeadlines {
		r.MessageDeadlines = append(r.MessageDeadlines, DeadlineRecord{
			DeadlineSeconds: uint32(entry.Deadline),
			ID:              uint64(entry.ID),
		})
	}
	for _, entry := range snapshot.MessageSizes {
		r.MessageSizes = append(r.MessageSizes, SizeRecord{
			SizeBytes: entry.SizeBytes,
			ID:        uint64(entry.ID),
		})
	}
	return r
}

// FromRecord reconstructs a CanisterQueues from its serialized form,
// recomputing all derived state and revalidating the invariants. Soft
// invariant violations (duplicate enqueued messages, inconsistent
// schedules, pool/queue mismatches) are reported via metrics; hard
// violations (stale queue heads, broken pool structure) fail the decode.
//
// A nil metrics discards soft invariant observations.
func FromRecord(r *Record, metrics CheckpointLoadingMetrics) (*CanisterQueues, error) {
	if metrics == nil {
		metrics = noopMetrics{}
	}

	x := New()

	var err error
	if len(r.InputQueues) != 0 || len(r.OutputQueues) != 0 {
		err = x.decodeLegacyQueues(r, metrics)
	} else {
		err = x.decodeQueues(r, metrics)
	}
	if err != nil {
		return nil, err
	}

	x.queueStats = x.calculateQueueStats(int(r.GuaranteedResponseMemoryReservations), 0)

	x.nextInputQueue = r.NextInputQueue
	if x.nextInputQueue > NextInputQueueRemoteSubnet {
		x.nextInputQueue = NextInputQueueIngress
	}

	x.localSubnetInputSchedule = append([]message.CanisterID(nil), r.LocalSubnetInputSchedule...)
	x.remoteSubnetInputSchedule = append([]message.CanisterID(nil), r.RemoteSubnetInputSchedule...)
	for _, peer := range x.localSubnetInputSchedule {
		x.inputScheduleCanisters[peer] = struct{}{}
	}
	for _, peer := range x.remoteSubnetInputSchedule {
		x.inputScheduleCanisters[peer] = struct{}{}
	}

	// Derive the enqueued-response callbacks from the decoded input queues.
	for _, pair := range x.canisterQueues {
		for _, id := range pair.input.Items() {
			if rep, ok := x.pool.Get(id).(*message.Response); ok {
				x.callbacksWithEnqueuedResponse[rep.OriginatorReplyCallback] = struct{}{}
			}
		}
	}

	// The local/remote partition cannot be decided here; the validation
	// accepts peers in either schedule.
	if err := x.schedulesOk(unknownCanister, nil); err != nil {
		metrics.ObserveBrokenSoftInvariant(err.Error())
	}
	if err := x.testInvariants(); err != nil {
		return nil, fmt.Errorf("canqueue: from record: %w", err)
	}

	return x, nil
}

// decodeQueues decodes the pool and the queue pairs referencing it.
func (x *CanisterQueues) decodeQueues(r *Record, metrics CheckpointLoadingMetrics) error {
	var snapshot pool.Snapshot
	if r.Pool != nil {
		snapshot = poolSnapshot(r.Pool)
	}
	p, err := pool.Restore(snapshot)
	if err != nil {
		return fmt.Errorf("canqueue: from record: %w", err)
	}
	x.pool = p

	enqueued := make(map[pool.ID]struct{}, p.Len())
	for _, qp := range r.CanisterQueues {
		iq, err := queue.RestoreCanisterQueue(queueSnapshot(qp.InputQueue))
		if err != nil {
			return fmt.Errorf("canqueue: from record: input queue for %v: %w", qp.Peer, err)
		}
		oq, err := queue.RestoreCanisterQueue(queueSnapshot(qp.OutputQueue))
		if err != nil {
			return fmt.Errorf("canqueue: from record: output queue for %v: %w", qp.Peer, err)
		}

		for _, id := range append(iq.Items(), oq.Items()...) {
			if x.pool.Get(id) == nil {
				continue
			}
			if _, ok := enqueued[id]; ok {
				metrics.ObserveBrokenSoftInvariant(fmt.Sprintf("message %v enqueued more than once", id))
			}
			enqueued[id] = struct{}{}
		}

		if _, ok := x.canisterQueues[qp.Peer]; ok {
			metrics.ObserveBrokenSoftInvariant(fmt.Sprintf("duplicate queues for canister %v", qp.Peer))
		}
		x.canisterQueues[qp.Peer] = &queuePair{input: iq, output: oq}
	}

	if len(enqueued) != p.Len() {
		metrics.ObserveBrokenSoftInvariant(fmt.Sprintf(
			"pool holds %d messages, but only %d of them are enqueued", p.Len(), len(enqueued)))
	}
	return nil
}

// decodeLegacyQueues converts legacy per-queue message lists, extending
// the pool queue by queue.
func (x *CanisterQueues) decodeLegacyQueues(r *Record, metrics CheckpointLoadingMetrics) error {
	if r.Pool != nil || len(r.CanisterQueues) != 0 {
		return errors.New(`canqueue: from record: both legacy queues and pool/canister queues are populated`)
	}
	if len(r.InputQueues) != len(r.OutputQueues) {
		return fmt.Errorf("canqueue: from record: mismatched input (%d) and output (%d) queue lengths",
			len(r.InputQueues), len(r.OutputQueues))
	}

	for i := range r.InputQueues {
		ir, or := r.InputQueues[i], r.OutputQueues[i]
		if ir.Peer != or.Peer {
			return fmt.Errorf("canqueue: from record: mismatched input (%v) and output (%v) queue entries",
				ir.Peer, or.Peer)
		}

		iq, err := x.convertLegacyQueue(ir, pool.ContextInbound, metrics)
		if err != nil {
			return err
		}
		oq, err := x.convertLegacyQueue(or, pool.ContextOutbound, metrics)
		if err != nil {
			return err
		}

		if _, ok := x.canisterQueues[ir.Peer]; ok {
			metrics.ObserveBrokenSoftInvariant(fmt.Sprintf("duplicate queues for canister %v", ir.Peer))
		}
		x.canisterQueues[ir.Peer] = &queuePair{input: iq, output: oq}
	}
	return nil
}

func (x *CanisterQueues) convertLegacyQueue(r LegacyQueueRecord, context pool.Context, metrics CheckpointLoadingMetrics) (*queue.CanisterQueue, error) {
	deadlines := make(map[int]message.CoarseTime, len(r.Deadlines))
	for _, d := range r.Deadlines {
		deadlines[d.Index] = message.CoarseTime(d.DeadlineSeconds)
	}

	items := make([]pool.ID, 0, len(r.Messages))
	for i, msg := range r.Messages {
		if msg == nil {
			return nil, fmt.Errorf("canqueue: from record: missing message in legacy queue for %v", r.Peer)
		}
		id := x.pool.NextID(pool.KindOf(msg), context, pool.ClassOf(msg))
		switch m := msg.(type) {
		case *message.Request:
			if context == pool.ContextInbound {
				x.pool.InsertInbound(id, m)
				break
			}
			deadline, ok := deadlines[i]
			if !ok {
				deadline = m.Deadline
			}
			if deadline == message.NoDeadline {
				// A legacy guaranteed request with no recorded deadline:
				// keep it, with the farthest representable deadline.
				metrics.ObserveBrokenSoftInvariant(fmt.Sprintf(
					"legacy guaranteed request at index %d for %v has no deadline", i, r.Peer))
				deadline = message.CoarseTime(math.MaxUint32)
			}
			x.pool.RestoreOutboundRequest(id, m, deadline)
		case *message.Response:
			if context == pool.ContextInbound {
				x.pool.InsertInbound(id, m)
			} else {
				x.pool.InsertOutboundResponse(id, m)
			}
		}
		items = append(items, id)
	}

	capacity := r.Capacity
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	q, err := queue.RestoreCanisterQueue(queue.CanisterQueueSnapshot{
		RequestCapacity:  capacity,
		ResponseCapacity: capacity,
		ReservedSlots:    r.ReservedSlots,
		Items:            items,
	})
	if err != nil {
		return nil, fmt.Errorf("canqueue: from record: legacy queue for %v: %w", r.Peer, err)
	}
	return q, nil
}

func queueSnapshot(r QueueRecord) queue.CanisterQueueSnapshot {
	snapshot := queue.CanisterQueueSnapshot{
		RequestCapacity:  r.RequestCapacity,
		ResponseCapacity: r.ResponseCapacity,
		ReservedSlots:    r.ReservedSlots,
	}
	for _, id := range r.Items {
		snapshot.Items = append(snapshot.Items, pool.ID(id))
	}
	return snapshot
}

func poolSnapshot(r *PoolRecord) pool.Snapshot {
	snapshot := pool.Snapshot{NextID: r.NextMessageID}
	for _, entry := range r.Messages {
		snapshot.Messages = append(snapshot.Messages, pool.Entry{ID: pool.ID(entry.ID), Msg: entry.Message})
	}
	for _, entry := range r.MessageDeadlines {
		snapshot.MessageDeadlines = append(snapshot.MessageDeadlines, pool.DeadlineEntry{
			Deadline: message.CoarseTime(entry.DeadlineSeconds),
			ID:       pool.ID(entry.ID),
		})
	}
	for _, entry := range r.MessageSizes {
		snapshot.MessageSizes = append(snapshot.MessageSizes, pool.SizeEntry{
			SizeBytes: entry.SizeBytes,
			ID:        pool.ID(entry.ID),
		})
	}
	return snapshot
}
