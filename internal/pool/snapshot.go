package pool

import (
	"container/heap"
	"fmt"
	"sort"

	"github.com/joeycumines/go-canqueue/message"
)

// Snapshot is the canonical serialized form of a Pool: messages in id
// order, both priority queues as sorted vectors.
type Snapshot struct {
	Messages         []Entry
	MessageDeadlines []DeadlineEntry
	MessageSizes     []SizeEntry
	NextID           uint64
}

// Snapshot returns the canonical serialized form of the pool.
func (x *Pool) Snapshot() Snapshot {
	messages := make([]Entry, 0, len(x.messages))
	for id, msg := range x.messages {
		messages = append(messages, Entry{ID: id, Msg: msg})
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].ID < messages[j].ID })

	deadlines := append([]DeadlineEntry(nil), x.deadlineQueue...)
	sort.Slice(deadlines, func(i, j int) bool {
		if deadlines[i].Deadline != deadlines[j].Deadline {
			return deadlines[i].Deadline < deadlines[j].Deadline
		}
		return deadlines[i].ID < deadlines[j].ID
	})

	sizes := append([]SizeEntry(nil), x.sizeQueue...)
	sort.Slice(sizes, func(i, j int) bool {
		if sizes[i].SizeBytes != sizes[j].SizeBytes {
			return sizes[i].SizeBytes < sizes[j].SizeBytes
		}
		return sizes[i].ID < sizes[j].ID
	})

	return Snapshot{
		Messages:         messages,
		MessageDeadlines: deadlines,
		MessageSizes:     sizes,
		NextID:           x.idGenerator,
	}
}

// IsEmpty reports whether the snapshot is that of a default (empty, never
// used) pool.
func (x Snapshot) IsEmpty() bool {
	return len(x.Messages) == 0 && len(x.MessageDeadlines) == 0 && len(x.MessageSizes) == 0 && x.NextID == 0
}

// Restore reconstructs a Pool from a snapshot, recomputing the stats and
// validating the pool's invariants.
func Restore(snapshot Snapshot) (*Pool, error) {
	messages := make(map[ID]message.Message, len(snapshot.Messages))
	for _, entry := range snapshot.Messages {
		if entry.Msg == nil {
			return nil, fmt.Errorf("pool: restore: missing message for id %v", entry.ID)
		}
		if _, ok := messages[entry.ID]; ok {
			return nil, fmt.Errorf("pool: restore: duplicate id %v", entry.ID)
		}
		messages[entry.ID] = entry.Msg
	}

	res := &Pool{
		messages:      messages,
		stats:         calculateStats(messages),
		deadlineQueue: append(deadlineHeap(nil), snapshot.MessageDeadlines...),
		sizeQueue:     append(sizeHeap(nil), snapshot.MessageSizes...),
		idGenerator:   snapshot.NextID,
	}
	heap.Init(&res.deadlineQueue)
	heap.Init(&res.sizeQueue)

	if err := res.checkInvariants(); err != nil {
		return nil, fmt.Errorf("pool: restore: %w", err)
	}
	return res, nil
}

// checkInvariants validates the structural invariants of the pool:
// id flags matching the messages they identify; the id generator ahead of
// every issued id; deadline queue coverage of all expirable messages; and
// load shedding queue coverage of exactly the best-effort messages.
func (x *Pool) checkInvariants() error {
	var maxID ID
	// Ids that must be present in the load shedding / deadline queues.
	bestEffort := make(map[ID]struct{})
	withDeadlines := make(map[ID]struct{})

	for id, msg := range x.messages {
		if id.Kind() != KindOf(msg) {
			return fmt.Errorf("message kind mismatch for id %v", id)
		}
		if id.Class() != ClassOf(msg) {
			return fmt.Errorf("message class mismatch for id %v", id)
		}

		if id > maxID {
			maxID = id
		}
		switch {
		case id.Class() == ClassBestEffort:
			bestEffort[id] = struct{}{}
			// Inbound best-effort responses are not expirable.
			if id.Kind() != KindResponse || id.Context() != ContextInbound {
				withDeadlines[id] = struct{}{}
			}
		case id.Context() == ContextOutbound && id.Kind() == KindRequest:
			withDeadlines[id] = struct{}{}
		}
	}

	if len(x.messages) != 0 && uint64(maxID)>>bitmaskLen >= x.idGenerator {
		return fmt.Errorf("id %v out of bounds for generator %d", maxID, x.idGenerator)
	}

	for _, entry := range x.deadlineQueue {
		id := entry.ID
		if id.Class() == ClassGuaranteedResponse && (id.Context() != ContextOutbound || id.Kind() != KindRequest) {
			return fmt.Errorf("unexpected guaranteed response id %v in deadline queue", id)
		}
		if msg, ok := x.messages[id]; ok && id.Class() == ClassBestEffort {
			if message.Deadline(msg) != entry.Deadline {
				return fmt.Errorf("deadline mismatch for id %v", id)
			}
		}
		delete(withDeadlines, id)
	}
	if len(withDeadlines) != 0 {
		return fmt.Errorf("%d messages missing from deadline queue", len(withDeadlines))
	}

	for _, entry := range x.sizeQueue {
		if entry.ID.Class() == ClassGuaranteedResponse {
			return fmt.Errorf("guaranteed response id %v in load shedding queue", entry.ID)
		}
		delete(bestEffort, entry.ID)
	}
	if len(bestEffort) != 0 {
		return fmt.Errorf("%d best-effort messages missing from load shedding queue", len(bestEffort))
	}

	return nil
}
