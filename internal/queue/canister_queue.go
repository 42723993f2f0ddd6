// Package queue implements the FIFO queues composed by the queueing layer:
// the per-peer canister queue of pool references, and the per-user ingress
// queue.
package queue

import (
	"errors"
	"fmt"

	"github.com/joeycumines/go-canqueue/internal/pool"
)

// ErrQueueFull is returned when a push or slot reservation is rejected
// because the queue has no remaining capacity of the required type.
var ErrQueueFull = errors.New(`canqueue: queue full`)

// CanisterQueue is a bounded FIFO of references into a message pool, plus a
// count of slots reserved for future responses.
//
// Requests and responses are counted against separate capacities. A slot
// reservation is made in a queue whenever a request is enqueued in the
// reverse queue, guaranteeing that the eventual response can always be
// delivered.
//
// References may go stale (their message expired or shed out of the pool)
// anywhere except at the head of the queue; maintaining that invariant is
// the responsibility of the composing layer, which pops stale leading
// references whenever it removes a message from the pool.
type CanisterQueue struct {
	items []pool.ID

	requestCapacity  int
	responseCapacity int

	// Enqueued references by kind, including stale ones.
	requestCount  int
	responseCount int

	// Slots reserved for responses not yet enqueued.
	reservedSlots int
}

// NewCanisterQueue returns an empty queue with the given capacities.
func NewCanisterQueue(requestCapacity, responseCapacity int) *CanisterQueue {
	if requestCapacity <= 0 || responseCapacity <= 0 {
		panic(`canqueue: queue: capacity must be positive`)
	}
	return &CanisterQueue{
		requestCapacity:  requestCapacity,
		responseCapacity: responseCapacity,
	}
}

// Len returns the number of enqueued references, including stale ones.
// Reserved slots are not counted.
func (x *CanisterQueue) Len() int { return len(x.items) }

// CheckHasRequestSlot returns ErrQueueFull if no request slot is available.
func (x *CanisterQueue) CheckHasRequestSlot() error {
	if x.requestCount >= x.requestCapacity {
		return fmt.Errorf("%w: %d requests enqueued", ErrQueueFull, x.requestCount)
	}
	return nil
}

// TryReserveResponseSlot reserves a response slot, or returns ErrQueueFull
// if no response capacity remains.
func (x *CanisterQueue) TryReserveResponseSlot() error {
	if x.reservedSlots+x.responseCount >= x.responseCapacity {
		return fmt.Errorf("%w: %d response slots used", ErrQueueFull, x.reservedSlots+x.responseCount)
	}
	x.reservedSlots++
	return nil
}

// ReleaseReservedResponseSlot releases a reserved response slot. Used when
// the request whose reservation it backs is permanently dropped.
//
// Panics if there is no reserved slot.
func (x *CanisterQueue) ReleaseReservedResponseSlot() {
	if x.reservedSlots <= 0 {
		panic(`canqueue: queue: no reserved response slot to release`)
	}
	x.reservedSlots--
}

// CheckHasReservedResponseSlot reports whether a response slot was
// previously reserved.
func (x *CanisterQueue) CheckHasReservedResponseSlot() bool {
	return x.reservedSlots > 0
}

// PushRequest appends a request reference.
//
// Panics if no request slot is available; the caller must have checked
// CheckHasRequestSlot.
func (x *CanisterQueue) PushRequest(id pool.ID) {
	if id.Kind() != pool.KindRequest {
		panic(`canqueue: queue: push request: response id`)
	}
	if x.requestCount >= x.requestCapacity {
		panic(`canqueue: queue: push request: no request slot available`)
	}
	x.items = append(x.items, id)
	x.requestCount++
}

// PushResponse appends a response reference, consuming a reserved slot.
//
// Panics if no slot was reserved.
func (x *CanisterQueue) PushResponse(id pool.ID) {
	if id.Kind() != pool.KindResponse {
		panic(`canqueue: queue: push response: request id`)
	}
	if x.reservedSlots <= 0 {
		panic(`canqueue: queue: push response: no reserved response slot`)
	}
	x.reservedSlots--
	x.items = append(x.items, id)
	x.responseCount++
}

// Peek returns the reference at the head of the queue without consuming it.
func (x *CanisterQueue) Peek() (pool.ID, bool) {
	if len(x.items) == 0 {
		return 0, false
	}
	return x.items[0], true
}

// Pop consumes and returns the reference at the head of the queue.
func (x *CanisterQueue) Pop() (pool.ID, bool) {
	if len(x.items) == 0 {
		return 0, false
	}
	id := x.items[0]
	x.items = x.items[1:]
	if id.Kind() == pool.KindRequest {
		x.requestCount--
	} else {
		x.responseCount--
	}
	return id, true
}

// PopWhile consumes consecutive leading references for which pred holds.
// Used to skip stale references after a message is dropped from the pool.
func (x *CanisterQueue) PopWhile(pred func(id pool.ID) bool) {
	for {
		id, ok := x.Peek()
		if !ok || !pred(id) {
			return
		}
		x.Pop()
	}
}

// ReservedSlots returns the number of slots reserved for future responses.
func (x *CanisterQueue) ReservedSlots() int { return x.reservedSlots }

// AvailableRequestSlots returns the number of request slots available.
func (x *CanisterQueue) AvailableRequestSlots() int {
	return x.requestCapacity - x.requestCount
}

// AvailableResponseSlots returns the number of response slots available for
// reservation.
func (x *CanisterQueue) AvailableResponseSlots() int {
	return x.responseCapacity - x.responseCount - x.reservedSlots
}

// HasUsedSlots reports whether the queue holds any references or reserved
// slots. A queue with no used slots carries no information and may be
// dropped.
func (x *CanisterQueue) HasUsedSlots() bool {
	return len(x.items) != 0 || x.reservedSlots != 0
}

// Items returns a copy of the enqueued references, head first.
func (x *CanisterQueue) Items() []pool.ID {
	return append([]pool.ID(nil), x.items...)
}

// CanisterQueueSnapshot is the serialized form of a CanisterQueue.
type CanisterQueueSnapshot struct {
	RequestCapacity  int
	ResponseCapacity int
	ReservedSlots    int
	Items            []pool.ID
}

// Snapshot returns the serialized form of the queue.
func (x *CanisterQueue) Snapshot() CanisterQueueSnapshot {
	return CanisterQueueSnapshot{
		RequestCapacity:  x.requestCapacity,
		ResponseCapacity: x.responseCapacity,
		ReservedSlots:    x.reservedSlots,
		Items:            x.Items(),
	}
}

// RestoreCanisterQueue reconstructs a queue from its serialized form,
// recomputing the per-kind counts and validating the capacity invariants.
func RestoreCanisterQueue(snapshot CanisterQueueSnapshot) (*CanisterQueue, error) {
	if snapshot.RequestCapacity <= 0 || snapshot.ResponseCapacity <= 0 {
		return nil, fmt.Errorf("canqueue: queue: restore: invalid capacities %d/%d", snapshot.RequestCapacity, snapshot.ResponseCapacity)
	}
	if snapshot.ReservedSlots < 0 {
		return nil, fmt.Errorf("canqueue: queue: restore: negative reserved slots %d", snapshot.ReservedSlots)
	}

	q := &CanisterQueue{
		items:            append([]pool.ID(nil), snapshot.Items...),
		requestCapacity:  snapshot.RequestCapacity,
		responseCapacity: snapshot.ResponseCapacity,
		reservedSlots:    snapshot.ReservedSlots,
	}
	for _, id := range q.items {
		if id.Kind() == pool.KindRequest {
			q.requestCount++
		} else {
			q.responseCount++
		}
	}

	if q.requestCount > q.requestCapacity {
		return nil, fmt.Errorf("canqueue: queue: restore: %d requests exceed capacity %d", q.requestCount, q.requestCapacity)
	}
	if q.responseCount+q.reservedSlots > q.responseCapacity {
		return nil, fmt.Errorf("canqueue: queue: restore: %d response slots exceed capacity %d", q.responseCount+q.reservedSlots, q.responseCapacity)
	}
	return q, nil
}
