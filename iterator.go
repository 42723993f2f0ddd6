package canqueue

import (
	"github.com/joeycumines/go-canqueue/internal/pool"
	"github.com/joeycumines/go-canqueue/internal/queue"
	"github.com/joeycumines/go-canqueue/message"
)

// OutputIterator consumes output queue messages: it loops over the
// non-empty output queues, popping one message at a time from each in
// round-robin fashion. Messages that are not explicitly popped remain in
// the state.
//
// Beyond a plain iterator it supports peeking (returning the next message
// without consuming it) and excluding whole queues from iteration while
// retaining their messages, e.g. to efficiently implement per-destination
// limits.
//
// The iterator borrows the CanisterQueues it was created from: no other
// methods of that value may be called until the iterator is discarded.
type OutputIterator struct {
	// Non-empty output queues; the next message is at the head of the
	// first queue.
	queues []outputQueueRef
	pool   *pool.Pool

	// Number of (potentially stale) references left in the iterator.
	size int
}

type outputQueueRef struct {
	peer message.CanisterID
	q    *queue.CanisterQueue
}

// OutputIntoIter returns a round-robin iterator over the non-empty output
// queues, in ascending peer order.
func (x *CanisterQueues) OutputIntoIter() *OutputIterator {
	it := &OutputIterator{pool: x.pool}
	for _, peer := range x.sortedPeers() {
		if q := x.canisterQueues[peer].output; q.Len() > 0 {
			it.queues = append(it.queues, outputQueueRef{peer: peer, q: q})
			it.size += q.Len()
		}
	}
	return it
}

// Peek returns the message at the head of the next queue without consuming
// it, along with its receiver.
func (x *OutputIterator) Peek() (message.CanisterID, message.Message) {
	if len(x.queues) == 0 {
		return 0, nil
	}
	ref := x.queues[0]
	id, ok := ref.q.Peek()
	if !ok {
		panic(`canqueue: output iterator: empty queue in iteration order`)
	}
	msg := x.pool.Get(id)
	if msg == nil {
		panic(`canqueue: stale reference at the head of output queue`)
	}
	return ref.peer, msg
}

// Pop pops the message at the head of the next queue, advancing the queue
// past stale references. If the queue still holds references it is moved
// to the back of the iteration order, else it is dropped from it.
func (x *OutputIterator) Pop() message.Message {
	if len(x.queues) == 0 {
		return nil
	}
	ref := x.queues[0]
	x.queues = x.queues[1:]
	x.size -= ref.q.Len()

	// Queue is non-empty and its head reference non-stale.
	msg := popAndAdvance(ref.q, x.pool)
	if msg == nil {
		panic(`canqueue: output iterator: empty queue in iteration order`)
	}

	if ref.q.Len() > 0 {
		x.size += ref.q.Len()
		x.queues = append(x.queues, ref)
	}
	return msg
}

// ExcludeQueue permanently excludes the next queue from iteration,
// retaining its messages in the state. Returns the number of (potentially
// stale) references in the excluded queue.
func (x *OutputIterator) ExcludeQueue() int {
	if len(x.queues) == 0 {
		return 0
	}
	excluded := x.queues[0].q.Len()
	x.queues = x.queues[1:]
	x.size -= excluded
	return excluded
}

// IsEmpty reports whether the iterator is exhausted.
func (x *OutputIterator) IsEmpty() bool { return len(x.queues) == 0 }

// Size returns an upper bound on the number of messages left in the
// iterator; stale references may cause overcounting.
func (x *OutputIterator) Size() int { return x.size }
