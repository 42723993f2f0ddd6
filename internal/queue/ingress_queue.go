package queue

import (
	"github.com/joeycumines/go-canqueue/message"
)

// IngressQueue is a FIFO of ingress messages per user, with a round-robin
// schedule across users.
//
// Per-user ordering is strict FIFO; across users, one message is consumed
// per user per turn.
type IngressQueue struct {
	queues   map[message.UserID][]*message.Ingress
	schedule []message.UserID

	count     int
	sizeBytes int
}

// NewIngressQueue returns an empty ingress queue.
func NewIngressQueue() *IngressQueue {
	return &IngressQueue{queues: make(map[message.UserID][]*message.Ingress)}
}

// Push appends msg to its user's queue, scheduling the user if it was not
// already scheduled.
func (x *IngressQueue) Push(msg *message.Ingress) {
	q, ok := x.queues[msg.Source]
	if !ok {
		x.schedule = append(x.schedule, msg.Source)
	}
	x.queues[msg.Source] = append(q, msg)
	x.count++
	x.sizeBytes += msg.SizeBytes()
}

// Peek returns the next message without consuming it.
func (x *IngressQueue) Peek() *message.Ingress {
	if len(x.schedule) == 0 {
		return nil
	}
	return x.queues[x.schedule[0]][0]
}

// Pop consumes and returns the next message, rotating its user to the back
// of the schedule if more of their messages remain.
func (x *IngressQueue) Pop() *message.Ingress {
	if len(x.schedule) == 0 {
		return nil
	}
	user := x.schedule[0]
	x.schedule = x.schedule[1:]

	q := x.queues[user]
	msg := q[0]
	q = q[1:]
	if len(q) == 0 {
		delete(x.queues, user)
	} else {
		x.queues[user] = q
		x.schedule = append(x.schedule, user)
	}

	x.count--
	x.sizeBytes -= msg.SizeBytes()
	return msg
}

// SkipIngressInput rotates the current user to the back of the schedule
// without consuming anything.
func (x *IngressQueue) SkipIngressInput() {
	if len(x.schedule) < 2 {
		return
	}
	user := x.schedule[0]
	x.schedule = append(x.schedule[1:], user)
}

// FilterMessages removes (and returns) every message for which pred
// returns false. Returned messages are ordered by schedule position, then
// per-user FIFO order.
func (x *IngressQueue) FilterMessages(pred func(*message.Ingress) bool) []*message.Ingress {
	var removed []*message.Ingress
	schedule := x.schedule[:0]
	for _, user := range x.schedule {
		q := x.queues[user]
		kept := q[:0:0]
		for _, msg := range q {
			if pred(msg) {
				kept = append(kept, msg)
			} else {
				removed = append(removed, msg)
				x.count--
				x.sizeBytes -= msg.SizeBytes()
			}
		}
		if len(kept) == 0 {
			delete(x.queues, user)
		} else {
			x.queues[user] = kept
			schedule = append(schedule, user)
		}
	}
	x.schedule = schedule
	return removed
}

// Size returns the number of enqueued messages.
func (x *IngressQueue) Size() int { return x.count }

// CountBytes returns the total byte size of enqueued messages.
func (x *IngressQueue) CountBytes() int { return x.sizeBytes }

// ScheduleSize returns the number of scheduled users.
func (x *IngressQueue) ScheduleSize() int { return len(x.schedule) }

// IsEmpty reports whether the queue holds no messages.
func (x *IngressQueue) IsEmpty() bool { return x.count == 0 }

// Snapshot returns the enqueued messages ordered by schedule position,
// then per-user FIFO order. Rebuilding from this form via Push preserves
// both the schedule order and per-user ordering.
func (x *IngressQueue) Snapshot() []*message.Ingress {
	msgs := make([]*message.Ingress, 0, x.count)
	for _, user := range x.schedule {
		msgs = append(msgs, x.queues[user]...)
	}
	return msgs
}

// RestoreIngressQueue reconstructs an ingress queue from its serialized
// form.
func RestoreIngressQueue(msgs []*message.Ingress) *IngressQueue {
	q := NewIngressQueue()
	for _, msg := range msgs {
		q.Push(msg)
	}
	return q
}
