// Package pool implements a pool of canister messages, guaranteed response
// and best-effort, with built-in support for time-based expiration and load
// shedding.
//
// Messages in the pool are identified by an ID generated by the pool, which
// also encodes the message kind (request or response), context (inbound or
// outbound) and class (guaranteed response or best-effort).
//
// Messages are recorded in the deadline queue based on their class and
// context: all best-effort messages except responses in input queues; plus
// guaranteed response call requests in output queues. All best-effort
// messages (and only best-effort messages) are recorded in the load
// shedding queue.
package pool

import (
	"container/heap"
	"time"

	"github.com/joeycumines/go-canqueue/message"
)

type (
	// Pool holds messages and issues IDs for them. All operations except
	// ExpireMessages execute in at most O(log n) time; Take is amortized
	// constant on top of the map access.
	Pool struct {
		messages      map[ID]message.Message
		stats         Stats
		deadlineQueue deadlineHeap
		sizeQueue     sizeHeap

		// Monotonically increasing counter used to generate unique IDs.
		idGenerator uint64
	}

	// Entry pairs an ID with the message it identifies.
	Entry struct {
		ID  ID
		Msg message.Message
	}

	// DeadlineEntry is a deadline queue entry.
	DeadlineEntry struct {
		Deadline message.CoarseTime
		ID       ID
	}

	// SizeEntry is a load shedding queue entry.
	SizeEntry struct {
		SizeBytes int
		ID        ID
	}
)

// deadlineHeap is a min-heap on (deadline, id): earliest deadline first,
// IDs breaking ties for a deterministic representation across replicas.
type deadlineHeap []DeadlineEntry

func (h deadlineHeap) Len() int { return len(h) }
func (h deadlineHeap) Less(i, j int) bool {
	if h[i].Deadline != h[j].Deadline {
		return h[i].Deadline < h[j].Deadline
	}
	return h[i].ID < h[j].ID
}
func (h deadlineHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x any)   { *h = append(*h, x.(DeadlineEntry)) }
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// sizeHeap is a max-heap on (size, id): largest message first, IDs breaking
// ties for a deterministic representation across replicas.
type sizeHeap []SizeEntry

func (h sizeHeap) Len() int { return len(h) }
func (h sizeHeap) Less(i, j int) bool {
	if h[i].SizeBytes != h[j].SizeBytes {
		return h[i].SizeBytes > h[j].SizeBytes
	}
	return h[i].ID > h[j].ID
}
func (h sizeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *sizeHeap) Push(x any)   { *h = append(*h, x.(SizeEntry)) }
func (h *sizeHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{messages: make(map[ID]message.Message)}
}

// NextID reserves and returns a new ID with the given flags. The returned
// ID must be inserted (or deliberately leaked) by the caller; it will never
// be issued again.
func (x *Pool) NextID(kind Kind, context Context, class Class) ID {
	id := newID(kind, context, class, x.idGenerator)
	x.idGenerator++
	return id
}

// InsertInbound inserts a message destined for an input queue.
//
// The message is recorded in the deadline queue iff it is a best-effort
// request: best-effort responses that already made it into an input queue
// must not expire. It is recorded in the load shedding queue iff it is
// best-effort.
func (x *Pool) InsertInbound(id ID, msg message.Message) {
	deadline := message.NoDeadline
	if req, ok := msg.(*message.Request); ok {
		deadline = req.Deadline
	}
	x.insert(id, msg, deadline, ContextInbound)
}

// InsertOutboundRequest inserts a request destined for an output queue.
//
// The request is always recorded in the deadline queue: a best-effort
// request with its explicit deadline; a guaranteed response call request
// with a deadline of `now + message.RequestLifetime`, so that it too can be
// timed out. It is recorded in the load shedding queue iff it is
// best-effort.
func (x *Pool) InsertOutboundRequest(id ID, req *message.Request, now time.Time) {
	deadline := req.Deadline
	if deadline == message.NoDeadline {
		deadline = message.CoarseFloor(now.Add(message.RequestLifetime))
	}
	x.insertOutboundRequestWithDeadline(id, req, deadline)
}

// insertOutboundRequestWithDeadline inserts an outbound request with an
// explicit deadline. Used by InsertOutboundRequest and by legacy snapshot
// conversion, where the derived deadline was recorded separately.
func (x *Pool) insertOutboundRequestWithDeadline(id ID, req *message.Request, deadline message.CoarseTime) {
	x.insert(id, req, deadline, ContextOutbound)
}

// RestoreOutboundRequest is the legacy-snapshot variant of
// InsertOutboundRequest, taking the previously derived deadline instead of
// a current time.
func (x *Pool) RestoreOutboundRequest(id ID, req *message.Request, deadline message.CoarseTime) {
	x.insertOutboundRequestWithDeadline(id, req, deadline)
}

// InsertOutboundResponse inserts a response destined for an output queue.
//
// The response is recorded in the deadline queue and the load shedding
// queue iff it is best-effort.
func (x *Pool) InsertOutboundResponse(id ID, rep *message.Response) {
	x.insert(id, rep, rep.Deadline, ContextOutbound)
}

func (x *Pool) insert(id ID, msg message.Message, deadline message.CoarseTime, context Context) {
	if id.Kind() != KindOf(msg) {
		panic(`pool: insert: id kind does not match message`)
	}
	if id.Class() != ClassOf(msg) {
		panic(`pool: insert: id class does not match message`)
	}
	if id.Context() != context {
		panic(`pool: insert: id context does not match insert context`)
	}
	if uint64(id)>>bitmaskLen >= x.idGenerator {
		panic(`pool: insert: id was not issued by this pool`)
	}
	if _, ok := x.messages[id]; ok {
		panic(`pool: insert: duplicate id`)
	}

	x.stats.add(statsDelta(msg, context))
	x.messages[id] = msg

	// Record in the deadline queue iff a deadline was provided.
	if deadline != message.NoDeadline {
		heap.Push(&x.deadlineQueue, DeadlineEntry{Deadline: deadline, ID: id})
	}

	// Record in the load shedding queue iff it's a best-effort message.
	if message.IsBestEffort(msg) {
		heap.Push(&x.sizeQueue, SizeEntry{SizeBytes: msg.SizeBytes(), ID: id})
	}
}

// Get retrieves the message with the given ID, or nil.
func (x *Pool) Get(id ID) message.Message {
	return x.messages[id]
}

// GetRequest retrieves the request with the given ID, or nil.
//
// Panics if the ID was generated for a response.
func (x *Pool) GetRequest(id ID) *message.Request {
	if id.Kind() != KindRequest {
		panic(`pool: get request: response id`)
	}
	req, _ := x.messages[id].(*message.Request)
	return req
}

// GetResponse retrieves the response with the given ID, or nil.
//
// Panics if the ID was generated for a request.
func (x *Pool) GetResponse(id ID) *message.Response {
	if id.Kind() != KindResponse {
		panic(`pool: get response: request id`)
	}
	rep, _ := x.messages[id].(*message.Response)
	return rep
}

// Take removes and returns the message with the given ID, or nil if it is
// not resident. Updates the stats and prunes the priority queues if
// necessary.
func (x *Pool) Take(id ID) message.Message {
	msg, ok := x.messages[id]
	if !ok {
		return nil
	}
	delete(x.messages, id)
	x.stats.sub(statsDelta(msg, id.Context()))
	x.maybeTrimQueues()
	return msg
}

// HasExpiredDeadlines queries whether the deadline at the head of the
// deadline queue has expired. A fast check that may produce false positives
// if the message at the head of the deadline queue has already been removed
// from the pool.
//
// Time complexity: O(1).
func (x *Pool) HasExpiredDeadlines(now time.Time) bool {
	if len(x.deadlineQueue) == 0 {
		return false
	}
	return x.deadlineQueue[0].Deadline < message.CoarseFloor(now)
}

// ExpireMessages removes and returns all messages with expired deadlines
// (deadline < floor(now)). Stale deadline queue entries are silently
// dropped.
//
// Amortized time complexity per expired message: O(log n).
func (x *Pool) ExpireMessages(now time.Time) []Entry {
	if len(x.deadlineQueue) == 0 {
		return nil
	}

	deadline := message.CoarseFloor(now)
	var expired []Entry
	for len(x.deadlineQueue) != 0 && x.deadlineQueue[0].Deadline < deadline {
		entry := heap.Pop(&x.deadlineQueue).(DeadlineEntry)
		if msg := x.Take(entry.ID); msg != nil {
			expired = append(expired, Entry{ID: entry.ID, Msg: msg})
		}
	}
	return expired
}

// ShedLargestMessage removes and returns the largest best-effort message in
// the pool, if any.
func (x *Pool) ShedLargestMessage() (ID, message.Message, bool) {
	// Keep popping until an entry that is still resident.
	for len(x.sizeQueue) != 0 {
		entry := heap.Pop(&x.sizeQueue).(SizeEntry)
		if msg := x.Take(entry.ID); msg != nil {
			return entry.ID, msg, true
		}
	}
	return 0, nil, false
}

// Len returns the number of messages in the pool.
func (x *Pool) Len() int { return len(x.messages) }

// Stats returns a copy of the pool's running message stats.
func (x *Pool) Stats() Stats { return x.stats }

// maybeTrimQueues rebuilds any priority queue holding more than
// `2*len+2` entries, filtering out entries whose message is no longer
// resident. This bounds the queues' sizes, ensuring amortized constant
// time per removal.
func (x *Pool) maybeTrimQueues() {
	threshold := 2*len(x.messages) + 2

	if len(x.deadlineQueue) > threshold {
		filtered := x.deadlineQueue[:0]
		for _, entry := range x.deadlineQueue {
			if _, ok := x.messages[entry.ID]; ok {
				filtered = append(filtered, entry)
			}
		}
		x.deadlineQueue = filtered
		heap.Init(&x.deadlineQueue)
	}
	if len(x.sizeQueue) > threshold {
		filtered := x.sizeQueue[:0]
		for _, entry := range x.sizeQueue {
			if _, ok := x.messages[entry.ID]; ok {
				filtered = append(filtered, entry)
			}
		}
		x.sizeQueue = filtered
		heap.Init(&x.sizeQueue)
	}
}
