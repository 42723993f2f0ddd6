package canqueue

import (
	"errors"
	"time"

	"github.com/joeycumines/go-canqueue/internal/pool"
	"github.com/joeycumines/go-canqueue/internal/queue"
	"github.com/joeycumines/go-canqueue/message"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	// DefaultQueueCapacity is the default per-queue request and response
	// capacity.
	DefaultQueueCapacity = 500

	// ManagementCanister is the identity of the subnet's management
	// canister, requests to which may be short-circuited via
	// RejectSubnetOutputRequest.
	ManagementCanister message.CanisterID = 0

	// Accounting overhead per peer queue pair, counted on top of message
	// bytes by InputQueuesSizeBytes.
	queueAccountingOverheadBytes = 64
)

// InputQueueType partitions peer canisters into those on the same subnet
// and those on other subnets, for input scheduling purposes.
type InputQueueType uint8

const (
	LocalSubnet InputQueueType = iota
	RemoteSubnet
)

func (x InputQueueType) String() string {
	if x == LocalSubnet {
		return `local subnet`
	}
	return `remote subnet`
}

// NextInputQueue is the three-state round-robin cursor across input
// sources. The zero value (ingress) is the initial state.
type NextInputQueue uint8

const (
	NextInputQueueIngress NextInputQueue = iota
	NextInputQueueLocalSubnet
	NextInputQueueRemoteSubnet
)

// next returns the state following x in the strict rotation
// local -> ingress -> remote -> local.
func (x NextInputQueue) next() NextInputQueue {
	switch x {
	case NextInputQueueLocalSubnet:
		return NextInputQueueIngress
	case NextInputQueueIngress:
		return NextInputQueueRemoteSubnet
	default:
		return NextInputQueueLocalSubnet
	}
}

// queuePair is the pair of queues to and from one peer canister.
type queuePair struct {
	input  *queue.CanisterQueue
	output *queue.CanisterQueue
}

// CanisterQueues wraps the induction pool (ingress and input queues), the
// round-robin schedules used when consuming input messages, and the output
// queues of one canister.
//
// Responsible for queue lifetime management, fair scheduling of inputs
// across senders, and queue backpressure. Input and output queues are
// bundled together in order to reliably implement backpressure via queue
// slot reservations for response messages.
type CanisterQueues struct {
	// Queue of ingress (user) messages.
	ingressQueue *queue.IngressQueue

	// Per peer canister input and output queues. Queues hold references
	// into the message pool, some of which may be stale due to expiration
	// or load shedding. The reference at the head of each queue, if any,
	// is guaranteed to be non-stale.
	canisterQueues map[message.CanisterID]*queuePair

	// Pool holding the messages referenced by canisterQueues, with support
	// for time-based expiration and load shedding.
	pool *pool.Pool

	// Slot and memory reservation stats. Message count and size stats are
	// maintained separately by the pool.
	queueStats QueueStats

	// FIFO schedules of local / remote subnet sender canister IDs ensuring
	// round-robin consumption of input messages. All senders with
	// non-empty input queues are scheduled.
	//
	// The caller decides whether a sender is local or remote; that test is
	// subject to races (e.g. a just-deleted sender), so the partition is
	// best effort.
	localSubnetInputSchedule  []message.CanisterID
	remoteSubnetInputSchedule []message.CanisterID

	// Set of all canisters enqueued in either input schedule, ensuring a
	// canister is scheduled at most once.
	inputScheduleCanisters map[message.CanisterID]struct{}

	// Round-robin cursor across ingress and canister input queues.
	nextInputQueue NextInputQueue

	// Callback IDs of all responses enqueued in input queues. Used for
	// response deduplication, whether due to a locally generated timeout
	// reject or a misbehaving peer subnet.
	callbacksWithEnqueuedResponse map[message.CallbackID]struct{}
}

// New returns an empty CanisterQueues.
func New() *CanisterQueues {
	return &CanisterQueues{
		ingressQueue:                  queue.NewIngressQueue(),
		canisterQueues:                make(map[message.CanisterID]*queuePair),
		pool:                          pool.New(),
		inputScheduleCanisters:        make(map[message.CanisterID]struct{}),
		callbacksWithEnqueuedResponse: make(map[message.CallbackID]struct{}),
	}
}

// PushIngress pushes an ingress message into the induction pool.
func (x *CanisterQueues) PushIngress(msg *message.Ingress) {
	x.ingressQueue.Push(msg)
}

// FilterIngressMessages removes (and returns) every ingress message for
// which pred returns false.
func (x *CanisterQueues) FilterIngressMessages(pred func(*message.Ingress) bool) []*message.Ingress {
	return x.ingressQueue.FilterMessages(pred)
}

// PushInput pushes a canister-to-canister message into the induction pool.
//
// If the message is a request, this also reserves a slot in the
// corresponding output queue for the eventual response. If the message is
// a response, the protocol will have already reserved a slot for it.
//
// The sender is added to the input schedule given by queueType, if not
// already scheduled.
//
// Fails with ErrQueueFull when pushing a request and the input queue has no
// request slot or the output queue has no response capacity left; with
// *NonMatchingResponseError when pushing a response with no reserved slot
// or a duplicate guaranteed-response callback. The reserved slot is checked
// first, so a duplicate is only recognized while the input queue still
// holds a reserved slot (e.g. for another outstanding call); a duplicate
// best-effort response then succeeds without enqueueing anything: a timeout
// reject may have been generated before the actual response arrived, or
// vice versa.
func (x *CanisterQueues) PushInput(msg message.Message, queueType InputQueueType) error {
	sender := message.Sender(msg)

	switch m := msg.(type) {
	case *message.Request:
		pair := x.getOrInsertQueues(sender)
		if err := pair.input.CheckHasRequestSlot(); err != nil {
			return err
		}
		// Safe to already reserve the output slot: the push below is
		// guaranteed to succeed due to the check above.
		if err := pair.output.TryReserveResponseSlot(); err != nil {
			return err
		}

	case *message.Response:
		pair, ok := x.canisterQueues[sender]
		if !ok || !pair.input.CheckHasReservedResponseSlot() {
			return newNonMatchingResponse(`No reserved response slot`, m)
		}
		if _, dup := x.callbacksWithEnqueuedResponse[m.OriginatorReplyCallback]; dup {
			if m.Deadline == message.NoDeadline {
				// A duplicate guaranteed response indicates a protocol bug.
				return newNonMatchingResponse(`Duplicate response`, m)
			}
			// A duplicate best-effort response is silently ignored: we
			// already enqueued either the actual response or a locally
			// generated timeout reject for this callback.
			return nil
		}
		x.callbacksWithEnqueuedResponse[m.OriginatorReplyCallback] = struct{}{}

	default:
		panic(`canqueue: push input: unexpected message type`)
	}

	x.queueStats.onPush(msg, pool.ContextInbound)
	id := x.pool.NextID(pool.KindOf(msg), pool.ContextInbound, pool.ClassOf(msg))
	x.pool.InsertInbound(id, msg)

	pair := x.canisterQueues[sender]
	if id.Kind() == pool.KindRequest {
		pair.input.PushRequest(id)
	} else {
		pair.input.PushResponse(id)
	}

	// Schedule the sender if its input queue just became non-empty.
	if pair.input.Len() == 1 {
		x.scheduleSender(sender, queueType)
	}
	return nil
}

// scheduleSender appends sender to the schedule given by queueType, unless
// it is already scheduled (in either schedule).
func (x *CanisterQueues) scheduleSender(sender message.CanisterID, queueType InputQueueType) {
	if _, ok := x.inputScheduleCanisters[sender]; ok {
		return
	}
	x.inputScheduleCanisters[sender] = struct{}{}
	if queueType == LocalSubnet {
		x.localSubnetInputSchedule = append(x.localSubnetInputSchedule, sender)
	} else {
		x.remoteSubnetInputSchedule = append(x.remoteSubnetInputSchedule, sender)
	}
}

// PushOutputRequest pushes a request into the relevant output queue,
// reserving a slot for the eventual response in the matching input queue.
//
// Fails with ErrQueueFull if either the output queue has no request slot or
// the input queue has no response capacity left.
func (x *CanisterQueues) PushOutputRequest(req *message.Request, now time.Time) error {
	pair := x.getOrInsertQueues(req.Receiver)

	if err := pair.output.CheckHasRequestSlot(); err != nil {
		return err
	}
	if err := pair.input.TryReserveResponseSlot(); err != nil {
		return err
	}

	x.queueStats.onPushRequest(req, pool.ContextOutbound)
	id := x.pool.NextID(pool.KindRequest, pool.ContextOutbound, pool.ClassOf(req))
	x.pool.InsertOutboundRequest(id, req, now)
	pair.output.PushRequest(id)
	return nil
}

// PushOutputResponse pushes a response into the relevant output queue. The
// protocol is required to have already reserved a slot (the output queue
// was created when the matching inbound request was enqueued, and a
// non-empty queue is never garbage collected), so this cannot fail.
//
// Panics if the queue does not exist or holds no reserved slot.
func (x *CanisterQueues) PushOutputResponse(rep *message.Response) {
	x.queueStats.onPushResponse(rep, pool.ContextOutbound)

	pair, ok := x.canisterQueues[rep.Originator]
	if !ok {
		panic(`canqueue: push output response: no queue for originator`)
	}
	id := x.pool.NextID(pool.KindResponse, pool.ContextOutbound, pool.ClassOf(rep))
	x.pool.InsertOutboundResponse(id, rep)
	pair.output.PushResponse(id)
}

// RejectSubnetOutputRequest immediately rejects an output request by
// pushing a reject response onto the input queue, without the request ever
// reaching an output queue. Only usable for requests addressed to the
// management canister identity or to one of subnetIDs.
//
// The synthesized response reuses the request's callback and refunds its
// payment.
func (x *CanisterQueues) RejectSubnetOutputRequest(req *message.Request, rejectContext message.RejectContext, subnetIDs []message.CanisterID) error {
	if req.Receiver != ManagementCanister && !slices.Contains(subnetIDs, req.Receiver) {
		panic(`canqueue: reject subnet output request: receiver is not the management canister or a subnet`)
	}

	pair := x.getOrInsertQueues(req.Receiver)
	if err := pair.input.TryReserveResponseSlot(); err != nil {
		return err
	}
	x.queueStats.onPushRequest(req, pool.ContextOutbound)

	rep := &message.Response{
		Originator:              req.Sender,
		Respondent:              req.Receiver,
		OriginatorReplyCallback: req.SenderReplyCallback,
		Refund:                  req.Payment,
		Payload:                 message.Payload{Reject: &rejectContext},
		Deadline:                req.Deadline,
	}
	return x.PushInput(rep, LocalSubnet)
}

// AvailableOutputRequestSlots returns the number of output requests that
// can be pushed to each peer before either the respective input or output
// queue fills up.
func (x *CanisterQueues) AvailableOutputRequestSlots() map[message.CanisterID]int {
	// Pushing a request also reserves an input queue slot for the eventual
	// response, so both queues bound the count.
	slots := make(map[message.CanisterID]int, len(x.canisterQueues))
	for peer, pair := range x.canisterQueues {
		slots[peer] = min(pair.output.AvailableRequestSlots(), pair.input.AvailableResponseSlots())
	}
	return slots
}

// HasInput reports whether the ingress queue or at least one input queue
// holds non-stale messages.
func (x *CanisterQueues) HasInput() bool {
	if !x.ingressQueue.IsEmpty() {
		return true
	}
	stats := x.pool.Stats()
	return stats.InboundMessageCount > 0
}

// HasOutput reports whether at least one output queue holds non-stale
// messages.
func (x *CanisterQueues) HasOutput() bool {
	stats := x.pool.Stats()
	return stats.OutboundMessageCount > 0
}

// PeekInput returns the message that PopInput would return, without
// consuming it. Requires mutable access in order to prune empty or garbage
// collected schedule entries, which is what makes it amortized O(1).
func (x *CanisterQueues) PeekInput() message.CanisterMessage {
	// Try all 3 input sources.
	for range 3 {
		var next message.CanisterMessage
		switch x.nextInputQueue {
		case NextInputQueueIngress:
			if msg := x.ingressQueue.Peek(); msg != nil {
				next = msg
			}
		case NextInputQueueLocalSubnet:
			next = x.peekCanisterInput(LocalSubnet)
		case NextInputQueueRemoteSubnet:
			next = x.peekCanisterInput(RemoteSubnet)
		}
		if next != nil {
			return next
		}
		x.nextInputQueue = x.nextInputQueue.next()
	}
	return nil
}

// PopInput pops the next ingress or canister input message (round-robin).
//
// Input queues are grouped into three sources: messages from canisters on
// the same subnet, ingress, and messages from canisters on other subnets.
// Each call round-robins between these sources; within the two canister
// sources, it also round-robins between the senders' queues.
func (x *CanisterQueues) PopInput() message.CanisterMessage {
	// Try all 3 input sources.
	for range 3 {
		current := x.nextInputQueue
		x.nextInputQueue = current.next()

		var next message.CanisterMessage
		switch current {
		case NextInputQueueIngress:
			if msg := x.ingressQueue.Pop(); msg != nil {
				next = msg
			}
		case NextInputQueueLocalSubnet:
			next = x.popCanisterInput(LocalSubnet)
		case NextInputQueueRemoteSubnet:
			next = x.popCanisterInput(RemoteSubnet)
		}
		if next != nil {
			return next
		}
	}
	return nil
}

// SkipInput skips the next ingress or canister input message, rotating the
// current source's schedule, and counts the skip on loopDetector.
func (x *CanisterQueues) SkipInput(loopDetector *LoopDetector) {
	switch x.nextInputQueue {
	case NextInputQueueIngress:
		x.ingressQueue.SkipIngressInput()
		loopDetector.IngressQueueSkipCount++
		x.nextInputQueue = NextInputQueueRemoteSubnet

	case NextInputQueueRemoteSubnet:
		x.skipCanisterInput(RemoteSubnet)
		loopDetector.RemoteQueueSkipCount++
		x.nextInputQueue = NextInputQueueLocalSubnet

	case NextInputQueueLocalSubnet:
		x.skipCanisterInput(LocalSubnet)
		loopDetector.LocalQueueSkipCount++
		x.nextInputQueue = NextInputQueueIngress
	}
}

// inputSchedule returns a pointer to the schedule for queueType.
func (x *CanisterQueues) inputSchedule(queueType InputQueueType) *[]message.CanisterID {
	if queueType == LocalSubnet {
		return &x.localSubnetInputSchedule
	}
	return &x.remoteSubnetInputSchedule
}

// popCanisterInput pops the next message from the front sender of the
// given schedule, rotating the sender to the back if more of its messages
// remain.
//
// A schedule may reference an empty or garbage collected input queue if
// all its messages have expired or were shed since it was scheduled, so
// iteration may be required.
func (x *CanisterQueues) popCanisterInput(queueType InputQueueType) message.Message {
	schedule := x.inputSchedule(queueType)

	for len(*schedule) != 0 {
		sender := (*schedule)[0]
		*schedule = (*schedule)[1:]

		pair, ok := x.canisterQueues[sender]
		if !ok {
			// Queue pair was garbage collected.
			delete(x.inputScheduleCanisters, sender)
			continue
		}
		msg := popAndAdvance(pair.input, x.pool)

		// Re-enqueue the sender at the back of the schedule if its input
		// queue is non-empty.
		if pair.input.Len() != 0 {
			*schedule = append(*schedule, sender)
		} else {
			delete(x.inputScheduleCanisters, sender)
		}

		if msg != nil {
			if rep, ok := msg.(*message.Response); ok {
				if _, ok := x.callbacksWithEnqueuedResponse[rep.OriginatorReplyCallback]; !ok {
					panic(`canqueue: pop input: popped response with untracked callback`)
				}
				delete(x.callbacksWithEnqueuedResponse, rep.OriginatorReplyCallback)
			}
			return msg
		}
	}
	return nil
}

// peekCanisterInput mirrors popCanisterInput without consuming, dropping
// empty leading schedule entries as it goes.
func (x *CanisterQueues) peekCanisterInput(queueType InputQueueType) message.Message {
	schedule := x.inputSchedule(queueType)

	for len(*schedule) != 0 {
		sender := (*schedule)[0]

		pair, ok := x.canisterQueues[sender]
		if !ok {
			// Queue pair was garbage collected.
			delete(x.inputScheduleCanisters, sender)
			*schedule = (*schedule)[1:]
			continue
		}

		if id, ok := pair.input.Peek(); ok {
			msg := x.pool.Get(id)
			if msg == nil {
				panic(`canqueue: stale reference at the head of input queue`)
			}
			return msg
		}

		// All messages in the queue expired or were shed.
		delete(x.inputScheduleCanisters, sender)
		*schedule = (*schedule)[1:]
	}
	return nil
}

// skipCanisterInput rotates the front sender of the given schedule to the
// back, without consuming anything.
func (x *CanisterQueues) skipCanisterInput(queueType InputQueueType) {
	schedule := x.inputSchedule(queueType)
	if len(*schedule) == 0 {
		return
	}
	sender := (*schedule)[0]
	*schedule = (*schedule)[1:]

	pair, ok := x.canisterQueues[sender]
	if !ok || pair.input.Len() == 0 {
		delete(x.inputScheduleCanisters, sender)
		return
	}
	*schedule = append(*schedule, sender)
}

// PeekOutput returns the (non-stale) message at the head of the output
// queue to peer, if any.
func (x *CanisterQueues) PeekOutput(peer message.CanisterID) message.Message {
	pair, ok := x.canisterQueues[peer]
	if !ok {
		return nil
	}
	id, ok := pair.output.Peek()
	if !ok {
		return nil
	}
	msg := x.pool.Get(id)
	if msg == nil {
		panic(`canqueue: stale reference at the head of output queue`)
	}
	return msg
}

// InductMessageToSelf moves the message at the head of the output queue to
// own onto the input queue from own. Fails if there is no such message, or
// if the input push fails (e.g. queue full).
func (x *CanisterQueues) InductMessageToSelf(own message.CanisterID) error {
	msg := x.PeekOutput(own)
	if msg == nil {
		return errors.New(`canqueue: induct message to self: no output message`)
	}

	if err := x.PushInput(msg, LocalSubnet); err != nil {
		return err
	}

	// Output queue existed above, so the lookup cannot fail.
	pair := x.canisterQueues[own]
	if popAndAdvance(pair.output, x.pool) == nil {
		panic(`canqueue: induct message to self: pop failed after successful peek`)
	}
	return nil
}

// OutputQueuesForEach invokes f on the front message of each output queue
// until f returns an error, then moves on to the next queue. Messages that
// f accepted are popped; a rejected message and everything behind it stay.
//
// Because a queue is only skipped when f rejects a non-stale message,
// queues are always either fully consumed or left with a non-stale
// reference at the front.
func (x *CanisterQueues) OutputQueuesForEach(f func(peer message.CanisterID, msg message.Message) error) {
	for _, peer := range x.sortedPeers() {
		pair := x.canisterQueues[peer]
		for {
			id, ok := pair.output.Peek()
			if !ok {
				break
			}
			msg := x.pool.Get(id)
			if msg == nil {
				// Expired or shed message; pop the stale reference.
				pair.output.Pop()
				continue
			}
			if f(peer, msg) != nil {
				break
			}
			x.pool.Take(id)
			pair.output.Pop()
		}
	}
}

// GarbageCollect drops every queue pair where both queues have zero used
// slots (no references and no reservations).
//
// If the canister ends up with no ingress messages and no queue pairs, all
// auxiliary state is reset to defaults, so that an empty CanisterQueues
// has an empty canonical encoding. Callers must invoke this at
// deterministic points (e.g. at checkpoint time), never on deserialization,
// to avoid state divergence between replicas.
func (x *CanisterQueues) GarbageCollect() {
	for peer, pair := range x.canisterQueues {
		if !pair.input.HasUsedSlots() && !pair.output.HasUsedSlots() {
			delete(x.canisterQueues, peer)
		}
	}

	if len(x.canisterQueues) == 0 && x.ingressQueue.IsEmpty() {
		if x.pool.Len() != 0 {
			panic(`canqueue: garbage collect: non-empty pool with no queues`)
		}
		x.pool = pool.New()
		x.nextInputQueue = NextInputQueueIngress
		x.localSubnetInputSchedule = nil
		x.remoteSubnetInputSchedule = nil
		x.inputScheduleCanisters = make(map[message.CanisterID]struct{})
		x.callbacksWithEnqueuedResponse = make(map[message.CallbackID]struct{})
	}
}

// HasExpiredDeadlines queries whether the deadline of any message in the
// pool has expired. O(1), may produce false positives for already-consumed
// messages.
func (x *CanisterQueues) HasExpiredDeadlines(now time.Time) bool {
	return x.pool.HasExpiredDeadlines(now)
}

// TimeOutMessages drops all expired messages, enqueuing timeout reject
// responses for own outbound guaranteed requests into the matching input
// queues. Scheduling a reject into a previously empty queue requires own
// and localCanisters to pick the correct input schedule.
//
// Returns the number of messages timed out.
func (x *CanisterQueues) TimeOutMessages(now time.Time, own message.CanisterID, localCanisters map[message.CanisterID]struct{}) int {
	expired := x.pool.ExpireMessages(now)
	for _, entry := range expired {
		x.onMessageDropped(entry.ID, entry.Msg, own, localCanisters)
	}
	return len(expired)
}

// ShedLargestMessage removes the largest best-effort message in the pool.
// Returns false if there was nothing to shed.
func (x *CanisterQueues) ShedLargestMessage(own message.CanisterID, localCanisters map[message.CanisterID]struct{}) bool {
	id, msg, ok := x.pool.ShedLargestMessage()
	if !ok {
		return false
	}
	x.onMessageDropped(id, msg, own, localCanisters)
	return true
}

// onMessageDropped handles the timing out or shedding of a message from
// the pool: restores queue head non-staleness, releases or consumes slot
// and memory reservations, and generates a timeout reject response if the
// message was an own outbound request.
func (x *CanisterQueues) onMessageDropped(id pool.ID, msg message.Message, own message.CanisterID, localCanisters map[message.CanisterID]struct{}) {
	context := id.Context()
	var remote message.CanisterID
	if context == pool.ContextInbound {
		remote = message.Sender(msg)
	} else {
		remote = message.Receiver(msg)
	}
	pair, ok := x.canisterQueues[remote]
	if !ok {
		panic(`canqueue: on message dropped: no queue pair for dropped message`)
	}
	q, reverse := pair.input, pair.output
	if context == pool.ContextOutbound {
		q, reverse = pair.output, pair.input
	}

	// Never leave a stale reference at the head of a queue: if the dropped
	// message was referenced there, advance to the first non-stale
	// reference. The reference may have already been popped by an earlier
	// drop, when multiple messages are dropped at once.
	if head, ok := q.Peek(); ok && head == id {
		q.Pop()
		q.PopWhile(func(id pool.ID) bool { return x.pool.Get(id) == nil })
	}

	switch m := msg.(type) {
	case *message.Request:
		if context == pool.ContextInbound {
			// Dropped inbound request: its response will never be pushed,
			// release the reserved output slot.
			reverse.ReleaseReservedResponseSlot()
			x.queueStats.onDropInputRequest()
			return
		}

		// Dropped outbound request: enqueue a timeout reject response,
		// consuming the reserved input slot (and, for guaranteed requests,
		// the memory reservation).
		rep := generateTimeoutResponse(m)
		x.queueStats.onPushResponse(rep, pool.ContextInbound)

		if _, ok := x.callbacksWithEnqueuedResponse[rep.OriginatorReplyCallback]; ok {
			panic(`canqueue: on message dropped: callback already has an enqueued response`)
		}
		x.callbacksWithEnqueuedResponse[rep.OriginatorReplyCallback] = struct{}{}

		repID := x.pool.NextID(pool.KindResponse, pool.ContextInbound, pool.ClassOf(rep))
		x.pool.InsertInbound(repID, rep)
		reverse.PushResponse(repID)

		// Schedule the peer if its input queue just became non-empty.
		if reverse.Len() == 1 {
			if remote == own || containsCanister(localCanisters, remote) {
				x.scheduleSender(remote, LocalSubnet)
			} else {
				x.scheduleSender(remote, RemoteSubnet)
			}
		}

	case *message.Response:
		if context == pool.ContextInbound {
			// Dropped (necessarily best-effort) inbound response: forget
			// its callback.
			if _, ok := x.callbacksWithEnqueuedResponse[m.OriginatorReplyCallback]; !ok {
				panic(`canqueue: on message dropped: dropped response with untracked callback`)
			}
			delete(x.callbacksWithEnqueuedResponse, m.OriginatorReplyCallback)
		}
		// Outbound best-effort responses are dropped with impunity; the
		// pool already updated the message stats.
	}
}

// SplitInputSchedules re-partitions the local and remote input schedules
// based on the given set of local canisters plus own. For use after a
// subnet split or other canister migration: a queue in the wrong schedule
// would only migrate on becoming empty, which may never happen.
func (x *CanisterQueues) SplitInputSchedules(own message.CanisterID, localCanisters map[message.CanisterID]struct{}) {
	local := x.localSubnetInputSchedule
	remote := x.remoteSubnetInputSchedule
	x.localSubnetInputSchedule = nil
	x.remoteSubnetInputSchedule = nil

	for _, peer := range append(append([]message.CanisterID(nil), local...), remote...) {
		if peer == own || containsCanister(localCanisters, peer) {
			x.localSubnetInputSchedule = append(x.localSubnetInputSchedule, peer)
		} else {
			x.remoteSubnetInputSchedule = append(x.remoteSubnetInputSchedule, peer)
		}
	}
}

// SetStreamGuaranteedResponsesSizeBytes sets the (transient) byte size of
// guaranteed responses routed from the output queues into streams and not
// yet garbage collected.
func (x *CanisterQueues) SetStreamGuaranteedResponsesSizeBytes(n int) {
	x.queueStats.transientStreamGuaranteedResponsesSizeBytes = n
}

// getOrInsertQueues returns the queue pair from/to peer, creating an empty
// pair if none exists.
func (x *CanisterQueues) getOrInsertQueues(peer message.CanisterID) *queuePair {
	pair, ok := x.canisterQueues[peer]
	if !ok {
		pair = &queuePair{
			input:  queue.NewCanisterQueue(DefaultQueueCapacity, DefaultQueueCapacity),
			output: queue.NewCanisterQueue(DefaultQueueCapacity, DefaultQueueCapacity),
		}
		x.canisterQueues[peer] = pair
	}
	return pair
}

// sortedPeers returns the peer canister IDs in ascending order, for
// deterministic iteration.
func (x *CanisterQueues) sortedPeers() []message.CanisterID {
	peers := maps.Keys(x.canisterQueues)
	slices.Sort(peers)
	return peers
}

// popAndAdvance pops and returns the message referenced at the head of the
// queue, advancing the queue past any stale references behind it.
func popAndAdvance(q *queue.CanisterQueue, p *pool.Pool) message.Message {
	id, ok := q.Pop()
	if !ok {
		return nil
	}
	q.PopWhile(func(id pool.ID) bool { return p.Get(id) == nil })

	msg := p.Take(id)
	if msg == nil {
		panic(`canqueue: stale reference at the head of queue`)
	}
	return msg
}

// generateTimeoutResponse synthesizes a timeout reject response for an own
// request, refunding its payment.
func generateTimeoutResponse(req *message.Request) *message.Response {
	reject := message.NewRejectContext(message.SysTransient, `Request timed out.`, message.SyntheticRejectMessageMaxLen)
	return &message.Response{
		Originator:              req.Sender,
		Respondent:              req.Receiver,
		OriginatorReplyCallback: req.SenderReplyCallback,
		Refund:                  req.Payment,
		Payload:                 message.Payload{Reject: &reject},
		Deadline:                req.Deadline,
	}
}

func containsCanister(set map[message.CanisterID]struct{}, id message.CanisterID) bool {
	_, ok := set[id]
	return ok
}

// Accessors, most backed by the pool's running message stats.

// IngressQueueMessageCount returns the number of enqueued ingress messages.
func (x *CanisterQueues) IngressQueueMessageCount() int { return x.ingressQueue.Size() }

// IngressQueueSizeBytes returns the total byte size of enqueued ingress
// messages.
func (x *CanisterQueues) IngressQueueSizeBytes() int { return x.ingressQueue.CountBytes() }

// InputQueuesMessageCount returns the number of non-stale messages
// enqueued in input queues.
func (x *CanisterQueues) InputQueuesMessageCount() int {
	return x.pool.Stats().InboundMessageCount
}

// InputQueuesReservedSlots returns the number of reserved slots across all
// input queues. Note that this is different from memory reservations for
// guaranteed responses.
func (x *CanisterQueues) InputQueuesReservedSlots() int {
	return x.queueStats.inputQueuesReservedSlots
}

// InputQueuesSizeBytes returns the total byte size of canister input
// queues (queues plus messages).
func (x *CanisterQueues) InputQueuesSizeBytes() int {
	return x.pool.Stats().InboundSizeBytes + len(x.canisterQueues)*queueAccountingOverheadBytes
}

// InputQueuesRequestCount returns the number of non-stale requests
// enqueued in input queues.
func (x *CanisterQueues) InputQueuesRequestCount() int {
	stats := x.pool.Stats()
	return stats.InboundMessageCount - stats.InboundResponseCount
}

// InputQueuesResponseCount returns the number of non-stale responses
// enqueued in input queues.
func (x *CanisterQueues) InputQueuesResponseCount() int {
	return x.pool.Stats().InboundResponseCount
}

// OutputQueuesMessageCount returns the number of non-stale messages in
// output queues.
func (x *CanisterQueues) OutputQueuesMessageCount() int {
	return x.pool.Stats().OutboundMessageCount
}

// OutputQueuesReservedSlots returns the number of reserved slots across
// all output queues. Note that this is different from memory reservations
// for guaranteed responses.
func (x *CanisterQueues) OutputQueuesReservedSlots() int {
	return x.queueStats.outputQueuesReservedSlots
}

// BestEffortMemoryUsage returns the memory usage of all best-effort
// messages.
func (x *CanisterQueues) BestEffortMemoryUsage() int {
	return x.pool.Stats().BestEffortMessageBytes
}

// GuaranteedResponseMemoryUsage returns the memory usage of all guaranteed
// response messages: reservations, responses in streams, plus resident
// guaranteed responses and oversized request extras.
func (x *CanisterQueues) GuaranteedResponseMemoryUsage() int {
	stats := x.pool.Stats()
	return x.queueStats.guaranteedResponseMemoryUsage() + stats.GuaranteedResponseMemoryUsage()
}

// GuaranteedResponsesSizeBytes returns the total byte size of guaranteed
// responses across input and output queues.
func (x *CanisterQueues) GuaranteedResponsesSizeBytes() int {
	return x.pool.Stats().GuaranteedResponsesSizeBytes
}

// GuaranteedResponseMemoryReservations returns the number of memory
// reservations for guaranteed responses across input and output queues.
// Note that this is different from slots reserved for responses, which
// implement backpressure.
func (x *CanisterQueues) GuaranteedResponseMemoryReservations() int {
	return x.queueStats.guaranteedResponseMemoryReservations
}

// OversizedGuaranteedRequestsExtraBytes returns the sum total of bytes
// above message.MaxResponseCountBytes per oversized guaranteed response
// call request.
func (x *CanisterQueues) OversizedGuaranteedRequestsExtraBytes() int {
	return x.pool.Stats().OversizedGuaranteedRequestsExtraBytes
}
