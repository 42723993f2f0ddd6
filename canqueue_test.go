package canqueue

import (
	"testing"
	"time"

	"github.com/joeycumines/go-canqueue/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ownID = message.CanisterID(1)
	peerA = message.CanisterID(10)
	peerB = message.CanisterID(20)
	peerC = message.CanisterID(30)
)

var testTime = time.Unix(1_700_000_000, 0).UTC()

func outRequest(receiver message.CanisterID, cb message.CallbackID, deadline message.CoarseTime) *message.Request {
	return &message.Request{
		Sender:              ownID,
		Receiver:            receiver,
		SenderReplyCallback: cb,
		Payment:             100,
		MethodName:          `call`,
		Deadline:            deadline,
	}
}

func inRequest(sender message.CanisterID, cb message.CallbackID, deadline message.CoarseTime) *message.Request {
	return &message.Request{
		Sender:              sender,
		Receiver:            ownID,
		SenderReplyCallback: cb,
		MethodName:          `call`,
		Deadline:            deadline,
	}
}

func inResponse(respondent message.CanisterID, cb message.CallbackID, deadline message.CoarseTime) *message.Response {
	return &message.Response{
		Originator:              ownID,
		Respondent:              respondent,
		OriginatorReplyCallback: cb,
		Payload:                 message.Payload{Data: []byte(`ok`)},
		Deadline:                deadline,
	}
}

func bestEffortDeadline(d time.Duration) message.CoarseTime {
	return message.CoarseFloor(testTime.Add(d))
}

func checkInvariants(t *testing.T, q *CanisterQueues, localCanisters map[message.CanisterID]struct{}) {
	t.Helper()
	require.NoError(t, q.CheckInvariantsForTesting(ownID, localCanisters))
}

func TestPushInput_Request(t *testing.T) {
	q := New()
	req := inRequest(peerB, 1, message.NoDeadline)
	require.NoError(t, q.PushInput(req, RemoteSubnet))

	assert.True(t, q.HasInput())
	assert.Equal(t, 1, q.InputQueuesMessageCount())
	assert.Equal(t, 1, q.InputQueuesRequestCount())
	// The eventual response got an output slot and a memory reservation.
	assert.Equal(t, 1, q.OutputQueuesReservedSlots())
	assert.Equal(t, 1, q.GuaranteedResponseMemoryReservations())
	assert.Equal(t, []message.CanisterID{peerB}, q.RemoteSubnetInputScheduleForTesting())
	checkInvariants(t, q, nil)

	popped := q.PopInput()
	require.NotNil(t, popped)
	assert.Same(t, req, popped)
	assert.False(t, q.HasInput())
	checkInvariants(t, q, nil)
}

func TestPushInput_ResponseWithoutReservation(t *testing.T) {
	q := New()
	err := q.PushInput(inResponse(peerB, 1, message.NoDeadline), RemoteSubnet)

	var nonMatching *NonMatchingResponseError
	require.ErrorAs(t, err, &nonMatching)
	assert.Equal(t, `No reserved response slot`, nonMatching.Message)
	assert.Equal(t, ownID, nonMatching.Originator)
	assert.Equal(t, message.CallbackID(1), nonMatching.CallbackID)
	assert.Equal(t, peerB, nonMatching.Respondent)
	assert.False(t, q.HasInput())
}

// Slot-based backpressure: the 501st outbound request to one peer is
// rejected until a full request/response round trip completes.
func TestBackpressure(t *testing.T) {
	q := New()

	for cb := message.CallbackID(0); cb < DefaultQueueCapacity; cb++ {
		require.NoError(t, q.PushOutputRequest(outRequest(peerB, cb, message.NoDeadline), testTime))
	}
	assert.ErrorIs(t, q.PushOutputRequest(outRequest(peerB, 500, message.NoDeadline), testTime), ErrQueueFull)
	assert.Equal(t, map[message.CanisterID]int{peerB: 0}, q.AvailableOutputRequestSlots())
	checkInvariants(t, q, nil)

	// Route out the first request, deliver its response and consume it.
	it := q.OutputIntoIter()
	routed := it.Pop()
	require.NotNil(t, routed)
	require.IsType(t, &message.Request{}, routed)
	require.NoError(t, q.PushInput(inResponse(peerB, 0, message.NoDeadline), LocalSubnet))
	require.NotNil(t, q.PopInput())
	checkInvariants(t, q, nil)

	require.NoError(t, q.PushOutputRequest(outRequest(peerB, 500, message.NoDeadline), testTime))
	checkInvariants(t, q, nil)
}

// A duplicate guaranteed response indicates a protocol bug and is an error.
func TestDuplicateResponse_Guaranteed(t *testing.T) {
	q := New()
	// Two outstanding calls sharing a callback id, so that both response
	// pushes find a reserved slot.
	require.NoError(t, q.PushOutputRequest(outRequest(peerB, 7, message.NoDeadline), testTime))
	require.NoError(t, q.PushOutputRequest(outRequest(peerB, 7, message.NoDeadline), testTime))

	require.NoError(t, q.PushInput(inResponse(peerB, 7, message.NoDeadline), LocalSubnet))

	err := q.PushInput(inResponse(peerB, 7, message.NoDeadline), LocalSubnet)
	var nonMatching *NonMatchingResponseError
	require.ErrorAs(t, err, &nonMatching)
	assert.Equal(t, `Duplicate response`, nonMatching.Message)
	assert.Equal(t, 1, q.InputQueuesResponseCount())
	checkInvariants(t, q, nil)
}

// A duplicate best-effort response is silently dropped: a timeout reject
// may already have been generated for the same callback.
func TestDuplicateResponse_BestEffort(t *testing.T) {
	q := New()
	deadline := bestEffortDeadline(time.Hour)
	require.NoError(t, q.PushOutputRequest(outRequest(peerB, 7, deadline), testTime))
	require.NoError(t, q.PushOutputRequest(outRequest(peerB, 7, deadline), testTime))

	require.NoError(t, q.PushInput(inResponse(peerB, 7, deadline), LocalSubnet))
	assert.Equal(t, 1, q.InputQueuesResponseCount())

	require.NoError(t, q.PushInput(inResponse(peerB, 7, deadline), LocalSubnet))
	assert.Equal(t, 1, q.InputQueuesResponseCount())
	checkInvariants(t, q, nil)
}

// Input sources rotate strictly: one ingress turn, one remote turn, one
// local turn; within a source, one message per peer per turn.
func TestPopInput_RoundRobin(t *testing.T) {
	q := New()
	localCanisters := map[message.CanisterID]struct{}{peerA: {}}

	require.NoError(t, q.PushInput(inRequest(peerA, 1, message.NoDeadline), LocalSubnet))
	require.NoError(t, q.PushInput(inRequest(peerB, 2, message.NoDeadline), RemoteSubnet))
	require.NoError(t, q.PushInput(inRequest(peerC, 3, message.NoDeadline), RemoteSubnet))
	q.PushIngress(&message.Ingress{Source: 5, Receiver: ownID, MethodName: `go`})

	var order []message.CanisterMessage
	for msg := q.PopInput(); msg != nil; msg = q.PopInput() {
		order = append(order, msg)
		checkInvariants(t, q, localCanisters)
	}

	require.Len(t, order, 4)
	_, ok := order[0].(*message.Ingress)
	assert.True(t, ok, `first pop must be the ingress message`)
	assert.Equal(t, peerB, message.Sender(order[1].(message.Message)))
	assert.Equal(t, peerA, message.Sender(order[2].(message.Message)))
	assert.Equal(t, peerC, message.Sender(order[3].(message.Message)))
}

func TestPeekInput_MatchesPopInput(t *testing.T) {
	q := New()
	require.NoError(t, q.PushInput(inRequest(peerA, 1, message.NoDeadline), LocalSubnet))
	require.NoError(t, q.PushInput(inRequest(peerB, 2, message.NoDeadline), RemoteSubnet))
	q.PushIngress(&message.Ingress{Source: 5, Receiver: ownID, MethodName: `go`})

	for {
		peeked := q.PeekInput()
		popped := q.PopInput()
		assert.Equal(t, peeked, popped)
		if popped == nil {
			break
		}
	}
}

func TestSkipInput_RotatesSchedules(t *testing.T) {
	q := New()
	second := message.CanisterID(11)
	require.NoError(t, q.PushInput(inRequest(peerA, 1, message.NoDeadline), LocalSubnet))
	require.NoError(t, q.PushInput(inRequest(second, 2, message.NoDeadline), LocalSubnet))

	// One full rotation: each source skipped once, the local schedule
	// rotated from [A, second] to [second, A].
	var detector LoopDetector
	for i := 0; i < 3; i++ {
		q.SkipInput(&detector)
	}
	assert.Equal(t, []message.CanisterID{second, peerA}, q.LocalSubnetInputScheduleForTesting())

	msg := q.PopInput()
	require.NotNil(t, msg)
	assert.Equal(t, second, message.Sender(msg.(message.Message)))
}

func TestLoopDetector(t *testing.T) {
	q := New()
	var detector LoopDetector

	// Trivially detected on a canister with no inputs.
	assert.True(t, detector.DetectedLoop(q))

	require.NoError(t, q.PushInput(inRequest(peerA, 1, message.NoDeadline), LocalSubnet))
	q.PushIngress(&message.Ingress{Source: 5, Receiver: ownID, MethodName: `go`})
	assert.False(t, detector.DetectedLoop(q))

	// One full rotation skips every non-empty source once.
	for i := 0; i < 3; i++ {
		q.SkipInput(&detector)
	}
	assert.True(t, detector.DetectedLoop(q))
}

// An expired outbound guaranteed request turns into a timeout reject
// response, refunding the payment and consuming the reserved input slot.
func TestTimeOutMessages_OutboundGuaranteedRequest(t *testing.T) {
	q := New()
	req := outRequest(peerB, 42, message.NoDeadline)
	require.NoError(t, q.PushOutputRequest(req, testTime))
	assert.Equal(t, 1, q.GuaranteedResponseMemoryReservations())

	expiry := testTime.Add(message.RequestLifetime + time.Second)
	assert.False(t, q.HasExpiredDeadlines(testTime))
	assert.True(t, q.HasExpiredDeadlines(expiry))

	require.Equal(t, 1, q.TimeOutMessages(expiry, ownID, nil))
	checkInvariants(t, q, nil)

	assert.Equal(t, 0, q.OutputQueuesMessageCount())
	assert.False(t, q.HasOutput())
	// The reject consumed the memory reservation and the input slot.
	assert.Equal(t, 0, q.GuaranteedResponseMemoryReservations())
	assert.Equal(t, 0, q.InputQueuesReservedSlots())
	assert.Equal(t, []message.CanisterID{peerB}, q.RemoteSubnetInputScheduleForTesting())

	popped := q.PopInput()
	require.NotNil(t, popped)
	rep, ok := popped.(*message.Response)
	require.True(t, ok)
	assert.Equal(t, ownID, rep.Originator)
	assert.Equal(t, peerB, rep.Respondent)
	assert.Equal(t, message.CallbackID(42), rep.OriginatorReplyCallback)
	assert.Equal(t, message.Cycles(100), rep.Refund)
	require.NotNil(t, rep.Payload.Reject)
	assert.Equal(t, message.SysTransient, rep.Payload.Reject.Code)
	assert.Equal(t, `Request timed out.`, rep.Payload.Reject.Message)
	assert.Equal(t, message.NoDeadline, rep.Deadline)
	checkInvariants(t, q, nil)
}

// A late response after a timeout reject finds no reserved slot, because the
// reject consumed it, and is rejected as non-matching; the reject remains the
// only enqueued response.
func TestTimeOutMessages_ThenLateResponse(t *testing.T) {
	q := New()
	deadline := bestEffortDeadline(10 * time.Second)
	require.NoError(t, q.PushOutputRequest(outRequest(peerB, 42, deadline), testTime))

	require.Equal(t, 1, q.TimeOutMessages(deadline.Time().Add(time.Second), ownID, nil))
	assert.Equal(t, 1, q.InputQueuesResponseCount())

	err := q.PushInput(inResponse(peerB, 42, deadline), LocalSubnet)
	var nonMatching *NonMatchingResponseError
	require.ErrorAs(t, err, &nonMatching)
	assert.Equal(t, `No reserved response slot`, nonMatching.Message)
	assert.Equal(t, 1, q.InputQueuesResponseCount())
	checkInvariants(t, q, nil)
}

// Timing out an inbound best-effort request releases the output slot that
// was reserved for its response.
func TestTimeOutMessages_InboundRequest(t *testing.T) {
	q := New()
	deadline := bestEffortDeadline(10 * time.Second)
	require.NoError(t, q.PushInput(inRequest(peerB, 1, deadline), RemoteSubnet))
	assert.Equal(t, 1, q.OutputQueuesReservedSlots())

	require.Equal(t, 1, q.TimeOutMessages(deadline.Time().Add(time.Second), ownID, nil))
	assert.Equal(t, 0, q.OutputQueuesReservedSlots())
	assert.Equal(t, 0, q.InputQueuesMessageCount())
	assert.Nil(t, q.PopInput())
	checkInvariants(t, q, nil)
}

func TestShedLargestMessage(t *testing.T) {
	q := New()
	assert.False(t, q.ShedLargestMessage(ownID, nil))

	deadline := bestEffortDeadline(time.Hour)
	small := inRequest(peerB, 1, deadline)
	large := inRequest(peerB, 2, deadline)
	large.MethodPayload = make([]byte, 4096)
	require.NoError(t, q.PushInput(small, RemoteSubnet))
	require.NoError(t, q.PushInput(large, RemoteSubnet))

	require.True(t, q.ShedLargestMessage(ownID, nil))
	checkInvariants(t, q, nil)

	assert.Equal(t, 1, q.InputQueuesMessageCount())
	assert.Same(t, small, q.PopInput())
	checkInvariants(t, q, nil)
}

// Shedding an inbound best-effort response forgets its callback.
func TestShedLargestMessage_InboundResponse(t *testing.T) {
	q := New()
	deadline := bestEffortDeadline(time.Hour)
	require.NoError(t, q.PushOutputRequest(outRequest(peerB, 9, deadline), testTime))
	// Route the request out so only the response remains sheddable.
	require.NotNil(t, q.OutputIntoIter().Pop())

	rep := inResponse(peerB, 9, deadline)
	rep.Payload = message.Payload{Data: make([]byte, 4096)}
	require.NoError(t, q.PushInput(rep, RemoteSubnet))

	require.True(t, q.ShedLargestMessage(ownID, nil))
	assert.Equal(t, 0, q.InputQueuesMessageCount())
	assert.Nil(t, q.PopInput())
	checkInvariants(t, q, nil)
}

func TestPushOutputResponse(t *testing.T) {
	q := New()
	require.NoError(t, q.PushInput(inRequest(peerB, 3, message.NoDeadline), RemoteSubnet))
	require.NotNil(t, q.PopInput())

	rep := &message.Response{
		Originator:              peerB,
		Respondent:              ownID,
		OriginatorReplyCallback: 3,
		Payload:                 message.Payload{Data: []byte(`done`)},
	}
	q.PushOutputResponse(rep)
	checkInvariants(t, q, nil)

	assert.Equal(t, 1, q.OutputQueuesMessageCount())
	assert.Equal(t, 0, q.OutputQueuesReservedSlots())
	assert.Same(t, rep, q.PeekOutput(peerB))
}

func TestPushOutputResponse_PanicsWithoutReservation(t *testing.T) {
	q := New()
	assert.Panics(t, func() {
		q.PushOutputResponse(&message.Response{Originator: peerB, Respondent: ownID})
	})
}

func TestRejectSubnetOutputRequest(t *testing.T) {
	q := New()
	subnetID := message.CanisterID(99)
	req := outRequest(subnetID, 11, message.NoDeadline)

	reject := message.NewRejectContext(message.DestinationInvalid, `no route to subnet`, message.SyntheticRejectMessageMaxLen)
	require.NoError(t, q.RejectSubnetOutputRequest(req, reject, []message.CanisterID{subnetID}))
	checkInvariants(t, q, map[message.CanisterID]struct{}{subnetID: {}})

	assert.Equal(t, 0, q.OutputQueuesMessageCount())
	popped := q.PopInput()
	require.NotNil(t, popped)
	rep := popped.(*message.Response)
	assert.Equal(t, ownID, rep.Originator)
	assert.Equal(t, subnetID, rep.Respondent)
	assert.Equal(t, message.CallbackID(11), rep.OriginatorReplyCallback)
	assert.Equal(t, message.Cycles(100), rep.Refund)
	require.NotNil(t, rep.Payload.Reject)
	assert.Equal(t, message.DestinationInvalid, rep.Payload.Reject.Code)
}

func TestRejectSubnetOutputRequest_PanicsForPlainPeer(t *testing.T) {
	q := New()
	assert.Panics(t, func() {
		_ = q.RejectSubnetOutputRequest(outRequest(peerB, 1, message.NoDeadline), message.RejectContext{}, nil)
	})
}

func TestInductMessageToSelf(t *testing.T) {
	q := New()
	assert.Error(t, q.InductMessageToSelf(ownID))

	req := &message.Request{Sender: ownID, Receiver: ownID, SenderReplyCallback: 4, MethodName: `self`}
	require.NoError(t, q.PushOutputRequest(req, testTime))

	require.NoError(t, q.InductMessageToSelf(ownID))
	checkInvariants(t, q, nil)

	assert.Equal(t, 0, q.OutputQueuesMessageCount())
	assert.Equal(t, 1, q.InputQueuesMessageCount())
	assert.Same(t, req, q.PopInput())
}

func TestOutputIterator_RoundRobin(t *testing.T) {
	q := New()
	require.NoError(t, q.PushOutputRequest(outRequest(peerB, 1, message.NoDeadline), testTime))
	require.NoError(t, q.PushOutputRequest(outRequest(peerB, 2, message.NoDeadline), testTime))
	require.NoError(t, q.PushOutputRequest(outRequest(peerC, 3, message.NoDeadline), testTime))
	require.NoError(t, q.PushOutputRequest(outRequest(peerC, 4, message.NoDeadline), testTime))

	it := q.OutputIntoIter()
	assert.Equal(t, 4, it.Size())

	var callbacks []message.CallbackID
	for {
		peer, peeked := it.Peek()
		msg := it.Pop()
		if msg == nil {
			assert.True(t, it.IsEmpty())
			break
		}
		assert.Same(t, peeked, msg)
		assert.Equal(t, peer, message.Receiver(msg))
		callbacks = append(callbacks, msg.(*message.Request).SenderReplyCallback)
	}

	assert.Equal(t, []message.CallbackID{1, 3, 2, 4}, callbacks)
	assert.False(t, q.HasOutput())
	checkInvariants(t, q, nil)
}

func TestOutputIterator_ExcludeQueue(t *testing.T) {
	q := New()
	require.NoError(t, q.PushOutputRequest(outRequest(peerB, 1, message.NoDeadline), testTime))
	require.NoError(t, q.PushOutputRequest(outRequest(peerB, 2, message.NoDeadline), testTime))
	require.NoError(t, q.PushOutputRequest(outRequest(peerC, 3, message.NoDeadline), testTime))

	it := q.OutputIntoIter()
	assert.Equal(t, 2, it.ExcludeQueue())
	assert.Equal(t, 1, it.Size())

	msg := it.Pop()
	require.NotNil(t, msg)
	assert.Equal(t, peerC, message.Receiver(msg))
	assert.True(t, it.IsEmpty())

	// Excluded messages are retained in the state.
	assert.Equal(t, 2, q.OutputQueuesMessageCount())
	checkInvariants(t, q, nil)
}

func TestOutputQueuesForEach(t *testing.T) {
	q := New()
	require.NoError(t, q.PushOutputRequest(outRequest(peerB, 1, message.NoDeadline), testTime))
	require.NoError(t, q.PushOutputRequest(outRequest(peerB, 2, message.NoDeadline), testTime))
	require.NoError(t, q.PushOutputRequest(outRequest(peerC, 3, message.NoDeadline), testTime))
	require.NoError(t, q.PushOutputRequest(outRequest(peerC, 4, message.NoDeadline), testTime))

	var accepted []message.CallbackID
	q.OutputQueuesForEach(func(peer message.CanisterID, msg message.Message) error {
		req := msg.(*message.Request)
		if req.SenderReplyCallback == 3 {
			return assert.AnError
		}
		accepted = append(accepted, req.SenderReplyCallback)
		return nil
	})

	assert.Equal(t, []message.CallbackID{1, 2}, accepted)
	// peerC's queue was left untouched from the rejected message on.
	assert.Equal(t, 2, q.OutputQueuesMessageCount())
	checkInvariants(t, q, nil)
}

func TestAvailableOutputRequestSlots(t *testing.T) {
	q := New()
	require.NoError(t, q.PushOutputRequest(outRequest(peerB, 1, message.NoDeadline), testTime))
	require.NoError(t, q.PushInput(inRequest(peerC, 2, message.NoDeadline), RemoteSubnet))

	slots := q.AvailableOutputRequestSlots()
	assert.Equal(t, DefaultQueueCapacity-1, slots[peerB])
	// The inbound request from peerC reserved an output response slot,
	// which does not constrain outbound requests.
	assert.Equal(t, DefaultQueueCapacity, slots[peerC])
}

func TestGarbageCollect(t *testing.T) {
	q := New()
	require.NoError(t, q.PushInput(inRequest(peerB, 3, message.NoDeadline), RemoteSubnet))
	require.NotNil(t, q.PopInput())

	// The output reservation for the pending response keeps the pair.
	q.GarbageCollect()
	assert.Equal(t, 1, q.QueuePairCountForTesting())

	q.PushOutputResponse(&message.Response{
		Originator:              peerB,
		Respondent:              ownID,
		OriginatorReplyCallback: 3,
	})
	require.NotNil(t, q.OutputIntoIter().Pop())

	// Both queues now have zero used slots; everything resets to default.
	q.GarbageCollect()
	assert.Equal(t, 0, q.QueuePairCountForTesting())
	assert.Nil(t, q.Record().Pool)
	assert.Equal(t, NextInputQueueIngress, q.Record().NextInputQueue)
	checkInvariants(t, q, nil)
}

func TestCanPush(t *testing.T) {
	guaranteed := inRequest(peerB, 1, message.NoDeadline)
	bestEffort := inRequest(peerB, 2, bestEffortDeadline(time.Hour))

	assert.NoError(t, CanPush(bestEffort, 0))
	assert.NoError(t, CanPush(inResponse(peerB, 3, message.NoDeadline), 0))
	assert.NoError(t, CanPush(guaranteed, int64(message.MaxResponseCountBytes)))

	err := CanPush(guaranteed, int64(message.MaxResponseCountBytes)-1)
	var oom *InsufficientMemoryError
	require.ErrorAs(t, err, &oom)
	assert.Equal(t, message.MaxResponseCountBytes, oom.RequiredBytes)

	oversized := inRequest(peerB, 4, message.NoDeadline)
	oversized.MethodPayload = make([]byte, message.MaxResponseCountBytes+1)
	assert.Equal(t, oversized.SizeBytes(), MemoryRequiredToPushRequest(oversized))
	assert.Equal(t, 0, MemoryRequiredToPushRequest(bestEffort))
}

func TestSplitInputSchedules(t *testing.T) {
	q := New()
	require.NoError(t, q.PushInput(inRequest(peerA, 1, message.NoDeadline), LocalSubnet))
	require.NoError(t, q.PushInput(inRequest(peerB, 2, message.NoDeadline), LocalSubnet))
	require.NoError(t, q.PushInput(inRequest(peerC, 3, message.NoDeadline), RemoteSubnet))

	// After a migration, only peerA remains local; peerC moved local.
	localCanisters := map[message.CanisterID]struct{}{peerA: {}, peerC: {}}
	q.SplitInputSchedules(ownID, localCanisters)

	assert.Equal(t, []message.CanisterID{peerA, peerC}, q.LocalSubnetInputScheduleForTesting())
	assert.Equal(t, []message.CanisterID{peerB}, q.RemoteSubnetInputScheduleForTesting())
	checkInvariants(t, q, localCanisters)
}

func TestGuaranteedResponseMemoryUsage(t *testing.T) {
	q := New()
	assert.Equal(t, 0, q.GuaranteedResponseMemoryUsage())

	require.NoError(t, q.PushOutputRequest(outRequest(peerB, 1, message.NoDeadline), testTime))
	assert.Equal(t, message.MaxResponseCountBytes, q.GuaranteedResponseMemoryUsage())

	q.SetStreamGuaranteedResponsesSizeBytes(1024)
	assert.Equal(t, message.MaxResponseCountBytes+1024, q.GuaranteedResponseMemoryUsage())
	q.SetStreamGuaranteedResponsesSizeBytes(0)

	// The guaranteed response itself counts while resident.
	require.NotNil(t, q.OutputIntoIter().Pop())
	rep := inResponse(peerB, 1, message.NoDeadline)
	require.NoError(t, q.PushInput(rep, RemoteSubnet))
	assert.Equal(t, rep.SizeBytes(), q.GuaranteedResponseMemoryUsage())
	assert.Equal(t, rep.SizeBytes(), q.GuaranteedResponsesSizeBytes())

	require.NotNil(t, q.PopInput())
	assert.Equal(t, 0, q.GuaranteedResponseMemoryUsage())
}

func TestFilterIngressMessages(t *testing.T) {
	q := New()
	q.PushIngress(&message.Ingress{Source: 1, Receiver: ownID, MethodName: `keep`})
	q.PushIngress(&message.Ingress{Source: 2, Receiver: ownID, MethodName: `drop`})

	removed := q.FilterIngressMessages(func(msg *message.Ingress) bool { return msg.MethodName != `drop` })
	require.Len(t, removed, 1)
	assert.Equal(t, `drop`, removed[0].MethodName)
	assert.Equal(t, 1, q.IngressQueueMessageCount())
}
