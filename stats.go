package canqueue

import (
	"github.com/joeycumines/go-canqueue/internal/pool"
	"github.com/joeycumines/go-canqueue/message"
)

// QueueStats tracks slot and guaranteed-response memory reservations across
// input and output queues; and holds a (transient) byte size of guaranteed
// responses already routed into streams.
//
// Stats for the enqueued messages themselves (counts and sizes by kind,
// context and class) are tracked separately by the message pool.
type QueueStats struct {
	// Count of guaranteed response memory reservations across input and
	// output queues, equivalent to the number of outstanding (inbound or
	// outbound) guaranteed response calls. Used for computing message
	// memory usage, as message.MaxResponseCountBytes per reservation.
	//
	// Note that this is different from slots reserved for responses
	// (whether best-effort or guaranteed), which implement backpressure.
	guaranteedResponseMemoryReservations int

	// Count of slots reserved in input queues.
	inputQueuesReservedSlots int

	// Count of slots reserved in output queues.
	outputQueuesReservedSlots int

	// Transient: byte size of guaranteed responses routed from output
	// queues into streams and not yet garbage collected. Maintained by the
	// caller via SetStreamGuaranteedResponsesSizeBytes.
	transientStreamGuaranteedResponsesSizeBytes int
}

// guaranteedResponseMemoryUsage returns the memory usage of reservations
// for guaranteed responses, plus guaranteed responses in streams.
func (x *QueueStats) guaranteedResponseMemoryUsage() int {
	return x.guaranteedResponseMemoryReservations*message.MaxResponseCountBytes +
		x.transientStreamGuaranteedResponsesSizeBytes
}

// onPush updates the stats to reflect the enqueuing of msg in the given
// context.
func (x *QueueStats) onPush(msg message.Message, context pool.Context) {
	switch m := msg.(type) {
	case *message.Request:
		x.onPushRequest(m, context)
	case *message.Response:
		x.onPushResponse(m, context)
	}
}

func (x *QueueStats) onPushRequest(req *message.Request, context pool.Context) {
	// A guaranteed response request makes a memory reservation.
	if req.Deadline == message.NoDeadline {
		x.guaranteedResponseMemoryReservations++
	}

	if context == pool.ContextOutbound {
		// Pushing a request into an output queue reserves an input queue
		// slot for the response.
		x.inputQueuesReservedSlots++
	} else {
		x.outputQueuesReservedSlots++
	}
}

func (x *QueueStats) onPushResponse(rep *message.Response, context pool.Context) {
	// A guaranteed response consumes a memory reservation.
	if rep.Deadline == message.NoDeadline && x.guaranteedResponseMemoryReservations > 0 {
		x.guaranteedResponseMemoryReservations--
	}

	if context == pool.ContextInbound {
		if x.inputQueuesReservedSlots > 0 {
			x.inputQueuesReservedSlots--
		}
	} else {
		if x.outputQueuesReservedSlots > 0 {
			x.outputQueuesReservedSlots--
		}
	}
}

// onDropInputRequest updates the stats to reflect the dropping of a
// (necessarily best-effort) request from an input queue: the output queue
// slot reserved for its response is released.
func (x *QueueStats) onDropInputRequest() {
	if x.outputQueuesReservedSlots > 0 {
		x.outputQueuesReservedSlots--
	}
}

// CanPush checks whether availableMemory for guaranteed response messages
// is sufficient to allow enqueuing msg into an input or output queue.
//
// Returns nil for best-effort messages (they don't consume guaranteed
// response memory) and for responses (guaranteed responses always return
// memory). For a guaranteed response request, returns the required bytes
// as *InsufficientMemoryError if availableMemory is insufficient.
func CanPush(msg message.Message, availableMemory int64) error {
	if req, ok := msg.(*message.Request); ok {
		required := MemoryRequiredToPushRequest(req)
		if required != 0 && int64(required) > availableMemory {
			return &InsufficientMemoryError{RequiredBytes: required}
		}
	}
	return nil
}

// MemoryRequiredToPushRequest returns the guaranteed response memory
// required to push req onto an input or output queue: zero for best-effort
// requests, else the larger of message.MaxResponseCountBytes (reserved for
// the response) and the request's own size.
func MemoryRequiredToPushRequest(req *message.Request) int {
	if req.Deadline != message.NoDeadline {
		return 0
	}
	if size := req.SizeBytes(); size > message.MaxResponseCountBytes {
		return size
	}
	return message.MaxResponseCountBytes
}

// InsufficientMemoryError is returned by CanPush when a guaranteed response
// request does not fit the supplied memory budget.
type InsufficientMemoryError struct {
	RequiredBytes int
}

func (x *InsufficientMemoryError) Error() string {
	return "canqueue: out of guaranteed response memory"
}
