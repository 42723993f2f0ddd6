package pool

import (
	"github.com/joeycumines/go-canqueue/message"
)

// Stats are running message stats for a Pool, maintained incrementally by
// delta on every insert and remove.
//
// Slot reservations and memory reservations for guaranteed responses, being
// queue metrics, are tracked separately by the queueing layer.
type Stats struct {
	// Total byte size of all messages in the pool.
	SizeBytes int

	// Total byte size of all best-effort messages in the pool.
	BestEffortMessageBytes int

	// Total byte size of all guaranteed responses in the pool.
	GuaranteedResponsesSizeBytes int

	// Sum total of bytes above message.MaxResponseCountBytes per oversized
	// guaranteed response call request.
	OversizedGuaranteedRequestsExtraBytes int

	// Total byte size of all messages in input queues.
	InboundSizeBytes int

	// Count of messages in input queues.
	InboundMessageCount int

	// Count of responses in input queues.
	InboundResponseCount int

	// Count of guaranteed response requests in input queues.
	InboundGuaranteedRequestCount int

	// Count of guaranteed responses in input queues.
	InboundGuaranteedResponseCount int

	// Count of messages in output queues.
	OutboundMessageCount int
}

// GuaranteedResponseMemoryUsage returns the memory usage of the guaranteed
// response messages in the pool, excluding memory reservations for
// guaranteed responses.
func (x *Stats) GuaranteedResponseMemoryUsage() int {
	return x.GuaranteedResponsesSizeBytes + x.OversizedGuaranteedRequestsExtraBytes
}

func (x *Stats) add(rhs Stats) {
	x.SizeBytes += rhs.SizeBytes
	x.BestEffortMessageBytes += rhs.BestEffortMessageBytes
	x.GuaranteedResponsesSizeBytes += rhs.GuaranteedResponsesSizeBytes
	x.OversizedGuaranteedRequestsExtraBytes += rhs.OversizedGuaranteedRequestsExtraBytes
	x.InboundSizeBytes += rhs.InboundSizeBytes
	x.InboundMessageCount += rhs.InboundMessageCount
	x.InboundResponseCount += rhs.InboundResponseCount
	x.InboundGuaranteedRequestCount += rhs.InboundGuaranteedRequestCount
	x.InboundGuaranteedResponseCount += rhs.InboundGuaranteedResponseCount
	x.OutboundMessageCount += rhs.OutboundMessageCount
}

func (x *Stats) sub(rhs Stats) {
	x.SizeBytes -= rhs.SizeBytes
	x.BestEffortMessageBytes -= rhs.BestEffortMessageBytes
	x.GuaranteedResponsesSizeBytes -= rhs.GuaranteedResponsesSizeBytes
	x.OversizedGuaranteedRequestsExtraBytes -= rhs.OversizedGuaranteedRequestsExtraBytes
	x.InboundSizeBytes -= rhs.InboundSizeBytes
	x.InboundMessageCount -= rhs.InboundMessageCount
	x.InboundResponseCount -= rhs.InboundResponseCount
	x.InboundGuaranteedRequestCount -= rhs.InboundGuaranteedRequestCount
	x.InboundGuaranteedResponseCount -= rhs.InboundGuaranteedResponseCount
	x.OutboundMessageCount -= rhs.OutboundMessageCount
}

// statsDelta calculates the change in stats caused by inserting (add) or
// removing (sub) the given message in the given context.
func statsDelta(msg message.Message, context Context) Stats {
	switch m := msg.(type) {
	case *message.Request:
		return requestStatsDelta(m, context)
	case *message.Response:
		return responseStatsDelta(m, context)
	}
	return Stats{}
}

func requestStatsDelta(req *message.Request, context Context) Stats {
	sizeBytes := req.SizeBytes()
	var stats Stats
	stats.SizeBytes = sizeBytes
	if req.Deadline == message.NoDeadline {
		if sizeBytes > message.MaxResponseCountBytes {
			stats.OversizedGuaranteedRequestsExtraBytes = sizeBytes - message.MaxResponseCountBytes
		}
	} else {
		stats.BestEffortMessageBytes = sizeBytes
	}
	if context == ContextInbound {
		stats.InboundSizeBytes = sizeBytes
		stats.InboundMessageCount = 1
		if req.Deadline == message.NoDeadline {
			stats.InboundGuaranteedRequestCount = 1
		}
	} else {
		stats.OutboundMessageCount = 1
	}
	return stats
}

func responseStatsDelta(rep *message.Response, context Context) Stats {
	sizeBytes := rep.SizeBytes()
	var stats Stats
	stats.SizeBytes = sizeBytes
	if rep.Deadline == message.NoDeadline {
		stats.GuaranteedResponsesSizeBytes = sizeBytes
	} else {
		stats.BestEffortMessageBytes = sizeBytes
	}
	if context == ContextInbound {
		stats.InboundSizeBytes = sizeBytes
		stats.InboundMessageCount = 1
		stats.InboundResponseCount = 1
		if rep.Deadline == message.NoDeadline {
			stats.InboundGuaranteedResponseCount = 1
		}
	} else {
		stats.OutboundMessageCount = 1
	}
	return stats
}

// calculateStats computes message stats from scratch. Used when restoring
// from a snapshot.
func calculateStats(messages map[ID]message.Message) Stats {
	var stats Stats
	for id, msg := range messages {
		stats.add(statsDelta(msg, id.Context()))
	}
	return stats
}
