package canqueue

import (
	"fmt"

	"github.com/joeycumines/go-canqueue/internal/queue"
	"github.com/joeycumines/go-canqueue/message"
)

// ErrQueueFull is returned when a push is rejected because the relevant
// queue has no remaining request slot, or no response capacity for a
// reservation.
var ErrQueueFull = queue.ErrQueueFull

// NonMatchingResponseError is returned when a response is pushed with no
// reserved slot, no matching queue, or a duplicate guaranteed-response
// callback.
type NonMatchingResponseError struct {
	Message    string
	Originator message.CanisterID
	CallbackID message.CallbackID
	Respondent message.CanisterID
	Deadline   message.CoarseTime
}

func (x *NonMatchingResponseError) Error() string {
	return fmt.Sprintf(
		"canqueue: non-matching response: %s: originator %v, callback %d, respondent %v",
		x.Message, x.Originator, uint64(x.CallbackID), x.Respondent,
	)
}

func newNonMatchingResponse(msg string, rep *message.Response) *NonMatchingResponseError {
	return &NonMatchingResponseError{
		Message:    msg,
		Originator: rep.Originator,
		CallbackID: rep.OriginatorReplyCallback,
		Respondent: rep.Respondent,
		Deadline:   rep.Deadline,
	}
}
