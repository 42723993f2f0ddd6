package message

import (
	"fmt"
	"math"
	"time"
)

const (
	// RequestLifetime is the lifetime of a guaranteed response call request
	// in an output queue, from which its implicit deadline is computed (as
	// `now + RequestLifetime`).
	RequestLifetime = 300 * time.Second

	// SyntheticRejectMessageMaxLen bounds the length of synthetic reject
	// messages (e.g. timeout rejects) generated by the queueing layer.
	SyntheticRejectMessageMaxLen = 255

	// IngressMessageSizeStrippingThresholdBytes is the threshold above which
	// StripLargeIngressArg replaces an ingress method payload with a summary.
	IngressMessageSizeStrippingThresholdBytes = 1024

	// maxInterCanisterPayloadBytes is the maximum size of an inter-canister
	// message payload.
	maxInterCanisterPayloadBytes = 2 * 1024 * 1024

	// MaxResponseCountBytes is the size of the memory reservation made for
	// each outstanding guaranteed response call. Requests larger than this
	// pay for the extra bytes on top of the reservation.
	MaxResponseCountBytes = maxInterCanisterPayloadBytes + responseOverheadBytes

	// Fixed per-message accounting overhead, approximating the in-memory
	// footprint of the non-payload fields.
	requestOverheadBytes  = 64
	responseOverheadBytes = 48
	ingressOverheadBytes  = 48
)

type (
	// CanisterID identifies a canister.
	CanisterID uint64

	// UserID identifies an end-user principal submitting ingress messages.
	UserID uint64

	// CallbackID identifies an outstanding call on the originator, unique
	// per originator. Used by the queueing layer for response deduplication.
	CallbackID uint64

	// Cycles is a payment or refund amount attached to a message.
	Cycles uint64
)

func (x CanisterID) String() string { return fmt.Sprintf("canister-%d", uint64(x)) }

func (x UserID) String() string { return fmt.Sprintf("user-%d", uint64(x)) }

// CoarseTime is a deadline with second granularity, as seconds since the
// Unix epoch. The zero value (NoDeadline) marks a guaranteed-response
// message.
type CoarseTime uint32

// NoDeadline is the sentinel deadline of guaranteed-response messages.
const NoDeadline CoarseTime = 0

// CoarseFloor rounds t down to the nearest second.
func CoarseFloor(t time.Time) CoarseTime {
	s := t.Unix()
	if s <= 0 {
		return NoDeadline
	}
	if s > math.MaxUint32 {
		return math.MaxUint32
	}
	return CoarseTime(s)
}

// Time converts back to a time.Time, at second granularity.
func (x CoarseTime) Time() time.Time { return time.Unix(int64(x), 0).UTC() }

// RejectCode classifies a reject response.
type RejectCode int

const (
	SysFatal RejectCode = iota + 1
	SysTransient
	DestinationInvalid
	CanisterReject
	CanisterError
)

func (x RejectCode) String() string {
	switch x {
	case SysFatal:
		return `SYS_FATAL`
	case SysTransient:
		return `SYS_TRANSIENT`
	case DestinationInvalid:
		return `DESTINATION_INVALID`
	case CanisterReject:
		return `CANISTER_REJECT`
	case CanisterError:
		return `CANISTER_ERROR`
	default:
		return fmt.Sprintf("RejectCode(%d)", int(x))
	}
}

// RejectContext is the payload of a reject response.
type RejectContext struct {
	Code    RejectCode
	Message string
}

// NewRejectContext truncates msg to limit bytes, appending an ellipsis if
// truncation occurred.
func NewRejectContext(code RejectCode, msg string, limit int) RejectContext {
	if limit > 0 && len(msg) > limit {
		if limit > 3 {
			msg = msg[:limit-3] + `...`
		} else {
			msg = msg[:limit]
		}
	}
	return RejectContext{Code: code, Message: msg}
}

// Payload is a response payload: either raw reply data, or a reject.
// Exactly one of the two fields is set.
type Payload struct {
	Data   []byte
	Reject *RejectContext
}

func (x Payload) sizeBytes() int {
	if x.Reject != nil {
		return len(x.Reject.Message)
	}
	return len(x.Data)
}

// Request is a canister-to-canister call.
type Request struct {
	Sender              CanisterID
	Receiver            CanisterID
	SenderReplyCallback CallbackID
	Payment             Cycles
	MethodName          string
	MethodPayload       []byte

	// Deadline is NoDeadline for guaranteed response calls, else the
	// best-effort expiration time.
	Deadline CoarseTime
}

// SizeBytes returns the byte size of the request, for accounting purposes.
func (x *Request) SizeBytes() int {
	return requestOverheadBytes + len(x.MethodName) + len(x.MethodPayload)
}

func (x *Request) isMessage() {}

// Response is the reply to a Request.
type Response struct {
	Originator              CanisterID
	Respondent              CanisterID
	OriginatorReplyCallback CallbackID
	Refund                  Cycles
	Payload                 Payload

	// Deadline matches the deadline of the originating request.
	Deadline CoarseTime
}

// SizeBytes returns the byte size of the response, for accounting purposes.
func (x *Response) SizeBytes() int {
	return responseOverheadBytes + x.Payload.sizeBytes()
}

func (x *Response) isMessage() {}

// Message is a canister-to-canister message: either a *Request or a
// *Response.
type Message interface {
	SizeBytes() int
	isMessage()
}

// CanisterMessage is anything executable by a canister: an *Ingress, a
// *Request or a *Response.
type CanisterMessage interface {
	SizeBytes() int
}

// Sender returns the canister the message is from: the request sender, or
// the response respondent.
func Sender(msg Message) CanisterID {
	switch m := msg.(type) {
	case *Request:
		return m.Sender
	case *Response:
		return m.Respondent
	default:
		panic(fmt.Sprintf(`message: sender: unexpected message type %T`, msg))
	}
}

// Receiver returns the canister the message is to: the request receiver, or
// the response originator.
func Receiver(msg Message) CanisterID {
	switch m := msg.(type) {
	case *Request:
		return m.Receiver
	case *Response:
		return m.Originator
	default:
		panic(fmt.Sprintf(`message: receiver: unexpected message type %T`, msg))
	}
}

// Deadline returns the message deadline (NoDeadline for guaranteed
// response messages).
func Deadline(msg Message) CoarseTime {
	switch m := msg.(type) {
	case *Request:
		return m.Deadline
	case *Response:
		return m.Deadline
	default:
		panic(fmt.Sprintf(`message: deadline: unexpected message type %T`, msg))
	}
}

// IsBestEffort reports whether the message has a (non-zero) deadline and
// may therefore be expired or shed.
func IsBestEffort(msg Message) bool { return Deadline(msg) != NoDeadline }

// Ingress is a message submitted by an end user rather than a canister.
type Ingress struct {
	Source        UserID
	Receiver      CanisterID
	MethodName    string
	MethodPayload []byte

	// Expiry is the time after which the message is no longer worth
	// inducting. Enforced by the caller, not by the queueing layer.
	Expiry CoarseTime
}

// SizeBytes returns the byte size of the ingress message, for accounting
// purposes.
func (x *Ingress) SizeBytes() int {
	return ingressOverheadBytes + len(x.MethodName) + len(x.MethodPayload)
}

// StripLargeIngressArg returns ing with its method payload replaced by a
// short placeholder if the message exceeds
// IngressMessageSizeStrippingThresholdBytes; otherwise returns ing
// unchanged. The original value is never mutated.
func StripLargeIngressArg(ing *Ingress) *Ingress {
	if ing.SizeBytes() <= IngressMessageSizeStrippingThresholdBytes {
		return ing
	}
	stripped := *ing
	stripped.MethodPayload = []byte(fmt.Sprintf(`<%d bytes stripped>`, len(ing.MethodPayload)))
	return &stripped
}
