package pool

import (
	"fmt"

	"github.com/joeycumines/go-canqueue/message"
)

// Kind is the message kind bit of an ID (request or response).
type Kind uint64

const (
	KindRequest  Kind = 0
	KindResponse Kind = kindBit

	kindBit = 1
)

func (x Kind) String() string {
	if x == KindRequest {
		return `request`
	}
	return `response`
}

// Context is the message context bit of an ID (inbound or outbound).
type Context uint64

const (
	ContextInbound  Context = 0
	ContextOutbound Context = contextBit

	contextBit = 1 << 1
)

func (x Context) String() string {
	if x == ContextInbound {
		return `inbound`
	}
	return `outbound`
}

// Class is the message class bit of an ID (guaranteed response vs
// best-effort).
type Class uint64

const (
	ClassGuaranteedResponse Class = 0
	ClassBestEffort         Class = classBit

	classBit = 1 << 2
)

func (x Class) String() string {
	if x == ClassGuaranteedResponse {
		return `guaranteed response`
	}
	return `best-effort`
}

// ID is a unique identifier generated by a Pool for a message held in it.
// The three low bits immutably encode the message kind, context and class;
// the remaining bits are a monotonic counter. IDs are never reused.
type ID uint64

// Number of ID bits used as flags.
const bitmaskLen = 3

func newID(kind Kind, context Context, class Class, generator uint64) ID {
	return ID(uint64(kind) | uint64(context) | uint64(class) | generator<<bitmaskLen)
}

func (x ID) Kind() Kind       { return Kind(x) & kindBit }
func (x ID) Context() Context { return Context(x) & contextBit }
func (x ID) Class() Class     { return Class(x) & classBit }

func (x ID) String() string {
	return fmt.Sprintf("%d (%s %s %s)", uint64(x)>>bitmaskLen, x.Context(), x.Class(), x.Kind())
}

// KindOf returns the Kind matching the concrete type of msg.
func KindOf(msg message.Message) Kind {
	if _, ok := msg.(*message.Request); ok {
		return KindRequest
	}
	return KindResponse
}

// ClassOf returns the Class matching the deadline of msg.
func ClassOf(msg message.Message) Class {
	if message.IsBestEffort(msg) {
		return ClassBestEffort
	}
	return ClassGuaranteedResponse
}
