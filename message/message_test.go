package message

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCoarseFloor(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want CoarseTime
	}{
		{`zero_time`, time.Time{}, NoDeadline},
		{`epoch`, time.Unix(0, 0), NoDeadline},
		{`sub_second_truncated`, time.Unix(1_700_000_000, 999_999_999), 1_700_000_000},
		{`exact_second`, time.Unix(1_700_000_000, 0), 1_700_000_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CoarseFloor(tt.in))
		})
	}
}

func TestSenderReceiver(t *testing.T) {
	req := &Request{Sender: 1, Receiver: 2}
	assert.Equal(t, CanisterID(1), Sender(req))
	assert.Equal(t, CanisterID(2), Receiver(req))

	rep := &Response{Originator: 1, Respondent: 2}
	assert.Equal(t, CanisterID(2), Sender(rep))
	assert.Equal(t, CanisterID(1), Receiver(rep))
}

func TestIsBestEffort(t *testing.T) {
	assert.False(t, IsBestEffort(&Request{}))
	assert.True(t, IsBestEffort(&Request{Deadline: 1}))
	assert.False(t, IsBestEffort(&Response{}))
	assert.True(t, IsBestEffort(&Response{Deadline: 1}))
}

func TestNewRejectContext_Truncates(t *testing.T) {
	long := strings.Repeat(`x`, 2*SyntheticRejectMessageMaxLen)
	ctx := NewRejectContext(SysTransient, long, SyntheticRejectMessageMaxLen)
	assert.Equal(t, SysTransient, ctx.Code)
	assert.Len(t, ctx.Message, SyntheticRejectMessageMaxLen)
	assert.True(t, strings.HasSuffix(ctx.Message, `...`))

	short := NewRejectContext(SysTransient, `short`, SyntheticRejectMessageMaxLen)
	assert.Equal(t, `short`, short.Message)
}

func TestStripLargeIngressArg(t *testing.T) {
	small := &Ingress{Source: 1, Receiver: 2, MethodName: `m`, MethodPayload: []byte(`tiny`)}
	assert.Same(t, small, StripLargeIngressArg(small))

	large := &Ingress{Source: 1, Receiver: 2, MethodName: `m`, MethodPayload: make([]byte, 2*IngressMessageSizeStrippingThresholdBytes)}
	stripped := StripLargeIngressArg(large)
	assert.NotSame(t, large, stripped)
	assert.Less(t, stripped.SizeBytes(), IngressMessageSizeStrippingThresholdBytes)
	// The original is untouched.
	assert.Len(t, large.MethodPayload, 2*IngressMessageSizeStrippingThresholdBytes)
}
