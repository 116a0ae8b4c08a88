package abi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultCodeEncoding(t *testing.T) {
	tests := []struct {
		preventDefault  bool
		stopPropagation bool
		want            ResultCode
	}{
		{true, false, 2},
		{true, true, 3},
		{false, false, 0},
		{false, true, 1},
	}

	for _, tt := range tests {
		code := NewResultCode(tt.preventDefault, tt.stopPropagation)
		assert.Equal(t, tt.want, code)
		assert.Equal(t, tt.preventDefault, code.PreventDefault())
		assert.Equal(t, tt.stopPropagation, code.StopPropagation())

		out := OutputRecord{PreventDefault: tt.preventDefault, StopPropagation: tt.stopPropagation}
		assert.Equal(t, tt.want, out.Result())
	}
}

func TestResultCodeString(t *testing.T) {
	assert.Equal(t, "none", ResultCode(0).String())
	assert.Equal(t, "preventDefault|stopPropagation", ResultCode(3).String())
}

func TestInputRecordLayout(t *testing.T) {
	rec := InputRecord{
		HandlerID:    0x01020304,
		EventPayload: BufferDescriptor{Pointer: 0x100, Length: 5, Capacity: 8},
		PriorState:   0xdeadbeef,
		IsInit:       false,
	}

	b := rec.Encode()
	require.Len(t, b, InputSize)

	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, b[0:4])
	assert.Equal(t, []byte{0x00, 0x01, 0, 0, 5, 0, 0, 0, 8, 0, 0, 0}, b[4:16])
	assert.Equal(t, []byte{0xef, 0xbe, 0xad, 0xde}, b[16:20])
	assert.Equal(t, make([]byte, DescriptorSize), b[20:32])
	assert.Equal(t, byte(0), b[32])

	back, err := DecodeInput(b)
	require.NoError(t, err)
	assert.Equal(t, rec, back)
	assert.Equal(t, rec.EventPayload, back.Payload())
}

func TestInputRecordInitFlag(t *testing.T) {
	rec := InputRecord{
		InitPayload: BufferDescriptor{Pointer: 64, Length: 2, Capacity: 2},
		IsInit:      true,
	}

	b := rec.Encode()
	assert.Equal(t, byte(1), b[32])

	back, err := DecodeInput(b)
	require.NoError(t, err)
	assert.True(t, back.IsInit)
	assert.Equal(t, rec.InitPayload, back.Payload())
}

func TestOutputRecordLayout(t *testing.T) {
	b := []byte{0x2a, 0, 0, 0, 1, 0, 0, 0}

	out, err := DecodeOutput(b)
	require.NoError(t, err)
	assert.Equal(t, OutputRecord{NewState: 42, PreventDefault: true}, out)
	assert.Equal(t, b, out.Encode())

	_, err = DecodeOutput(b[:4])
	assert.Error(t, err)
}

func TestDescriptorValidate(t *testing.T) {
	const memSize = 1024

	assert.NoError(t, BufferDescriptor{}.Validate(memSize))
	assert.NoError(t, BufferDescriptor{Pointer: 16, Length: 8, Capacity: 8}.Validate(memSize))

	assert.Error(t, BufferDescriptor{Pointer: 16, Length: 8, Capacity: 4}.Validate(memSize))
	assert.Error(t, BufferDescriptor{Pointer: 0, Length: 8, Capacity: 8}.Validate(memSize))
	assert.Error(t, BufferDescriptor{Pointer: 1020, Length: 8, Capacity: 8}.Validate(memSize))
}

func TestInlineText(t *testing.T) {
	raw := make([]byte, DescriptorSize)
	copy(raw, "boom")
	raw[DescriptorSize-1] = 0x80 | 4

	d := DecodeDescriptor(raw)
	require.True(t, d.Inline())
	assert.NoError(t, d.Validate(0))
	assert.Equal(t, []byte("boom"), InlineText(raw))
}
