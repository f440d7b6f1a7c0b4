package panda

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCANBufferOrder(t *testing.T) {
	frames := []*CANFrame{
		NewFrame(0x100, []byte{1}, 0),
		NewFrame(0x12345, []byte{2, 2}, 1),
		NewFrame(0x7FF, []byte{3, 3, 3}, 2),
	}
	buf, err := PackSlots(frames)
	require.NoError(t, err)
	require.Len(t, buf, 3*SlotSize)

	got, err := ParseCANBuffer(buf)
	require.NoError(t, err)
	assert.Equal(t, frames, got)
}

func TestParseCANBufferPartialSlot(t *testing.T) {
	buf, err := PackSlots([]*CANFrame{NewFrame(0x1, []byte{1}, 0)})
	require.NoError(t, err)
	buf = append(buf, 0x01, 0x02, 0x03)

	got, err := ParseCANBuffer(buf)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = ParseCANBuffer(buf[:SlotSize-1])
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseCANBufferDropsBadSlot(t *testing.T) {
	buf, err := PackSlots([]*CANFrame{
		NewFrame(0x1, []byte{1}, 0),
		NewFrame(0x2, []byte{2}, 0),
		NewFrame(0x3, []byte{3}, 0),
	})
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(buf[SlotSize+4:], 0xF)

	got, err := ParseCANBuffer(buf)
	var ferr *FormatError
	assert.ErrorAs(t, err, &ferr)
	require.Len(t, got, 2)
	assert.Equal(t, uint32(0x1), got[0].Address)
	assert.Equal(t, uint32(0x3), got[1].Address)
}

func TestPackSlotsRejectsBatch(t *testing.T) {
	buf, err := PackSlots([]*CANFrame{
		NewFrame(0x1, []byte{1}, 0),
		NewFrame(0x2, make([]byte, 9), 0),
	})
	assert.ErrorIs(t, err, ErrDataTooLong)
	assert.Nil(t, buf)

	_, err = PackSlots([]*CANFrame{nil})
	assert.Error(t, err)
}
