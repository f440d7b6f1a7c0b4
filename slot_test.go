package panda

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSlot(t *testing.T) {
	tests := []struct {
		name  string
		frame *CANFrame
		word1 uint32
		word2 uint32
	}{
		{
			name:  "standard",
			frame: NewFrame(0x123, []byte{0x01, 0x02}, 0),
			word1: 0x123<<21 | 1,
			word2: 2,
		},
		{
			name:  "last standard id",
			frame: NewFrame(0x7FF, nil, 1),
			word1: 0x7FF<<21 | 1,
			word2: 1 << 4,
		},
		{
			name:  "first extended id",
			frame: NewFrame(0x800, []byte{0xAA}, 2),
			word1: 0x800<<3 | 1 | 4,
			word2: 1 | 2<<4,
		},
		{
			name:  "largest extended id",
			frame: NewFrame(MaxAddress-1, make([]byte, 8), 0xFF),
			word1: (MaxAddress-1)<<3 | 1 | 4,
			word2: 8 | 0xFF<<4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slot, err := EncodeSlot(tt.frame)
			require.NoError(t, err)
			require.Len(t, slot, SlotSize)
			assert.Equal(t, tt.word1, binary.LittleEndian.Uint32(slot[0:]), "word1")
			assert.Equal(t, tt.word2, binary.LittleEndian.Uint32(slot[4:]), "word2")
			assert.Equal(t, tt.frame.Data, slot[8:8+len(tt.frame.Data)])
			for _, b := range slot[8+len(tt.frame.Data):] {
				assert.Zero(t, b, "padding")
			}
		})
	}
}

func TestEncodeSlotRejects(t *testing.T) {
	_, err := EncodeSlot(NewFrame(0x100, make([]byte, 9), 0))
	assert.ErrorIs(t, err, ErrDataTooLong)

	_, err = EncodeSlot(NewFrame(MaxAddress, nil, 0))
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestSlotRoundTrip(t *testing.T) {
	addresses := []uint32{0, 1, 0x123, 0x7FE, 0x7FF, 0x800, 0x801, 0x18DAF110, MaxAddress - 1}
	for _, addr := range addresses {
		for n := 0; n <= MaxDataLen; n++ {
			for _, bus := range []uint8{0, 1, 2, 0xFF} {
				data := make([]byte, n)
				for i := range data {
					data[i] = byte(addr) + byte(i*31)
				}
				slot, err := EncodeSlot(NewFrame(addr, data, bus))
				require.NoError(t, err)

				got, err := DecodeSlot(slot)
				require.NoError(t, err)
				assert.Equal(t, addr, got.Address)
				assert.Equal(t, data, got.Data)
				assert.Equal(t, bus, got.Bus)
				assert.Zero(t, got.Counter)
			}
		}
	}
}

func TestDecodeSlot(t *testing.T) {
	slot := make([]byte, SlotSize)
	binary.LittleEndian.PutUint32(slot[0:], 0x18DAF110<<3|4)
	binary.LittleEndian.PutUint32(slot[4:], 3|1<<4|0xBEEF<<16)
	copy(slot[8:], []byte{0x10, 0x20, 0x30, 0x40})

	f, err := DecodeSlot(slot)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x18DAF110), f.Address)
	assert.Equal(t, []byte{0x10, 0x20, 0x30}, f.Data)
	assert.Equal(t, uint8(1), f.Bus)
	assert.Equal(t, uint16(0xBEEF), f.Counter)
	assert.True(t, f.IsExtended())

	// decoded data must not alias the slot
	slot[8] = 0xFF
	assert.Equal(t, byte(0x10), f.Data[0])
}

func TestDecodeSlotErrors(t *testing.T) {
	slot := make([]byte, SlotSize)
	binary.LittleEndian.PutUint32(slot[4:], 9)
	_, err := DecodeSlot(slot)
	var ferr *FormatError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, 9, ferr.Value)

	_, err = DecodeSlot(make([]byte, 15))
	assert.ErrorAs(t, err, &ferr)
}
