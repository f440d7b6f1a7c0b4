package panda

import (
	"encoding/binary"
)

// SlotSize is the size of one CAN frame on the bulk endpoints
const SlotSize = 0x10

// Flag bits in the first slot word, mirrors the bxCAN TIR/RIR register
const (
	flagTransmit = 1 << 0
	flagExtended = 1 << 2
)

// EncodeSlot packs the frame into its 16 byte wire representation.
//
//	0..3  LE u32 address<<21|TX (standard) or address<<3|EXT|TX (extended)
//	4..7  LE u32 len | bus<<4
//	8..15 data, zero padded
func EncodeSlot(f *CANFrame) ([]byte, error) {
	slot := make([]byte, SlotSize)
	if err := putSlot(slot, f); err != nil {
		return nil, err
	}
	return slot, nil
}

func putSlot(slot []byte, f *CANFrame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	var word1 uint32
	if f.IsExtended() {
		word1 = f.Address<<3 | flagTransmit | flagExtended
	} else {
		word1 = f.Address<<21 | flagTransmit
	}
	binary.LittleEndian.PutUint32(slot[0:], word1)
	binary.LittleEndian.PutUint32(slot[4:], uint32(len(f.Data))|uint32(f.Bus)<<4)
	n := copy(slot[8:], f.Data)
	for i := 8 + n; i < SlotSize; i++ {
		slot[i] = 0
	}
	return nil
}

// DecodeSlot unpacks one received slot. The payload is copied out of slot.
func DecodeSlot(slot []byte) (*CANFrame, error) {
	if len(slot) != SlotSize {
		return nil, &FormatError{What: "slot size", Value: len(slot)}
	}
	word1 := binary.LittleEndian.Uint32(slot[0:])
	word2 := binary.LittleEndian.Uint32(slot[4:])

	var address uint32
	if word1&flagExtended != 0 {
		address = word1 >> 3
	} else {
		address = word1 >> 21
	}
	length := int(word2 & 0xF)
	if length > MaxDataLen {
		return nil, &FormatError{What: "slot length", Value: length}
	}
	f := NewFrame(address, slot[8:8+length], uint8(word2>>4))
	f.Counter = uint16(word2 >> 16)
	return f, nil
}
