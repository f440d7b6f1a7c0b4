package panda

import (
	"errors"
	"fmt"
)

// PackSlots encodes frames back to back in the order given. Nothing is returned
// unless every frame is valid.
func PackSlots(frames []*CANFrame) ([]byte, error) {
	buf := make([]byte, len(frames)*SlotSize)
	for i, f := range frames {
		if f == nil {
			return nil, fmt.Errorf("frame %d is nil", i)
		}
		if err := putSlot(buf[i*SlotSize:(i+1)*SlotSize], f); err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
	}
	return buf, nil
}

// ParseCANBuffer splits a bulk read into slots and decodes them in order. A trailing
// partial slot is ignored. Slots that fail to decode are skipped, the returned error
// joins their FormatErrors.
func ParseCANBuffer(buf []byte) ([]*CANFrame, error) {
	slots := splitSlots(buf)
	frames := make([]*CANFrame, 0, len(slots))
	var errs []error
	for i, slot := range slots {
		f, err := DecodeSlot(slot)
		if err != nil {
			errs = append(errs, fmt.Errorf("slot %d: %w", i, err))
			continue
		}
		frames = append(frames, f)
	}
	return frames, errors.Join(errs...)
}

func splitSlots(buf []byte) [][]byte {
	n := len(buf) / SlotSize
	out := make([][]byte, n)
	for i := range out {
		out[i] = buf[i*SlotSize : (i+1)*SlotSize]
	}
	return out
}
