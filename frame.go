package panda

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

const (
	// MaxDataLen is the largest payload a classic CAN frame can carry
	MaxDataLen = 8
	// MaxAddress is the first arbitration id that does not fit in 29 bits
	MaxAddress = 1 << 29
	// extendedThreshold is the first address encoded as an extended (29 bit) id
	extendedThreshold = 0x800
)

type CANFrame struct {
	Address uint32
	Data    []byte
	Bus     uint8
	// Counter is the sequence/timestamp tag supplied by the device, receive only
	Counter uint16
}

// NewFrame creates a new CANFrame and copies the data slice
func NewFrame(address uint32, data []byte, bus uint8) *CANFrame {
	d := make([]byte, len(data))
	copy(d, data)
	return &CANFrame{
		Address: address,
		Data:    d,
		Bus:     bus,
	}
}

// Returns the length of the data (DLC)
func (f *CANFrame) DLC() int {
	return len(f.Data)
}

// IsExtended reports whether the frame is sent with a 29 bit identifier
func (f *CANFrame) IsExtended() bool {
	return f.Address >= extendedThreshold
}

// Validate checks the frame can be put on the wire
func (f *CANFrame) Validate() error {
	if len(f.Data) > MaxDataLen {
		return fmt.Errorf("%w: 0x%X has %d bytes", ErrDataTooLong, f.Address, len(f.Data))
	}
	if f.Address >= MaxAddress {
		return fmt.Errorf("%w: 0x%X", ErrInvalidAddress, f.Address)
	}
	return nil
}

var (
	blue  = color.New(color.FgHiBlue).SprintfFunc()
	red   = color.New(color.FgRed).SprintfFunc()
	green = color.New(color.FgGreen).SprintfFunc()
)

func (f *CANFrame) String() string {
	return f.format(fmt.Sprintf, fmt.Sprintf, fmt.Sprintf)
}

func (f *CANFrame) ColorString() string {
	return f.format(green, red, blue)
}

func (f *CANFrame) format(id, bin, printable func(string, ...interface{}) string) string {
	var out strings.Builder
	out.WriteString("bus" + strconv.Itoa(int(f.Bus)) + " || ")
	if f.IsExtended() {
		out.WriteString(id("0x%08X", f.Address) + " || ")
	} else {
		out.WriteString(id("0x%03X", f.Address) + " || ")
	}
	out.WriteString(strconv.Itoa(len(f.Data)) + " || ")

	var hexView strings.Builder
	for i, b := range f.Data {
		hexView.WriteString(fmt.Sprintf("%02X", b))
		if i != len(f.Data)-1 {
			hexView.WriteString(" ")
		}
	}
	out.WriteString(fmt.Sprintf("%-23s", hexView.String()))
	out.WriteString(" || ")

	var binView strings.Builder
	for i, b := range f.Data {
		binView.WriteString(fmt.Sprintf("%08b", b))
		if i != len(f.Data)-1 {
			binView.WriteString(" ")
		}
	}
	out.WriteString(bin("%-72s", binView.String()))
	out.WriteString(" || ")
	out.WriteString(printable("%s", onlyPrintable(f.Data)))
	return out.String()
}

func onlyPrintable(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		if b < 32 || b > 127 {
			out.WriteString("·")
		} else {
			out.WriteByte(b)
		}
	}
	return out.String()
}
