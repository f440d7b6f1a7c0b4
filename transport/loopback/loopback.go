// Package loopback is an in-memory stand-in for the device. CAN frames written are
// received back, K-line bytes written are echoed and control requests are answered
// from fixed device information.
package loopback

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/roffe/panda"
)

// Endpoints and requests as seen from the firmware side
const (
	epCANRecv = 1
	epSerial  = 2
	epCANSend = 3

	reqSerialRead  = 0xe0
	reqCANClear    = 0xf1
	reqSerialClear = 0xf2
	reqIsGrey      = 0xc1
	reqSerial      = 0xd0
	reqHealth      = 0xd2
	reqVersion     = 0xd6
)

const (
	slotSize     = 16
	flagTransmit = 1
)

// Responder is called with the payload of every serial write. The bytes it returns
// are queued on the port after the echo.
type Responder func(written []byte) []byte

type ControlRequest struct {
	Request uint8
	Value   uint16
	Index   uint16
}

type Device struct {
	mu sync.Mutex

	// Version is reported for the version request
	Version string
	// SerialNumber is reported, with a valid hash, for the serial request
	SerialNumber string
	Health       panda.Health
	// Unbatched makes the device refuse bulk writes carrying more than one CAN slot
	Unbatched bool
	// Corrupt, when set, rewrites K-line echo before it is queued
	Corrupt func(echo []byte) []byte

	canRx      []byte
	counter    uint16
	serialRx   map[uint8][]byte
	responders map[uint8]Responder
	faults     []error

	// Writes holds every bulk write, in order
	Writes   [][]byte
	Controls []ControlRequest
	closed   bool
}

func New() *Device {
	return &Device{
		Version:      "v1.0.0",
		SerialNumber: "loopback00000000",
		serialRx:     make(map[uint8][]byte),
		responders:   make(map[uint8]Responder),
	}
}

// Dialer hands out d itself, reopening it if it was closed
func (d *Device) Dialer() panda.Dialer {
	return func(ctx context.Context) (panda.Transport, error) {
		d.mu.Lock()
		d.closed = false
		d.mu.Unlock()
		return d, nil
	}
}

// Fail makes the next len(errs) bulk transfers fail with errs, in order
func (d *Device) Fail(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = append(d.faults, errs...)
}

func (d *Device) SetResponder(port panda.SerialPort, r Responder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responders[uint8(port)] = r
}

// Inject queues raw bytes as if they arrived on the serial port
func (d *Device) Inject(port panda.SerialPort, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.serialRx[uint8(port)] = append(d.serialRx[uint8(port)], data...)
}

// InjectCAN queues raw bytes on the CAN receive endpoint
func (d *Device) InjectCAN(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.canRx = append(d.canRx, data...)
}

func (d *Device) CanBatch() bool {
	return !d.Unbatched
}

func (d *Device) fault() error {
	if len(d.faults) == 0 {
		return nil
	}
	err := d.faults[0]
	d.faults = d.faults[1:]
	return err
}

func (d *Device) BulkWrite(_ context.Context, endpoint uint8, data []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, panda.ErrClosed
	}
	if err := d.fault(); err != nil {
		return 0, err
	}
	d.Writes = append(d.Writes, append([]byte(nil), data...))
	switch endpoint {
	case epCANSend:
		if d.Unbatched && len(data) > slotSize {
			return 0, fmt.Errorf("bulk write of %d bytes on unbatched device", len(data))
		}
		for i := 0; i+slotSize <= len(data); i += slotSize {
			d.loop(data[i : i+slotSize])
		}
	case epSerial:
		if len(data) == 0 {
			return 0, nil
		}
		port, payload := data[0], data[1:]
		echo := append([]byte(nil), payload...)
		if d.Corrupt != nil {
			echo = d.Corrupt(echo)
		}
		d.serialRx[port] = append(d.serialRx[port], echo...)
		if r := d.responders[port]; r != nil {
			d.serialRx[port] = append(d.serialRx[port], r(payload)...)
		}
	default:
		return 0, fmt.Errorf("no out endpoint %d", endpoint)
	}
	return len(data), nil
}

// loop turns a transmitted slot into a received one
func (d *Device) loop(tx []byte) {
	rx := make([]byte, slotSize)
	copy(rx, tx)
	word1 := binary.LittleEndian.Uint32(rx[0:]) &^ flagTransmit
	word2 := binary.LittleEndian.Uint32(rx[4:])&0xFFFF | uint32(d.counter)<<16
	binary.LittleEndian.PutUint32(rx[0:], word1)
	binary.LittleEndian.PutUint32(rx[4:], word2)
	d.counter++
	d.canRx = append(d.canRx, rx...)
}

func (d *Device) BulkRead(_ context.Context, endpoint uint8, max int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, panda.ErrClosed
	}
	if err := d.fault(); err != nil {
		return nil, err
	}
	if endpoint != epCANRecv {
		return nil, fmt.Errorf("no in endpoint %d", endpoint)
	}
	n := min(len(d.canRx), max)
	out := append([]byte(nil), d.canRx[:n]...)
	d.canRx = d.canRx[n:]
	return out, nil
}

func (d *Device) ControlWrite(_ context.Context, request uint8, value, index uint16, _ []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return panda.ErrClosed
	}
	d.Controls = append(d.Controls, ControlRequest{Request: request, Value: value, Index: index})
	switch request {
	case reqSerialClear:
		delete(d.serialRx, uint8(value))
	case reqCANClear:
		if value == panda.CANClearRx {
			d.canRx = nil
		}
	}
	return nil
}

func (d *Device) ControlRead(_ context.Context, request uint8, value, index uint16, length int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, panda.ErrClosed
	}
	d.Controls = append(d.Controls, ControlRequest{Request: request, Value: value, Index: index})
	var out []byte
	switch request {
	case reqSerialRead:
		port := uint8(value)
		n := min(len(d.serialRx[port]), length)
		out = append(out, d.serialRx[port][:n]...)
		d.serialRx[port] = d.serialRx[port][n:]
	case reqHealth:
		out = make([]byte, 13)
		binary.LittleEndian.PutUint32(out[0:], d.Health.Voltage)
		binary.LittleEndian.PutUint32(out[4:], d.Health.Current)
		for i, b := range []bool{d.Health.Started, d.Health.ControlsAllowed, d.Health.GasInterceptorDetected, d.Health.StartedSignalDetected, d.Health.StartedAlt} {
			if b {
				out[8+i] = 1
			}
		}
	case reqVersion:
		out = []byte(d.Version)
	case reqIsGrey:
		out = []byte{0x00}
	case reqSerial:
		out = serialBlock(d.SerialNumber)
	default:
		return nil, fmt.Errorf("unsupported request 0x%02X", request)
	}
	if len(out) > length {
		out = out[:length]
	}
	return out, nil
}

func serialBlock(sn string) []byte {
	b := make([]byte, 0x20)
	copy(b[:0x10], sn)
	copy(b[0x10:0x1a], "loopbackpw")
	sum := sha1.Sum(b[:0x1c])
	copy(b[0x1c:], sum[:4])
	return b
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
