package panda

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/roffe/panda/pkg/kline"
)

// CANClearRx passed to CANClear clears the global receive queue instead of a bus tx queue
const CANClearRx = 0xFFFF

const healthSize = 13

type Health struct {
	Voltage                uint32
	Current                uint32
	Started                bool
	ControlsAllowed        bool
	GasInterceptorDetected bool
	StartedSignalDetected  bool
	StartedAlt             bool
}

func (h Health) String() string {
	return fmt.Sprintf("voltage: %d current: %d started: %v controls allowed: %v gas interceptor: %v started signal: %v started alt: %v",
		h.Voltage, h.Current, h.Started, h.ControlsAllowed, h.GasInterceptorDetected, h.StartedSignalDetected, h.StartedAlt)
}

func parseHealth(b []byte) (Health, error) {
	if len(b) < healthSize {
		return Health{}, &FormatError{What: "health size", Value: len(b)}
	}
	return Health{
		Voltage:                binary.LittleEndian.Uint32(b[0:]),
		Current:                binary.LittleEndian.Uint32(b[4:]),
		Started:                b[8] != 0,
		ControlsAllowed:        b[9] != 0,
		GasInterceptorDetected: b[10] != 0,
		StartedSignalDetected:  b[11] != 0,
		StartedAlt:             b[12] != 0,
	}, nil
}

func (p *Panda) controlRead(ctx context.Context, op string, request uint8, value, index uint16, length int) ([]byte, error) {
	var out []byte
	err := p.do(op, func(t Transport) error {
		var err error
		out, err = t.ControlRead(ctx, request, value, index, length)
		return err
	})
	return out, err
}

func (p *Panda) controlWrite(ctx context.Context, op string, request uint8, value, index uint16) error {
	return p.do(op, func(t Transport) error {
		return t.ControlWrite(ctx, request, value, index, nil)
	})
}

func (p *Panda) Health(ctx context.Context) (Health, error) {
	b, err := p.controlRead(ctx, "health", reqHealth, 0, 0, healthSize)
	if err != nil {
		return Health{}, err
	}
	return parseHealth(b)
}

// Version returns the firmware version string
func (p *Panda) Version(ctx context.Context) (string, error) {
	b, err := p.controlRead(ctx, "version", reqVersion, 0, 0, 0x40)
	if err != nil {
		return "", err
	}
	return cString(b), nil
}

func (p *Panda) IsGrey(ctx context.Context) (bool, error) {
	b, err := p.controlRead(ctx, "is grey", reqIsGrey, 0, 0, 0x40)
	if err != nil {
		return false, err
	}
	return bytes.Equal(b, []byte{0x01}), nil
}

// Serial returns the device serial number and password. The block carries a
// truncated SHA-1 of itself which is verified.
func (p *Panda) Serial(ctx context.Context) (serial, password string, err error) {
	b, err := p.controlRead(ctx, "serial", reqSerial, 0, 0, 0x20)
	if err != nil {
		return "", "", err
	}
	if len(b) != 0x20 {
		return "", "", &FormatError{What: "serial size", Value: len(b)}
	}
	sum := sha1.Sum(b[:0x1c])
	if !bytes.Equal(b[0x1c:], sum[:4]) {
		return "", "", ErrSerialHash
	}
	return cString(b[:0x10]), cString(b[0x10 : 0x10+10]), nil
}

func (p *Panda) Secret(ctx context.Context) ([]byte, error) {
	return p.controlRead(ctx, "secret", reqSerial, 1, 0, 0x10)
}

func (p *Panda) SetUSBPower(ctx context.Context, on bool) error {
	return p.controlWrite(ctx, "set usb power", reqUSBPower, boolValue(on), 0)
}

func (p *Panda) SetSafetyMode(ctx context.Context, mode SafetyMode) error {
	return p.controlWrite(ctx, "set safety mode", reqSafetyMode, uint16(mode), 0)
}

func (p *Panda) SetGMLAN(ctx context.Context, bus GMLANBus) error {
	switch bus {
	case GMLANOff:
		return p.controlWrite(ctx, "set gmlan", reqGMLAN, 0, 0)
	case GMLANCAN2, GMLANCAN3:
		return p.controlWrite(ctx, "set gmlan", reqGMLAN, 1, uint16(bus))
	}
	return fmt.Errorf("invalid gmlan bus %s", bus)
}

// SetCANLoopback sets loopback mode on all buses
func (p *Panda) SetCANLoopback(ctx context.Context, enable bool) error {
	return p.controlWrite(ctx, "set can loopback", reqCANLoopback, boolValue(enable), 0)
}

func (p *Panda) SetCANSpeedKbps(ctx context.Context, bus uint8, kbps float64) error {
	return p.controlWrite(ctx, "set can speed", reqCANSpeed, uint16(bus), uint16(kbps*10))
}

func (p *Panda) SetUARTBaud(ctx context.Context, port SerialPort, rate int) error {
	return p.controlWrite(ctx, "set uart baud", reqUARTBaud, uint16(port), uint16(rate/300))
}

func (p *Panda) SetUARTParity(ctx context.Context, port SerialPort, parity Parity) error {
	return p.controlWrite(ctx, "set uart parity", reqUARTParity, uint16(port), uint16(parity))
}

func (p *Panda) SetUARTCallback(ctx context.Context, port SerialPort, install bool) error {
	return p.controlWrite(ctx, "set uart callback", reqUARTCallback, uint16(port), boolValue(install))
}

// CANClear drops everything queued for transmission on bus, or the global receive
// queue when bus is CANClearRx.
func (p *Panda) CANClear(ctx context.Context, bus uint16) error {
	return p.controlWrite(ctx, "can clear", reqCANClear, bus, 0)
}

// SerialRead returns everything buffered on port
func (p *Panda) SerialRead(ctx context.Context, port SerialPort) ([]byte, error) {
	var out []byte
	err := p.do("serial read", func(t Transport) error {
		var err error
		out, err = drainSerial(ctx, t, port)
		return err
	})
	atomic.AddUint64(&p.stats.recvBytes, uint64(len(out)))
	return out, err
}

// SerialWrite writes data to port and returns the number of payload bytes written.
// Transports that can't batch get one endpoint sized chunk per write.
func (p *Panda) SerialWrite(ctx context.Context, port SerialPort, data []byte) (int, error) {
	var written int
	err := p.do("serial write", func(t Transport) error {
		chunk := serialWriteChunk
		if !canBatch(t) {
			chunk = kline.ChunkSize
		}
		for i := 0; i < len(data); i += chunk {
			end := min(i+chunk, len(data))
			out := append([]byte{byte(port)}, data[i:end]...)
			n, err := t.BulkWrite(ctx, epSerial, out)
			if err != nil {
				return err
			}
			atomic.AddUint64(&p.stats.sentBytes, uint64(n))
			written += max(n-1, 0)
		}
		return nil
	})
	return written, err
}

func (p *Panda) SerialClear(ctx context.Context, port SerialPort) error {
	return p.controlWrite(ctx, "serial clear", reqSerialClear, uint16(port), 0)
}

// KlineWakeup pulses the K-line low
func (p *Panda) KlineWakeup(ctx context.Context) error {
	return p.controlWrite(ctx, "kline wakeup", reqKlineWakeup, 0, 0)
}

func boolValue(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}
