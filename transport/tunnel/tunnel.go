// Package tunnel carries device requests over a byte stream, as done by the WiFi
// module and the debug UART bridge.
//
// Requests are little endian:
//
//	control: u16 0, u16 0, u8 request type, u8 request, u16 value, u16 index, u16 length
//	bulk:    u16 endpoint, u16 length, data
//
// Every request is answered by a u32 length followed by at most 0x40 bytes.
package tunnel

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/roffe/panda"
)

const (
	// MaxBulkWrite is the largest bulk payload the far end accepts per request
	MaxBulkWrite = 0x10
	// MaxReply is the largest reply payload
	MaxReply = 0x40

	controlHeaderSize = 12
	bulkHeaderSize    = 4
	replyHeaderSize   = 4
)

var ErrBulkTooLong = errors.New("bulk write longer than 0x10 bytes")

type deadliner interface {
	SetDeadline(time.Time) error
}

type Tunnel struct {
	mu   sync.Mutex
	rw   io.ReadWriteCloser
	name string

	closeOnce sync.Once
	closed    chan struct{}
}

func New(name string, rw io.ReadWriteCloser) *Tunnel {
	return &Tunnel{
		rw:     rw,
		name:   name,
		closed: make(chan struct{}),
	}
}

func (t *Tunnel) String() string {
	return t.name
}

// CanBatch reports false, bulk writes are limited to one CAN slot
func (t *Tunnel) CanBatch() bool {
	return false
}

func (t *Tunnel) BulkWrite(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	if len(data) > MaxBulkWrite {
		return 0, fmt.Errorf("%w: %d", ErrBulkTooLong, len(data))
	}
	req := make([]byte, bulkHeaderSize, bulkHeaderSize+len(data))
	binary.LittleEndian.PutUint16(req[0:], uint16(endpoint))
	binary.LittleEndian.PutUint16(req[2:], uint16(len(data)))
	req = append(req, data...)
	if _, err := t.roundTrip(ctx, req); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (t *Tunnel) BulkRead(ctx context.Context, endpoint uint8, _ int) ([]byte, error) {
	req := make([]byte, bulkHeaderSize)
	binary.LittleEndian.PutUint16(req[0:], uint16(endpoint))
	return t.roundTrip(ctx, req)
}

// ControlWrite sends the request as a zero length control read, data is not tunneled
func (t *Tunnel) ControlWrite(ctx context.Context, request uint8, value, index uint16, _ []byte) error {
	_, err := t.roundTrip(ctx, controlRequest(panda.RequestOut, request, value, index, 0))
	return err
}

func (t *Tunnel) ControlRead(ctx context.Context, request uint8, value, index uint16, length int) ([]byte, error) {
	if length > MaxReply {
		length = MaxReply
	}
	return t.roundTrip(ctx, controlRequest(panda.RequestIn, request, value, index, uint16(length)))
}

func controlRequest(requestType, request uint8, value, index, length uint16) []byte {
	req := make([]byte, controlHeaderSize)
	req[4] = requestType
	req[5] = request
	binary.LittleEndian.PutUint16(req[6:], value)
	binary.LittleEndian.PutUint16(req[8:], index)
	binary.LittleEndian.PutUint16(req[10:], length)
	return req
}

func (t *Tunnel) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.rw.Close()
	})
	return err
}

func (t *Tunnel) roundTrip(ctx context.Context, req []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.closed:
		return nil, panda.ErrClosed
	default:
	}

	if d, ok := t.rw.(deadliner); ok {
		dl, _ := ctx.Deadline()
		d.SetDeadline(dl)
		stop := context.AfterFunc(ctx, func() {
			d.SetDeadline(time.Now())
		})
		defer func() {
			stop()
			d.SetDeadline(time.Time{})
		}()
	}

	if _, err := t.rw.Write(req); err != nil {
		return nil, t.classify(ctx, "write", err)
	}
	var hdr [replyHeaderSize]byte
	if _, err := io.ReadFull(t.rw, hdr[:]); err != nil {
		return nil, t.classify(ctx, "read", err)
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxReply {
		return nil, &panda.FormatError{What: "tunnel reply length", Value: int(n)}
	}
	reply := make([]byte, n)
	if _, err := io.ReadFull(t.rw, reply); err != nil {
		return nil, t.classify(ctx, "read", err)
	}
	return reply, nil
}

func (t *Tunnel) classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	select {
	case <-t.closed:
		return fmt.Errorf("%s %s: %w", t.name, op, panda.ErrClosed)
	default:
	}
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed), errors.Is(err, os.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return fmt.Errorf("%s %s: %w: %v", t.name, op, panda.ErrClosed, err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return panda.Transient(t.name+" "+op, err)
	}
	return fmt.Errorf("%s %s: %w", t.name, op, err)
}
