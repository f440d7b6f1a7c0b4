package panda

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/roffe/panda/pkg/kline"
)

// serialReader reads the inbound side of one device UART. A read returns whatever
// the device has buffered, possibly nothing.
type serialReader struct {
	ctx  context.Context
	t    Transport
	port SerialPort
}

func (r *serialReader) Read(b []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	want := len(b)
	if want > serialReadMax {
		want = serialReadMax
	}
	data, err := r.t.ControlRead(r.ctx, reqSerialRead, uint16(r.port), 0, want)
	return copy(b, data), err
}

func drainSerial(ctx context.Context, t Transport, port SerialPort) ([]byte, error) {
	var out []byte
	for {
		ret, err := t.ControlRead(ctx, reqSerialRead, uint16(port), 0, serialReadMax)
		if err != nil {
			return out, err
		}
		if len(ret) == 0 {
			return out, nil
		}
		out = append(out, ret...)
	}
}

// KlineDrain reads and returns everything buffered on port
func (p *Panda) KlineDrain(ctx context.Context, port SerialPort) ([]byte, error) {
	var out []byte
	err := p.do("kline drain", func(t Transport) error {
		var err error
		out, err = drainSerial(ctx, t, port)
		return err
	})
	return out, err
}

// KlineSend transmits msg on the K-line behind port. The line is half duplex so every
// chunk written comes back as echo, which is read and compared before the next chunk
// is sent. With checksum set the additive checksum is appended to msg.
func (p *Panda) KlineSend(ctx context.Context, port SerialPort, msg []byte, checksum bool) error {
	return p.do("kline send", func(t Transport) error {
		if stale, err := drainSerial(ctx, t, port); err != nil {
			return err
		} else if len(stale) > 0 {
			p.log.Debugf("[KLINE] drained % X", stale)
		}

		buf := msg
		if checksum {
			buf = kline.AppendChecksum(msg)
		}
		echo := &serialReader{ctx: ctx, t: t, port: port}
		for i, chunk := range kline.Chunks(buf, kline.ChunkSize) {
			out := make([]byte, 0, len(chunk)+1)
			out = append(out, byte(port))
			out = append(out, chunk...)
			n, err := t.BulkWrite(ctx, epSerial, out)
			if err != nil {
				return err
			}
			atomic.AddUint64(&p.stats.sentBytes, uint64(n))
			if err := p.verifyEcho(echo, i, chunk); err != nil {
				return err
			}
		}
		p.log.Debugf("[KLINE] W % X", buf)
		return nil
	})
}

// verifyEcho waits for len(sent) bytes of echo and compares them to what was sent
func (p *Panda) verifyEcho(r io.Reader, chunk int, sent []byte) error {
	echo := make([]byte, len(sent))
	if _, err := io.ReadFull(r, echo); err != nil {
		return err
	}
	atomic.AddUint64(&p.stats.recvBytes, uint64(len(echo)))
	if bytes.Equal(echo, sent) {
		return nil
	}
	atomic.AddUint64(&p.stats.echoErrors, 1)
	perr := &ProtocolError{Chunk: chunk, Sent: sent, Echo: echo}
	p.log.Warnf("[KLINE] %v", perr)
	if p.echo == EchoStrict {
		return perr
	}
	return nil
}

// KlineRecv reads one complete message from port, blocking until it has arrived
func (p *Panda) KlineRecv(ctx context.Context, port SerialPort) ([]byte, error) {
	var msg []byte
	err := p.do("kline recv", func(t Transport) error {
		var err error
		msg, err = kline.ReadMessage(&serialReader{ctx: ctx, t: t, port: port})
		var herr *kline.HeaderError
		if errors.As(err, &herr) {
			return &FormatError{What: "kline length", Value: herr.Length}
		}
		if err != nil {
			return err
		}
		atomic.AddUint64(&p.stats.recvBytes, uint64(len(msg)))
		p.log.Debugf("[KLINE] R % X", msg)
		return nil
	})
	return msg, err
}
