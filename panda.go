package panda

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/mod/semver"
)

// Panda is a connection to one device. Calls block until the device answers and are
// serialised, only one request is in flight at a time. Close may be called from another
// goroutine to abort a blocked call.
type Panda struct {
	dial         Dialer
	log          log.FieldLogger
	retry        RetryPolicy
	connectRetry RetryPolicy
	echo         EchoPolicy
	minFirmware  string

	// opMu is held for the duration of one request
	opMu sync.Mutex

	mu    sync.Mutex
	state ConnState
	t     Transport

	stats counters
}

// New returns a disconnected Panda that opens its transport with dial on Connect
func New(dial Dialer, opts ...Option) (*Panda, error) {
	if dial == nil {
		return nil, ErrNilDialer
	}
	p := &Panda{
		dial:         dial,
		log:          log.StandardLogger(),
		retry:        DefaultRetryPolicy,
		connectRetry: RetryPolicy{MaxAttempts: 1},
		echo:         EchoStrict,
		state:        Disconnected,
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// State returns the current connection state
func (p *Panda) State() ConnState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Panda) Stats() Stats {
	return p.stats.snapshot()
}

// Connect opens the transport. It is valid from the Disconnected and Failed states.
func (p *Panda) Connect(ctx context.Context) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.connect(ctx)
}

// Reconnect drops the current transport, if any, and connects again
func (p *Panda) Reconnect(ctx context.Context) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	if err := p.Close(); err != nil {
		p.log.Warnf("[CONN] closing previous transport: %v", err)
	}
	return p.connect(ctx)
}

func (p *Panda) connect(ctx context.Context) error {
	p.mu.Lock()
	if err := p.transition(evDial); err != nil {
		state := p.state
		p.mu.Unlock()
		return &ConnectionError{Op: "connect", State: state, Err: err}
	}
	p.mu.Unlock()

	var t Transport
	err := p.connectRetry.Do(ctx, func() error {
		var err error
		t, err = p.dial(ctx)
		if err != nil {
			return Transient("dial", err)
		}
		return nil
	}, func(n uint, err error) {
		p.log.Warnf("[CONN] attempt %d: %v", n+1, err)
	})
	if err == nil && p.minFirmware != "" {
		if err = p.checkFirmware(ctx, t); err != nil {
			t.Close()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		if terr := p.transition(evDialFailed); terr != nil {
			p.log.Debugf("[CONN] %v", terr)
		}
		return &ConnectionError{Op: "connect", State: p.state, Err: err}
	}
	if err := p.transition(evDialOK); err != nil {
		// closed while dialing
		t.Close()
		return &ConnectionError{Op: "connect", State: p.state, Err: err}
	}
	p.t = t
	p.log.Debug("[CONN] connected")
	return nil
}

func (p *Panda) checkFirmware(ctx context.Context, t Transport) error {
	raw, err := t.ControlRead(ctx, reqVersion, 0, 0, serialReadMax)
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	ver := canonicalVersion(cString(raw))
	if !semver.IsValid(ver) {
		return fmt.Errorf("%w: unparsable version %q", ErrFirmwareTooOld, cString(raw))
	}
	if semver.Compare(ver, p.minFirmware) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrFirmwareTooOld, ver, p.minFirmware)
	}
	p.log.Infof("[CONN] firmware %s", ver)
	return nil
}

// Close closes the transport. Calls blocked on the transport fail with a ConnectionError.
func (p *Panda) Close() error {
	p.mu.Lock()
	t := p.t
	p.t = nil
	if err := p.transition(evClose); err != nil {
		p.log.Debugf("[CONN] %v", err)
	}
	p.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.Close()
}

// transition must be called with mu held
func (p *Panda) transition(ev connEvent) error {
	next, err := p.state.next(ev)
	if err != nil {
		return err
	}
	if next != p.state {
		p.log.Debugf("[CONN] %s -> %s (%s)", p.state, next, ev)
	}
	p.state = next
	return nil
}

// do runs fn with exclusive use of the connected transport
func (p *Panda) do(op string, fn func(t Transport) error) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	t, state := p.t, p.state
	p.mu.Unlock()
	if state != Connected || t == nil {
		return &ConnectionError{Op: op, State: state, Err: ErrNotConnected}
	}
	return p.check(op, t, fn(t))
}

func (p *Panda) check(op string, t Transport, err error) error {
	if err == nil || !errors.Is(err, ErrClosed) {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.t == t {
		if terr := p.transition(evLost); terr != nil {
			p.log.Debugf("[CONN] %v", terr)
		}
	}
	return &ConnectionError{Op: op, State: p.state, Err: err}
}

func (p *Panda) onRetry(what string) func(n uint, err error) {
	return func(n uint, err error) {
		atomic.AddUint64(&p.stats.retries, 1)
		p.log.Warnf("%s, retrying (#%d): %v", what, n+1, err)
	}
}

// CANSend sends one frame
func (p *Panda) CANSend(ctx context.Context, frame *CANFrame) error {
	return p.CANSendMany(ctx, []*CANFrame{frame})
}

// CANSendMany sends frames in order, in a single bulk transfer when the transport
// allows it. Every frame is validated before anything is written.
func (p *Panda) CANSendMany(ctx context.Context, frames []*CANFrame) error {
	buf, err := PackSlots(frames)
	if err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}
	return p.do("can send", func(t Transport) error {
		writes := [][]byte{buf}
		if !canBatch(t) {
			writes = splitSlots(buf)
		}
		for _, w := range writes {
			if err := p.bulkWrite(ctx, t, epCANSend, w); err != nil {
				return err
			}
		}
		for _, f := range frames {
			p.log.Debugf("[CAN] W %s", f)
		}
		return nil
	})
}

func (p *Panda) bulkWrite(ctx context.Context, t Transport, endpoint uint8, data []byte) error {
	return p.retry.Do(ctx, func() error {
		n, err := t.BulkWrite(ctx, endpoint, data)
		if err != nil {
			return err
		}
		if n != len(data) {
			p.log.Warnf("[CAN] sent %d bytes of data out of %d", n, len(data))
		}
		atomic.AddUint64(&p.stats.sentBytes, uint64(n))
		return nil
	}, p.onRetry("[CAN] bad send"))
}

// CANRecv reads whatever the device has buffered, up to 256 frames. Slots that fail
// to decode are logged, counted and dropped.
func (p *Panda) CANRecv(ctx context.Context) ([]*CANFrame, error) {
	var frames []*CANFrame
	err := p.do("can recv", func(t Transport) error {
		var buf []byte
		err := p.retry.Do(ctx, func() error {
			var err error
			buf, err = t.BulkRead(ctx, epCANRecv, canRecvMax)
			return err
		}, p.onRetry("[CAN] bad recv"))
		if err != nil {
			return err
		}
		atomic.AddUint64(&p.stats.recvBytes, uint64(len(buf)))

		var perr error
		frames, perr = ParseCANBuffer(buf)
		if perr != nil {
			dropped := len(buf)/SlotSize - len(frames)
			atomic.AddUint64(&p.stats.droppedFrames, uint64(dropped))
			p.log.Warnf("[CAN] dropped %d slot(s): %v", dropped, perr)
		}
		for _, f := range frames {
			p.log.Debugf("[CAN] R %s", f)
		}
		return nil
	})
	return frames, err
}

// cString returns b up to the first NUL byte
func cString(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}

// canonicalVersion turns "1.2.3" into "v1.2.3" for semver
func canonicalVersion(v string) string {
	if v != "" && v[0] != 'v' {
		return "v" + v
	}
	return v
}
