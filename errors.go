package panda

import (
	"errors"
	"fmt"
)

var (
	ErrDataTooLong       = errors.New("can payload longer than 8 bytes")
	ErrInvalidAddress    = errors.New("can address does not fit in 29 bits")
	ErrClosed            = errors.New("connection closed")
	ErrNotConnected      = errors.New("not connected")
	ErrRetriesExhausted  = errors.New("retries exhausted")
	ErrInvalidTransition = errors.New("invalid connection state transition")
	ErrFirmwareTooOld    = errors.New("firmware older than required")
	ErrSerialHash        = errors.New("serial number hash mismatch")
	ErrNilDialer         = errors.New("dialer is nil")
)

// TransientError marks a transport failure (overflow, interrupted transfer) that is
// expected to succeed when the same request is issued again.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	if e.Err == nil {
		return e.Op + ": transient error"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err in a TransientError
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsTransient checks if err is, or wraps, a TransientError
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// FormatError is returned for malformed data read from the device.
type FormatError struct {
	What  string
	Value int
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid %s: %d", e.What, e.Value)
}

// ProtocolError is returned when a K-line chunk is not echoed back as sent.
type ProtocolError struct {
	Chunk int
	Sent  []byte
	Echo  []byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("kline echo mismatch in chunk %d: sent % X, echo % X", e.Chunk, e.Sent, e.Echo)
}

// ConnectionError is returned when an operation needs a connection that is not there
// or that went away during the call.
type ConnectionError struct {
	Op    string
	State ConnState
	Err   error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: connection %s", e.Op, e.State)
	}
	return fmt.Sprintf("%s: connection %s: %v", e.Op, e.State, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
