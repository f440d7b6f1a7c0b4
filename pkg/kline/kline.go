// Package kline holds the byte level pieces of the K-line protocol spoken through the
// device: the additive checksum, chunking for the serial endpoint and framing of
// received messages.
package kline

import (
	"fmt"
	"io"
)

const (
	// ChunkSize is the most payload bytes sent per serial endpoint write
	ChunkSize = 0xf
	// HeaderSize is the length of a received message header, byte 1 holds the total length
	HeaderSize = 2
)

// Checksum returns the sum of msg modulo 256
func Checksum(msg []byte) byte {
	var sum byte
	for _, b := range msg {
		sum += b
	}
	return sum
}

// AppendChecksum returns a copy of msg with its checksum appended
func AppendChecksum(msg []byte) []byte {
	out := make([]byte, len(msg), len(msg)+1)
	copy(out, msg)
	return append(out, Checksum(msg))
}

// Chunks splits buf into consecutive pieces of at most size bytes. The pieces share
// buf's backing array.
func Chunks(buf []byte, size int) [][]byte {
	if size <= 0 {
		panic("kline: chunk size must be positive")
	}
	out := make([][]byte, 0, (len(buf)+size-1)/size)
	for i := 0; i < len(buf); i += size {
		end := i + size
		if end > len(buf) {
			end = len(buf)
		}
		out = append(out, buf[i:end])
	}
	return out
}

// HeaderError is returned when a message header declares a length shorter than
// the header itself.
type HeaderError struct {
	Length int
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("kline header length %d shorter than header", e.Length)
}

// ReadMessage reads one length prefixed message from r. Nothing is returned unless
// the whole message was read.
func ReadMessage(r io.Reader) ([]byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	total := int(header[1])
	if total < HeaderSize {
		return nil, &HeaderError{Length: total}
	}
	msg := make([]byte, total)
	copy(msg, header)
	if _, err := io.ReadFull(r, msg[HeaderSize:]); err != nil {
		return nil, err
	}
	return msg, nil
}
