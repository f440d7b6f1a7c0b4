package tunnel

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/roffe/panda"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reply(data []byte) []byte {
	hdr := make([]byte, replyHeaderSize)
	binary.LittleEndian.PutUint32(hdr, uint32(len(data)))
	return append(hdr, data...)
}

// serve reads one request of n bytes from conn, hands it back on the returned channel
// and answers with resp
func serve(conn net.Conn, n int, resp []byte) <-chan []byte {
	got := make(chan []byte, 1)
	go func() {
		defer close(got)
		req := make([]byte, n)
		if _, err := io.ReadFull(conn, req); err != nil {
			return
		}
		got <- req
		if resp != nil {
			conn.Write(resp)
		}
	}()
	return got
}

func pipe(t *testing.T) (*Tunnel, net.Conn) {
	t.Helper()
	host, device := net.Pipe()
	tun := New("pipe", host)
	t.Cleanup(func() {
		tun.Close()
		device.Close()
	})
	return tun, device
}

func TestControlRead(t *testing.T) {
	tun, dev := pipe(t)
	got := serve(dev, controlHeaderSize, reply([]byte("v1.2.3")))

	ver, err := tun.ControlRead(context.Background(), 0xd6, 0x0102, 0x0304, 0x100)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1.2.3"), ver)
	assert.Equal(t, []byte{0, 0, 0, 0, panda.RequestIn, 0xd6, 0x02, 0x01, 0x04, 0x03, 0x40, 0x00}, <-got)
}

func TestControlWrite(t *testing.T) {
	tun, dev := pipe(t)
	got := serve(dev, controlHeaderSize, reply(nil))

	require.NoError(t, tun.ControlWrite(context.Background(), 0xdc, 0x1337, 0, []byte{0xFF}))
	assert.Equal(t, []byte{0, 0, 0, 0, panda.RequestOut, 0xdc, 0x37, 0x13, 0, 0, 0, 0}, <-got)
}

func TestBulkWrite(t *testing.T) {
	tun, dev := pipe(t)
	data := make([]byte, MaxBulkWrite)
	for i := range data {
		data[i] = byte(i)
	}
	got := serve(dev, bulkHeaderSize+len(data), reply(nil))

	n, err := tun.BulkWrite(context.Background(), 3, data)
	require.NoError(t, err)
	assert.Equal(t, MaxBulkWrite, n)
	assert.Equal(t, append([]byte{3, 0, 0x10, 0}, data...), <-got)

	_, err = tun.BulkWrite(context.Background(), 3, make([]byte, MaxBulkWrite+1))
	assert.ErrorIs(t, err, ErrBulkTooLong)
	assert.False(t, tun.CanBatch())
}

func TestBulkRead(t *testing.T) {
	tun, dev := pipe(t)
	slot := make([]byte, panda.SlotSize)
	slot[7] = 0xAB
	got := serve(dev, bulkHeaderSize, reply(slot))

	data, err := tun.BulkRead(context.Background(), 1, 4096)
	require.NoError(t, err)
	assert.Equal(t, slot, data)
	assert.Equal(t, []byte{1, 0, 0, 0}, <-got)
}

func TestReplyTooLong(t *testing.T) {
	tun, dev := pipe(t)
	hdr := make([]byte, replyHeaderSize)
	binary.LittleEndian.PutUint32(hdr, MaxReply+1)
	serve(dev, bulkHeaderSize, hdr)

	_, err := tun.BulkRead(context.Background(), 1, 4096)
	var ferr *panda.FormatError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, MaxReply+1, ferr.Value)
}

func TestPeerClosed(t *testing.T) {
	tun, dev := pipe(t)
	go func() {
		io.ReadFull(dev, make([]byte, bulkHeaderSize))
		dev.Close()
	}()

	_, err := tun.BulkRead(context.Background(), 1, 4096)
	assert.ErrorIs(t, err, panda.ErrClosed)
}

func TestClosed(t *testing.T) {
	tun, _ := pipe(t)
	require.NoError(t, tun.Close())
	_, err := tun.ControlRead(context.Background(), 0xd6, 0, 0, 0x40)
	assert.ErrorIs(t, err, panda.ErrClosed)
	assert.NoError(t, tun.Close())
}

func TestCancel(t *testing.T) {
	tun, dev := pipe(t)
	serve(dev, controlHeaderSize, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := tun.ControlRead(ctx, 0xd2, 0, 0, 13)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDialWiFi(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	got := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(got)
			return
		}
		defer conn.Close()
		req := <-serve(conn, controlHeaderSize, reply([]byte{0x01}))
		got <- req
		io.Copy(io.Discard, conn)
	}()

	tr, err := DialWiFi(ln.Addr().String())(context.Background())
	require.NoError(t, err)
	defer tr.Close()

	b, err := tr.ControlRead(context.Background(), 0xc1, 0, 0, 0x40)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, b)
	assert.Equal(t, byte(0xc1), (<-got)[5])
}
