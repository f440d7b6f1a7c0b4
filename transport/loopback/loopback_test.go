package loopback

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/roffe/panda"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopSlot(t *testing.T) {
	d := New()
	ctx := context.Background()

	tx, err := panda.EncodeSlot(panda.NewFrame(0x123, []byte{0xDE, 0xAD}, 1))
	require.NoError(t, err)
	_, err = d.BulkWrite(ctx, epCANSend, append(tx, tx...))
	require.NoError(t, err)

	rx, err := d.BulkRead(ctx, epCANRecv, 4096)
	require.NoError(t, err)
	require.Len(t, rx, 2*slotSize)
	assert.Zero(t, binary.LittleEndian.Uint32(rx[0:])&flagTransmit)
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(rx[4:])>>16)
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(rx[slotSize+4:])>>16)

	f, err := panda.DecodeSlot(rx[slotSize:])
	require.NoError(t, err)
	assert.Equal(t, uint32(0x123), f.Address)
	assert.Equal(t, []byte{0xDE, 0xAD}, f.Data)
	assert.Equal(t, uint8(1), f.Bus)
}

func TestUnbatched(t *testing.T) {
	d := New()
	d.Unbatched = true
	assert.False(t, d.CanBatch())
	_, err := d.BulkWrite(context.Background(), epCANSend, make([]byte, 2*slotSize))
	assert.Error(t, err)
}

func TestFaults(t *testing.T) {
	d := New()
	ctx := context.Background()
	first, second := errors.New("first"), errors.New("second")
	d.Fail(first, second)

	_, err := d.BulkRead(ctx, epCANRecv, 16)
	assert.Equal(t, first, err)
	_, err = d.BulkWrite(ctx, epCANSend, nil)
	assert.Equal(t, second, err)
	_, err = d.BulkRead(ctx, epCANRecv, 16)
	assert.NoError(t, err)
}

func TestClosed(t *testing.T) {
	d := New()
	ctx := context.Background()
	require.NoError(t, d.Close())

	_, err := d.BulkRead(ctx, epCANRecv, 16)
	assert.ErrorIs(t, err, panda.ErrClosed)
	_, err = d.ControlRead(ctx, reqVersion, 0, 0, 0x40)
	assert.ErrorIs(t, err, panda.ErrClosed)

	_, err = d.Dialer()(ctx)
	require.NoError(t, err)
	_, err = d.ControlRead(ctx, reqVersion, 0, 0, 0x40)
	assert.NoError(t, err)
}

func TestSerialBlock(t *testing.T) {
	b := serialBlock("0123456789abcdef")
	require.Len(t, b, 0x20)
	sum := sha1.Sum(b[:0x1c])
	assert.Equal(t, sum[:4], b[0x1c:])
	assert.Equal(t, "0123456789abcdef", string(b[:0x10]))
}

func TestSerialEchoAndResponder(t *testing.T) {
	d := New()
	ctx := context.Background()
	d.SetResponder(panda.SerialLIN1, func(written []byte) []byte {
		return []byte{0x00, 0x02}
	})

	n, err := d.BulkWrite(ctx, epSerial, []byte{byte(panda.SerialLIN1), 0x10, 0x20})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := d.ControlRead(ctx, reqSerialRead, uint16(panda.SerialLIN1), 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x10, 0x20, 0x00}, got)
	got, err = d.ControlRead(ctx, reqSerialRead, uint16(panda.SerialLIN1), 0, 0x40)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02}, got)

	d.Inject(panda.SerialLIN2, []byte{1, 2, 3})
	require.NoError(t, d.ControlWrite(ctx, reqSerialClear, uint16(panda.SerialLIN2), 0, nil))
	got, err = d.ControlRead(ctx, reqSerialRead, uint16(panda.SerialLIN2), 0, 0x40)
	require.NoError(t, err)
	assert.Empty(t, got)
}
