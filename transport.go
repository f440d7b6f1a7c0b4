package panda

import "context"

// Endpoints and vendor requests understood by the device firmware
const (
	epCANRecv = 1
	epSerial  = 2
	epCANSend = 3

	reqSerialRead   = 0xe0
	reqUARTParity   = 0xe2
	reqUARTCallback = 0xe3
	reqUARTBaud     = 0xe4
	reqCANLoopback  = 0xe5
	reqUSBPower     = 0xe6
	reqKlineWakeup  = 0xf0
	reqCANClear     = 0xf1
	reqSerialClear  = 0xf2
	reqIsGrey       = 0xc1
	reqSerial       = 0xd0
	reqHealth       = 0xd2
	reqVersion      = 0xd6
	reqGMLAN        = 0xdb
	reqSafetyMode   = 0xdc
	reqCANSpeed     = 0xde
)

// Request types for vendor control transfers to the device
const (
	RequestIn  = 0xc0
	RequestOut = 0x40
)

const (
	// canRecvMax is 256 slots, the size of the device rx fifo
	canRecvMax = SlotSize * 256
	// serialReadMax is one full speed control transfer
	serialReadMax = 0x40
	// serialWriteChunk is the payload per bulk write on the serial endpoint
	serialWriteChunk = 0x20
)

// Transport moves bytes between the host and the device. Implementations return
// TransientError for failures the request can simply be repeated on and wrap ErrClosed
// once the connection is gone.
type Transport interface {
	BulkWrite(ctx context.Context, endpoint uint8, data []byte) (int, error)
	BulkRead(ctx context.Context, endpoint uint8, max int) ([]byte, error)
	ControlWrite(ctx context.Context, request uint8, value, index uint16, data []byte) error
	ControlRead(ctx context.Context, request uint8, value, index uint16, length int) ([]byte, error)
	Close() error
}

// BatchCapable is implemented by transports that can tell whether several CAN slots
// may share one bulk write. Transports that don't implement it are assumed to batch.
type BatchCapable interface {
	CanBatch() bool
}

// Dialer opens a new transport to the device
type Dialer func(ctx context.Context) (Transport, error)

func canBatch(t Transport) bool {
	if b, ok := t.(BatchCapable); ok {
		return b.CanBatch()
	}
	return true
}
