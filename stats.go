package panda

import (
	"fmt"
	"sync/atomic"
)

type Stats struct {
	SentBytes     uint64
	RecvBytes     uint64
	Retries       uint64
	DroppedFrames uint64
	EchoErrors    uint64
}

func (st Stats) String() string {
	return fmt.Sprintf("recv: %d sent: %d retries: %d dropped: %d echo errors: %d", st.RecvBytes, st.SentBytes, st.Retries, st.DroppedFrames, st.EchoErrors)
}

type counters struct {
	sentBytes     uint64
	recvBytes     uint64
	retries       uint64
	droppedFrames uint64
	echoErrors    uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		SentBytes:     atomic.LoadUint64(&c.sentBytes),
		RecvBytes:     atomic.LoadUint64(&c.recvBytes),
		Retries:       atomic.LoadUint64(&c.retries),
		DroppedFrames: atomic.LoadUint64(&c.droppedFrames),
		EchoErrors:    atomic.LoadUint64(&c.echoErrors),
	}
}
