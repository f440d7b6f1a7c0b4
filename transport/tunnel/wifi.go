package tunnel

import (
	"context"
	"net"
	"time"

	"github.com/roffe/panda"
	log "github.com/sirupsen/logrus"
)

// DefaultWiFiAddr is where the device listens when acting as access point
const DefaultWiFiAddr = "192.168.0.10:1337"

// DialWiFi returns a panda.Dialer connecting to the device over TCP
func DialWiFi(addr string) panda.Dialer {
	if addr == "" {
		addr = DefaultWiFiAddr
	}
	return func(ctx context.Context) (panda.Transport, error) {
		d := net.Dialer{Timeout: 2 * time.Second}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		if t, ok := conn.(*net.TCPConn); ok {
			t.SetNoDelay(true)
		}
		log.Infof("[TUNNEL] connected to %s", addr)
		return New("wifi "+addr, conn), nil
	}
}
