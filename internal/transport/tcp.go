package transport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

type tcpConn struct {
	net.Conn
	name string
}

func (c *tcpConn) Name() string { return c.name }

// DialTCP connects to a serial bridge such as ser2net or socat.
func DialTCP(ctx context.Context, addr string) (Transport, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, ErrEmptyAddress
	}
	d := net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 15 * time.Second,
		Control:   controlSocket,
	}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return &tcpConn{Conn: conn, name: "tcp://" + addr}, nil
}
