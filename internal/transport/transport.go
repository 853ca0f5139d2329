// Package transport opens the byte streams a link runs over: a serial tty or
// a TCP connection to a serial bridge.
package transport

import (
	"context"
	"errors"
	"io"
)

var (
	ErrUnsupported  = errors.New("transport: serial ports are not supported on this platform")
	ErrNotTerminal  = errors.New("transport: device is not a terminal")
	ErrUnknownBaud  = errors.New("transport: unsupported baud rate")
	ErrEmptyAddress = errors.New("transport: empty address")
)

// Transport is a raw byte stream. Reads return whatever chunk the device
// delivered; callers reassemble lines themselves.
type Transport interface {
	io.ReadWriteCloser
	Name() string
}

// Dialer opens a fresh transport.
type Dialer func(ctx context.Context) (Transport, error)

// SerialDialer opens path at baud on every call.
func SerialDialer(path string, baud int) Dialer {
	return func(context.Context) (Transport, error) {
		return OpenSerial(path, baud)
	}
}

// TCPDialer dials addr on every call.
func TCPDialer(addr string) Dialer {
	return func(ctx context.Context) (Transport, error) {
		return DialTCP(ctx, addr)
	}
}
