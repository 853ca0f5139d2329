//go:build unix

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// iptosLowDelay is IPTOS_LOWDELAY from <netinet/ip.h>; x/sys/unix does not
// export it on every unix platform.
const iptosLowDelay = 0x10

// controlSocket keeps Nagle off and asks for low-delay service so short time
// lines leave immediately.
func controlSocket(network, address string, c syscall.RawConn) error {
	var err error
	cerr := c.Control(func(fd uintptr) {
		err = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		if err != nil {
			return
		}
		// IP_TOS only applies to IPv4 sockets; failure is ignored.
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, iptosLowDelay)
	})
	if cerr != nil {
		return cerr
	}
	return err
}
