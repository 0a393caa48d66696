//go:build unix

package core

import (
	"net"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// reuseAddrControl lets a restarted router rebind its port while old
// connections linger in TIME_WAIT
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}

func setTTL(conn net.Conn, ttl int) error {
	return ipv4.NewConn(conn).SetTTL(ttl)
}
