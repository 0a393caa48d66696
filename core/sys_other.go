//go:build !unix

package core

import (
	"net"
	"syscall"

	"golang.org/x/net/ipv4"
)

func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}

func setTTL(conn net.Conn, ttl int) error {
	return ipv4.NewConn(conn).SetTTL(ttl)
}
