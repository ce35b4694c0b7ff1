// Package netutil opens the UDP and TCP listeners the server-block
// runtime (C7) serves on, optionally setting SO_REUSEPORT so the reload
// controller (C8) can bind a replacement listener on the same address
// before retiring the old one (spec §4.8 bullet 2c).
package netutil

import (
	"context"
	"net"
)

// ListenUDP opens a UDP packet connection on addr. When reusePort is true
// and the platform supports it, SO_REUSEPORT is set via reusePortControl
// (see listen_linux.go / listen_other.go).
func ListenUDP(addr string, reusePort bool) (net.PacketConn, error) {
	lc := net.ListenConfig{}
	if reusePort {
		lc.Control = reusePortControl
	}
	return lc.ListenPacket(context.Background(), "udp", addr)
}

// ListenTCP opens a TCP listener on addr with the same SO_REUSEPORT
// handling as ListenUDP.
func ListenTCP(addr string, reusePort bool) (net.Listener, error) {
	lc := net.ListenConfig{}
	if reusePort {
		lc.Control = reusePortControl
	}
	return lc.Listen(context.Background(), "tcp", addr)
}
