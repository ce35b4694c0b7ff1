//go:build linux

package netutil

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// SupportsReusePort reports whether this platform can bind a second
// listener on the same address before the first is closed (spec §4.8
// bullet 2c). The reload controller uses this to choose between a
// zero-downtime rebind and a close-then-reopen with an accepted loss
// window.
const SupportsReusePort = true

// reusePortControl sets SO_REUSEPORT on the listening socket, grounded on
// the teacher corpus's own server_utils.ListenerControl
// (IrineSistiana/mosdns), letting the reload controller bind a new
// listener on an unchanged address before closing the old one.
func reusePortControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
