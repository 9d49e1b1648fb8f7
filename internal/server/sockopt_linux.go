//go:build linux

package server

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// socketControl sets TCP_USER_TIMEOUT on the listening socket; accepted
// sockets inherit it, so a peer that stops acknowledging data fails the
// next send instead of stalling it.
func socketControl(opts ListenOptions) func(network, address string, c syscall.RawConn) error {
	if opts.UserTimeout <= 0 {
		return nil
	}
	timeoutMs := int(opts.UserTimeout.Milliseconds())
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, timeoutMs)
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
