//go:build !linux

package server

import "syscall"

func socketControl(ListenOptions) func(network, address string, c syscall.RawConn) error {
	return nil
}
