//go:build linux

package connectionmgr

import (
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// socketControl sets TCP_USER_TIMEOUT so a peer that stops acknowledging
// data fails the socket instead of letting writes pile up in the kernel.
func socketControl(userTimeout time.Duration) func(network, address string, c syscall.RawConn) error {
	if userTimeout <= 0 {
		return nil
	}
	ms := int(userTimeout / time.Millisecond)
	return func(network, address string, c syscall.RawConn) error {
		var serr error
		if err := c.Control(func(fd uintptr) {
			serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, ms)
		}); err != nil {
			return err
		}
		return serr
	}
}
