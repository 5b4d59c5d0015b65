package core

// reuseAddrControl sets SO_REUSEADDR on the listening socket before bind,
// so a restarted daemon can rebind its own port without waiting out
// TIME_WAIT. This targets unix-family sockets.

import (
	"syscall"
)

func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
