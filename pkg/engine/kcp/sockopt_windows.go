//go:build windows

package kcp

import "golang.org/x/sys/windows"

// setReceiveBuffer sets SO_RCVBUF on the socket.
func setReceiveBuffer(fd uintptr, size int) error {
	return windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_RCVBUF, size)
}
