//go:build unix

package kcp

import "golang.org/x/sys/unix"

// setReceiveBuffer sets SO_RCVBUF on the socket.
func setReceiveBuffer(fd uintptr, size int) error {
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, size)
}
