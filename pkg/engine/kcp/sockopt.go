package kcp

import (
	"context"
	"net"
	"syscall"

	"srtrecv/pkg/engine"
)

// receiveBuffer is the SO_RCVBUF requested for every UDP socket. A live
// stream at several Mbps overruns the kernel default quickly.
const receiveBuffer = 4 << 20

func defaultListenPacket(network, address string) (net.PacketConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var serr error
			if err := c.Control(func(fd uintptr) {
				serr = setReceiveBuffer(fd, receiveBuffer)
			}); err != nil {
				return err
			}
			return serr
		},
	}
	return lc.ListenPacket(context.Background(), network, address)
}

func defaultSettings(timestamp bool, latencyMs int) engine.Settings {
	s := engine.DefaultSettings()
	s.TimestampDelivery = timestamp
	s.LatencyMs = latencyMs
	return s
}
