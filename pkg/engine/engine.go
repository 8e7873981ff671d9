// Package engine defines the contract between the session manager and the
// reliable-datagram Transport Engine that actually moves bytes.
//
// The engine is consumed as a black box with socket-style primitives, in the
// shape of the SRT C API:
//
//	Startup / Cleanup   process-wide initialization and teardown
//	CreateSocket        allocate a descriptor
//	SetOption           configure a descriptor (only before Bind)
//	Bind / Listen       turn a descriptor into a listening endpoint
//	Accept              block until a caller connects
//	RecvMsg             read one message, blocking or would-block per mode
//	Close               release a descriptor
//
// Instead of a thread-local last-error slot, every failing primitive returns
// an *Error carrying the operation name, the numeric Code and the underlying
// cause. CodeOf recovers the code from any error chain.
//
// Backends:
//   - kcp: KCP ARQ over UDP (github.com/xtaci/kcp-go/v5)
//   - ws:  WebSocket binary messages over TCP (github.com/coder/websocket)
//
// An in-memory implementation with fault injection lives in the mocks package.
package engine

import (
	"net"
	"net/netip"
)

// Socket is an engine descriptor. Valid descriptors are non-negative.
type Socket int

// InvalidSocket is returned alongside an error by primitives that allocate descriptors.
const InvalidSocket Socket = -1

// Engine is the Transport Engine. Implementations must be safe for use from
// multiple goroutines, but concurrent use of a single descriptor is the
// caller's responsibility.
type Engine interface {
	// Startup initializes the engine. It is safe to call more than once.
	Startup() error
	// Cleanup closes every open descriptor and returns the engine to its
	// pre-Startup state.
	Cleanup() error

	CreateSocket() (Socket, error)
	SetOption(s Socket, opt Option, value int) error
	Bind(s Socket, addr netip.AddrPort) error
	Listen(s Socket, backlog int) error

	// Accept blocks until a client connects, unless OptReceiveSync is off on
	// the listener, in which case it returns CodeAsyncReceive when nothing
	// is pending. Closing the listener unblocks it.
	Accept(s Socket) (Socket, net.Addr, error)

	// RecvMsg copies the next message into buf and returns its length.
	// Data beyond len(buf) is kept for the next call.
	RecvMsg(s Socket, buf []byte) (int, error)

	LocalAddr(s Socket) (net.Addr, error)
	Close(s Socket) error
}
