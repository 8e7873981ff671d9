package session

import (
	"errors"
	"fmt"

	"srtrecv/pkg/engine"
)

// Error kinds. A *Error matches its kind with errors.Is, so callers can
// branch on the failing step without inspecting strings.
var (
	ErrInitialization = errors.New("transport initialization failed")
	ErrCreate         = errors.New("socket creation failed")
	ErrOption         = errors.New("socket option rejected")
	ErrBind           = errors.New("bind failed")
	ErrListen         = errors.New("listen failed")
	ErrAccept         = errors.New("accept failed")
	ErrReceive        = errors.New("receive failed")
	ErrInvalidHandle  = errors.New("invalid handle")
)

// Lifecycle errors of the manager itself.
var (
	ErrNotInitialized     = errors.New("transport not initialized")
	ErrAlreadyInitialized = errors.New("transport already initialized")
	ErrShutdown           = errors.New("transport shut down")
)

// ErrWouldBlock is returned by Receive and Accept in non-blocking mode when
// nothing is available yet. It is a normal polling outcome, not a failure:
// it never matches ErrReceive or ErrAccept and is never counted as an error.
var ErrWouldBlock = errors.New("no data available (would block)")

// Error describes a failed session operation.
type Error struct {
	Kind error         // one of the Err* kinds above
	Op   string        // engine primitive that failed
	Fd   engine.Socket // descriptor involved, or engine.InvalidSocket
	Port uint16
	Err  error // engine diagnostic
}

func newError(kind error, op string, fd engine.Socket, port uint16, err error) *Error {
	return &Error{Kind: kind, Op: op, Fd: fd, Port: port, Err: err}
}

func (e *Error) Error() string {
	target := fmt.Sprintf("port=%d", e.Port)
	if e.Fd != engine.InvalidSocket {
		target = fmt.Sprintf("fd=%d, %s", e.Fd, target)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s(%s)", e.Kind, e.Op, target)
	}
	return fmt.Sprintf("%s: %s(%s): %s", e.Kind, e.Op, target, e.Err)
}

// Unwrap exposes both the kind and the engine cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Code returns the engine error code behind e.
func (e *Error) Code() engine.Code {
	return engine.CodeOf(e.Err)
}
