package engine

import (
	"errors"
	"fmt"
)

// Code is a numeric engine error code. The values follow libsrt's
// major*1000+minor scheme so diagnostics line up with SRT tooling.
type Code int

// Error codes.
const (
	CodeUnknown       Code = -1
	CodeSuccess       Code = 0
	CodeConnSetup     Code = 1000
	CodeNoServer      Code = 1001
	CodeConnRejected  Code = 1002
	CodeSockFail      Code = 1003
	CodeConnFail      Code = 2000
	CodeConnLost      Code = 2001
	CodeNoConn        Code = 2002
	CodeResource      Code = 3000
	CodeInvalidOp     Code = 5000
	CodeBoundSocket   Code = 5001
	CodeInvalidParam  Code = 5003
	CodeInvalidSocket Code = 5004
	CodeUnboundSocket Code = 5005
	CodeNoListen      Code = 5006
	CodeAsyncReceive  Code = 6002
	CodeTimeout       Code = 6003
)

var codeText = map[Code]string{
	CodeUnknown:       "Unknown error",
	CodeSuccess:       "Success",
	CodeConnSetup:     "Connection setup failure",
	CodeNoServer:      "Connection setup failure: connection timed out",
	CodeConnRejected:  "Connection setup failure: connection rejected",
	CodeSockFail:      "Connection setup failure: unable to create/configure socket",
	CodeConnFail:      "Connection failure",
	CodeConnLost:      "Connection was broken",
	CodeNoConn:        "Connection does not exist",
	CodeResource:      "System resource failure",
	CodeInvalidOp:     "Operation not supported",
	CodeBoundSocket:   "Operation not supported: Cannot do this operation on a BOUND socket",
	CodeInvalidParam:  "Operation not supported: Invalid argument",
	CodeInvalidSocket: "Operation not supported: Invalid socket ID",
	CodeUnboundSocket: "Operation not supported: Cannot do this operation on an UNBOUND socket",
	CodeNoListen:      "Operation not supported: Socket is not in listening state",
	CodeAsyncReceive:  "Non-blocking call failure: no data available for reading",
	CodeTimeout:       "Non-blocking call failure: transmission timed out",
}

func (c Code) String() string {
	if s, ok := codeText[c]; ok {
		return s
	}
	return codeText[CodeUnknown]
}

// Error is the engine's last-error report for one failed primitive.
type Error struct {
	Op   string
	Code Code
	Err  error
}

// NewError builds an *Error. err may be nil.
func NewError(op string, code Code, err error) *Error {
	return &Error{Op: op, Code: code, Err: err}
}

// Errorf builds an *Error whose cause is formatted from format and a.
func Errorf(op string, code Code, format string, a ...interface{}) *Error {
	return &Error{Op: op, Code: code, Err: fmt.Errorf(format, a...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s (%d)", e.Op, e.Code, int(e.Code))
	}
	return fmt.Sprintf("%s: %s (%d): %s", e.Op, e.Code, int(e.Code), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the engine code carried by err, CodeSuccess for nil and
// CodeUnknown for errors that did not come from an engine.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsWouldBlock reports whether err is the non-blocking "no data yet" outcome.
func IsWouldBlock(err error) bool {
	return CodeOf(err) == CodeAsyncReceive
}
