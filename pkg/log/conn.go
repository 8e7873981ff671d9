package log

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// loggedConn wraps a net.Conn and appends everything written to it to a file.
type loggedConn struct {
	conn    net.Conn
	logFile *os.File
}

func (lc *loggedConn) Read(b []byte) (int, error) {
	return lc.conn.Read(b)
}

func (lc *loggedConn) Write(b []byte) (int, error) {
	n, err := lc.conn.Write(b)
	if n > 0 {
		if _, lerr := lc.logFile.Write(b[:n]); lerr != nil {
			return n, fmt.Errorf("logging written bytes: %w", lerr)
		}
	}
	return n, err
}

// Close closes the connection and the log file.
func (lc *loggedConn) Close() error {
	return errors.Join(lc.conn.Close(), lc.logFile.Close())
}

func (lc *loggedConn) LocalAddr() net.Addr {
	return lc.conn.LocalAddr()
}

func (lc *loggedConn) RemoteAddr() net.Addr {
	return lc.conn.RemoteAddr()
}

func (lc *loggedConn) SetDeadline(t time.Time) error {
	return lc.conn.SetDeadline(t)
}

func (lc *loggedConn) SetReadDeadline(t time.Time) error {
	return lc.conn.SetReadDeadline(t)
}

func (lc *loggedConn) SetWriteDeadline(t time.Time) error {
	return lc.conn.SetWriteDeadline(t)
}

// NewLoggedConn wraps conn so that every message sent through it is also
// appended to the file at logFilePath. The file is created if needed.
func NewLoggedConn(conn net.Conn, logFilePath string) (net.Conn, error) {
	logFile, err := os.OpenFile(logFilePath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("os.OpenFile(%s): %w", logFilePath, err)
	}

	return &loggedConn{conn: conn, logFile: logFile}, nil
}
