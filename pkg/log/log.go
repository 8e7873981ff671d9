// Package log provides colored console logging for srtrecv and a connection
// wrapper that records outgoing traffic to a file.
//
// All output goes to stderr by default so stdout stays free for stream data.
package log

import (
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

var red = color.New(color.FgRed).FprintfFunc()
var blue = color.New(color.FgBlue).FprintfFunc()
var yellow = color.New(color.FgYellow).FprintfFunc()
var plain = color.New().FprintfFunc()

// ErrorMsg prints an error message to stderr in red color.
func ErrorMsg(format string, a ...interface{}) {
	red(os.Stderr, "[!] Error: "+format, a...)
}

// InfoMsg prints an informational message to stderr in blue color.
func InfoMsg(format string, a ...interface{}) {
	blue(os.Stderr, "[+] "+format, a...)
}

// Logger writes prefixed, colored messages to one writer. Verbose messages
// are only printed when the logger was created with verbose enabled.
// A nil *Logger discards everything.
type Logger struct {
	out     io.Writer
	verbose bool
	mu      sync.Mutex
}

// NewLogger creates a logger writing to out. A nil out means stderr.
func NewLogger(out io.Writer, verbose bool) *Logger {
	if out == nil {
		out = os.Stderr
	}
	return &Logger{out: out, verbose: verbose}
}

// Verbose reports whether verbose messages are printed.
func (l *Logger) Verbose() bool {
	return l != nil && l.verbose
}

// ErrorMsg prints an error message in red.
func (l *Logger) ErrorMsg(format string, a ...interface{}) {
	l.print(red, "[!] Error: ", format, a...)
}

// WarnMsg prints a warning in yellow.
func (l *Logger) WarnMsg(format string, a ...interface{}) {
	l.print(yellow, "[~] ", format, a...)
}

// InfoMsg prints an informational message in blue.
func (l *Logger) InfoMsg(format string, a ...interface{}) {
	l.print(blue, "[+] ", format, a...)
}

// VerboseMsg prints a debug message if verbose logging is enabled.
func (l *Logger) VerboseMsg(format string, a ...interface{}) {
	if !l.Verbose() {
		return
	}
	l.print(plain, "[v] ", format, a...)
}

func (l *Logger) print(fn func(io.Writer, string, ...interface{}), prefix, format string, a ...interface{}) {
	if l == nil {
		return
	}
	if n := len(format); n == 0 || format[n-1] != '\n' {
		format += "\n"
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l.out, prefix+format, a...)
}
