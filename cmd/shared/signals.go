package shared

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"
)

// GracePeriod is how long the process may take to shut down after the first
// signal before it exits anyway.
const GracePeriod = 5 * time.Second

// SetupSignalHandling cancels on the first interrupt or termination signal.
// A second signal, or the end of the grace period, exits the process.
func SetupSignalHandling(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 2)

	sigs := []os.Signal{os.Interrupt}
	if runtime.GOOS != "windows" {
		sigs = append(sigs, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
		// a sender dying on a pipe must not kill the receiver
		signal.Ignore(syscall.SIGPIPE)
	}
	signal.Notify(sigCh, sigs...)

	go func() {
		s := <-sigCh
		cancel()

		select {
		case <-sigCh:
			if ss, ok := s.(syscall.Signal); ok {
				os.Exit(128 + int(ss))
			}
			os.Exit(1)
		case <-time.After(GracePeriod):
			os.Exit(0)
		}
	}()
}
