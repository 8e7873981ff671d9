// Package send implements the send command: stream stdin to a listener,
// one message per 1316-byte chunk.
package send

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/muesli/cancelreader"
	"github.com/urfave/cli/v3"

	"srtrecv/cmd/shared"
	"srtrecv/pkg/config"
	"srtrecv/pkg/log"
	"srtrecv/pkg/receiver"
)

const categorySend = "send"

const logFileFlag = "log"

// lingerTimeout bounds how long send waits for the listener to confirm
// delivery before closing.
const lingerTimeout = 5 * time.Second

// GetCommand ...
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:        "send",
		Usage:       "Send stdin to a listener",
		ArgsUsage:   "[protocol://]host:port",
		Description: shared.GetTransportDescription(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := configure(cmd)
			if err != nil {
				return err
			}

			if errors := config.Validate(cfg); len(errors) > 0 {
				log.ErrorMsg("Argument validation errors:\n")
				for _, err := range errors {
					log.ErrorMsg(" - %s\n", err)
				}
				return fmt.Errorf("exiting")
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			shared.SetupSignalHandling(cancel)

			return run(ctx, cfg, nil)
		},
		Flags: getFlags(),
	}
}

func configure(cmd *cli.Command) (*config.Send, error) {
	if cmd.Args().Len() != 1 {
		return nil, fmt.Errorf("send needs exactly one argument: [protocol://]host:port")
	}

	proto, host, port, err := shared.ParseTarget(cmd.Args().First())
	if err != nil {
		return nil, err
	}
	if proto == 0 {
		if proto, err = shared.ParseTransport(cmd.String(shared.TransportFlag)); err != nil {
			return nil, err
		}
	}

	return &config.Send{
		Protocol: proto,
		Host:     host,
		Port:     port,
		LogFile:  cmd.String(logFileFlag),
		Verbose:  cmd.Bool(shared.VerboseFlag),
	}, nil
}

func run(ctx context.Context, cfg *config.Send, deps *config.Dependencies) error {
	logger := log.NewLogger(nil, cfg.Verbose)

	d, err := shared.NewDialer(cfg.Protocol, cfg.Addr(), deps)
	if err != nil {
		return err
	}
	raw, err := d.Dial(ctx)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Addr(), err)
	}

	conn := raw
	if cfg.LogFile != "" {
		if conn, err = log.NewLoggedConn(raw, cfg.LogFile); err != nil {
			raw.Close()
			return err
		}
	}
	defer conn.Close()
	logger.InfoMsg("Connected to %s/%s", cfg.Protocol, cfg.Addr())

	in, err := cancelreader.NewReader(config.GetStdinFunc(deps)())
	if err != nil {
		return fmt.Errorf("cancelreader.NewReader(): %w", err)
	}
	defer in.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			in.Cancel()
		case <-stop:
		}
	}()

	start := time.Now()
	msgs, n, err := copyMessages(conn, in, receiver.BufferSize)
	if err != nil && !(errors.Is(err, cancelreader.ErrCanceled) && ctx.Err() != nil) {
		return fmt.Errorf("sending: %w", err)
	}

	linger(ctx, raw, logger)
	logger.InfoMsg("Sent %d bytes in %d messages (%s)", n, msgs, time.Since(start).Round(time.Millisecond))
	return nil
}

// copyMessages sends r to w in chunks of size bytes, one Write per chunk.
// Only the last chunk may be shorter.
func copyMessages(w io.Writer, r io.Reader, size int) (msgs int, n int64, err error) {
	buf := make([]byte, size)
	for {
		k, rerr := io.ReadFull(r, buf)
		if k > 0 {
			if _, err := w.Write(buf[:k]); err != nil {
				return msgs, n, err
			}
			msgs++
			n += int64(k)
		}
		switch {
		case rerr == nil:
		case errors.Is(rerr, io.EOF), errors.Is(rerr, io.ErrUnexpectedEOF):
			return msgs, n, nil
		default:
			return msgs, n, rerr
		}
	}
}

// drainer is implemented by transports that can confirm delivery before
// closing, such as KCP connections.
type drainer interface {
	Drain(ctx context.Context) error
}

// linger waits until the listener confirms it received everything sent on
// conn.
func linger(ctx context.Context, conn net.Conn, logger *log.Logger) {
	d, ok := conn.(drainer)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, lingerTimeout)
	defer cancel()
	if err := d.Drain(ctx); err != nil {
		logger.WarnMsg("Closing before delivery was confirmed: %s", err)
	}
}

func getFlags() []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     logFileFlag,
			Aliases:  []string{"l"},
			Usage:    "Also append everything sent to this file",
			Category: categorySend,
			Value:    "",
			Required: false,
		},
	}

	return append(flags, shared.GetCommonFlags()...)
}
