// Package listen implements the listen command: serve one sender at a time
// and write the H.264 and AAC streams it sends to files.
package listen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"srtrecv/cmd/shared"
	"srtrecv/pkg/config"
	"srtrecv/pkg/log"
	"srtrecv/pkg/metrics"
	"srtrecv/pkg/pipeline"
	"srtrecv/pkg/receiver"
	"srtrecv/pkg/session"
)

const categoryListen = "listen"

const (
	portFlag     = "port"
	latencyFlag  = "latency"
	configFlag   = "config"
	videoOutFlag = "video-out"
	audioOutFlag = "audio-out"
	metricsFlag  = "metrics"
	noTSBPDFlag  = "no-tsbpd"
	pollFlag     = "poll"
)

// stdoutName selects stdout as a sink.
const stdoutName = "-"

// GetCommand ...
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:        "listen",
		Usage:       "Receive a transport stream and write its elementary streams",
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

// configure starts from the defaults, applies the config file and then
// every flag set on the command line.
func configure(cmd *cli.Command) (*config.Listen, error) {
	cfg := config.DefaultListen()

	if path := cmd.String(configFlag); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if cmd.IsSet(shared.TransportFlag) {
		p, err := shared.ParseTransport(cmd.String(shared.TransportFlag))
		if err != nil {
			return nil, err
		}
		cfg.Protocol = p
	}
	if cmd.IsSet(portFlag) {
		cfg.Port = int(cmd.Int(portFlag))
	}
	if cmd.IsSet(latencyFlag) {
		cfg.LatencyMs = int(cmd.Int(latencyFlag))
	}
	if cmd.IsSet(noTSBPDFlag) {
		cfg.TimestampDelivery = !cmd.Bool(noTSBPDFlag)
	}
	if cmd.IsSet(pollFlag) {
		cfg.BlockingReceive = !cmd.Bool(pollFlag)
	}
	if cmd.IsSet(videoOutFlag) {
		cfg.VideoOut = cmd.String(videoOutFlag)
	}
	if cmd.IsSet(audioOutFlag) {
		cfg.AudioOut = cmd.String(audioOutFlag)
	}
	if cmd.IsSet(metricsFlag) {
		cfg.MetricsAddr = cmd.String(metricsFlag)
	}
	if cmd.IsSet(shared.VerboseFlag) {
		cfg.Verbose = cmd.Bool(shared.VerboseFlag)
	}
	return cfg, nil
}

// run serves until ctx is done.
func run(ctx context.Context, cfg *config.Listen, deps *config.Dependencies) error {
	logger := log.NewLogger(nil, cfg.Verbose)

	eng, err := shared.NewEngine(cfg.Protocol, deps, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	if cfg.MetricsAddr != "" {
		stop, err := serveMetrics(cfg.MetricsAddr, reg, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	video, closeVideo, err := openSink(cfg.VideoOut, deps)
	if err != nil {
		return fmt.Errorf("video output: %w", err)
	}
	defer closeVideo()

	audio, closeAudio, err := openSink(cfg.AudioOut, deps)
	if err != nil {
		return fmt.Errorf("audio output: %w", err)
	}
	defer closeAudio()

	mgr := session.New(eng, logger, m)
	if err := mgr.Initialize(); err != nil {
		return fmt.Errorf("initializing %s transport: %w", cfg.Protocol, err)
	}
	defer mgr.Shutdown()

	rcfg := receiver.DefaultConfig(uint16(cfg.Port))
	rcfg.Options = session.SocketOptions{
		LatencyMs:         cfg.LatencyMs,
		TimestampDelivery: cfg.TimestampDelivery,
		BlockingReceive:   cfg.BlockingReceive,
	}

	p := pipeline.New(video, audio, logger, m)
	r := receiver.New(mgr, p, rcfg, logger)
	r.OnConnect = func(remote net.Addr) {
		logger.InfoMsg("Client connected from %s", remote)
	}
	r.OnDisconnect = func() {
		st := p.Stats()
		logger.InfoMsg("Stream so far: %d TS packets, %d video NAL units, %d audio frames", st.TS.Packets, st.VideoNALs, st.AudioFrames)
	}

	logger.InfoMsg("Listening on %s/%d", cfg.Protocol, cfg.Port)
	return r.Run(ctx)
}

// openSink opens the file at name for writing. "" discards the stream,
// "-" writes to stdout unless stdout is a terminal.
func openSink(name string, deps *config.Dependencies) (io.Writer, func(), error) {
	switch name {
	case "":
		return nil, func() {}, nil
	case stdoutName:
		out := config.GetStdoutFunc(deps)()
		if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return nil, nil, fmt.Errorf("refusing to write binary data to a terminal")
		}
		return out, func() {}, nil
	}

	f, err := os.Create(name)
	if err != nil {
		return nil, nil, fmt.Errorf("os.Create(%s): %w", name, err)
	}
	return f, func() {
		if err := f.Close(); err != nil {
			log.ErrorMsg("closing %s: %s\n", name, err)
		}
	}, nil
}

// serveMetrics exposes reg on addr under /metrics.
func serveMetrics(addr string, reg *prometheus.Registry, logger *log.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("net.Listen(tcp, %s): %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorMsg("metrics server: %s", err)
		}
	}()
	logger.InfoMsg("Metrics on http://%s/metrics", ln.Addr())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func getFlags() []cli.Flag {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:     portFlag,
			Aliases:  []string{"p"},
			Usage:    "Local port, 0 picks a free one",
			Category: categoryListen,
			Value:    config.DefaultListenPort,
			Required: false,
		},
		&cli.IntFlag{
			Name:     latencyFlag,
			Aliases:  []string{"l"},
			Usage:    "Latency budget in milliseconds",
			Category: categoryListen,
			Value:    session.DefaultLatencyMs,
			Required: false,
		},
		&cli.BoolFlag{
			Name:     noTSBPDFlag,
			Usage:    "Disable timestamp-based packet delivery",
			Category: categoryListen,
			Value:    false,
			Required: false,
		},
		&cli.BoolFlag{
			Name:     pollFlag,
			Usage:    "Use non-blocking receive and poll",
			Category: categoryListen,
			Value:    false,
			Required: false,
		},
		&cli.StringFlag{
			Name:     configFlag,
			Aliases:  []string{"c"},
			Usage:    "YAML config file; flags override its values",
			Category: categoryListen,
			Value:    "",
			Required: false,
		},
		&cli.StringFlag{
			Name:     videoOutFlag,
			Usage:    "Write the H.264 stream (Annex B) to this file, - for stdout",
			Category: categoryListen,
			Value:    "",
			Required: false,
		},
		&cli.StringFlag{
			Name:     audioOutFlag,
			Usage:    "Write the AAC stream (ADTS) to this file, - for stdout",
			Category: categoryListen,
			Value:    "",
			Required: false,
		},
		&cli.StringFlag{
			Name:     metricsFlag,
			Aliases:  []string{"m"},
			Usage:    "Serve Prometheus metrics on this address, e.g. :9100",
			Category: categoryListen,
			Value:    "",
			Required: false,
		},
	}

	return append(flags, shared.GetCommonFlags()...)
}
