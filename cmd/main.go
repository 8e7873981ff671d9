package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"srtrecv/cmd/listen"
	"srtrecv/cmd/send"
	"srtrecv/cmd/version"
	"srtrecv/pkg/log"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "srtrecv",
		Usage: "receive MPEG transport streams over a reliable datagram transport",
		Commands: []*cli.Command{
			listen.GetCommand(),
			send.GetCommand(),
			version.GetCommand(),
		},
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		log.ErrorMsg("%s\n", err)
		os.Exit(1)
	}
}
