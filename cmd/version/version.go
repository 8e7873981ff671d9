// Package version implements the version command.
package version

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

// Version is set at build time with -ldflags "-X srtrecv/cmd/version.Version=...".
var Version = "unknown"

// GetCommand ...
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the program version",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			w := cmd.Root().Writer
			if w == nil {
				w = os.Stdout
			}
			fmt.Fprintln(w, Version)
			return nil
		},
		Flags: []cli.Flag{},
	}
}
