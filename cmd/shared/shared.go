// Package shared provides the CLI flags and helpers used by more than one
// srtrecv command.
package shared

import (
	"strings"

	"github.com/urfave/cli/v3"
)

const categoryCommon = "common"

// TransportFlag selects the transport engine.
const TransportFlag = "transport"

// VerboseFlag is the name of the flag to enable verbose logging.
const VerboseFlag = "verbose"

// GetTransportDescription returns the help text shared by commands that
// take a transport.
func GetTransportDescription() string {
	return strings.Join([]string{
		"Transports: udp (KCP over UDP, the default) or ws (WebSocket binary messages over TCP).",
		"Sender and receiver must use the same transport.",
	}, "\n")
}

// GetCommonFlags returns the flags every network command accepts.
func GetCommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     TransportFlag,
			Aliases:  []string{"T"},
			Usage:    "Transport engine: udp|ws",
			Category: categoryCommon,
			Value:    "udp",
			Required: false,
		},
		&cli.BoolFlag{
			Name:     VerboseFlag,
			Aliases:  []string{"v"},
			Usage:    "Verbose logging",
			Category: categoryCommon,
			Value:    false,
			Required: false,
		},
	}
}
