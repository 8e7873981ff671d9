// Package format renders addresses and rates for log output.
package format

import (
	"net"
	"strconv"
)

// Addr joins host and port, bracketing IPv6 hosts. An empty or "*" host
// stands for all interfaces and is rendered as 0.0.0.0.
func Addr(host string, port int) string {
	if host == "" || host == "*" {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
