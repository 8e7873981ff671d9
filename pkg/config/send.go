package config

import "srtrecv/pkg/format"

// Send configures the send command.
type Send struct {
	Protocol Protocol
	Host     string
	Port     int
	LogFile  string
	Verbose  bool
}

// Validate ...
func (c *Send) Validate() []error {
	errs := checkProtocol(nil, "--transport", c.Protocol)
	return checkPort(errs, "port", c.Port, false)
}

// Addr returns host:port, using localhost for an empty host.
func (c *Send) Addr() string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	return format.Addr(host, c.Port)
}
