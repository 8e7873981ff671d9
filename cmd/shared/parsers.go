package shared

import (
	"fmt"
	"regexp"
	"strconv"

	"srtrecv/pkg/config"
)

var targetRe = regexp.MustCompile(`^(?:(udp|ws)://)?([^:]*):(\d+)$`)

// ParseTarget parses "[protocol://]host:port" where protocol is udp or ws.
// Without a prefix the protocol is 0 and the caller's --transport applies.
// An empty host or "*" means localhost when dialing.
func ParseTarget(s string) (proto config.Protocol, host string, port int, err error) {
	matches := targetRe.FindStringSubmatch(s)
	if len(matches) != 4 {
		err = parsingError(s)
		return
	}

	if matches[1] != "" {
		proto, err = config.ParseProtocol(matches[1])
		if err != nil {
			err = parsingError(s)
			return
		}
	}

	host = matches[2]
	if host == "*" {
		host = ""
	}

	port, err = strconv.Atoi(matches[3])
	if err != nil || port < 1 || port > 65535 {
		err = parsingError(s)
		return
	}

	return
}

// ParseTransport parses the value of --transport.
func ParseTransport(s string) (config.Protocol, error) {
	p, err := config.ParseProtocol(s)
	if err != nil {
		return 0, fmt.Errorf("parsing --%s %q: must be udp|ws", TransportFlag, s)
	}
	return p, nil
}

func parsingError(s string) error {
	return fmt.Errorf("parsing %s: format should be '[protocol://]host:port', where protocol = udp|ws", s)
}
