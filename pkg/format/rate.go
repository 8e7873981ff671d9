package format

import (
	"fmt"
	"time"
)

// Bitrate renders the rate of n bytes over d in the largest unit that keeps
// the value at or above 1, e.g. "3.42 Mbps".
func Bitrate(n uint64, d time.Duration) string {
	if d <= 0 {
		return "0 bps"
	}
	bps := float64(n) * 8 / d.Seconds()

	switch {
	case bps >= 1e9:
		return fmt.Sprintf("%.2f Gbps", bps/1e9)
	case bps >= 1e6:
		return fmt.Sprintf("%.2f Mbps", bps/1e6)
	case bps >= 1e3:
		return fmt.Sprintf("%.2f kbps", bps/1e3)
	default:
		return fmt.Sprintf("%.0f bps", bps)
	}
}
