// Package metrics holds the Prometheus counters of the session manager and
// the receiver.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "srtrecv"

// Metrics contains all counters. Would-block receives are counted apart
// from receive errors so that polling never looks like failure.
type Metrics struct {
	SessionsStarted prometheus.Counter
	StartErrors     *prometheus.CounterVec // label "step": create, option, bind, listen

	ConnectionsAccepted prometheus.Counter
	AcceptErrors        prometheus.Counter

	MessagesReceived prometheus.Counter
	BytesReceived    prometheus.Counter
	WouldBlock       prometheus.Counter
	ReceiveErrors    prometheus.Counter

	CloseErrors prometheus.Counter

	QueueDropped prometheus.Counter
	QueueDepth   prometheus.Gauge

	ESUnits *prometheus.CounterVec // label "stream": video, audio
}

// New creates the counters and registers them with reg. A nil reg creates
// unregistered counters, which is what tests and embedded callers want.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Listening sessions successfully started",
		}),
		StartErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_start_errors_total",
			Help:      "Failed session starts by failing step",
		}, []string{"step"}),
		ConnectionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Client connections accepted",
		}),
		AcceptErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accept_errors_total",
			Help:      "Accept calls that failed",
		}),
		MessagesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages returned by receive",
		}),
		BytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Payload bytes returned by receive",
		}),
		WouldBlock: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receive_would_block_total",
			Help:      "Receive calls that found no data in non-blocking mode",
		}),
		ReceiveErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receive_errors_total",
			Help:      "Receive calls that failed fatally",
		}),
		CloseErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "close_errors_total",
			Help:      "Descriptor releases the engine reported as failed",
		}),
		QueueDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dropped_total",
			Help:      "Received messages dropped because the demux queue was full",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Messages waiting for the demuxer",
		}),
		ESUnits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_units_total",
			Help:      "H.264 NAL units and AAC frames written to the sinks",
		}, []string{"stream"}),
	}
}
