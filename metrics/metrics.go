// Package metrics provides Prometheus instrumentation for the messaging
// core. It exposes a connection state gauge, counters for message and event
// throughput, and histograms for send latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionUp is 1 while the persistent channel is connected, 0 otherwise.
	ConnectionUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "messenger_connection_up",
		Help: "Whether the persistent channel is currently connected",
	})

	// ReconnectsTotal counts reconnect attempts on the persistent channel.
	ReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messenger_reconnects_total",
		Help: "Total number of reconnect attempts on the persistent channel",
	})

	// EventsReceived counts inbound push events, labeled by event type.
	EventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_events_received_total",
		Help: "Total number of inbound push events",
	}, []string{"type"})

	// MessagesSent counts outbound message sends, labeled by result:
	// "sent", "failed", or "retried".
	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_messages_sent_total",
		Help: "Total number of outbound message send attempts",
	}, []string{"result"})

	// SendLatency records end-to-end send latency (optimistic entry to
	// server confirmation) in seconds.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "messenger_send_latency_seconds",
		Help:    "Latency from send request to server confirmation",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	// UploadBytes counts attachment bytes uploaded.
	UploadBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messenger_upload_bytes_total",
		Help: "Total attachment bytes uploaded",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionUp,
		ReconnectsTotal,
		EventsReceived,
		MessagesSent,
		SendLatency,
		UploadBytes,
	)
}

// Handler returns the Prometheus metrics HTTP handler for embedding hosts
// that expose a scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
