// Package metrics holds the prometheus collectors for ingestion and publishing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vendorflow"

// Metrics groups every collector exported by the service.
type Metrics struct {
	MessagesReceived  *prometheus.CounterVec
	MessagesRejected  *prometheus.CounterVec
	UnknownDevices    prometheus.Counter
	StageFailures     *prometheus.CounterVec
	ChannelMisses     prometheus.Counter
	StaleMessages     prometheus.Counter
	VendingLogs       *prometheus.CounterVec
	Publishes         *prometheus.CounterVec
	DevicesOffline    prometheus.Counter
	ProcessingSeconds prometheus.Histogram
}

// New builds the collectors and registers them on reg. A nil reg leaves them
// unregistered, which is what tests use.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_received_total",
			Help:      "Inbound messages accepted for ingestion, by source.",
		}, []string{"source"}),
		MessagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_rejected_total",
			Help:      "Inbound messages rejected before normalization, by reason.",
		}, []string{"reason"}),
		UnknownDevices: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "unknown_device_total",
			Help:      "Messages whose device id did not resolve.",
		}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "stage_failures_total",
			Help:      "Persistence failures per pipeline stage.",
		}, []string{"stage"}),
		ChannelMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "channel_miss_total",
			Help:      "Channel keys that matched no provisioned channel.",
		}),
		StaleMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "stale_messages_total",
			Help:      "Messages older than the stored last_seen.",
		}),
		VendingLogs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "vending_logs_total",
			Help:      "Vending log appends, by result (inserted or duplicate).",
		}, []string{"result"}),
		Publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "publishes_total",
			Help:      "Outbound publishes, by result.",
		}, []string{"result"}),
		DevicesOffline: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "devices_marked_offline_total",
			Help:      "Devices flipped to offline by the liveness sweeper.",
		}),
		ProcessingSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "processing_seconds",
			Help:      "Wall time of one pipeline run.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.MessagesReceived,
			m.MessagesRejected,
			m.UnknownDevices,
			m.StageFailures,
			m.ChannelMisses,
			m.StaleMessages,
			m.VendingLogs,
			m.Publishes,
			m.DevicesOffline,
			m.ProcessingSeconds,
		)
	}
	return m
}
