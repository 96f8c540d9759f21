package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	PollRuns          prometheus.Counter
	PollFailures      prometheus.Counter
	MessagesIngested  prometheus.Counter
	MessagesSkipped   prometheus.Counter
	AutoReplies       prometheus.Counter
	AutoReplyFallback prometheus.Counter
	ProviderFailures  prometheus.Counter
	PollDuration      prometheus.Histogram
	CursorPosition    prometheus.Gauge
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		PollRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailroom_poll_runs_total",
			Help: "Total number of polling runs started",
		}),
		PollFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailroom_poll_failures_total",
			Help: "Total number of polling runs aborted by a session failure",
		}),
		MessagesIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailroom_messages_ingested_total",
			Help: "Total number of inbound messages stored",
		}),
		MessagesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailroom_messages_skipped_total",
			Help: "Total number of fetched messages skipped as tombstoned or duplicate",
		}),
		AutoReplies: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailroom_auto_replies_total",
			Help: "Total number of auto-replies sent",
		}),
		AutoReplyFallback: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailroom_auto_reply_fallbacks_total",
			Help: "Total number of auto-replies degraded to the fixed fallback text",
		}),
		ProviderFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailroom_provider_failures_total",
			Help: "Total number of individual AI provider failures",
		}),
		PollDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailroom_poll_duration_seconds",
			Help:    "Time spent per polling run",
			Buckets: prometheus.DefBuckets,
		}),
		CursorPosition: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mailroom_last_processed_uid",
			Help: "High-water mark of the last fully processed mailbox UID",
		}),
	}
}
