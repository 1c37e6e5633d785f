// Package metrics defines the Prometheus collectors mailpost exports.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rule evaluation metrics
var (
	MessagesMatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailpost_messages_matched_total",
			Help: "Total number of messages that satisfied a rule",
		},
		[]string{"rule"},
	)

	MessagesEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailpost_messages_evaluated_total",
			Help: "Total number of messages evaluated against a rule",
		},
		[]string{"rule"},
	)
)

// Dispatch metrics
var (
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailpost_dispatch_total",
			Help: "Total number of dispatch attempts by outcome",
		},
		[]string{"outcome"},
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailpost_dispatch_duration_seconds",
			Help:    "Duration of webhook requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DuplicatesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailpost_duplicates_skipped_total",
			Help: "Total number of matches skipped because the message was already dispatched in the run",
		},
	)
)

// Archival metrics
var (
	ArchivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailpost_archived_total",
			Help: "Total number of unclaimed messages moved to the archive",
		},
	)

	ArchiveFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailpost_archive_failures_total",
			Help: "Total number of messages that could not be archived",
		},
	)

	ExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailpost_expired_total",
			Help: "Total number of archived messages deleted after their retention",
		},
	)
)

// Run metrics
var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailpost_runs_total",
			Help: "Total number of processing cycles by result",
		},
		[]string{"result"},
	)

	LastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailpost_last_run_timestamp_seconds",
			Help: "Unix time of the last completed processing cycle",
		},
	)
)

// Dispatch outcomes
const (
	OutcomeSuccess     = "success"
	OutcomeHTTPError   = "http_error"
	OutcomeTransport   = "transport_error"
	OutcomeActionError = "action_error"
)

// Handler returns the HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// WriteTextfile writes the current metrics to path in the text format
// read by the node exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
