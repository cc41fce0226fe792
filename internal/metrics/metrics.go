// Package metrics exposes Prometheus collectors for the harvest service.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	discoveryOutcomesTotal   *prometheus.CounterVec
	downloadsTotal           *prometheus.CounterVec
	certificateOpsTotal      *prometheus.CounterVec
	sessionDurationSeconds   *prometheus.HistogramVec
	discoveryRunsTotal       prometheus.Counter
	queuedEntriesLastPoll    prometheus.Gauge
	combinationsSkippedTotal prometheus.Counter
	httpRequestDuration      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		discoveryOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_discovery_outcomes_total",
				Help: "Discovery attempts by tagged outcome kind.",
			},
			[]string{"kind"},
		)
		downloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_downloads_total",
				Help: "Download attempts by tagged outcome kind.",
			},
			[]string{"kind"},
		)
		certificateOpsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_certificate_ops_total",
				Help: "Certificate provider operations by kind and result.",
			},
			[]string{"op", "result"},
		)
		sessionDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_session_duration_seconds",
				Help:    "Automation session latency by phase.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"phase"},
		)
		discoveryRunsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvest_discovery_runs_total",
				Help: "Scheduled discovery runs started.",
			},
		)
		queuedEntriesLastPoll = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvest_queued_entries_last_poll",
				Help: "Queued, not-yet-downloaded ledger entries seen by the last poll.",
			},
		)
		combinationsSkippedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvest_combinations_skipped_total",
				Help: "Combinations skipped by allow-list or eligibility checks.",
			},
		)
		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_http_request_duration_seconds",
				Help:    "Status API request latency by method, route, and status.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		)
	})
}

// ObserveDiscoveryOutcome counts one discovery attempt's tagged outcome.
func ObserveDiscoveryOutcome(kind string) {
	if discoveryOutcomesTotal != nil {
		discoveryOutcomesTotal.WithLabelValues(kind).Inc()
	}
}

// ObserveDownloadOutcome counts one download attempt's tagged outcome.
func ObserveDownloadOutcome(kind string) {
	if downloadsTotal != nil {
		downloadsTotal.WithLabelValues(kind).Inc()
	}
}

// ObserveCertificateOp counts one certificate-provider call.
func ObserveCertificateOp(op string, err error) {
	if certificateOpsTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	certificateOpsTotal.WithLabelValues(op, result).Inc()
}

// ObserveSessionDuration records the wall time of one automation phase.
func ObserveSessionDuration(phase string, d time.Duration) {
	if sessionDurationSeconds != nil {
		sessionDurationSeconds.WithLabelValues(phase).Observe(d.Seconds())
	}
}

// DiscoveryRunStarted counts one scheduled discovery run.
func DiscoveryRunStarted() {
	if discoveryRunsTotal != nil {
		discoveryRunsTotal.Inc()
	}
}

// SetQueuedEntries records the queue depth seen by a download poll.
func SetQueuedEntries(n int) {
	if queuedEntriesLastPoll != nil {
		queuedEntriesLastPoll.Set(float64(n))
	}
}

// CombinationSkipped counts one skipped combination.
func CombinationSkipped() {
	if combinationsSkippedTotal != nil {
		combinationsSkippedTotal.Inc()
	}
}

// ObserveHTTPRequest records one status API request.
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	if httpRequestDuration != nil {
		httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
	}
}
