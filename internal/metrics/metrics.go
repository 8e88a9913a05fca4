// Package metrics exposes Prometheus instrumentation for the warehouse:
// pipeline run outcomes, partition write outcomes and vendor retry pressure.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pipeline metrics
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gexhaus_runs_total",
			Help: "Total number of daily pipeline runs",
		},
		[]string{"symbol", "status"}, // status: ok|partial|failed
	)

	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gexhaus_run_duration_seconds",
			Help:    "Daily pipeline run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"symbol"},
	)

	// Storage metrics
	PartitionWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gexhaus_partition_writes_total",
			Help: "Total partition write outcomes",
		},
		[]string{"outcome"}, // outcome: written|skipped|conflict|error
	)

	// Vendor metrics
	VendorRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gexhaus_vendor_retries_total",
			Help: "Total retried vendor calls",
		},
		[]string{"source"}, // source: chain|prices
	)

	RecordFlags = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gexhaus_record_flags_total",
			Help: "Quality flags attached to finished records",
		},
		[]string{"flag"},
	)
)

var registerOnce sync.Once

// Init registers all metrics with the default Prometheus registry. Safe to
// call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RunsTotal)
		prometheus.MustRegister(RunDuration)
		prometheus.MustRegister(PartitionWrites)
		prometheus.MustRegister(VendorRetries)
		prometheus.MustRegister(RecordFlags)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRun records one pipeline run outcome.
func RecordRun(symbol, status string, duration time.Duration) {
	RunsTotal.WithLabelValues(symbol, status).Inc()
	RunDuration.WithLabelValues(symbol).Observe(duration.Seconds())
}

// RecordWrite records one partition write outcome.
func RecordWrite(outcome string) {
	PartitionWrites.WithLabelValues(outcome).Inc()
}

// RecordVendorRetry records a retried vendor call.
func RecordVendorRetry(source string) {
	VendorRetries.WithLabelValues(source).Inc()
}

// RecordFlag records a quality flag on a finished record.
func RecordFlag(flag string) {
	RecordFlags.WithLabelValues(flag).Inc()
}
