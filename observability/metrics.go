package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// VaultMetrics tracks record store, reconciler and withdrawal view activity.
type VaultMetrics struct {
	storeOps       *prometheus.CounterVec
	storeLatency   *prometheus.HistogramVec
	reconcile      *prometheus.CounterVec
	decodeFailures prometheus.Counter
	merges         *prometheus.CounterVec
	recordsAdded   *prometheus.CounterVec
	duplicates     *prometheus.CounterVec
	snapshotSize   *prometheus.GaugeVec
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
}

var (
	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics
)

// Vault returns the lazily-initialised metrics registry for the vault.
func Vault() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "evovault",
				Subsystem: "store",
				Name:      "operations_total",
				Help:      "Record store operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "evovault",
				Subsystem: "store",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for record store operations including lock wait.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "evovault",
				Subsystem: "reconciler",
				Name:      "operations_total",
				Help:      "Reconciler policy applications segmented by policy and outcome.",
			}, []string{"policy", "outcome"}),
			decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "evovault",
				Subsystem: "reconciler",
				Name:      "decode_failures_total",
				Help:      "Stored identity payloads that failed to decode.",
			}),
			merges: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "evovault",
				Subsystem: "withdrawals",
				Name:      "merges_total",
				Help:      "Partial withdrawal results merged into a session snapshot.",
			}, []string{"network"}),
			recordsAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "evovault",
				Subsystem: "withdrawals",
				Name:      "records_added_total",
				Help:      "Withdrawal records added to snapshots by merges.",
			}, []string{"network"}),
			duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "evovault",
				Subsystem: "withdrawals",
				Name:      "duplicates_dropped_total",
				Help:      "Withdrawal records ignored because their de-duplication key was already present.",
			}, []string{"network"}),
			snapshotSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "evovault",
				Subsystem: "withdrawals",
				Name:      "snapshot_records",
				Help:      "Number of withdrawal records held in the current snapshot.",
			}, []string{"network"}),
			httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "evovault",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "HTTP requests segmented by route and status code.",
			}, []string{"route", "status"}),
			httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "evovault",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			vaultRegistry.storeOps,
			vaultRegistry.storeLatency,
			vaultRegistry.reconcile,
			vaultRegistry.decodeFailures,
			vaultRegistry.merges,
			vaultRegistry.recordsAdded,
			vaultRegistry.duplicates,
			vaultRegistry.snapshotSize,
			vaultRegistry.httpRequests,
			vaultRegistry.httpLatency,
		)
	})
	return vaultRegistry
}

// ObserveStore records the outcome of a single record store operation.
func (m *VaultMetrics) ObserveStore(op string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	op = normaliseLabel(op)
	m.storeOps.WithLabelValues(op, outcome(err)).Inc()
	m.storeLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordReconcile counts one application of a reconciler policy.
func (m *VaultMetrics) RecordReconcile(policy string, err error) {
	if m == nil {
		return
	}
	m.reconcile.WithLabelValues(normaliseLabel(policy), outcome(err)).Inc()
}

// RecordDecodeFailure counts a stored payload that could not be decoded.
func (m *VaultMetrics) RecordDecodeFailure() {
	if m == nil {
		return
	}
	m.decodeFailures.Inc()
}

// RecordMerge captures the effect of merging one partial result.
func (m *VaultMetrics) RecordMerge(network string, added, dropped, size int) {
	if m == nil {
		return
	}
	network = normaliseLabel(network)
	m.merges.WithLabelValues(network).Inc()
	if added > 0 {
		m.recordsAdded.WithLabelValues(network).Add(float64(added))
	}
	if dropped > 0 {
		m.duplicates.WithLabelValues(network).Add(float64(dropped))
	}
	m.snapshotSize.WithLabelValues(network).Set(float64(size))
}

// ResetSnapshot zeroes the snapshot gauge after a refresh or session close.
func (m *VaultMetrics) ResetSnapshot(network string) {
	if m == nil {
		return
	}
	m.snapshotSize.WithLabelValues(normaliseLabel(network)).Set(0)
}

// ObserveHTTP records a served request. Route should be the chi route pattern,
// not the raw path, to keep label cardinality bounded.
func (m *VaultMetrics) ObserveHTTP(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = normaliseLabel(route)
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(route).Observe(duration.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func normaliseLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
