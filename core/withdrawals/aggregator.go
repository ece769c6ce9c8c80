package withdrawals

import (
	"log/slog"
	"sync"

	"evovault/observability"
)

// Aggregator holds the withdrawal snapshot for one session. It is Empty until
// the first partial result arrives and Populated afterwards. Merges and
// refreshes take the write lock; readers clone under the read lock and do
// their work outside it.
type Aggregator struct {
	mu       sync.RWMutex
	snapshot *Snapshot
	err      string

	network string
	logger  *slog.Logger
	metrics *observability.VaultMetrics
}

// Option customises an Aggregator.
type Option func(*Aggregator)

// WithNetwork labels metrics and logs with the session's network.
func WithNetwork(network string) Option {
	return func(a *Aggregator) { a.network = network }
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics overrides the metrics registry. nil disables recording.
func WithMetrics(m *observability.VaultMetrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// NewAggregator returns an empty aggregator.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		logger:  slog.Default(),
		metrics: observability.Vault(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Apply merges a partial result into the snapshot, creating it on the first
// call. A successful result clears any recorded error.
func (a *Aggregator) Apply(p PartialResult) MergeStats {
	a.mu.Lock()
	if a.snapshot == nil {
		a.snapshot = &Snapshot{}
	}
	stats := a.snapshot.Merge(p)
	a.err = ""
	a.mu.Unlock()

	a.metrics.RecordMerge(a.network, stats.Added, stats.Duplicates, stats.Size)
	if stats.Duplicates > 0 {
		a.logger.Debug("duplicate withdrawals ignored",
			slog.String("network", a.network),
			slog.Int("duplicates", stats.Duplicates))
	}
	return stats
}

// Refresh discards the snapshot and any recorded error. A merge already
// holding the lock completes first.
func (a *Aggregator) Refresh() {
	a.mu.Lock()
	a.snapshot = nil
	a.err = ""
	a.mu.Unlock()
	a.metrics.ResetSnapshot(a.network)
}

// Fail records an error message reported by the query dispatcher. The
// snapshot is left untouched.
func (a *Aggregator) Fail(message string) {
	a.mu.Lock()
	a.err = message
	a.mu.Unlock()
	a.logger.Warn("withdrawal query failed", slog.String("network", a.network), slog.String("reason", message))
}

// Snapshot returns a copy of the current snapshot and whether one exists.
func (a *Aggregator) Snapshot() (Snapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.snapshot == nil {
		return Snapshot{}, false
	}
	return a.snapshot.Clone(), true
}

// Populated reports whether a snapshot is held.
func (a *Aggregator) Populated() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot != nil
}

// Err returns the last error message recorded by Fail, if any.
func (a *Aggregator) Err() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.err
}
