// Package session scopes withdrawal state and view preferences to one
// network. Nothing here is global: a process that needs several networks
// holds several sessions, usually through a Registry.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	vaulterrors "evovault/core/errors"
	"evovault/core/identity"
	"evovault/core/withdrawals"
	"evovault/observability"
)

// ErrSessionClosed is returned by every operation on a closed session.
var ErrSessionClosed = errors.New("session closed")

// Session owns the withdrawal aggregator, the view preferences and the pager
// for one network.
type Session struct {
	ID      uuid.UUID
	Network identity.Network
	Created time.Time

	mu         sync.Mutex
	closed     bool
	aggregator *withdrawals.Aggregator
	query      withdrawals.Query
	pager      *withdrawals.Pager

	logger  *slog.Logger
	metrics *observability.VaultMetrics
}

// Option customises a Session.
type Option func(*Session)

// WithLogger overrides the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics overrides the metrics registry. nil disables recording.
func WithMetrics(metrics *observability.VaultMetrics) Option {
	return func(s *Session) { s.metrics = metrics }
}

// WithQuery sets the initial view preferences. The page position is ignored.
func WithQuery(q withdrawals.Query) Option {
	return func(s *Session) {
		s.query = q
		s.query.Page = 0
	}
}

// View is a rendered page together with the snapshot scalars and the
// aggregator state.
type View struct {
	withdrawals.Page
	Populated              bool   `json:"populated"`
	Error                  string `json:"error,omitempty"`
	TotalAmount            uint64 `json:"total_amount"`
	RecentWithdrawalAmount uint64 `json:"recent_withdrawal_amount"`
	DailyWithdrawalLimit   uint64 `json:"daily_withdrawal_limit"`
	TotalCreditsOnPlatform uint64 `json:"total_credits_on_platform"`
	Statuses               string `json:"statuses"`
	SortColumn             string `json:"sort_column"`
	Ascending              bool   `json:"ascending"`
}

// New creates a session for network with a fresh id.
func New(network identity.Network, opts ...Option) (*Session, error) {
	if !network.Valid() {
		return nil, vaulterrors.Validation("session: unknown network %q", network)
	}
	s := &Session{
		ID:      uuid.New(),
		Network: network,
		Created: time.Now().UTC(),
		query:   withdrawals.DefaultQuery(),
		logger:  slog.Default(),
		metrics: observability.Vault(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = s.logger.With(slog.String("session", s.ID.String()), slog.String("network", network.String()))
	s.aggregator = withdrawals.NewAggregator(
		withdrawals.WithNetwork(network.String()),
		withdrawals.WithLogger(s.logger),
		withdrawals.WithMetrics(s.metrics),
	)
	s.pager = withdrawals.NewPager(s.query.PageSize)
	s.query.PageSize = s.pager.Size()
	s.logger.Info("session opened")
	return s, nil
}

// Close drops the snapshot. Further calls return ErrSessionClosed; closing
// twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.aggregator.Refresh()
	s.logger.Info("session closed")
	return nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) open() error {
	if s.closed {
		return fmt.Errorf("%s: %w", s.Network, ErrSessionClosed)
	}
	return nil
}

// Apply merges a partial result delivered by the query dispatcher.
func (s *Session) Apply(p withdrawals.PartialResult) (withdrawals.MergeStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return withdrawals.MergeStats{}, err
	}
	return s.aggregator.Apply(p), nil
}

// Fail records a dispatcher error.
func (s *Session) Fail(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return err
	}
	s.aggregator.Fail(message)
	return nil
}

// Refresh discards the snapshot so the next result starts a new one. The
// page position resets; filter, sort and page size are kept.
func (s *Session) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return err
	}
	s.aggregator.Refresh()
	s.pager.Goto(0)
	return nil
}

// Snapshot returns a copy of the aggregated snapshot.
func (s *Session) Snapshot() (withdrawals.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return withdrawals.Snapshot{}, false, err
	}
	snap, ok := s.aggregator.Snapshot()
	return snap, ok, nil
}

// Query returns the stored view preferences with the pager's position.
func (s *Session) Query() withdrawals.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pager.Apply(s.query)
}

// SetStatuses replaces the status filter.
func (s *Session) SetStatuses(set withdrawals.StatusSet) error {
	return s.update(func() error {
		s.query.Statuses = set
		return nil
	})
}

// ToggleStatus flips one status in the filter.
func (s *Session) ToggleStatus(status withdrawals.Status) error {
	return s.update(func() error {
		s.query.Statuses = s.query.Statuses.Toggle(status)
		return nil
	})
}

// ToggleSort applies a column header click.
func (s *Session) ToggleSort(column withdrawals.SortColumn) error {
	return s.update(func() error {
		s.query.Sort = s.query.Sort.Toggle(column)
		return nil
	})
}

// SetSort replaces the sort outright.
func (s *Session) SetSort(sort withdrawals.Sort) error {
	return s.update(func() error {
		s.query.Sort = sort
		return nil
	})
}

// SetPageSize changes the page size and re-clamps the current page.
func (s *Session) SetPageSize(size withdrawals.PageSize) error {
	return s.update(func() error {
		if err := s.pager.SetPageSize(size); err != nil {
			return vaulterrors.Validation("%v", err)
		}
		s.query.PageSize = size
		return nil
	})
}

// NextPage moves forward one page and reports whether it moved.
func (s *Session) NextPage() (bool, error) {
	var moved bool
	err := s.update(func() error {
		moved = s.pager.Next()
		return nil
	})
	return moved, err
}

// PrevPage moves back one page and reports whether it moved.
func (s *Session) PrevPage() (bool, error) {
	var moved bool
	err := s.update(func() error {
		moved = s.pager.Prev()
		return nil
	})
	return moved, err
}

// GotoPage jumps to page, clamped to the last rendered page count.
func (s *Session) GotoPage(page int) error {
	return s.update(func() error {
		s.pager.Goto(page)
		return nil
	})
}

func (s *Session) update(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return err
	}
	return fn()
}

// View renders the stored preferences against the current snapshot and
// records the clamped page position.
func (s *Session) View() (View, error) {
	s.mu.Lock()
	if err := s.open(); err != nil {
		s.mu.Unlock()
		return View{}, err
	}
	q := s.pager.Apply(s.query)
	s.mu.Unlock()

	view := s.render(q)

	s.mu.Lock()
	if !s.closed {
		s.pager.Observe(view.Page)
	}
	s.mu.Unlock()
	return view, nil
}

// Render renders q against the current snapshot without touching the stored
// preferences.
func (s *Session) Render(q withdrawals.Query) (View, error) {
	s.mu.Lock()
	err := s.open()
	s.mu.Unlock()
	if err != nil {
		return View{}, err
	}
	return s.render(q), nil
}

func (s *Session) render(q withdrawals.Query) View {
	snap, ok := s.aggregator.Snapshot()
	view := View{
		Page:                   withdrawals.Render(snap, q),
		Populated:              ok,
		Error:                  s.aggregator.Err(),
		TotalAmount:            snap.TotalAmount,
		RecentWithdrawalAmount: snap.RecentWithdrawalAmount,
		DailyWithdrawalLimit:   snap.DailyWithdrawalLimit,
		TotalCreditsOnPlatform: snap.TotalCreditsOnPlatform,
		Statuses:               q.Statuses.String(),
		SortColumn:             q.Sort.Column.String(),
		Ascending:              q.Sort.Ascending,
	}
	return view
}
