package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	vaulterrors "evovault/core/errors"
	"evovault/observability"
)

var (
	// ErrPathRequired is returned when the backing store path is missing.
	ErrPathRequired = errors.New("vault storage path must be configured")

	errNotConfigured = fmt.Errorf("%w: storage not configured", vaulterrors.ErrStorage)
)

// Store is the record store for identities and top-ups. Every operation runs
// under a single mutex and the connection pool is pinned to one connection, so
// at most one statement is in flight at a time.
type Store struct {
	mu      sync.Mutex
	db      *gorm.DB
	logger  *slog.Logger
	metrics *observability.VaultMetrics
	now     func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithLogger overrides the logger used for store diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics attaches a metrics registry. A nil registry disables recording.
func WithMetrics(metrics *observability.VaultMetrics) Option {
	return func(s *Store) {
		s.metrics = metrics
	}
}

// Open connects to dsn and creates the identity and top_up tables when they do
// not exist. postgres:// URLs use the PostgreSQL driver; anything else is
// treated as a SQLite DSN.
func Open(dsn string, opts ...Option) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	var dialector gorm.Dialector
	if isPostgres(trimmed) {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, vaulterrors.Storage("open database", err)
	}
	return New(db, opts...)
}

// New wraps an existing gorm handle. The schema is migrated before returning.
func New(db *gorm.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errNotConfigured
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, vaulterrors.Storage("resolve connection pool", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(allModels()...); err != nil {
		_ = sqlDB.Close()
		return nil, vaulterrors.Storage("apply schema", err)
	}
	s := &Store{
		db:      db,
		logger:  slog.Default(),
		metrics: observability.Vault(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sqlDB, err := s.db.DB()
	if err != nil {
		return vaulterrors.Storage("resolve connection pool", err)
	}
	if err := sqlDB.Close(); err != nil {
		return vaulterrors.Storage("close database", err)
	}
	return nil
}

// lock acquires the store mutex and returns a function that releases it and
// records the operation. The duration includes time spent queued on the lock.
func (s *Store) lock(op string) func(*error) {
	started := s.now()
	s.mu.Lock()
	return func(errp *error) {
		s.mu.Unlock()
		var err error
		if errp != nil {
			err = *errp
		}
		s.metrics.ObserveStore(op, err, s.now().Sub(started))
		if err != nil && !errors.Is(err, vaulterrors.ErrNotFound) {
			s.logger.Warn("store operation failed", slog.String("op", op), slog.Any("error", err))
		}
	}
}
