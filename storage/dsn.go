package storage

import (
	"fmt"
	"path/filepath"
	"strings"
)

const defaultFilePragmas = "mode=rwc&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// FileDSN converts a filesystem path into an on-disk SQLite DSN with sensible
// defaults. Callers must ensure the path is non-empty.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve storage path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas), nil
}

// MemoryDSN returns a named shared-cache in-memory DSN. Connections opened with
// the same name see the same database until the last one closes.
func MemoryDSN(name string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.TrimSpace(name))
}

// isPostgres reports whether dsn addresses a PostgreSQL server rather than a
// SQLite file.
func isPostgres(dsn string) bool {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://")
}

// ResolveDSN accepts either a DSN or a plain filesystem path. PostgreSQL URLs
// and "file:" DSNs pass through; anything else is treated as a SQLite path.
func ResolveDSN(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	if isPostgres(trimmed) || strings.HasPrefix(trimmed, "file:") {
		return trimmed, nil
	}
	return FileDSN(trimmed)
}
