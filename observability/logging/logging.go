package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

type setupOptions struct {
	writer io.Writer
	level  slog.Leveler
}

// Option customises Setup.
type Option func(*setupOptions)

// WithWriter sends log lines to w instead of stdout.
func WithWriter(w io.Writer) Option {
	return func(o *setupOptions) {
		if w != nil {
			o.writer = w
		}
	}
}

// WithLevel sets the minimum level emitted.
func WithLevel(level slog.Leveler) Option {
	return func(o *setupOptions) {
		if level != nil {
			o.level = level
		}
	}
}

// ParseLevel maps debug/info/warn/error to a slog level. Anything else is info.
func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup configures the standard library logger to emit structured JSON and returns
// the underlying slog.Logger for richer logging within the service. All log lines
// include the service name and environment when provided.
func Setup(service, env string, opts ...Option) *slog.Logger {
	cfg := setupOptions{writer: os.Stdout, level: slog.LevelInfo}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	handler := slog.NewJSONHandler(cfg.writer, &slog.HandlerOptions{
		AddSource: false,
		Level:     cfg.level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			}
			if attr.Key == slog.LevelKey {
				level := strings.ToUpper(attr.Value.String())
				return slog.String("severity", level)
			}
			if attr.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(service)),
	}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so gorm and net/http output stays structured.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}
