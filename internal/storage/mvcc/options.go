package mvcc

import (
	"log/slog"
	"os"
	"time"
)

type config struct {
	gcInterval time.Duration
	logger     *slog.Logger
}

func defaultConfig() config {
	return config{
		gcInterval: time.Minute,
		logger:     slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}
}

// Option configures an MVCC.
type Option func(*config)

// WithGCInterval sets the period of RunGC. Zero or negative disables it.
func WithGCInterval(d time.Duration) Option {
	return func(c *config) { c.gcInterval = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}
