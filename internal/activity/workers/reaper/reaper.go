package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"commandbridge/internal/platform/metrics"
)

// ExpiringStore removes events past their retention.
type ExpiringStore interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Reaper periodically deletes expired activity events for stores without
// native TTL.
type Reaper struct {
	store    ExpiringStore
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures Reaper.
type Option func(*Reaper)

// WithInterval overrides the run interval when greater than zero.
func WithInterval(interval time.Duration) Option {
	return func(r *Reaper) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reaper) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reaper) {
		r.metrics = m
	}
}

// WithClock replaces time.Now for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) {
		if now != nil {
			r.now = now
		}
	}
}

func New(store ExpiringStore, opts ...Option) (*Reaper, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	r := &Reaper{
		store:    store,
		interval: time.Hour,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Start runs RunOnce every interval until ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "activity reaper failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce deletes everything that expired at or before now.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	deleted, err := r.store.DeleteExpired(ctx, r.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired activity: %w", err)
	}
	r.metrics.AddActivityReaped(deleted)
	if deleted > 0 {
		r.logger.InfoContext(ctx, "reaped expired activity", "deleted", deleted)
	}
	return deleted, nil
}
