package service

import (
	"log/slog"
	"time"

	"commandbridge/internal/platform/metrics"
)

type serviceConfig struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	retention time.Duration
}

// Option configures the service.
type Option func(c *serviceConfig)

func WithLogger(logger *slog.Logger) Option {
	return func(c *serviceConfig) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *serviceConfig) {
		c.metrics = m
	}
}

// WithRetention sets how long ingested events live. Non-positive values keep
// the default.
func WithRetention(d time.Duration) Option {
	return func(c *serviceConfig) {
		if d > 0 {
			c.retention = d
		}
	}
}
