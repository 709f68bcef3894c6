package service

import (
	"log/slog"

	"commandbridge/internal/platform/metrics"
)

type serviceConfig struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	audit    AuditRecorder
	activity ActivityRecorder
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

func WithAuditRecorder(a AuditRecorder) Option {
	return func(c *serviceConfig) {
		c.audit = a
	}
}

func WithActivityRecorder(a ActivityRecorder) Option {
	return func(c *serviceConfig) {
		c.activity = a
	}
}
