package service

import (
	"log/slog"
	"time"

	"commandbridge/internal/platform/metrics"
	"commandbridge/internal/platform/tracer"
)

// serviceConfig holds optional dependencies for the service.
type serviceConfig struct {
	logger           *slog.Logger
	metrics          *metrics.Metrics
	tracer           tracer.Tracer
	activity         ActivityRecorder
	timeout          time.Duration
	failureThreshold int
	cooldown         time.Duration
	dryRun           bool
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

func WithTracer(t tracer.Tracer) Option {
	return func(c *serviceConfig) {
		if t != nil {
			c.tracer = t
		}
	}
}

func WithActivityRecorder(a ActivityRecorder) Option {
	return func(c *serviceConfig) {
		c.activity = a
	}
}

// WithExecutorTimeout bounds every executor call. Default 10s.
func WithExecutorTimeout(d time.Duration) Option {
	return func(c *serviceConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBreaker tunes the per-action circuit breakers.
func WithBreaker(failureThreshold int, cooldown time.Duration) Option {
	return func(c *serviceConfig) {
		c.failureThreshold = failureThreshold
		c.cooldown = cooldown
	}
}

// WithDryRun tags executor spans as dry-run.
func WithDryRun(dryRun bool) Option {
	return func(c *serviceConfig) {
		c.dryRun = dryRun
	}
}
