package service

import (
	"log/slog"

	"commandbridge/internal/platform/kafka/producer"
	"commandbridge/internal/platform/metrics"
)

// serviceConfig holds optional dependencies for the service.
type serviceConfig struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	mirror  producer.Publisher
	topic   string
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

// WithMirror publishes every durable write to topic after it commits.
func WithMirror(p producer.Publisher, topic string) Option {
	return func(c *serviceConfig) {
		c.mirror = p
		c.topic = topic
	}
}
