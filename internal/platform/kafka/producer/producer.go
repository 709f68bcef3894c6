package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("producer is closed")

// Message is a single record bound for Kafka.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Publisher is the fire-and-forget surface the audit mirror depends on.
type Publisher interface {
	ProduceAsync(msg *Message, onFailure func(error)) error
	Healthy(ctx context.Context) bool
	Close() error
}

// Config holds producer configuration.
type Config struct {
	Brokers  string
	ClientID string
	// MaxBuffered bounds records awaiting delivery. ProduceAsync fails fast
	// instead of blocking once the buffer is full.
	MaxBuffered     int
	Retries         int
	DeliveryTimeout time.Duration
	CloseTimeout    time.Duration
}

// DefaultConfig returns mirror defaults for the given comma-separated broker
// list.
func DefaultConfig(brokers string) Config {
	return Config{
		Brokers:         brokers,
		ClientID:        "commandbridge",
		MaxBuffered:     10000,
		Retries:         3,
		DeliveryTimeout: 30 * time.Second,
		CloseTimeout:    10 * time.Second,
	}
}

// Producer wraps the franz-go client.
type Producer struct {
	client       *kgo.Client
	logger       *slog.Logger
	closeTimeout time.Duration
	closed       atomic.Bool
}

// New creates a Kafka producer. Brokers are dialled lazily, so an
// unreachable cluster surfaces through Healthy and delivery failures.
func New(cfg Config, logger *slog.Logger) (*Producer, error) {
	brokers := splitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RecordRetries(cfg.Retries),
		kgo.ProducerLinger(5 * time.Millisecond),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.MaxBuffered > 0 {
		opts = append(opts, kgo.MaxBufferedRecords(cfg.MaxBuffered))
	}
	if cfg.DeliveryTimeout > 0 {
		opts = append(opts, kgo.RecordDeliveryTimeout(cfg.DeliveryTimeout))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	closeTimeout := cfg.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = 10 * time.Second
	}
	return &Producer{client: client, logger: logger, closeTimeout: closeTimeout}, nil
}

func splitBrokers(raw string) []string {
	var out []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func toRecord(msg *Message) *kgo.Record {
	headers := make([]kgo.RecordHeader, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	return &kgo.Record{
		Topic:   msg.Topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
}

// ProduceAsync hands msg to the client without waiting for the broker.
// onFailure, when non-nil, runs on the client's callback goroutine for
// records that could not be buffered or delivered.
func (p *Producer) ProduceAsync(msg *Message, onFailure func(error)) error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.client.TryProduce(context.Background(), toRecord(msg), func(r *kgo.Record, err error) {
		if err == nil {
			return
		}
		if p.logger != nil {
			p.logger.Warn("kafka delivery failed",
				"topic", r.Topic,
				"error", err,
			)
		}
		if onFailure != nil {
			onFailure(err)
		}
	})
	return nil
}

// Close flushes buffered records for up to CloseTimeout and shuts the
// client down. Later calls are no-ops.
func (p *Producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.closeTimeout)
	defer cancel()

	if err := p.client.Flush(ctx); err != nil && p.logger != nil {
		p.logger.Warn("kafka producer closed with unflushed messages", "error", err)
	}
	p.client.Close()
	return nil
}

// Healthy reports whether any seed broker answers a ping.
func (p *Producer) Healthy(ctx context.Context) bool {
	if p.closed.Load() {
		return false
	}
	return p.client.Ping(ctx) == nil
}

// NoopProducer discards everything. Used when Kafka is not configured.
type NoopProducer struct{}

func (NoopProducer) ProduceAsync(*Message, func(error)) error { return nil }
func (NoopProducer) Healthy(context.Context) bool             { return true }
func (NoopProducer) Close() error                             { return nil }
