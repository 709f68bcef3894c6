// Package batcher queues server-side activity events and writes them to the
// store in batches. Enqueue never blocks; a full queue drops the event.
package batcher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"commandbridge/internal/activity/models"
	"commandbridge/internal/platform/metrics"
)

// Writer is the store side of the batcher.
type Writer interface {
	PutBatch(ctx context.Context, events []*models.Event) (int, error)
}

// Batcher owns a bounded queue and a flush loop. The loop runs only while
// Start is executing.
type Batcher struct {
	writer  Writer
	queue   chan models.Event
	logger  *slog.Logger
	metrics *metrics.Metrics

	flushInterval time.Duration
	batchSize     int
	flushTimeout  time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	running  atomic.Bool
	stopped  atomic.Bool
}

// Option configures the Batcher.
type Option func(*Batcher)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Batcher) {
		b.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Batcher) {
		b.metrics = m
	}
}

// WithQueueSize sets the queue capacity when greater than zero.
func WithQueueSize(n int) Option {
	return func(b *Batcher) {
		if n > 0 {
			b.queue = make(chan models.Event, n)
		}
	}
}

// WithFlushInterval sets the flush interval when greater than zero.
func WithFlushInterval(d time.Duration) Option {
	return func(b *Batcher) {
		if d > 0 {
			b.flushInterval = d
		}
	}
}

// WithBatchSize sets the largest batch handed to the writer.
func WithBatchSize(n int) Option {
	return func(b *Batcher) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

func New(writer Writer, opts ...Option) *Batcher {
	b := &Batcher{
		writer:        writer,
		queue:         make(chan models.Event, 1024),
		logger:        slog.Default(),
		flushInterval: 2 * time.Second,
		batchSize:     100,
		flushTimeout:  5 * time.Second,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Enqueue queues ev for the next flush. It reports false when the event was
// dropped because the queue is full or the batcher has stopped.
func (b *Batcher) Enqueue(ev models.Event) bool {
	if b.stopped.Load() {
		b.metrics.AddActivityDropped("stopped", 1)
		return false
	}
	select {
	case b.queue <- ev:
		return true
	default:
		b.metrics.AddActivityDropped("queue_full", 1)
		return false
	}
}

// Start runs the flush loop until ctx is cancelled or Stop is called. Queued
// events are flushed before it returns.
func (b *Batcher) Start(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return nil
	}
	defer close(b.done)

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	buf := make([]*models.Event, 0, b.batchSize)
	flush := func(ctx context.Context) {
		if len(buf) == 0 {
			return
		}
		b.write(ctx, buf)
		buf = make([]*models.Event, 0, b.batchSize)
	}

	for {
		select {
		case ev := <-b.queue:
			buf = append(buf, &ev)
			if len(buf) >= b.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-ctx.Done():
			b.stopped.Store(true)
			b.drain(context.WithoutCancel(ctx), &buf, flush)
			return ctx.Err()
		case <-b.stop:
			b.drain(ctx, &buf, flush)
			return nil
		}
	}
}

// Stop ends the flush loop and waits for the final flush.
func (b *Batcher) Stop() {
	b.stopped.Store(true)
	b.stopOnce.Do(func() { close(b.stop) })
	if b.running.Load() {
		<-b.done
	}
}

func (b *Batcher) drain(ctx context.Context, buf *[]*models.Event, flush func(context.Context)) {
	ctx, cancel := context.WithTimeout(ctx, b.flushTimeout)
	defer cancel()
	for {
		select {
		case ev := <-b.queue:
			*buf = append(*buf, &ev)
			if len(*buf) >= b.batchSize {
				flush(ctx)
			}
		default:
			flush(ctx)
			return
		}
	}
}

func (b *Batcher) write(ctx context.Context, events []*models.Event) {
	models.Spread(events)
	n, err := b.writer.PutBatch(ctx, events)
	if err != nil {
		b.metrics.AddActivityDropped("store_error", len(events))
		b.logger.WarnContext(ctx, "activity flush failed", "error", err, "events", len(events))
		return
	}
	b.metrics.AddActivityIngested(n)
}
