package batcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"commandbridge/internal/activity/models"
	"commandbridge/internal/activity/store"
	"commandbridge/internal/platform/metrics"
	"commandbridge/pkg/domain"
	pkgtestutil "commandbridge/pkg/testutil"
)

type failingWriter struct {
	mu    sync.Mutex
	calls int
}

func (w *failingWriter) PutBatch(context.Context, []*models.Event) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	return 0, errors.New("table unavailable")
}

type BatcherSuite struct {
	suite.Suite
	store   *store.InMemory
	metrics *metrics.Metrics
	now     time.Time
}

func TestBatcherSuite(t *testing.T) {
	suite.Run(t, new(BatcherSuite))
}

func (s *BatcherSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.metrics = metrics.NewWithRegistry(prometheus.NewRegistry())
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *BatcherSuite) event(i int) models.Event {
	return models.NewEvent(domain.Email("operator@example.com"), models.EventKBView,
		map[string]any{"i": i}, s.now.Add(time.Duration(i)*time.Millisecond))
}

func (s *BatcherSuite) stored() int {
	events, err := s.store.Query(context.Background(), models.Filter{}, 0, nil)
	s.Require().NoError(err)
	return len(events)
}

func (s *BatcherSuite) TestStopFlushesQueuedEvents() {
	b := New(s.store, WithFlushInterval(time.Hour), WithMetrics(s.metrics), WithLogger(pkgtestutil.DiscardLogger()))
	errc := make(chan error, 1)
	go func() { errc <- b.Start(context.Background()) }()

	for i := range 10 {
		s.True(b.Enqueue(s.event(i)))
	}
	s.Eventually(func() bool { return len(b.queue) == 0 }, time.Second, 5*time.Millisecond)
	b.Stop()

	s.NoError(<-errc)
	s.Equal(10, s.stored())
	s.Equal(float64(10), testutil.ToFloat64(s.metrics.ActivityIngested))
}

func (s *BatcherSuite) TestSameMillisecondEventsAreKeptApart() {
	b := New(s.store, WithFlushInterval(time.Hour), WithLogger(pkgtestutil.DiscardLogger()))
	errc := make(chan error, 1)
	go func() { errc <- b.Start(context.Background()) }()

	operator := domain.Email("operator@example.com")
	engineer := domain.Email("engineer@example.com")
	for i, user := range []domain.Email{operator, operator, engineer, operator} {
		s.True(b.Enqueue(models.NewEvent(user, models.EventKBView, map[string]any{"i": i}, s.now)))
	}
	s.Eventually(func() bool { return len(b.queue) == 0 }, time.Second, 5*time.Millisecond)
	b.Stop()
	s.NoError(<-errc)

	ops, err := s.store.Query(context.Background(), models.Filter{User: operator}, 0, nil)
	s.Require().NoError(err)
	s.Require().Len(ops, 3)
	base := s.now.UnixMilli()
	s.Equal([]int64{base + 2, base + 1, base}, []int64{ops[0].Timestamp, ops[1].Timestamp, ops[2].Timestamp})

	engs, err := s.store.Query(context.Background(), models.Filter{User: engineer}, 0, nil)
	s.Require().NoError(err)
	s.Require().Len(engs, 1)
	s.Equal(base, engs[0].Timestamp)
}

func (s *BatcherSuite) TestFlushesOnInterval() {
	b := New(s.store, WithFlushInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Start(ctx) }()

	s.True(b.Enqueue(s.event(1)))
	s.Eventually(func() bool { return s.stored() == 1 }, time.Second, 5*time.Millisecond)
}

func (s *BatcherSuite) TestFullBatchFlushesImmediately() {
	b := New(s.store, WithFlushInterval(time.Hour), WithBatchSize(5))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Start(ctx) }()

	for i := range 5 {
		b.Enqueue(s.event(i))
	}
	s.Eventually(func() bool { return s.stored() == 5 }, time.Second, 5*time.Millisecond)
}

func (s *BatcherSuite) TestEnqueueDropsWhenFull() {
	b := New(s.store, WithQueueSize(2), WithMetrics(s.metrics))

	s.True(b.Enqueue(s.event(1)))
	s.True(b.Enqueue(s.event(2)))
	s.False(b.Enqueue(s.event(3)))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.ActivityDropped.WithLabelValues("queue_full")))
}

func (s *BatcherSuite) TestEnqueueAfterStopIsDropped() {
	b := New(s.store, WithMetrics(s.metrics))
	b.Stop()

	s.False(b.Enqueue(s.event(1)))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.ActivityDropped.WithLabelValues("stopped")))
}

func (s *BatcherSuite) TestContextCancelDrains() {
	b := New(s.store, WithFlushInterval(time.Hour))
	for i := range 3 {
		b.Enqueue(s.event(i))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Start(ctx)

	s.ErrorIs(err, context.Canceled)
	s.Equal(3, s.stored())
}

func (s *BatcherSuite) TestWriterErrorsAreCounted() {
	w := &failingWriter{}
	b := New(w, WithFlushInterval(time.Hour), WithMetrics(s.metrics), WithLogger(pkgtestutil.DiscardLogger()))
	for i := range 4 {
		b.Enqueue(s.event(i))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = b.Start(ctx)

	s.Equal(1, w.calls)
	s.Equal(float64(4), testutil.ToFloat64(s.metrics.ActivityDropped.WithLabelValues("store_error")))
}
