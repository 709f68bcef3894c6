package testutil

import (
	"errors"
	"sync"
	"sync/atomic"

	dErrors "commandbridge/pkg/domain-errors"
	"commandbridge/pkg/platform/sentinel"
)

// ConcurrentResult buckets the outcomes of a RunConcurrent call.
type ConcurrentResult struct {
	Successes   int32
	Conflicts   int32
	NotFounds   int32
	Unavailable int32
	Errors      int32
}

// Total returns the number of calls made.
func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Conflicts + r.NotFounds + r.Unavailable + r.Errors
}

// RunConcurrent starts n goroutines, releases them together and classifies
// each result. Store sentinels and domain error codes land in the same
// bucket, so store and service tests read the same way.
func RunConcurrent(n int, fn func(idx int) error) *ConcurrentResult {
	var (
		wg      sync.WaitGroup
		buckets [5]atomic.Int32
	)
	start := make(chan struct{})

	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			buckets[classify(fn(i))].Add(1)
		}()
	}
	close(start)
	wg.Wait()

	return &ConcurrentResult{
		Successes:   buckets[bucketSuccess].Load(),
		Conflicts:   buckets[bucketConflict].Load(),
		NotFounds:   buckets[bucketNotFound].Load(),
		Unavailable: buckets[bucketUnavailable].Load(),
		Errors:      buckets[bucketError].Load(),
	}
}

const (
	bucketSuccess = iota
	bucketConflict
	bucketNotFound
	bucketUnavailable
	bucketError
)

func classify(err error) int {
	switch {
	case err == nil:
		return bucketSuccess
	case errors.Is(err, sentinel.ErrConflict), dErrors.HasCode(err, dErrors.CodeConflict):
		return bucketConflict
	case errors.Is(err, sentinel.ErrNotFound), dErrors.HasCode(err, dErrors.CodeNotFound):
		return bucketNotFound
	case dErrors.HasCode(err, dErrors.CodeUnavailable):
		return bucketUnavailable
	default:
		return bucketError
	}
}
