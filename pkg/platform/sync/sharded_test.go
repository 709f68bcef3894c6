package sync

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardedMutexSerialisesSameKey(t *testing.T) {
	m := NewShardedMutex()
	counter := 0

	var wg sync.WaitGroup
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithLock("runbook-cache", func() error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, counter)
}

func TestShardedMutexDistinctKeys(t *testing.T) {
	m := NewShardedMutex()

	var wg sync.WaitGroup
	for i := range 64 {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			m.Lock(key)
			m.Unlock(key)
		}(fmt.Sprintf("article-%d", i))
	}
	wg.Wait()
}

func TestWithLockPropagatesError(t *testing.T) {
	m := NewShardedMutex()
	want := errors.New("conflict")

	got := m.WithLock("k", func() error { return want })

	assert.ErrorIs(t, got, want)
	m.Lock("k")
	m.Unlock("k")
}

func TestShardForIsStable(t *testing.T) {
	assert.Equal(t, 0, shardFor(""))
	assert.Equal(t, shardFor("deploy-rollback"), shardFor("deploy-rollback"))
	assert.Less(t, shardFor("x"), shardCount)
}
