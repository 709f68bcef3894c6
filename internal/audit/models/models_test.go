package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonthBucket(t *testing.T) {
	ts := time.Date(2026, 2, 28, 23, 30, 0, 0, time.FixedZone("X", -2*3600))
	assert.Equal(t, "2026-03", MonthBucket(ts))
}

func TestFilterMatches(t *testing.T) {
	ts := time.Date(2026, 2, 12, 10, 0, 0, 0, time.UTC)
	rec := &Record{UserEmail: "a@example.com", ActionID: "purge-cache", Result: ResultSuccess, Timestamp: ts}

	assert.True(t, Filter{}.Matches(rec))
	assert.True(t, Filter{User: "a@example.com"}.Matches(rec))
	assert.False(t, Filter{User: "b@example.com"}.Matches(rec))
	assert.False(t, Filter{Action: "restart-pods"}.Matches(rec))
	assert.False(t, Filter{Result: ResultDenied}.Matches(rec))
	assert.True(t, Filter{From: ts, To: ts.Add(time.Hour)}.Matches(rec))
	assert.False(t, Filter{To: ts}.Matches(rec))
	assert.False(t, Filter{From: ts.Add(time.Second)}.Matches(rec))
}

func TestCloneDetachesDetail(t *testing.T) {
	rec := &Record{Detail: map[string]any{"k": "v"}}
	cp := rec.Clone()
	cp.Detail["k"] = "changed"
	assert.Equal(t, "v", rec.Detail["k"])
}
