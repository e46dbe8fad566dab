package limiter

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Memory is an in-process sliding-window counter.
type Memory struct {
	mu     sync.Mutex
	window time.Duration
	events map[string][]time.Time
}

// NewMemory constructs an in-memory limiter.
func NewMemory(window time.Duration) *Memory {
	return &Memory{window: window, events: make(map[string][]time.Time)}
}

// Hit implements Limiter.
func (m *Memory) Hit(_ context.Context, key []byte, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := string(key)
	cutoff := now.Add(-m.window)
	kept := slices.DeleteFunc(m.events[k], func(at time.Time) bool { return !at.After(cutoff) })
	kept = append(kept, now)
	m.events[k] = kept
	return len(kept), nil
}

// Clone returns an independent copy, used to roll back uncommitted hits.
func (m *Memory) Clone() *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &Memory{window: m.window, events: make(map[string][]time.Time, len(m.events))}
	for k, v := range m.events {
		c.events[k] = slices.Clone(v)
	}
	return c
}
