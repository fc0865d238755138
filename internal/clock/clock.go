// Package clock provides the monotonic uptime reading that drives heartbeats,
// peer liveness and the sync tie-break.
package clock

import (
	"sync"
	"time"
)

// Clock reports time elapsed since the node booted.
type Clock interface {
	Now() time.Duration
}

// Monotonic reads the runtime's monotonic clock relative to its creation.
type Monotonic struct {
	start time.Time
}

func NewMonotonic() *Monotonic {
	return &Monotonic{start: time.Now()}
}

func (m *Monotonic) Now() time.Duration {
	return time.Since(m.start)
}

// Manual is a test clock advanced explicitly.
type Manual struct {
	mu  sync.Mutex
	now time.Duration
}

func NewManual(start time.Duration) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Advance(d time.Duration) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += d
	return m.now
}

func (m *Manual) Set(now time.Duration) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Millis converts an uptime reading to the wire representation.
func Millis(d time.Duration) uint64 {
	if d < 0 {
		return 0
	}
	return uint64(d / time.Millisecond)
}
