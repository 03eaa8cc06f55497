// Package window provides a fixed-capacity rolling window of event timestamps.
// This package is internal and should not be imported by external projects.
package window

import (
	"sync"
	"time"
)

// Ring keeps the most recent N event timestamps, discarding the oldest as new
// ones arrive. The instantaneous rate is always recomputed from the raw
// timestamps rather than maintained incrementally.
type Ring struct {
	mu  sync.Mutex
	buf []time.Time
	max int
}

// New creates a ring holding at most capacity timestamps.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{
		buf: make([]time.Time, 0, capacity),
		max: capacity,
	}
}

// Record appends an event timestamp, evicting the oldest when full.
func (r *Ring) Record(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buf) >= r.max {
		copy(r.buf, r.buf[1:])
		r.buf = r.buf[:len(r.buf)-1]
	}
	r.buf = append(r.buf, t)
}

// Rate estimates events per second across the window.
// Returns 0 when fewer than two samples exist.
func (r *Ring) Rate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buf) < 2 {
		return 0
	}
	span := r.buf[len(r.buf)-1].Sub(r.buf[0]).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(len(r.buf)-1) / span
}

// Len returns the number of recorded samples.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Reset discards all samples.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = r.buf[:0]
}
