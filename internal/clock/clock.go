// Package clock provides the time sources used for record stamping and
// queue ordering.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock reports the current wall-clock time.
type Clock interface {
	Now() time.Time
}

// System is the real wall clock.
type System struct{}

// Now returns time.Now in UTC.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Stamper hands out strictly increasing nanosecond timestamps derived
// from a Clock. If the clock stalls or steps backwards the stamper keeps
// counting from its last value, so no two stamps are ever equal.
//
// Stamper is safe for concurrent use.
type Stamper struct {
	clock Clock
	last  atomic.Int64
}

// NewStamper creates a stamper over c.
func NewStamper(c Clock) *Stamper {
	return &Stamper{clock: c}
}

// Next returns the next timestamp in Unix nanoseconds.
func (s *Stamper) Next() int64 {
	now := s.clock.Now().UnixNano()
	for {
		prev := s.last.Load()
		next := now
		if next <= prev {
			next = prev + 1
		}
		if s.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// Current returns the last stamp handed out, or 0.
func (s *Stamper) Current() int64 {
	return s.last.Load()
}
