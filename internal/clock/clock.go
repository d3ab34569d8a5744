// Package clock provides the single monotonic "seconds since start"
// time source spec.md's Design Notes require: every component that
// stamps a timestamp (route freshness, HELLO round-trip, delay
// emulation) reads from one Clock per process instead of calendar time.
package clock

import "time"

// Clock measures elapsed seconds since it was created.
type Clock struct {
	start time.Time
}

// New returns a Clock whose zero point is now.
func New() *Clock {
	return &Clock{start: time.Now()}
}

// Now returns the elapsed seconds since the clock was created.
func (c *Clock) Now() float64 {
	return time.Since(c.start).Seconds()
}
