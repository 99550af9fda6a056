// Package system provides the real clock behind the courtesy throttle and
// progress timestamps.
package system

import "time"

// Clock implements crawler.Clock.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the local time with its monotonic reading intact, so spacing
// computed from two readings ignores wall clock steps.
func (Clock) Now() time.Time {
	return time.Now()
}

// Stamp returns the current wall time in UTC for events and logs.
func (Clock) Stamp() time.Time {
	return time.Now().UTC()
}
