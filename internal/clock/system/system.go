// Package system provides a real clock implementation.
package system

import "time"

// Clock implements bot.Clock using time.Now. Lease stamps and delay
// comparisons all flow through one clock so tests can substitute it.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
