// Package system provides the wall-clock hunter.Clock used outside of
// tests. History stamps, lock staleness, and queue timestamps all derive
// from it, always in UTC.
package system

import "time"

// Clock reads real time in UTC.
type Clock struct{}

// New returns the process-wide clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC instant.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
