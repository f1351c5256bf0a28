// Package system provides the wall-clock implementation of crawler.Clock.
package system

import "time"

// Clock reports real time in UTC. The fetch engine and stores take a Clock
// so tests can substitute a deterministic one.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
