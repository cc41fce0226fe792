// Package system provides a real clock implementation.
package system

import "time"

// Clock implements harvest.Clock using time.Now. Period planning works on
// calendar days, so timestamps are normalized to UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
