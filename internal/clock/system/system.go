// Package system provides a real clock implementation.
package system

import "time"

// Clock implements crawler.Clock using the local wall clock. Run stamps in
// output file names are local time.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current local time.
func (Clock) Now() time.Time {
	return time.Now()
}
