// Package clock abstracts wall-clock time so that cooldowns and due dates
// can be driven deterministically in tests.
package clock

import "time"

// Clock reports the current time.
//
// Implementations must be safe for concurrent use.
type Clock interface {
	Now() time.Time
}

// System is the real wall clock.
type System struct{}

// Now returns time.Now in UTC.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Func adapts a function to the Clock interface.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time {
	return f()
}
