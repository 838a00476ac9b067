// Package clock provides the time source shared by the repositories and the
// security guard, so that tests can control time explicitly.
package clock

import "time"

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Func adapts a plain function to the Clock interface.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time {
	return f()
}

// Real is the wall clock.
var Real Clock = Func(time.Now)
