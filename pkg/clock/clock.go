// Package clock lets retry loops wait on time without calling the time
// package directly, so tests can drive them with a fake.
package clock

import "time"

// Clock is the subset of time operations the manager's loops use.
type Clock interface {
	Now() time.Time
	// After behaves like time.After. Fake clocks fire it on Advance.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
