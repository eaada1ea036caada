package tutor

import "time"

// Clock schedules delayed callbacks. The session uses it for the short pauses
// between turns; tests substitute a manual implementation so they never
// sleep.
type Clock interface {
	// AfterFunc runs fn after d on its own goroutine and returns a cancel
	// function. Cancelling after fn has started is a no-op.
	AfterFunc(d time.Duration, fn func()) (cancel func())
}

type realClock struct{}

// NewClock returns a Clock backed by [time.AfterFunc].
func NewClock() Clock {
	return realClock{}
}

func (realClock) AfterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}
