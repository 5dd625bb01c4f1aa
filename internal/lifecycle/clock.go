package lifecycle

import "time"

// Timer is the cancellable handle of one scheduled refresh.
type Timer interface {
	Stop() bool
}

// Clock abstracts time for the refresh scheduler so tests can drive it with
// a fake implementation.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

type realClock struct{}

// NewClock returns the wall clock.
func NewClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
