package engine

import "time"

// Timer is a stoppable pending timer.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so tests can drive debounce deterministically.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
	Now() time.Time
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
func (systemClock) Now() time.Time                            { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }
