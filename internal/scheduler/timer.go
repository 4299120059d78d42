package scheduler

import (
	"time"
)

// TimerHandle is a single armed timer. Stop prevents the callback from
// firing; stopping an already-fired timer is harmless.
type TimerHandle interface {
	Stop() bool
}

// TimerFactory arms one-shot timers. The production implementation
// wraps time.AfterFunc; tests substitute a manual factory to fire
// timers deterministically.
type TimerFactory interface {
	AfterFunc(d time.Duration, fn func()) TimerHandle
}

// RealTimerFactory arms timers on the runtime clock.
type RealTimerFactory struct{}

func (RealTimerFactory) AfterFunc(d time.Duration, fn func()) TimerHandle {
	return time.AfterFunc(d, fn)
}
