// internal/sync/scheduler.go
package sync

import "time"

// Timer is a cancelable pending callback.
type Timer interface {
	// Stop cancels the timer. It reports false when the callback already
	// fired or was stopped before.
	Stop() bool
}

// Scheduler schedules a callback after a delay. The coordinator takes it
// as a dependency so tests can drive debounce windows without wall-clock
// sleeps.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// NewScheduler returns the wall-clock Scheduler backed by time.AfterFunc.
func NewScheduler() Scheduler { return wallClock{} }

type wallClock struct{}

func (wallClock) AfterFunc(d time.Duration, fn func()) Timer {
	return wallTimer{t: time.AfterFunc(d, fn)}
}

type wallTimer struct{ t *time.Timer }

func (w wallTimer) Stop() bool { return w.t.Stop() }
