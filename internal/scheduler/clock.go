package scheduler

import (
	"time"

	"github.com/google/uuid"
)

// Clock is the timer facility the scheduler relies on.
type Clock interface {
	Now() time.Time
	// AfterFunc runs f on its own goroutine once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the cancellation token of a scheduled callback.
type Timer interface {
	// Stop prevents the callback from running. It reports false when the
	// callback already started or the timer was stopped before.
	Stop() bool
}

type systemClock struct{}

// SystemClock returns a Clock backed by package time.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Session identifies the time origin of os_session_duration.
type Session struct {
	ID    string
	Start time.Time
}

func newSession(clock Clock) Session {
	return Session{ID: uuid.NewString(), Start: clock.Now()}
}
