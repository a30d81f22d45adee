package sdcard

import "time"

// Clock is the time source for timeouts and delays.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock returns the Clock backed by package time.
func SystemClock() Clock {
	return systemClock{}
}

// deadline tracks a wall clock bound started at creation.
type deadline struct {
	clock Clock
	end   time.Time
}

func newDeadline(c Clock, d time.Duration) deadline {
	return deadline{clock: c, end: c.Now().Add(d)}
}

func (d deadline) expired() bool {
	return !d.clock.Now().Before(d.end)
}
