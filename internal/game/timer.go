package game

import (
	"time"

	"github.com/coder/quartz"
)

// Timer is a level-triggered deadline. It never fires on its own; the engine
// polls Expired and Running on every tick.
type Timer struct {
	clock    quartz.Clock
	deadline time.Time
	running  bool
}

// NewTimer returns a stopped timer on clock.
func NewTimer(clock quartz.Clock) *Timer {
	return &Timer{clock: clock}
}

// Arm (re)starts the timer to expire d from now.
func (t *Timer) Arm(d time.Duration) {
	t.deadline = t.clock.Now().Add(d)
	t.running = true
}

// Stop cancels the timer.
func (t *Timer) Stop() {
	t.running = false
}

// Running reports whether the timer is armed.
func (t *Timer) Running() bool {
	return t.running
}

// Expired reports whether an armed timer has reached its deadline.
func (t *Timer) Expired() bool {
	return t.running && !t.clock.Now().Before(t.deadline)
}

// Deadline returns when the timer expires, or the zero time if stopped.
func (t *Timer) Deadline() time.Time {
	if !t.running {
		return time.Time{}
	}
	return t.deadline
}

