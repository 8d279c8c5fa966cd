package experiment

import (
	"time"

	"github.com/clementpouget/DeepLabStream/internal/timeutil"
)

// Timer is a restartable countdown owned by a single controller. It is
// polled from the frame loop; nothing fires asynchronously and nothing
// locks. A timer that was never started is neither running nor expired.
// A zero-duration timer expires the instant it starts.
type Timer struct {
	clock    timeutil.Clock
	duration time.Duration
	startAt  time.Time
	started  bool
}

// NewTimer returns an unstarted timer with the given duration. A nil
// clock falls back to the real one.
func NewTimer(clock timeutil.Clock, duration time.Duration) *Timer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Timer{clock: clock, duration: duration}
}

// Start records now as the reference point. Starting a timer that is
// already running simply moves the reference point forward.
func (t *Timer) Start() {
	t.startAt = t.clock.Now()
	t.started = true
}

// Reset restarts the countdown from now. It is the same operation as
// Start under the name call sites use when rewinding a live timer.
func (t *Timer) Reset() {
	t.Start()
}

// Running reports whether the timer was started and its duration has
// not yet elapsed.
func (t *Timer) Running() bool {
	return t.started && t.clock.Since(t.startAt) < t.duration
}

// Expired reports whether the timer was started and its duration has
// fully elapsed.
func (t *Timer) Expired() bool {
	return t.started && t.clock.Since(t.startAt) >= t.duration
}

// Started reports whether Start was ever called.
func (t *Timer) Started() bool {
	return t.started
}

// Elapsed returns the time since the last Start, zero if never started.
func (t *Timer) Elapsed() time.Duration {
	if !t.started {
		return 0
	}
	return t.clock.Since(t.startAt)
}

// Duration returns the configured countdown length.
func (t *Timer) Duration() time.Duration {
	return t.duration
}
