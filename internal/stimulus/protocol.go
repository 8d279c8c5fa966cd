package stimulus

import (
	"fmt"
	"time"

	"github.com/clementpouget/DeepLabStream/internal/timeutil"
)

// PulseProtocol delivers a trial as a fixed-width actuator pulse. The
// reward controller drives every method from the frame loop, one
// goroutine, so no locking: SetTrial switches the actuator on, Busy
// reports the pulse in flight and switches it off once the width has
// elapsed, and Result hands each finished delivery back exactly once.
type PulseProtocol struct {
	actuator Switcher
	clock    timeutil.Clock
	width    time.Duration

	// deadline is zero when no pulse is in flight.
	deadline time.Time
	trial    string
	done     string
}

// NewPulseProtocol creates a delivery protocol pulsing the actuator for
// the given width. A nil clock defaults to the real one.
func NewPulseProtocol(actuator Switcher, width time.Duration, clock timeutil.Clock) (*PulseProtocol, error) {
	if actuator == nil {
		return nil, fmt.Errorf("pulse protocol needs an actuator")
	}
	if width <= 0 {
		return nil, fmt.Errorf("pulse width must be positive, got %v", width)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &PulseProtocol{actuator: actuator, clock: clock, width: width}, nil
}

// Start forces the actuator into a known off state.
func (p *PulseProtocol) Start() {
	if err := p.actuator.Off(); err != nil {
		Diagf("pulse protocol: failed to reset actuator: %v", err)
	}
}

// End aborts any pulse in flight and leaves the actuator off.
func (p *PulseProtocol) End() {
	p.deadline = time.Time{}
	p.trial = ""
	p.done = ""
	if err := p.actuator.Off(); err != nil {
		Diagf("pulse protocol: failed to switch actuator off: %v", err)
	}
}

// SetTrial begins delivering the named trial. It refuses while a pulse
// is in flight or a finished delivery awaits collection through Result.
func (p *PulseProtocol) SetTrial(trial string) bool {
	if !p.deadline.IsZero() || p.done != "" {
		return false
	}
	if err := p.actuator.On(); err != nil {
		Diagf("pulse protocol: failed to switch actuator on: %v", err)
		return false
	}
	p.trial = trial
	p.deadline = p.clock.Now().Add(p.width)
	Tracef("pulse protocol: %s pulse started (%v)", trial, p.width)
	return true
}

// Busy reports whether a pulse is in flight, ending it when its width
// has elapsed.
func (p *PulseProtocol) Busy() bool {
	if p.deadline.IsZero() {
		return false
	}
	if p.clock.Now().Before(p.deadline) {
		return true
	}
	if err := p.actuator.Off(); err != nil {
		Diagf("pulse protocol: failed to switch actuator off: %v", err)
	}
	p.done = p.trial
	p.trial = ""
	p.deadline = time.Time{}
	return false
}

// Result hands back the finished delivery, once.
func (p *PulseProtocol) Result() (string, bool) {
	if p.done == "" {
		return "", false
	}
	trial := p.done
	p.done = ""
	return trial, true
}
