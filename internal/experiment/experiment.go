// Package experiment holds the closed-loop controllers that decide,
// frame by frame, whether an animal's behavior should trigger a
// stimulus. A controller owns its timers and counters outright and is
// driven by exactly one goroutine: the frame loop calls CheckSkeleton
// once per tracked frame, and every state transition happens inside
// that call. Hardware, persistence and classification are injected as
// small interfaces so the state machines stay testable against mocks.
package experiment

import (
	"time"

	"github.com/clementpouget/DeepLabStream/internal/pose"
)

// Experiment is the frame driver's view of any controller in this
// package.
type Experiment interface {
	// StartExperiment moves the controller from Idle to Running.
	StartExperiment()

	// StopExperiment finishes the experiment and shuts the stimulus
	// off. It is safe to call at any time, repeatedly.
	StopExperiment()

	// CheckSkeleton runs one frame through the state machine.
	CheckSkeleton(f pose.Frame) Result

	// State reports the lifecycle phase.
	State() State

	// Status snapshots the controller for monitoring. The snapshot is
	// safe to hand to other goroutines.
	Status() Status
}

// State is the controller lifecycle phase.
type State int

const (
	// Idle is the phase before StartExperiment.
	Idle State = iota

	// Running is the per-frame evaluation phase.
	Running

	// Finished is terminal. A finished controller never evaluates
	// frames again.
	Finished
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Status is a point-in-time controller snapshot for monitoring and
// session reports.
type Status struct {
	Name string `json:"name"`

	State string `json:"state"`

	// Trial is the trial currently driving the stimulus, empty when
	// none.
	Trial string `json:"trial,omitempty"`

	// Counts maps trial names to repetition counters.
	Counts map[string]int `json:"counts"`

	// Stage is the 1-based stage index of a staged experiment, zero
	// otherwise.
	Stage int `json:"stage,omitempty"`

	// Elapsed is how long the experiment has been running.
	Elapsed time.Duration `json:"elapsed"`

	// StimTime is cumulative stimulation time where the controller
	// tracks one, including any interval in flight.
	StimTime time.Duration `json:"stim_time,omitempty"`
}
