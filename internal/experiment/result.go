package experiment

import (
	"time"

	"github.com/clementpouget/DeepLabStream/internal/viz"
)

// Result is the outcome of one frame's evaluation.
type Result struct {
	// Matched reports whether a stimulus is active after this frame.
	Matched bool

	// Trial names the trial driving the stimulus, empty when none.
	Trial string

	// Response aggregates the visualization output of every condition
	// evaluated this frame.
	Response *viz.Response
}

// EventKind labels a controller lifecycle or trial transition.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventStopped   EventKind = "stopped"
	EventPromoted  EventKind = "promoted"
	EventDemoted   EventKind = "demoted"
	EventStimOn    EventKind = "stim_on"
	EventStimOff   EventKind = "stim_off"
	EventDelivered EventKind = "delivered"
	EventCollected EventKind = "collected"
	EventStage     EventKind = "stage"
)

// Event is one recorded controller transition.
type Event struct {
	// Time is stamped by the controller's clock.
	Time time.Time

	Kind EventKind

	// Trial names the trial involved, empty for lifecycle events.
	Trial string

	// Count is the repetition or interval counter after the transition.
	Count int

	// Frame is the frame sequence number that caused the transition,
	// zero when the transition did not come from a frame.
	Frame uint64

	// Detail carries a short free-form annotation, such as why a
	// stimulus interval ended.
	Detail string
}

// Recorder persists controller events. Implementations must return
// quickly; the controller logs and drops errors rather than stalling
// the frame loop.
type Recorder interface {
	Record(ev Event) error
}

// NopRecorder drops every event.
type NopRecorder struct{}

func (NopRecorder) Record(Event) error { return nil }
