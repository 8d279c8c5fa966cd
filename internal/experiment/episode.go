package experiment

import (
	"fmt"
	"time"

	"github.com/clementpouget/DeepLabStream/internal/pose"
	"github.com/clementpouget/DeepLabStream/internal/timeutil"
	"github.com/clementpouget/DeepLabStream/internal/viz"
)

// EpisodeConfig assembles a single-stimulus episode controller.
type EpisodeConfig struct {
	// Name labels the experiment in logs and recorded sessions.
	Name string

	// Trial names the stimulus interval in events and sink commands.
	// Defaults to Name.
	Trial string

	// Condition gates the stimulus each frame. Required.
	Condition Condition

	// Duration caps the experiment's wall-clock time. Zero means
	// unlimited.
	Duration time.Duration

	// MinOn keeps the stimulus on for at least this long once started,
	// even if the condition drops. Zero turns the stimulus off with
	// the condition.
	MinOn time.Duration

	// MaxOn forces the stimulus off after this long regardless of the
	// condition. Zero means unlimited.
	MaxOn time.Duration

	// Intertrial is the pause after each interval before a new one may
	// start.
	Intertrial time.Duration

	// TotalCap finishes the experiment once cumulative stimulation
	// reaches it, truncating any interval in flight. Zero means
	// unlimited.
	TotalCap time.Duration

	// Sink receives the stimulus state every frame. Optional.
	Sink Sink

	// Recorder receives lifecycle and interval events. Optional.
	Recorder Recorder

	// Clock defaults to the real clock.
	Clock timeutil.Clock
}

// EpisodeController gates one continuous ON/OFF stimulus behind a
// boolean condition, enforcing four independent budgets at once:
// experiment wall clock, minimum and maximum time per interval, and a
// lifetime stimulation cap. It drives optogenetic protocols where a
// laser follows the animal's head direction or immobility.
type EpisodeController struct {
	cfg   EpisodeConfig
	clock timeutil.Clock

	state      State
	on         bool
	onSince    time.Time
	intertrial *Timer
	expTimer   *Timer
	total      time.Duration
	intervals  []time.Duration
	startedAt  time.Time
	stoppedAt  time.Time
}

// NewEpisodeController validates the configuration and returns an Idle
// controller.
func NewEpisodeController(cfg EpisodeConfig) (*EpisodeController, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("experiment: name required")
	}
	if cfg.Condition == nil {
		return nil, fmt.Errorf("experiment %s: condition required", cfg.Name)
	}
	if cfg.Duration < 0 || cfg.MinOn < 0 || cfg.MaxOn < 0 || cfg.Intertrial < 0 || cfg.TotalCap < 0 {
		return nil, fmt.Errorf("experiment %s: negative timing budget", cfg.Name)
	}
	if cfg.MaxOn > 0 && cfg.MinOn > cfg.MaxOn {
		return nil, fmt.Errorf("experiment %s: min on-time %v exceeds max on-time %v", cfg.Name, cfg.MinOn, cfg.MaxOn)
	}
	if cfg.Trial == "" {
		cfg.Trial = cfg.Name
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &EpisodeController{
		cfg:        cfg,
		clock:      clock,
		intertrial: NewTimer(clock, cfg.Intertrial),
	}, nil
}

// StartExperiment moves the controller to Running and commands the
// sink off once so the actuator starts from a known state.
func (e *EpisodeController) StartExperiment() {
	if e.state != Idle {
		return
	}
	e.state = Running
	e.startedAt = e.clock.Now()
	if e.cfg.Duration > 0 {
		e.expTimer = NewTimer(e.clock, e.cfg.Duration)
		e.expTimer.Start()
	}
	e.deactivate()
	e.record(Event{Kind: EventStarted})
	Opsf("%s: experiment started", e.cfg.Name)
}

// StopExperiment finishes the experiment, closing out any interval in
// flight. It always commands the sink off, even when called repeatedly
// or before the experiment started.
func (e *EpisodeController) StopExperiment() {
	if e.state != Finished {
		if e.on {
			e.turnOff(0, "experiment stopped")
		}
		e.state = Finished
		e.stoppedAt = e.clock.Now()
		e.record(Event{Kind: EventStopped})
		Opsf("%s: experiment finished, %d intervals, %v stimulation",
			e.cfg.Name, len(e.intervals), e.total)
	}
	e.deactivate()
}

// CheckSkeleton runs one frame through the gate. Frames arriving while
// not Running are ignored.
func (e *EpisodeController) CheckSkeleton(f pose.Frame) Result {
	if e.state != Running {
		return Result{Response: viz.New()}
	}
	if e.expTimer != nil && e.expTimer.Expired() {
		Opsf("%s: experiment time over", e.cfg.Name)
		e.StopExperiment()
		return Result{Response: viz.New()}
	}
	if e.cfg.TotalCap > 0 && e.total+e.onFor() >= e.cfg.TotalCap {
		Opsf("%s: stimulation budget spent", e.cfg.Name)
		e.StopExperiment()
		return Result{Response: viz.New()}
	}

	matched, resp := e.cfg.Condition(f.Skeletons)
	if resp == nil {
		resp = viz.New()
	}

	if e.on {
		onFor := e.onFor()
		if e.cfg.MaxOn > 0 && onFor >= e.cfg.MaxOn {
			e.turnOff(f.Seq, "max on-time reached")
		} else if !matched && onFor >= e.cfg.MinOn {
			e.turnOff(f.Seq, "condition lost")
		}
	} else if matched && !e.intertrial.Running() {
		e.turnOn(f.Seq)
	}

	e.forward()
	resp.Active = e.on
	trial := ""
	if e.on {
		trial = e.cfg.Trial
	}
	return Result{Matched: e.on, Trial: trial, Response: resp}
}

// State reports the lifecycle phase.
func (e *EpisodeController) State() State {
	return e.state
}

// Name returns the experiment name.
func (e *EpisodeController) Name() string {
	return e.cfg.Name
}

// StimActive reports whether the stimulus is on right now.
func (e *EpisodeController) StimActive() bool {
	return e.on
}

// StimTotal returns cumulative stimulation time including any interval
// in flight.
func (e *EpisodeController) StimTotal() time.Duration {
	return e.total + e.onFor()
}

// Intervals returns a copy of the completed interval lengths.
func (e *EpisodeController) Intervals() []time.Duration {
	out := make([]time.Duration, len(e.intervals))
	copy(out, e.intervals)
	return out
}

// Elapsed returns how long the experiment has been running, frozen
// once it finishes.
func (e *EpisodeController) Elapsed() time.Duration {
	switch {
	case e.startedAt.IsZero():
		return 0
	case e.state == Running:
		return e.clock.Since(e.startedAt)
	default:
		return e.stoppedAt.Sub(e.startedAt)
	}
}

// Status snapshots the controller for monitoring.
func (e *EpisodeController) Status() Status {
	trial := ""
	if e.on {
		trial = e.cfg.Trial
	}
	return Status{
		Name:     e.cfg.Name,
		State:    e.state.String(),
		Trial:    trial,
		Counts:   map[string]int{e.cfg.Trial: len(e.intervals)},
		Elapsed:  e.Elapsed(),
		StimTime: e.StimTotal(),
	}
}

// onFor returns how long the current interval has been running, zero
// when the stimulus is off.
func (e *EpisodeController) onFor() time.Duration {
	if !e.on {
		return 0
	}
	return e.clock.Since(e.onSince)
}

func (e *EpisodeController) turnOn(frame uint64) {
	e.on = true
	e.onSince = e.clock.Now()
	e.record(Event{Kind: EventStimOn, Trial: e.cfg.Trial, Count: len(e.intervals) + 1, Frame: frame})
	Opsf("%s: stimulation on", e.cfg.Name)
}

func (e *EpisodeController) turnOff(frame uint64, why string) {
	interval := e.clock.Since(e.onSince)
	e.on = false
	e.total += interval
	e.intervals = append(e.intervals, interval)
	e.intertrial.Start()
	e.record(Event{Kind: EventStimOff, Trial: e.cfg.Trial, Count: len(e.intervals), Frame: frame, Detail: why})
	Opsf("%s: stimulation off after %v (%s), %v total", e.cfg.Name, interval, why, e.total)
}

func (e *EpisodeController) forward() {
	if e.cfg.Sink == nil {
		return
	}
	var err error
	if e.on {
		err = e.cfg.Sink.Activate(e.cfg.Trial)
	} else {
		err = e.cfg.Sink.Deactivate()
	}
	if err != nil {
		Diagf("%s: stimulus: %v", e.cfg.Name, err)
	}
}

func (e *EpisodeController) deactivate() {
	if e.cfg.Sink == nil {
		return
	}
	if err := e.cfg.Sink.Deactivate(); err != nil {
		Diagf("%s: stimulus deactivate: %v", e.cfg.Name, err)
	}
}

func (e *EpisodeController) record(ev Event) {
	if e.cfg.Recorder == nil {
		return
	}
	ev.Time = e.clock.Now()
	if err := e.cfg.Recorder.Record(ev); err != nil {
		Diagf("%s: record %s: %v", e.cfg.Name, ev.Kind, err)
	}
}
