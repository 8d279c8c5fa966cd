package experiment

import (
	"fmt"
	"time"

	"github.com/clementpouget/DeepLabStream/internal/pose"
	"github.com/clementpouget/DeepLabStream/internal/timeutil"
	"github.com/clementpouget/DeepLabStream/internal/viz"
)

// CompletionPolicy decides when repetition caps finish an experiment.
type CompletionPolicy int

const (
	// StopOnAnyCap finishes the experiment as soon as any capped trial
	// reaches its repetition cap.
	StopOnAnyCap CompletionPolicy = iota

	// StopOnAllCaps finishes once every capped trial has reached its
	// cap. With no capped trials the experiment never completes on
	// counts.
	StopOnAllCaps
)

// Sink is the stimulus actuator a controller drives. The controller
// repeats the resolved command every frame, so both calls must be
// idempotent.
type Sink interface {
	Activate(trial string) error
	Deactivate() error
}

// Workers is an asynchronous collaborator whose lifetime brackets the
// experiment, such as a classifier pool.
type Workers interface {
	Start()
	End()
}

// ControllerConfig assembles a trial-table controller.
type ControllerConfig struct {
	// Name labels the experiment in logs and recorded sessions.
	Name string

	// Table is the ordered trial set. Required.
	Table *Table

	// Duration caps the experiment's wall-clock time. Zero means
	// unlimited.
	Duration time.Duration

	// Completion picks the repetition-cap policy.
	Completion CompletionPolicy

	// Sink receives the resolved trial every frame. Optional.
	Sink Sink

	// Workers is started and ended with the experiment. Optional.
	Workers Workers

	// Recorder receives lifecycle and transition events. Optional.
	Recorder Recorder

	// Clock defaults to the real clock.
	Clock timeutil.Clock
}

// Controller runs the per-frame trial state machine: evaluate every
// condition in table order, keep at most one trial current, debounce
// re-entry with per-trial cooldowns, stop on the experiment timer or a
// repetition cap, and forward the resolved trial to the sink every
// frame.
type Controller struct {
	cfg   ControllerConfig
	clock timeutil.Clock

	state     State
	current   string
	counts    map[string]int
	cooldowns map[string]*Timer
	expTimer  *Timer
	startedAt time.Time
	stoppedAt time.Time
}

// NewController validates the configuration and returns an Idle
// controller.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("experiment: name required")
	}
	if cfg.Table == nil || cfg.Table.Len() == 0 {
		return nil, fmt.Errorf("experiment %s: trial table required", cfg.Name)
	}
	if cfg.Duration < 0 {
		return nil, fmt.Errorf("experiment %s: negative duration", cfg.Name)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	c := &Controller{
		cfg:       cfg,
		clock:     clock,
		counts:    make(map[string]int, cfg.Table.Len()),
		cooldowns: make(map[string]*Timer, cfg.Table.Len()),
	}
	if cfg.Duration > 0 {
		c.expTimer = NewTimer(clock, cfg.Duration)
	}
	for _, tr := range cfg.Table.Trials() {
		c.counts[tr.Name] = 0
		c.cooldowns[tr.Name] = NewTimer(clock, tr.Cooldown)
	}
	return c, nil
}

// StartExperiment moves the controller to Running, starting the
// experiment timer and the workers. Calling it again, or after the
// experiment finished, does nothing.
func (c *Controller) StartExperiment() {
	if c.state != Idle {
		return
	}
	c.state = Running
	c.startedAt = c.clock.Now()
	if c.expTimer != nil {
		c.expTimer.Start()
	}
	if c.cfg.Workers != nil {
		c.cfg.Workers.Start()
	}
	c.record(Event{Kind: EventStarted})
	Opsf("%s: experiment started", c.cfg.Name)
}

// StopExperiment finishes the experiment and ends the workers. It
// always commands the sink off, even when called repeatedly or before
// the experiment started: no actuator may stay live past this call.
func (c *Controller) StopExperiment() {
	if c.state != Finished {
		c.state = Finished
		c.stoppedAt = c.clock.Now()
		c.current = ""
		if c.cfg.Workers != nil {
			c.cfg.Workers.End()
		}
		c.record(Event{Kind: EventStopped})
		Opsf("%s: experiment finished", c.cfg.Name)
	}
	c.deactivate()
}

// CheckSkeleton runs one frame through the state machine and reports
// the trial in effect afterwards. Frames arriving while not Running
// are ignored.
func (c *Controller) CheckSkeleton(f pose.Frame) Result {
	if c.state != Running {
		return Result{Response: viz.New()}
	}
	if c.expTimer != nil && c.expTimer.Expired() {
		Opsf("%s: experiment time over", c.cfg.Name)
		c.StopExperiment()
		return Result{Response: viz.New()}
	}
	if c.capsReached() {
		Opsf("%s: repetition caps reached", c.cfg.Name)
		c.StopExperiment()
		return Result{Response: viz.New()}
	}

	resp := viz.New()
	for _, tr := range c.cfg.Table.Trials() {
		matched, r := tr.Condition(f.Skeletons)
		resp.Merge(r)
		if matched {
			if c.current == "" && !c.cooldowns[tr.Name].Running() {
				c.current = tr.Name
				c.cooldowns[tr.Name].Reset()
				c.counts[tr.Name]++
				c.record(Event{Kind: EventPromoted, Trial: tr.Name, Count: c.counts[tr.Name], Frame: f.Seq})
				Opsf("%s: trial %s, rep %d", c.cfg.Name, tr.Name, c.counts[tr.Name])
			}
		} else if c.current == tr.Name {
			c.current = ""
			c.cooldowns[tr.Name].Start()
			c.record(Event{Kind: EventDemoted, Trial: tr.Name, Count: c.counts[tr.Name], Frame: f.Seq})
			Tracef("%s: trial %s over", c.cfg.Name, tr.Name)
		}
	}

	c.forward()
	resp.Active = c.current != ""
	return Result{Matched: c.current != "", Trial: c.current, Response: resp}
}

// SetTable swaps the active trial table. Counters and cooldowns of
// trial names the controller has already seen survive the swap, new
// names get fresh ones, and a current trial absent from the new table
// is dropped.
func (c *Controller) SetTable(t *Table) error {
	if t == nil || t.Len() == 0 {
		return fmt.Errorf("experiment %s: empty trial table", c.cfg.Name)
	}
	c.cfg.Table = t
	keep := false
	for _, tr := range t.Trials() {
		if _, ok := c.counts[tr.Name]; !ok {
			c.counts[tr.Name] = 0
		}
		if _, ok := c.cooldowns[tr.Name]; !ok {
			c.cooldowns[tr.Name] = NewTimer(c.clock, tr.Cooldown)
		}
		if tr.Name == c.current {
			keep = true
		}
	}
	if !keep {
		c.current = ""
	}
	return nil
}

// ResetCounts zeroes every repetition counter.
func (c *Controller) ResetCounts() {
	for name := range c.counts {
		c.counts[name] = 0
	}
}

// State reports the lifecycle phase.
func (c *Controller) State() State {
	return c.state
}

// Name returns the experiment name.
func (c *Controller) Name() string {
	return c.cfg.Name
}

// CurrentTrial returns the trial currently driving the stimulus.
func (c *Controller) CurrentTrial() (string, bool) {
	return c.current, c.current != ""
}

// TrialCount returns how often the named trial has become current.
func (c *Controller) TrialCount(name string) int {
	return c.counts[name]
}

// Counts returns a copy of all repetition counters.
func (c *Controller) Counts() map[string]int {
	out := make(map[string]int, len(c.counts))
	for name, n := range c.counts {
		out[name] = n
	}
	return out
}

// Elapsed returns how long the experiment has been running, frozen
// once it finishes.
func (c *Controller) Elapsed() time.Duration {
	switch {
	case c.startedAt.IsZero():
		return 0
	case c.state == Running:
		return c.clock.Since(c.startedAt)
	default:
		return c.stoppedAt.Sub(c.startedAt)
	}
}

// Status snapshots the controller for monitoring.
func (c *Controller) Status() Status {
	return Status{
		Name:    c.cfg.Name,
		State:   c.state.String(),
		Trial:   c.current,
		Counts:  c.Counts(),
		Elapsed: c.Elapsed(),
	}
}

// capsReached applies the completion policy to the repetition
// counters.
func (c *Controller) capsReached() bool {
	if c.cfg.Completion == StopOnAllCaps {
		capped := 0
		for _, tr := range c.cfg.Table.Trials() {
			if tr.MaxReps <= 0 {
				continue
			}
			capped++
			if c.counts[tr.Name] < tr.MaxReps {
				return false
			}
		}
		return capped > 0
	}
	for _, tr := range c.cfg.Table.Trials() {
		if tr.MaxReps > 0 && c.counts[tr.Name] >= tr.MaxReps {
			return true
		}
	}
	return false
}

// forward sends the frame's resolved trial to the sink. The sink sees
// a command every frame, identical or not.
func (c *Controller) forward() {
	if c.cfg.Sink == nil {
		return
	}
	var err error
	if c.current != "" {
		err = c.cfg.Sink.Activate(c.current)
	} else {
		err = c.cfg.Sink.Deactivate()
	}
	if err != nil {
		Diagf("%s: stimulus: %v", c.cfg.Name, err)
	}
}

func (c *Controller) deactivate() {
	if c.cfg.Sink == nil {
		return
	}
	if err := c.cfg.Sink.Deactivate(); err != nil {
		Diagf("%s: stimulus deactivate: %v", c.cfg.Name, err)
	}
}

func (c *Controller) record(ev Event) {
	if c.cfg.Recorder == nil {
		return
	}
	ev.Time = c.clock.Now()
	if err := c.cfg.Recorder.Record(ev); err != nil {
		Diagf("%s: record %s: %v", c.cfg.Name, ev.Kind, err)
	}
}
