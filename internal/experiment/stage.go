package experiment

import (
	"fmt"
	"time"

	"github.com/clementpouget/DeepLabStream/internal/pose"
	"github.com/clementpouget/DeepLabStream/internal/timeutil"
)

// StagedConfig assembles a controller that walks through successive
// trial tables as the animal completes each stage.
type StagedConfig struct {
	// Name labels the experiment in logs and recorded sessions.
	Name string

	// Stages are the per-stage trial tables, walked in order. Each
	// trial's MaxReps is the stage's completion target. Required.
	Stages []*Table

	// Duration caps the experiment's wall-clock time across all
	// stages. Zero means unlimited.
	Duration time.Duration

	// Sink receives the resolved trial every frame. Optional.
	Sink Sink

	// Recorder receives lifecycle, transition and stage events.
	// Optional.
	Recorder Recorder

	// Clock defaults to the real clock.
	Clock timeutil.Clock
}

// Staged layers stage advancement over a trial-table controller. A
// stage is complete when every capped trial in its table has reached
// its cap; completing one stage swaps in the next table with fresh
// counters, and completing the last one finishes the experiment. The
// table for a stage is built once and cached, never per frame.
type Staged struct {
	cfg   StagedConfig
	clock timeutil.Clock
	ctrl  *Controller
	idx   int
}

// NewStaged validates the stages and returns an Idle controller on the
// first one.
func NewStaged(cfg StagedConfig) (*Staged, error) {
	if len(cfg.Stages) == 0 {
		return nil, fmt.Errorf("experiment %s: no stages", cfg.Name)
	}
	for i, t := range cfg.Stages {
		if t == nil || t.Len() == 0 {
			return nil, fmt.Errorf("experiment %s: stage %d has no trials", cfg.Name, i+1)
		}
	}
	ctrl, err := NewController(ControllerConfig{
		Name:       cfg.Name,
		Table:      cfg.Stages[0],
		Duration:   cfg.Duration,
		Completion: StopOnAllCaps,
		Sink:       cfg.Sink,
		Recorder:   cfg.Recorder,
		Clock:      cfg.Clock,
	})
	if err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Staged{cfg: cfg, clock: clock, ctrl: ctrl}, nil
}

// StartExperiment moves the controller to Running on the first stage.
func (s *Staged) StartExperiment() {
	s.ctrl.StartExperiment()
}

// StopExperiment finishes the experiment regardless of stage.
func (s *Staged) StopExperiment() {
	s.ctrl.StopExperiment()
}

// CheckSkeleton runs one frame through the current stage's table, then
// advances the stage if the frame completed it.
func (s *Staged) CheckSkeleton(f pose.Frame) Result {
	res := s.ctrl.CheckSkeleton(f)
	if s.ctrl.State() == Running && s.stageComplete() {
		s.advance(f.Seq)
	}
	return res
}

// Stage returns the 1-based index of the current stage.
func (s *Staged) Stage() int {
	return s.idx + 1
}

// State reports the lifecycle phase.
func (s *Staged) State() State {
	return s.ctrl.State()
}

// Name returns the experiment name.
func (s *Staged) Name() string {
	return s.cfg.Name
}

// CurrentTrial returns the trial currently driving the stimulus.
func (s *Staged) CurrentTrial() (string, bool) {
	return s.ctrl.CurrentTrial()
}

// TrialCount returns the named trial's repetition count within the
// current stage.
func (s *Staged) TrialCount(name string) int {
	return s.ctrl.TrialCount(name)
}

// Status snapshots the controller for monitoring.
func (s *Staged) Status() Status {
	st := s.ctrl.Status()
	st.Stage = s.Stage()
	return st
}

// stageComplete mirrors the all-caps completion check against the
// current stage's table.
func (s *Staged) stageComplete() bool {
	capped := 0
	for _, tr := range s.cfg.Stages[s.idx].Trials() {
		if tr.MaxReps <= 0 {
			continue
		}
		capped++
		if s.ctrl.TrialCount(tr.Name) < tr.MaxReps {
			return false
		}
	}
	return capped > 0
}

func (s *Staged) advance(frame uint64) {
	if s.idx+1 >= len(s.cfg.Stages) {
		Opsf("%s: all stages completed", s.cfg.Name)
		s.ctrl.StopExperiment()
		return
	}
	s.idx++
	s.ctrl.ResetCounts()
	if err := s.ctrl.SetTable(s.cfg.Stages[s.idx]); err != nil {
		// Stages were validated at construction; a failure here means
		// the table was mutated behind our back.
		Diagf("%s: stage %d table: %v", s.cfg.Name, s.idx+1, err)
		s.ctrl.StopExperiment()
		return
	}
	s.record(Event{Kind: EventStage, Count: s.idx + 1, Frame: frame})
	Opsf("%s: stage %d of %d", s.cfg.Name, s.idx+1, len(s.cfg.Stages))
}

func (s *Staged) record(ev Event) {
	if s.cfg.Recorder == nil {
		return
	}
	ev.Time = s.clock.Now()
	if err := s.cfg.Recorder.Record(ev); err != nil {
		Diagf("%s: record %s: %v", s.cfg.Name, ev.Kind, err)
	}
}
