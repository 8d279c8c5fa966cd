package experiment

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/clementpouget/DeepLabStream/internal/pose"
	"github.com/clementpouget/DeepLabStream/internal/timeutil"
	"github.com/clementpouget/DeepLabStream/internal/viz"
)

// fakeSink records every command the controller forwards: the trial
// name per Activate, the empty string per Deactivate.
type fakeSink struct {
	commands []string
	err      error
}

func (s *fakeSink) Activate(trial string) error {
	s.commands = append(s.commands, trial)
	return s.err
}

func (s *fakeSink) Deactivate() error {
	s.commands = append(s.commands, "")
	return s.err
}

// captureRecorder keeps recorded events in arrival order.
type captureRecorder struct {
	events []Event
}

func (r *captureRecorder) Record(ev Event) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *captureRecorder) kinds() []EventKind {
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

type fakeWorkers struct {
	started int
	ended   int
}

func (w *fakeWorkers) Start() { w.started++ }
func (w *fakeWorkers) End()   { w.ended++ }

// gate is a hand-steered condition for driving the state machine
// without geometry.
type gate struct {
	open bool
}

func (g *gate) condition() Condition {
	return func([]pose.Skeleton) (bool, *viz.Response) {
		return g.open, viz.New()
	}
}

func frameAt(seq uint64) pose.Frame {
	return pose.Frame{Seq: seq}
}

func mustTable(t *testing.T, trials ...Trial) *Table {
	t.Helper()
	table, err := NewTable(trials...)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return table
}

func newTestController(t *testing.T, cfg ControllerConfig) *Controller {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "test"
	}
	c, err := NewController(cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c
}

func TestControllerPromotionAndDemotion(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	rec := &captureRecorder{}
	g := &gate{}
	c := newTestController(t, ControllerConfig{
		Table:    mustTable(t, Trial{Name: "A", Condition: g.condition()}),
		Recorder: rec,
		Clock:    clock,
	})
	c.StartExperiment()

	g.open = true
	res := c.CheckSkeleton(frameAt(1))
	if !res.Matched || res.Trial != "A" {
		t.Fatalf("promotion frame: Matched = %v, Trial = %q, want true, A", res.Matched, res.Trial)
	}
	if got := c.TrialCount("A"); got != 1 {
		t.Errorf("TrialCount(A) = %d, want 1", got)
	}

	g.open = false
	res = c.CheckSkeleton(frameAt(2))
	if res.Matched || res.Trial != "" {
		t.Fatalf("demotion frame: Matched = %v, Trial = %q, want false, empty", res.Matched, res.Trial)
	}
	if got := c.TrialCount("A"); got != 1 {
		t.Errorf("TrialCount(A) after demotion = %d, want 1", got)
	}

	g.open = true
	res = c.CheckSkeleton(frameAt(3))
	if !res.Matched {
		t.Fatal("re-entry with zero cooldown blocked")
	}
	if got := c.TrialCount("A"); got != 2 {
		t.Errorf("TrialCount(A) after re-entry = %d, want 2", got)
	}

	want := []EventKind{EventStarted, EventPromoted, EventDemoted, EventPromoted}
	if diff := cmp.Diff(want, rec.kinds()); diff != "" {
		t.Errorf("event sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestControllerCooldownBlocksReentry(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	g := &gate{}
	c := newTestController(t, ControllerConfig{
		Table: mustTable(t, Trial{Name: "A", Condition: g.condition(), Cooldown: 10 * time.Second}),
		Clock: clock,
	})
	c.StartExperiment()

	g.open = true
	c.CheckSkeleton(frameAt(1))
	g.open = false
	c.CheckSkeleton(frameAt(2))

	clock.Advance(5 * time.Second)
	g.open = true
	if res := c.CheckSkeleton(frameAt(3)); res.Matched {
		t.Fatal("trial re-entered 5s into a 10s cooldown")
	}

	clock.Advance(5 * time.Second)
	if res := c.CheckSkeleton(frameAt(4)); !res.Matched {
		t.Fatal("trial still blocked after cooldown elapsed")
	}
	if got := c.TrialCount("A"); got != 2 {
		t.Errorf("TrialCount(A) = %d, want 2", got)
	}
}

func TestControllerTieBreakFollowsTableOrder(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	a, b := &gate{open: true}, &gate{open: true}
	c := newTestController(t, ControllerConfig{
		Table: mustTable(t,
			Trial{Name: "A", Condition: a.condition()},
			Trial{Name: "B", Condition: b.condition()},
		),
		Clock: clock,
	})
	c.StartExperiment()

	res := c.CheckSkeleton(frameAt(1))
	if res.Trial != "A" {
		t.Fatalf("both conditions hold, current = %q, want A", res.Trial)
	}
	want := map[string]int{"A": 1, "B": 0}
	if diff := cmp.Diff(want, c.Counts()); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}

	// A drops while B keeps holding: A is demoted and B promoted on
	// the same frame because B evaluates after A in table order.
	a.open = false
	res = c.CheckSkeleton(frameAt(2))
	if res.Trial != "B" {
		t.Fatalf("after A dropped: current = %q, want B", res.Trial)
	}
}

func TestControllerEarlierTrialWaitsForCurrentToEnd(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	a, b := &gate{}, &gate{open: true}
	c := newTestController(t, ControllerConfig{
		Table: mustTable(t,
			Trial{Name: "A", Condition: a.condition()},
			Trial{Name: "B", Condition: b.condition()},
		),
		Clock: clock,
	})
	c.StartExperiment()

	if res := c.CheckSkeleton(frameAt(1)); res.Trial != "B" {
		t.Fatalf("current = %q, want B", res.Trial)
	}

	// A starts matching while B is still current, then B drops on the
	// same frame. A evaluates before B's demotion, so it must wait for
	// the next frame.
	a.open = true
	b.open = false
	res := c.CheckSkeleton(frameAt(2))
	if res.Matched {
		t.Fatalf("frame 2: current = %q, want none until next frame", res.Trial)
	}

	res = c.CheckSkeleton(frameAt(3))
	if res.Trial != "A" {
		t.Fatalf("frame 3: current = %q, want A", res.Trial)
	}
}

func TestControllerRepetitionCapStopsExperiment(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	rec := &captureRecorder{}
	sink := &fakeSink{}
	g := &gate{}
	c := newTestController(t, ControllerConfig{
		Table:    mustTable(t, Trial{Name: "A", Condition: g.condition(), MaxReps: 2}),
		Sink:     sink,
		Recorder: rec,
		Clock:    clock,
	})
	c.StartExperiment()

	g.open = true
	c.CheckSkeleton(frameAt(1))
	g.open = false
	c.CheckSkeleton(frameAt(2))
	g.open = true
	c.CheckSkeleton(frameAt(3))
	if got := c.TrialCount("A"); got != 2 {
		t.Fatalf("TrialCount(A) = %d, want 2", got)
	}
	if c.State() != Running {
		t.Fatal("experiment stopped on the promotion frame, cap is observed at the next frame start")
	}

	// The frame after the second repetition completes the experiment,
	// whatever the condition says.
	res := c.CheckSkeleton(frameAt(4))
	if res.Matched {
		t.Error("frame that stops the experiment still reports a match")
	}
	if c.State() != Finished {
		t.Fatalf("State() = %v, want Finished", c.State())
	}
	if got := c.TrialCount("A"); got != 2 {
		t.Errorf("TrialCount(A) after stop = %d, want 2", got)
	}

	// Only one stopped event, regardless of further frames or stops.
	c.CheckSkeleton(frameAt(5))
	c.StopExperiment()
	want := []EventKind{
		EventStarted,
		EventPromoted, EventDemoted, EventPromoted,
		EventStopped,
	}
	if diff := cmp.Diff(want, rec.kinds()); diff != "" {
		t.Errorf("event sequence mismatch (-want +got):\n%s", diff)
	}
	if last := sink.commands[len(sink.commands)-1]; last != "" {
		t.Errorf("last sink command = %q, want deactivate", last)
	}
}

func TestControllerStopOnAllCaps(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	a, b := &gate{}, &gate{}
	c := newTestController(t, ControllerConfig{
		Table: mustTable(t,
			Trial{Name: "A", Condition: a.condition(), MaxReps: 1},
			Trial{Name: "B", Condition: b.condition(), MaxReps: 1},
		),
		Completion: StopOnAllCaps,
		Clock:      clock,
	})
	c.StartExperiment()

	a.open = true
	c.CheckSkeleton(frameAt(1))
	a.open = false
	c.CheckSkeleton(frameAt(2))
	if c.State() != Running {
		t.Fatal("experiment stopped with only one of two caps reached")
	}

	b.open = true
	c.CheckSkeleton(frameAt(3))
	b.open = false
	c.CheckSkeleton(frameAt(4))

	c.CheckSkeleton(frameAt(5))
	if c.State() != Finished {
		t.Fatalf("State() = %v, want Finished once every cap is reached", c.State())
	}
}

func TestControllerSinkSeesEveryFrame(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	sink := &fakeSink{}
	g := &gate{}
	c := newTestController(t, ControllerConfig{
		Table: mustTable(t, Trial{Name: "A", Condition: g.condition()}),
		Sink:  sink,
		Clock: clock,
	})
	c.StartExperiment()

	g.open = false
	c.CheckSkeleton(frameAt(1))
	g.open = true
	c.CheckSkeleton(frameAt(2))
	c.CheckSkeleton(frameAt(3))
	g.open = false
	c.CheckSkeleton(frameAt(4))

	want := []string{"", "A", "A", ""}
	if diff := cmp.Diff(want, sink.commands); diff != "" {
		t.Errorf("sink commands mismatch (-want +got):\n%s", diff)
	}
}

func TestControllerSinkErrorDoesNotStallFrames(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	sink := &fakeSink{err: errors.New("port closed")}
	g := &gate{open: true}
	c := newTestController(t, ControllerConfig{
		Table: mustTable(t, Trial{Name: "A", Condition: g.condition()}),
		Sink:  sink,
		Clock: clock,
	})
	c.StartExperiment()

	res := c.CheckSkeleton(frameAt(1))
	if !res.Matched {
		t.Error("sink error changed the frame outcome")
	}
	if c.State() != Running {
		t.Error("sink error stopped the experiment")
	}
}

func TestControllerStopAlwaysDeactivates(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	sink := &fakeSink{}
	g := &gate{}
	c := newTestController(t, ControllerConfig{
		Table: mustTable(t, Trial{Name: "A", Condition: g.condition()}),
		Sink:  sink,
		Clock: clock,
	})

	// Stop before start still forces the actuator off.
	c.StopExperiment()
	c.StopExperiment()
	want := []string{"", ""}
	if diff := cmp.Diff(want, sink.commands); diff != "" {
		t.Errorf("sink commands mismatch (-want +got):\n%s", diff)
	}
	if c.State() != Finished {
		t.Errorf("State() = %v, want Finished", c.State())
	}
	if got := c.Elapsed(); got != 0 {
		t.Errorf("Elapsed() of never-started experiment = %v, want 0", got)
	}
}

func TestControllerExperimentTimerStops(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	g := &gate{open: true}
	c := newTestController(t, ControllerConfig{
		Table:    mustTable(t, Trial{Name: "A", Condition: g.condition()}),
		Duration: 600 * time.Second,
		Clock:    clock,
	})
	c.StartExperiment()

	c.CheckSkeleton(frameAt(1))
	clock.Advance(599 * time.Second)
	if res := c.CheckSkeleton(frameAt(2)); !res.Matched {
		t.Fatal("experiment stopped before its duration elapsed")
	}

	clock.Advance(1 * time.Second)
	res := c.CheckSkeleton(frameAt(3))
	if res.Matched {
		t.Error("frame at expiry still reports a match")
	}
	if c.State() != Finished {
		t.Fatalf("State() = %v, want Finished", c.State())
	}
	if got := c.Elapsed(); got != 600*time.Second {
		t.Errorf("Elapsed() frozen at %v, want 600s", got)
	}
}

func TestControllerIgnoresFramesUnlessRunning(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	rec := &captureRecorder{}
	g := &gate{open: true}
	c := newTestController(t, ControllerConfig{
		Table:    mustTable(t, Trial{Name: "A", Condition: g.condition()}),
		Recorder: rec,
		Clock:    clock,
	})

	if res := c.CheckSkeleton(frameAt(1)); res.Matched {
		t.Error("idle controller evaluated a frame")
	}
	if len(rec.events) != 0 {
		t.Errorf("idle controller recorded %d events", len(rec.events))
	}

	c.StartExperiment()
	c.StopExperiment()
	if res := c.CheckSkeleton(frameAt(2)); res.Matched {
		t.Error("finished controller evaluated a frame")
	}
	if got := c.TrialCount("A"); got != 0 {
		t.Errorf("TrialCount(A) = %d, want 0", got)
	}
}

func TestControllerWorkersLifetime(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	w := &fakeWorkers{}
	g := &gate{}
	c := newTestController(t, ControllerConfig{
		Table:   mustTable(t, Trial{Name: "A", Condition: g.condition()}),
		Workers: w,
		Clock:   clock,
	})

	c.StartExperiment()
	c.StartExperiment()
	if w.started != 1 {
		t.Errorf("workers started %d times, want 1", w.started)
	}

	c.StopExperiment()
	c.StopExperiment()
	if w.ended != 1 {
		t.Errorf("workers ended %d times, want 1", w.ended)
	}
}

func TestControllerSetTable(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	a, b := &gate{open: true}, &gate{}
	c := newTestController(t, ControllerConfig{
		Table: mustTable(t,
			Trial{Name: "A", Condition: a.condition()},
			Trial{Name: "B", Condition: b.condition()},
		),
		Clock: clock,
	})
	c.StartExperiment()
	c.CheckSkeleton(frameAt(1))

	// A survives the swap and stays current; C is new.
	next := mustTable(t,
		Trial{Name: "A", Condition: a.condition()},
		Trial{Name: "C", Condition: b.condition()},
	)
	if err := c.SetTable(next); err != nil {
		t.Fatalf("SetTable: %v", err)
	}
	if trial, ok := c.CurrentTrial(); !ok || trial != "A" {
		t.Errorf("CurrentTrial() = %q, %v, want A, true", trial, ok)
	}
	want := map[string]int{"A": 1, "B": 0, "C": 0}
	if diff := cmp.Diff(want, c.Counts()); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}

	// A vanishing from the table drops it as current.
	only := mustTable(t, Trial{Name: "C", Condition: b.condition()})
	if err := c.SetTable(only); err != nil {
		t.Fatalf("SetTable: %v", err)
	}
	if _, ok := c.CurrentTrial(); ok {
		t.Error("current trial survived a swap that removed it")
	}

	if err := c.SetTable(nil); err == nil {
		t.Error("SetTable(nil) succeeded")
	}
}

func TestControllerStatus(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	g := &gate{open: true}
	c := newTestController(t, ControllerConfig{
		Name:  "status-test",
		Table: mustTable(t, Trial{Name: "A", Condition: g.condition()}),
		Clock: clock,
	})
	c.StartExperiment()
	c.CheckSkeleton(frameAt(1))
	clock.Advance(3 * time.Second)

	got := c.Status()
	want := Status{
		Name:    "status-test",
		State:   "running",
		Trial:   "A",
		Counts:  map[string]int{"A": 1},
		Elapsed: 3 * time.Second,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Status() mismatch (-want +got):\n%s", diff)
	}
}

func TestNewControllerValidation(t *testing.T) {
	g := &gate{}
	table := mustTable(t, Trial{Name: "A", Condition: g.condition()})

	cases := []struct {
		name string
		cfg  ControllerConfig
	}{
		{"no name", ControllerConfig{Table: table}},
		{"no table", ControllerConfig{Name: "x"}},
		{"negative duration", ControllerConfig{Name: "x", Table: table, Duration: -time.Second}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewController(tc.cfg); err == nil {
				t.Error("NewController succeeded, want error")
			}
		})
	}
}
