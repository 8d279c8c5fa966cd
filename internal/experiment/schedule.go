package experiment

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/clementpouget/DeepLabStream/internal/pose"
	"github.com/clementpouget/DeepLabStream/internal/timeutil"
	"github.com/clementpouget/DeepLabStream/internal/viz"
)

// Protocol delivers a trial's stimulus asynchronously. The controller
// hands it a trial, polls for completion on later frames and never
// blocks on it. End must leave the actuator off.
type Protocol interface {
	Start()
	End()

	// SetTrial begins delivering the named trial's stimulus. A
	// delivery requested while another is in flight is refused.
	SetTrial(trial string) bool

	// Busy reports whether a delivery is in flight.
	Busy() bool

	// Result hands back each finished delivery exactly once.
	Result() (trial string, ok bool)
}

// RewardConfig assembles a schedule-driven pretraining controller.
type RewardConfig struct {
	// Name labels the experiment in logs and recorded sessions.
	Name string

	// Trials is the set of trial names the schedule draws from.
	// Required.
	Trials []string

	// Length is how many deliveries the schedule holds. Required.
	Length int

	// Collected recognizes the animal collecting the delivered reward.
	// Required.
	Collected Condition

	// Duration caps the experiment's wall-clock time. Zero means
	// unlimited.
	Duration time.Duration

	// InitialITI is the pause between experiment start and the first
	// delivery.
	InitialITI time.Duration

	// MinITI and MaxITI bound the randomized pauses between a
	// collected reward and the next delivery, inclusive.
	MinITI, MaxITI time.Duration

	// Protocol performs the deliveries. Required.
	Protocol Protocol

	// Recorder receives lifecycle and delivery events. Optional.
	Recorder Recorder

	// Clock defaults to the real clock.
	Clock timeutil.Clock

	// Rand drives the schedule shuffle. Defaults to a time-seeded
	// source.
	Rand *rand.Rand
}

// Reward runs a fixed-length delivery schedule: wait out an inter-trial
// interval, hand the next trial to the protocol, wait for the delivery
// to finish, wait for the animal to collect the reward, then draw the
// next interval. It finishes when the schedule or the experiment time
// runs out.
type Reward struct {
	cfg   RewardConfig
	clock timeutil.Clock

	state      State
	schedule   []string
	itis       []time.Duration
	intertrial *Timer
	expTimer   *Timer
	chosen     string
	counts     map[string]int
	delivered  int
	startedAt  time.Time
	stoppedAt  time.Time
}

// NewReward validates the configuration, draws the session schedule
// and returns an Idle controller.
func NewReward(cfg RewardConfig) (*Reward, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("experiment: name required")
	}
	if len(cfg.Trials) == 0 {
		return nil, fmt.Errorf("experiment %s: no trials to schedule", cfg.Name)
	}
	if cfg.Length < 1 {
		return nil, fmt.Errorf("experiment %s: schedule length must be positive, got %d", cfg.Name, cfg.Length)
	}
	if cfg.Collected == nil {
		return nil, fmt.Errorf("experiment %s: collected condition required", cfg.Name)
	}
	if cfg.Protocol == nil {
		return nil, fmt.Errorf("experiment %s: protocol required", cfg.Name)
	}
	if cfg.Duration < 0 || cfg.InitialITI < 0 || cfg.MinITI < 0 {
		return nil, fmt.Errorf("experiment %s: negative timing budget", cfg.Name)
	}
	if cfg.MaxITI < cfg.MinITI {
		return nil, fmt.Errorf("experiment %s: max ITI %v below min ITI %v", cfg.Name, cfg.MaxITI, cfg.MinITI)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	schedule := make([]string, cfg.Length)
	itis := make([]time.Duration, cfg.Length)
	span := int64(cfg.MaxITI - cfg.MinITI)
	for i := range schedule {
		schedule[i] = cfg.Trials[rng.Intn(len(cfg.Trials))]
		itis[i] = cfg.MinITI + time.Duration(rng.Int63n(span+1))
	}

	counts := make(map[string]int, len(cfg.Trials))
	for _, name := range cfg.Trials {
		counts[name] = 0
	}
	return &Reward{
		cfg:        cfg,
		clock:      clock,
		schedule:   schedule,
		itis:       itis,
		intertrial: NewTimer(clock, cfg.InitialITI),
		counts:     counts,
	}, nil
}

// StartExperiment moves the controller to Running: the protocol comes
// up, the initial inter-trial interval and the experiment timer start.
func (r *Reward) StartExperiment() {
	if r.state != Idle {
		return
	}
	r.state = Running
	r.startedAt = r.clock.Now()
	if r.cfg.Duration > 0 {
		r.expTimer = NewTimer(r.clock, r.cfg.Duration)
		r.expTimer.Start()
	}
	r.intertrial.Start()
	r.cfg.Protocol.Start()
	r.record(Event{Kind: EventStarted})
	Opsf("%s: experiment started, %d deliveries scheduled", r.cfg.Name, len(r.schedule))
}

// StopExperiment finishes the experiment and ends the protocol, which
// is responsible for leaving its actuator off.
func (r *Reward) StopExperiment() {
	if r.state == Finished {
		return
	}
	r.state = Finished
	r.stoppedAt = r.clock.Now()
	r.chosen = ""
	r.cfg.Protocol.End()
	r.record(Event{Kind: EventStopped})
	Opsf("%s: experiment finished, %d deliveries", r.cfg.Name, r.delivered)
}

// CheckSkeleton advances the schedule by one frame. Frames arriving
// while not Running are ignored.
func (r *Reward) CheckSkeleton(f pose.Frame) Result {
	if r.state != Running {
		return Result{Response: viz.New()}
	}
	if r.expTimer != nil && r.expTimer.Expired() {
		Opsf("%s: experiment time over", r.cfg.Name)
		r.StopExperiment()
		return Result{Response: viz.New()}
	}

	matched := false
	resp := viz.New()
	if r.cfg.Protocol.Busy() {
		// delivery in flight, wait
	} else if trial, ok := r.cfg.Protocol.Result(); ok {
		// The next interval is staged but left stopped until the
		// animal collects this reward.
		r.intertrial = NewTimer(r.clock, r.nextITI())
		r.delivered++
		r.record(Event{Kind: EventDelivered, Trial: trial, Count: r.delivered, Frame: f.Seq})
		Opsf("%s: delivery %d done (%s)", r.cfg.Name, r.delivered, trial)
	} else {
		matched, resp = r.cfg.Collected(f.Skeletons)
		if resp == nil {
			resp = viz.New()
		}
		if matched && !r.intertrial.Running() {
			if r.chosen != "" {
				r.record(Event{Kind: EventCollected, Trial: r.chosen, Frame: f.Seq})
				Opsf("%s: reward collected, %v until next trial", r.cfg.Name, r.intertrial.Duration())
				r.chosen = ""
			}
			r.intertrial.Start()
		} else if !r.intertrial.Running() && r.chosen == "" {
			next, ok := r.nextTrial()
			if !ok {
				Opsf("%s: schedule exhausted", r.cfg.Name)
				r.StopExperiment()
				return Result{Response: resp}
			}
			r.chosen = next
			r.counts[next]++
			if !r.cfg.Protocol.SetTrial(next) {
				Diagf("%s: protocol refused trial %s", r.cfg.Name, next)
			}
			r.record(Event{Kind: EventPromoted, Trial: next, Count: r.counts[next], Frame: f.Seq})
			Opsf("%s: trial %s, delivery %d of %d", r.cfg.Name, next, r.delivered+1, len(r.schedule))
		}
	}

	resp.Active = matched
	return Result{Matched: matched, Trial: r.chosen, Response: resp}
}

// State reports the lifecycle phase.
func (r *Reward) State() State {
	return r.state
}

// Name returns the experiment name.
func (r *Reward) Name() string {
	return r.cfg.Name
}

// CurrentTrial returns the trial whose delivery or collection is
// outstanding.
func (r *Reward) CurrentTrial() (string, bool) {
	return r.chosen, r.chosen != ""
}

// Delivered returns how many deliveries have completed.
func (r *Reward) Delivered() int {
	return r.delivered
}

// Elapsed returns how long the experiment has been running, frozen
// once it finishes.
func (r *Reward) Elapsed() time.Duration {
	switch {
	case r.startedAt.IsZero():
		return 0
	case r.state == Running:
		return r.clock.Since(r.startedAt)
	default:
		return r.stoppedAt.Sub(r.startedAt)
	}
}

// Status snapshots the controller for monitoring.
func (r *Reward) Status() Status {
	counts := make(map[string]int, len(r.counts))
	for name, n := range r.counts {
		counts[name] = n
	}
	return Status{
		Name:    r.cfg.Name,
		State:   r.state.String(),
		Trial:   r.chosen,
		Counts:  counts,
		Elapsed: r.Elapsed(),
	}
}

func (r *Reward) nextTrial() (string, bool) {
	if len(r.schedule) == 0 {
		return "", false
	}
	next := r.schedule[0]
	r.schedule = r.schedule[1:]
	return next, true
}

func (r *Reward) nextITI() time.Duration {
	if len(r.itis) == 0 {
		return 0
	}
	next := r.itis[0]
	r.itis = r.itis[1:]
	return next
}

func (r *Reward) record(ev Event) {
	if r.cfg.Recorder == nil {
		return
	}
	ev.Time = r.clock.Now()
	if err := r.cfg.Recorder.Record(ev); err != nil {
		Diagf("%s: record %s: %v", r.cfg.Name, ev.Kind, err)
	}
}
