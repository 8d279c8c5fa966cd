package trigger

import (
	"fmt"

	"github.com/clementpouget/DeepLabStream/internal/classifier"
	"github.com/clementpouget/DeepLabStream/internal/pose"
	"github.com/clementpouget/DeepLabStream/internal/viz"
)

// Pool is the asynchronous scoring collaborator behind the classifier
// triggers. Submit must not block; Poll hands back each completed result
// exactly once.
type Pool interface {
	Submit(skels []pose.Skeleton) bool
	Poll() (classifier.Result, bool)
}

// ProbConfig describes a probability-threshold classifier trigger.
type ProbConfig struct {
	Pool Pool

	// Threshold is the minimum classifier confidence that counts as the
	// behavior being present.
	Threshold float64
}

// Prob matches while the most recent classifier result reports the
// target behavior at or above the configured probability. Frames scored
// before the first result arrives read as a non-match; afterwards the
// last result holds until the next one replaces it.
type Prob struct {
	cfg  ProbConfig
	last classifier.Result
	has  bool
}

// NewProb validates the configuration and returns the trigger.
func NewProb(cfg ProbConfig) (*Prob, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("classifier trigger: pool is nil")
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("classifier trigger: threshold must be in (0, 1], got %v", cfg.Threshold)
	}
	return &Prob{cfg: cfg}, nil
}

// Check submits the skeleton for scoring and evaluates the latest
// completed result. A saturated pool drops the submission; the next
// frame retries.
func (t *Prob) Check(s pose.Skeleton) (bool, *viz.Response) {
	if r, ok := t.cfg.Pool.Poll(); ok {
		t.last, t.has = r, true
	}
	t.cfg.Pool.Submit([]pose.Skeleton{s})

	matched := t.has && t.last.Prob >= t.cfg.Threshold
	resp := viz.New()
	if t.has {
		resp.Shapes = append(resp.Shapes,
			viz.Text(fmt.Sprintf("p=%.2f", t.last.Prob), pose.Point{X: 20, Y: 20}))
	}
	resp.Active = matched
	return matched, resp
}

// LastProb returns the most recent classifier confidence, if any result
// has arrived yet.
func (t *Prob) LastProb() (float64, bool) {
	return t.last.Prob, t.has
}

// ClassConfig describes a class-membership classifier trigger.
type ClassConfig struct {
	Pool Pool

	// Target is the class label that counts as a match.
	Target int
}

// Class matches while the most recent classifier result predicts the
// target class.
type Class struct {
	cfg  ClassConfig
	last classifier.Result
	has  bool
}

// NewClass validates the configuration and returns the trigger.
func NewClass(cfg ClassConfig) (*Class, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("classifier trigger: pool is nil")
	}
	if cfg.Target < 0 {
		return nil, fmt.Errorf("classifier trigger: target class must be non-negative, got %d", cfg.Target)
	}
	return &Class{cfg: cfg}, nil
}

// Check submits the skeleton for scoring and evaluates the latest
// completed result against the target class.
func (t *Class) Check(s pose.Skeleton) (bool, *viz.Response) {
	if r, ok := t.cfg.Pool.Poll(); ok {
		t.last, t.has = r, true
	}
	t.cfg.Pool.Submit([]pose.Skeleton{s})

	matched := t.has && t.last.Class == t.cfg.Target
	resp := viz.New()
	if t.has {
		resp.Shapes = append(resp.Shapes,
			viz.Text(fmt.Sprintf("class=%d", t.last.Class), pose.Point{X: 20, Y: 20}))
	}
	resp.Active = matched
	return matched, resp
}

// LastClass returns the most recent predicted class, if any result has
// arrived yet.
func (t *Class) LastClass() (int, bool) {
	return t.last.Class, t.has
}
