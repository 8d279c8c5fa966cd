package trigger

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/clementpouget/DeepLabStream/internal/pose"
	"github.com/clementpouget/DeepLabStream/internal/viz"
)

// SpeedConfig describes a locomotion-speed trigger.
type SpeedConfig struct {
	// BodyPart is the skeleton key whose movement is measured.
	BodyPart string

	// WindowLen is how many recent positions the rolling window keeps.
	WindowLen int

	// Threshold is the mean per-frame displacement, in pixels, the
	// window speed is compared against.
	Threshold float64

	// Below flips the comparison: match while the animal moves slower
	// than the threshold instead of faster.
	Below bool
}

// Speed matches when the tracked body part's mean displacement per frame
// over a short sliding window crosses a threshold. It is the only
// trigger family that keeps smoothing state between frames.
type Speed struct {
	cfg    SpeedConfig
	window []pose.Point
}

// NewSpeed validates the configuration and returns the trigger.
func NewSpeed(cfg SpeedConfig) (*Speed, error) {
	if cfg.BodyPart == "" {
		return nil, fmt.Errorf("speed trigger: body part must be named")
	}
	if cfg.WindowLen < 2 {
		return nil, fmt.Errorf("speed trigger: window length must be at least 2, got %d", cfg.WindowLen)
	}
	if cfg.Threshold <= 0 {
		return nil, fmt.Errorf("speed trigger: threshold must be positive, got %v", cfg.Threshold)
	}
	return &Speed{cfg: cfg}, nil
}

// Check slides the position window forward and compares the mean
// per-frame displacement against the threshold. Until the window is
// full, and whenever no consecutive pair of positions is tracked, the
// trigger reports a non-match.
func (t *Speed) Check(s pose.Skeleton) (bool, *viz.Response) {
	p := s.Part(t.cfg.BodyPart)
	t.window = append(t.window, p)
	if len(t.window) > t.cfg.WindowLen {
		t.window = t.window[1:]
	}

	resp := viz.New()
	if p.Valid() {
		resp.Shapes = append(resp.Shapes, viz.Dot(p))
	}
	if len(t.window) < t.cfg.WindowLen {
		return false, resp
	}

	dists := make([]float64, 0, len(t.window)-1)
	for i := 1; i < len(t.window); i++ {
		d := pose.Distance(t.window[i-1], t.window[i])
		if !math.IsNaN(d) {
			dists = append(dists, d)
		}
	}
	if len(dists) == 0 {
		return false, resp
	}

	speed := stat.Mean(dists, nil)
	matched := speed > t.cfg.Threshold
	if t.cfg.Below {
		matched = speed < t.cfg.Threshold
	}

	if p.Valid() {
		resp.Shapes = append(resp.Shapes,
			viz.Text(fmt.Sprintf("%.1f px/f", speed), offset(p, 20, -20)))
	}
	resp.Active = matched
	return matched, resp
}
