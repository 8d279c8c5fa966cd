package trigger

import (
	"fmt"
	"math"

	"github.com/clementpouget/DeepLabStream/internal/pose"
	"github.com/clementpouget/DeepLabStream/internal/viz"
)

// ImmobilityConfig describes a freezing-detection trigger.
type ImmobilityConfig struct {
	// BodyParts are the skeleton keys whose frame-to-frame movement is
	// measured.
	BodyParts []string

	// DistanceThreshold is the per-frame displacement, in pixels, at or
	// below which a part counts as still.
	DistanceThreshold float64

	// MinStillParts is how many parts must be still at once for the
	// animal to count as immobile.
	MinStillParts int
}

// Immobility matches while the animal is frozen: enough body parts moved
// less than the threshold since the previous frame. Parts the tracker
// lost count as moving, so a degraded skeleton cannot fake a freeze.
type Immobility struct {
	cfg  ImmobilityConfig
	last pose.Skeleton
}

// NewImmobility validates the configuration and returns the trigger.
func NewImmobility(cfg ImmobilityConfig) (*Immobility, error) {
	if len(cfg.BodyParts) == 0 {
		return nil, fmt.Errorf("immobility trigger: no body parts configured")
	}
	if cfg.DistanceThreshold <= 0 {
		return nil, fmt.Errorf("immobility trigger: distance threshold must be positive, got %v", cfg.DistanceThreshold)
	}
	if cfg.MinStillParts < 1 || cfg.MinStillParts > len(cfg.BodyParts) {
		return nil, fmt.Errorf("immobility trigger: min still parts must be in [1, %d], got %d", len(cfg.BodyParts), cfg.MinStillParts)
	}
	return &Immobility{cfg: cfg}, nil
}

// Check compares each configured part against its previous position and
// matches when at least MinStillParts stayed within the threshold. The
// first frame only establishes the baseline.
func (t *Immobility) Check(s pose.Skeleton) (bool, *viz.Response) {
	if t.last == nil {
		t.last = s.Clone()
		return false, viz.New()
	}

	resp := viz.New()
	still := 0
	for i, name := range t.cfg.BodyParts {
		d := pose.Distance(t.last.Part(name), s.Part(name))
		if !math.IsNaN(d) && d <= t.cfg.DistanceThreshold {
			still++
		}
		resp.Shapes = append(resp.Shapes, viz.Text(
			fmt.Sprintf("%3.0f", d),
			pose.Point{X: 50, Y: float64((i + 1) * 50)},
		))
	}
	t.last = s.Clone()

	matched := still >= t.cfg.MinStillParts
	resp.Shapes = append(resp.Shapes, viz.Text(
		fmt.Sprintf("still %d/%d", still, len(t.cfg.BodyParts)),
		pose.Point{X: 50, Y: 25},
	))
	resp.Active = matched
	return matched, resp
}
