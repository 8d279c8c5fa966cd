package trigger

import (
	"fmt"
	"math"

	"github.com/clementpouget/DeepLabStream/internal/pose"
	"github.com/clementpouget/DeepLabStream/internal/viz"
)

// DirectionConfig describes an orientation-toward-a-point trigger.
type DirectionConfig struct {
	// Target is the point the animal must orient toward.
	Target pose.Point

	// MaxDeviationDeg is the largest absolute angle, in degrees, the
	// head direction may deviate from dead-on and still match.
	MaxDeviationDeg float64

	// NosePart and NeckPart name the body parts spanning the head
	// direction vector, pointing from neck toward nose.
	NosePart string
	NeckPart string
}

// Direction matches while the animal's head points at a fixed target.
type Direction struct {
	cfg DirectionConfig
}

// NewDirection validates the configuration and returns the trigger.
func NewDirection(cfg DirectionConfig) (*Direction, error) {
	if cfg.NosePart == "" || cfg.NeckPart == "" {
		return nil, fmt.Errorf("direction trigger: nose and neck body parts must be named")
	}
	if !cfg.Target.Valid() {
		return nil, fmt.Errorf("direction trigger: target %v is not a finite point", cfg.Target)
	}
	if cfg.MaxDeviationDeg <= 0 || cfg.MaxDeviationDeg > 180 {
		return nil, fmt.Errorf("direction trigger: max deviation must be in (0, 180], got %v", cfg.MaxDeviationDeg)
	}
	return &Direction{cfg: cfg}, nil
}

// Check reports whether the head direction lies within the configured
// window of the target. Untracked parts yield a non-match.
func (t *Direction) Check(s pose.Skeleton) (bool, *viz.Response) {
	nose := s.Part(t.cfg.NosePart)
	neck := s.Part(t.cfg.NeckPart)

	resp := viz.New(viz.Dot(t.cfg.Target))
	if !nose.Valid() || !neck.Valid() {
		return false, resp
	}

	dev := pose.HeadingDeviation(nose, neck, t.cfg.Target)
	matched := math.Abs(dev) <= t.cfg.MaxDeviationDeg

	resp.Shapes = append(resp.Shapes,
		viz.Line(neck, nose),
		viz.Line(neck, t.cfg.Target),
		viz.Text(fmt.Sprintf("%.1fdg", math.Abs(dev)), offset(nose, 20, -20)),
	)
	resp.Active = matched
	return matched, resp
}

// HeadDirectionConfig describes an absolute head-direction window used
// by angle-gated stimulation experiments.
type HeadDirectionConfig struct {
	// RefDeg is the stimulation direction in screen convention:
	// 0 degrees along +X, positive angles rotating toward -Y.
	RefDeg float64

	// StartDeg and EndDeg bound the signed deviation from RefDeg that
	// counts as a match, with StartDeg <= deviation <= EndDeg.
	StartDeg float64
	EndDeg   float64

	NosePart string
	NeckPart string
}

// HeadDirection matches while the head direction deviates from a fixed
// reference angle by an amount inside the configured window.
type HeadDirection struct {
	cfg HeadDirectionConfig
}

// NewHeadDirection validates the configuration and returns the trigger.
func NewHeadDirection(cfg HeadDirectionConfig) (*HeadDirection, error) {
	if cfg.NosePart == "" || cfg.NeckPart == "" {
		return nil, fmt.Errorf("head direction trigger: nose and neck body parts must be named")
	}
	if cfg.StartDeg > cfg.EndDeg {
		return nil, fmt.Errorf("head direction trigger: window start %v exceeds end %v", cfg.StartDeg, cfg.EndDeg)
	}
	if cfg.StartDeg < -180 || cfg.EndDeg > 180 {
		return nil, fmt.Errorf("head direction trigger: window [%v, %v] outside [-180, 180]", cfg.StartDeg, cfg.EndDeg)
	}
	return &HeadDirection{cfg: cfg}, nil
}

// Check reports whether the head direction falls inside the window.
func (t *HeadDirection) Check(s pose.Skeleton) (bool, *viz.Response) {
	nose := s.Part(t.cfg.NosePart)
	neck := s.Part(t.cfg.NeckPart)
	if !nose.Valid() || !neck.Valid() {
		return false, viz.New()
	}

	dev := pose.StimDeviation(nose, neck, t.cfg.RefDeg)
	matched := dev >= t.cfg.StartDeg && dev <= t.cfg.EndDeg

	rad := t.cfg.RefDeg * math.Pi / 180
	refEnd := pose.Point{X: neck.X + math.Cos(rad)*80, Y: neck.Y - math.Sin(rad)*80}
	resp := viz.New(
		viz.Line(neck, nose),
		viz.Line(neck, refEnd),
		viz.Text(fmt.Sprintf("%.1fdg", math.Abs(dev)), offset(nose, 20, -20)),
	)
	resp.Active = matched
	return matched, resp
}

func offset(p pose.Point, dx, dy float64) pose.Point {
	return pose.Point{X: p.X + dx, Y: p.Y + dy}
}
