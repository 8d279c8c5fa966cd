package trigger

import (
	"fmt"

	"github.com/clementpouget/DeepLabStream/internal/pose"
	"github.com/clementpouget/DeepLabStream/internal/viz"
)

// Interaction selects the relation a social trigger evaluates between
// two animals.
type Interaction string

// Proximity matches while the two role centroids are within a distance
// threshold of each other.
const Proximity Interaction = "proximity"

// Role designates one animal and the body parts that stand in for it.
type Role struct {
	// Animal indexes into the frame's skeleton slice.
	Animal int

	// BodyParts are averaged into the role's reference point.
	BodyParts []string
}

// SocialConfig describes a two-animal interaction trigger.
type SocialConfig struct {
	Active      Role
	Passive     Role
	Interaction Interaction

	// Threshold is the distance, in pixels, at or below which a
	// proximity interaction matches.
	Threshold float64
}

// Social matches when the designated animals interact. It evaluates the
// whole frame because the relation spans skeletons.
type Social struct {
	cfg  SocialConfig
	need int
}

// NewSocial validates the configuration and returns the trigger.
func NewSocial(cfg SocialConfig) (*Social, error) {
	if cfg.Interaction != Proximity {
		return nil, fmt.Errorf("social trigger: unknown interaction %q", cfg.Interaction)
	}
	if len(cfg.Active.BodyParts) == 0 || len(cfg.Passive.BodyParts) == 0 {
		return nil, fmt.Errorf("social trigger: both roles need at least one body part")
	}
	if cfg.Active.Animal < 0 || cfg.Passive.Animal < 0 {
		return nil, fmt.Errorf("social trigger: animal indexes must be non-negative")
	}
	if cfg.Active.Animal == cfg.Passive.Animal {
		return nil, fmt.Errorf("social trigger: roles designate the same animal %d", cfg.Active.Animal)
	}
	if cfg.Threshold <= 0 {
		return nil, fmt.Errorf("social trigger: threshold must be positive, got %v", cfg.Threshold)
	}
	need := cfg.Active.Animal
	if cfg.Passive.Animal > need {
		need = cfg.Passive.Animal
	}
	return &Social{cfg: cfg, need: need + 1}, nil
}

// CheckAll reports whether the designated animals are interacting.
// Frames tracking fewer animals than the roles require, and roles whose
// parts are all untracked, read as a non-match.
func (t *Social) CheckAll(skels []pose.Skeleton) (bool, *viz.Response) {
	if len(skels) < t.need {
		return false, viz.New()
	}

	active, okA := pose.Centroid(skels[t.cfg.Active.Animal], t.cfg.Active.BodyParts)
	passive, okP := pose.Centroid(skels[t.cfg.Passive.Animal], t.cfg.Passive.BodyParts)
	if !okA || !okP {
		return false, viz.New()
	}

	d := pose.Distance(active, passive)
	matched := d <= t.cfg.Threshold

	resp := viz.New(
		viz.Dot(active),
		viz.Dot(passive),
		viz.Line(active, passive),
		viz.Text(fmt.Sprintf("%.0fpx", d), pose.Midpoint(active, passive)),
	)
	resp.Active = matched
	return matched, resp
}
