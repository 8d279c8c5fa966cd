// Package trigger implements the predicate layer of the experiment
// pipeline: each trigger checks one condition against a tracked skeleton
// and reports a match plus an overlay for the video feed.
//
// Triggers never mutate skeletons and never fail per frame: missing or
// NaN body parts degrade to a non-match. Invalid configuration is
// rejected at construction instead.
package trigger

import (
	"github.com/clementpouget/DeepLabStream/internal/pose"
	"github.com/clementpouget/DeepLabStream/internal/viz"
)

// Trigger evaluates one animal's skeleton.
type Trigger interface {
	Check(s pose.Skeleton) (matched bool, resp *viz.Response)
}

// MultiTrigger evaluates the full skeleton set of one frame. Triggers
// that relate several animals to each other implement this instead of
// Trigger.
type MultiTrigger interface {
	CheckAll(skels []pose.Skeleton) (matched bool, resp *viz.Response)
}
