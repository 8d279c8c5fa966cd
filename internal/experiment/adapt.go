package experiment

import (
	"github.com/clementpouget/DeepLabStream/internal/pose"
	"github.com/clementpouget/DeepLabStream/internal/trigger"
	"github.com/clementpouget/DeepLabStream/internal/viz"
)

// SingleAnimal adapts a per-skeleton trigger to a condition evaluating
// the first tracked animal. Frames with no skeleton read as non-match.
func SingleAnimal(trig trigger.Trigger) Condition {
	return func(skels []pose.Skeleton) (bool, *viz.Response) {
		if len(skels) == 0 {
			return false, viz.New()
		}
		return trig.Check(skels[0])
	}
}

// AnyAnimal adapts a per-skeleton trigger so the first animal it
// matches satisfies the condition. Animals after the match are not
// evaluated.
func AnyAnimal(trig trigger.Trigger) Condition {
	return func(skels []pose.Skeleton) (bool, *viz.Response) {
		resp := viz.New()
		for _, s := range skels {
			matched, r := trig.Check(s)
			resp.Merge(r)
			if matched {
				resp.Active = true
				return true, resp
			}
		}
		return false, resp
	}
}

// AllOf combines conditions into one that holds only when every part
// holds on the same frame. Every part is evaluated each frame so its
// visualization and internal state stay live.
func AllOf(conds ...Condition) Condition {
	return func(skels []pose.Skeleton) (bool, *viz.Response) {
		resp := viz.New()
		ok := len(conds) > 0
		for _, c := range conds {
			matched, r := c(skels)
			resp.Merge(r)
			ok = ok && matched
		}
		resp.Active = ok
		return ok, resp
	}
}

// Multi adapts a whole-frame trigger, such as a social-interaction
// trigger spanning several animals.
func Multi(trig trigger.MultiTrigger) Condition {
	return trig.CheckAll
}
