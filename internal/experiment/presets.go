package experiment

import (
	"math/rand"
	"time"

	"github.com/clementpouget/DeepLabStream/internal/classifier"
	"github.com/clementpouget/DeepLabStream/internal/pose"
	"github.com/clementpouget/DeepLabStream/internal/timeutil"
	"github.com/clementpouget/DeepLabStream/internal/trigger"
)

// The presets below reconstruct the lab's experiment repertoire on top
// of the generic controllers. Arena geometry and timing constants are
// the rig's calibrated values; collaborators are injected so the same
// preset runs against real hardware or mocks.

// Screen cue positions and region sizes for the two-choice visual
// discrimination arena.
var (
	examplePointGreen = pose.Point{X: 550, Y: 163}
	examplePointBlue  = pose.Point{X: 372, Y: 163}

	discrimPointGreen = pose.Point{X: 550, Y: 63}
	discrimPointBlue  = pose.Point{X: 372, Y: 63}
)

const (
	exampleRegionRadius = 40*2 + 7.5
	discrimRegionRadius = 20.5 * 2

	// optogenTarget is the arena landmark the animal must face.
	optogenTargetX = 300
	optogenTargetY = 600
)

// NewExampleExperiment is the two-cue screen experiment: visiting
// either colored region with the neck shows the matching bar stimulus,
// with a 10s refractory per region and 10 repetitions per cue.
func NewExampleExperiment(sink Sink, rec Recorder, clock timeutil.Clock) (*Controller, error) {
	green, err := trigger.NewRegion(trigger.RegionConfig{
		Shape:     trigger.ShapeCircle,
		Center:    examplePointGreen,
		Radius:    exampleRegionRadius,
		BodyParts: []string{"neck"},
	})
	if err != nil {
		return nil, err
	}
	blue, err := trigger.NewRegion(trigger.RegionConfig{
		Shape:     trigger.ShapeCircle,
		Center:    examplePointBlue,
		Radius:    exampleRegionRadius,
		BodyParts: []string{"neck"},
	})
	if err != nil {
		return nil, err
	}
	table, err := NewTable(
		Trial{Name: "Greenbar_whiteback", Condition: SingleAnimal(green), MaxReps: 10, Cooldown: 10 * time.Second},
		Trial{Name: "Bluebar_whiteback", Condition: SingleAnimal(blue), MaxReps: 10, Cooldown: 10 * time.Second},
	)
	if err != nil {
		return nil, err
	}
	return NewController(ControllerConfig{
		Name:     "example",
		Table:    table,
		Duration: 600 * time.Second,
		Sink:     sink,
		Recorder: rec,
		Clock:    clock,
	})
}

// NewMultipleAnimalExperiment shows the green bar when any tracked
// animal enters the cue region.
func NewMultipleAnimalExperiment(sink Sink, rec Recorder, clock timeutil.Clock) (*Controller, error) {
	green, err := trigger.NewRegion(trigger.RegionConfig{
		Shape:     trigger.ShapeCircle,
		Center:    examplePointGreen,
		Radius:    exampleRegionRadius,
		BodyParts: []string{"bp1"},
	})
	if err != nil {
		return nil, err
	}
	table, err := NewTable(
		Trial{Name: "Greenbar_whiteback", Condition: AnyAnimal(green), MaxReps: 10, Cooldown: 10 * time.Second},
	)
	if err != nil {
		return nil, err
	}
	return NewController(ControllerConfig{
		Name:     "multiple-animal",
		Table:    table,
		Duration: 600 * time.Second,
		Sink:     sink,
		Recorder: rec,
		Clock:    clock,
	})
}

// NewSpeedExperiment switches the laser with locomotion: on while the
// tail root's mean speed over a five-frame window exceeds 10px per
// frame, off as soon as it drops.
func NewSpeedExperiment(sink Sink, rec Recorder, clock timeutil.Clock) (*Controller, error) {
	speed, err := trigger.NewSpeed(trigger.SpeedConfig{
		BodyPart:  "tailroot",
		WindowLen: 5,
		Threshold: 10,
	})
	if err != nil {
		return nil, err
	}
	table, err := NewTable(
		Trial{Name: "Running", Condition: SingleAnimal(speed)},
	)
	if err != nil {
		return nil, err
	}
	return NewController(ControllerConfig{
		Name:     "speed",
		Table:    table,
		Duration: 600 * time.Second,
		Sink:     sink,
		Recorder: rec,
		Clock:    clock,
	})
}

// freezeTagParts are the tracked points whose frame-to-frame travel
// decides immobility.
var freezeTagParts = []string{
	"nose", "left_ear", "right_ear", "neck", "left_side", "body_center",
	"right_side", "left_hip", "right_hip", "tail_base", "tail_tip",
}

// NewFreezeTagExperiment tags freezing cells: the laser is on while at
// least three tracked points moved under 5px since the previous frame,
// with a 10s lifetime stimulation budget inside a 30s session.
func NewFreezeTagExperiment(sink Sink, rec Recorder, clock timeutil.Clock) (*EpisodeController, error) {
	still, err := trigger.NewImmobility(trigger.ImmobilityConfig{
		BodyParts:         freezeTagParts,
		DistanceThreshold: 5,
		MinStillParts:     3,
	})
	if err != nil {
		return nil, err
	}
	return NewEpisodeController(EpisodeConfig{
		Name:      "freeze-tag",
		Trial:     "Freezing",
		Condition: SingleAnimal(still),
		Duration:  30 * time.Second,
		TotalCap:  10 * time.Second,
		Sink:      sink,
		Recorder:  rec,
		Clock:     clock,
	})
}

// NewOptogenExperiment stimulates while the animal faces the arena
// landmark within a ±25° window: intervals last 1 to 5 seconds with a
// 15s pause between them, 600s of total stimulation inside a 1800s
// session.
func NewOptogenExperiment(sink Sink, rec Recorder, clock timeutil.Clock) (*EpisodeController, error) {
	facing, err := trigger.NewDirection(trigger.DirectionConfig{
		Target:          pose.Point{X: optogenTargetX, Y: optogenTargetY},
		MaxDeviationDeg: 25,
		NosePart:        "nose",
		NeckPart:        "neck",
	})
	if err != nil {
		return nil, err
	}
	return NewEpisodeController(EpisodeConfig{
		Name:       "optogen",
		Trial:      "Stimulation",
		Condition:  SingleAnimal(facing),
		Duration:   1800 * time.Second,
		MinOn:      1 * time.Second,
		MaxOn:      5 * time.Second,
		Intertrial: 15 * time.Second,
		TotalCap:   600 * time.Second,
		Sink:       sink,
		Recorder:   rec,
		Clock:      clock,
	})
}

// NewTeamOptogenExperiment stimulates while the animal's head deviates
// from a fixed screen direction by an angle inside [startDeg, endDeg].
// The stimulation direction is chosen per session by the experimenter.
func NewTeamOptogenExperiment(stimDeg, startDeg, endDeg float64, sink Sink, rec Recorder, clock timeutil.Clock) (*EpisodeController, error) {
	head, err := trigger.NewHeadDirection(trigger.HeadDirectionConfig{
		RefDeg:   stimDeg,
		StartDeg: startDeg,
		EndDeg:   endDeg,
		NosePart: "nose",
		NeckPart: "neck",
	})
	if err != nil {
		return nil, err
	}
	return NewEpisodeController(EpisodeConfig{
		Name:      "team-optogen",
		Trial:     "Stimulation",
		Condition: SingleAnimal(head),
		Duration:  1800 * time.Second,
		MaxOn:     100 * time.Second,
		TotalCap:  600 * time.Second,
		Sink:      sink,
		Recorder:  rec,
		Clock:     clock,
	})
}

// NewDiscriminationExperiment walks the animal through three cue
// stages: plain region visits first, then progressively larger regions
// that also demand the head orient toward the cue. Ten repetitions per
// cue complete a stage.
func NewDiscriminationExperiment(sink Sink, rec Recorder, clock timeutil.Clock) (*Staged, error) {
	stages := make([]*Table, 0, 3)
	for stage := 1; stage <= 3; stage++ {
		var radius float64
		switch stage {
		case 1:
			radius = discrimRegionRadius + 7.5
		case 2:
			radius = discrimRegionRadius + 7.5*5
		case 3:
			radius = discrimRegionRadius + 7.5*10
		}
		table, err := discriminationStage(stage, radius)
		if err != nil {
			return nil, err
		}
		stages = append(stages, table)
	}
	return NewStaged(StagedConfig{
		Name:     "discrimination",
		Stages:   stages,
		Duration: 600 * time.Second,
		Sink:     sink,
		Recorder: rec,
		Clock:    clock,
	})
}

func discriminationStage(stage int, radius float64) (*Table, error) {
	cond := func(center pose.Point) (Condition, error) {
		roi, err := trigger.NewRegion(trigger.RegionConfig{
			Shape:     trigger.ShapeCircle,
			Center:    center,
			Radius:    radius,
			BodyParts: []string{"nose"},
		})
		if err != nil {
			return nil, err
		}
		if stage == 1 {
			return SingleAnimal(roi), nil
		}
		dir, err := trigger.NewDirection(trigger.DirectionConfig{
			Target:          center,
			MaxDeviationDeg: 30,
			NosePart:        "nose",
			NeckPart:        "neck",
		})
		if err != nil {
			return nil, err
		}
		return AllOf(SingleAnimal(roi), SingleAnimal(dir)), nil
	}

	green, err := cond(discrimPointGreen)
	if err != nil {
		return nil, err
	}
	blue, err := cond(discrimPointBlue)
	if err != nil {
		return nil, err
	}
	return NewTable(
		Trial{Name: "Greenbar_whiteback", Condition: green, MaxReps: 10},
		Trial{Name: "Bluebar_whiteback", Condition: blue, MaxReps: 10},
	)
}

// NewSocialExperiment shows the stimulus while the active animal's
// nose is within 30px of the passive animal.
func NewSocialExperiment(sink Sink, rec Recorder, clock timeutil.Clock) (*Controller, error) {
	social, err := trigger.NewSocial(trigger.SocialConfig{
		Active:      trigger.Role{Animal: 1, BodyParts: []string{"bp0"}},
		Passive:     trigger.Role{Animal: 0, BodyParts: []string{"bp2"}},
		Interaction: trigger.Proximity,
		Threshold:   30,
	})
	if err != nil {
		return nil, err
	}
	table, err := NewTable(
		Trial{Name: "DLStream_test", Condition: Multi(social), MaxReps: 999, Cooldown: 10 * time.Second},
	)
	if err != nil {
		return nil, err
	}
	return NewController(ControllerConfig{
		Name:     "social",
		Table:    table,
		Duration: 600 * time.Second,
		Sink:     sink,
		Recorder: rec,
		Clock:    clock,
	})
}

// NewClassifierProbExperiment shows the stimulus while the classifier
// pool reports the target behavior at or above the given confidence.
// The pool's lifetime brackets the experiment.
func NewClassifierProbExperiment(pool *classifier.Pool, threshold float64, sink Sink, rec Recorder, clock timeutil.Clock) (*Controller, error) {
	prob, err := trigger.NewProb(trigger.ProbConfig{Pool: pool, Threshold: threshold})
	if err != nil {
		return nil, err
	}
	table, err := NewTable(
		Trial{Name: "DLStream_test", Condition: SingleAnimal(prob), MaxReps: 999},
	)
	if err != nil {
		return nil, err
	}
	return NewController(ControllerConfig{
		Name:     "classifier-prob",
		Table:    table,
		Duration: 9999 * time.Second,
		Sink:     sink,
		Workers:  pool,
		Recorder: rec,
		Clock:    clock,
	})
}

// NewClassifierClassExperiment shows the stimulus while the classifier
// pool predicts the target class.
func NewClassifierClassExperiment(pool *classifier.Pool, target int, sink Sink, rec Recorder, clock timeutil.Clock) (*Controller, error) {
	class, err := trigger.NewClass(trigger.ClassConfig{Pool: pool, Target: target})
	if err != nil {
		return nil, err
	}
	table, err := NewTable(
		Trial{Name: "DLStream_test", Condition: SingleAnimal(class), MaxReps: 999, Cooldown: 10 * time.Second},
	)
	if err != nil {
		return nil, err
	}
	return NewController(ControllerConfig{
		Name:     "classifier-class",
		Table:    table,
		Duration: 600 * time.Second,
		Sink:     sink,
		Workers:  pool,
		Recorder: rec,
		Clock:    clock,
	})
}

// NewRewardPretrainingExperiment habituates the animal to the feeder:
// thirty reward deliveries on a randomized schedule, each followed by
// the animal collecting at the feeder port and a randomized pause of
// up to 30 seconds.
func NewRewardPretrainingExperiment(protocol Protocol, rec Recorder, clock timeutil.Clock, rng *rand.Rand) (*Reward, error) {
	feeder, err := trigger.NewRegion(trigger.RegionConfig{
		Shape:     trigger.ShapeCircle,
		Center:    pose.Point{X: 648, Y: 38},
		Radius:    30,
		BodyParts: []string{"nose"},
	})
	if err != nil {
		return nil, err
	}
	return NewReward(RewardConfig{
		Name:       "reward-pretraining",
		Trials:     []string{"Pretraining"},
		Length:     30,
		Collected:  SingleAnimal(feeder),
		Duration:   1800 * time.Second,
		InitialITI: 10 * time.Second,
		MinITI:     0,
		MaxITI:     30 * time.Second,
		Protocol:   protocol,
		Recorder:   rec,
		Clock:      clock,
		Rand:       rng,
	})
}
