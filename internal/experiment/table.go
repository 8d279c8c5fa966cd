package experiment

import (
	"fmt"
	"slices"
	"time"

	"github.com/clementpouget/DeepLabStream/internal/pose"
	"github.com/clementpouget/DeepLabStream/internal/viz"
)

// Condition evaluates one frame's skeletons for a single trial.
type Condition func(skels []pose.Skeleton) (bool, *viz.Response)

// Trial binds a name to the condition that makes it current and the
// budgets the controller enforces for it.
type Trial struct {
	// Name identifies the trial in counters, events and stimulus
	// commands.
	Name string

	// Condition is evaluated once per frame.
	Condition Condition

	// MaxReps caps how often the trial may become current before the
	// experiment completes. Zero means uncapped.
	MaxReps int

	// Cooldown is the refractory period after the trial ends during
	// which it cannot become current again.
	Cooldown time.Duration
}

// Table is the ordered set of trials one controller evaluates. Order is
// the tie-break: when several conditions hold on the same frame, the
// earliest trial wins.
type Table struct {
	trials []Trial
}

// NewTable validates the trials and fixes their evaluation order.
func NewTable(trials ...Trial) (*Table, error) {
	if len(trials) == 0 {
		return nil, fmt.Errorf("trial table: no trials")
	}
	seen := make(map[string]bool, len(trials))
	for _, tr := range trials {
		if tr.Name == "" {
			return nil, fmt.Errorf("trial table: trial with empty name")
		}
		if seen[tr.Name] {
			return nil, fmt.Errorf("trial table: duplicate trial %q", tr.Name)
		}
		if tr.Condition == nil {
			return nil, fmt.Errorf("trial table: trial %q has no condition", tr.Name)
		}
		if tr.Cooldown < 0 {
			return nil, fmt.Errorf("trial table: trial %q has negative cooldown", tr.Name)
		}
		if tr.MaxReps < 0 {
			return nil, fmt.Errorf("trial table: trial %q has negative repetition cap", tr.Name)
		}
		seen[tr.Name] = true
	}
	return &Table{trials: slices.Clone(trials)}, nil
}

// Trials returns the table's trials in evaluation order. Callers must
// not modify the returned slice.
func (t *Table) Trials() []Trial {
	return t.trials
}

// Len returns the number of trials.
func (t *Table) Len() int {
	return len(t.trials)
}
