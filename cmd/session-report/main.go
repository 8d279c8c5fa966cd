// Command session-report summarizes a recorded experiment session:
// per-trial promotion counts, stimulation interval statistics, and
// optional PNG plots of the trial timeline and cumulative stimulation
// time.
package main

import (
	"flag"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/clementpouget/DeepLabStream/internal/experiment"
	"github.com/clementpouget/DeepLabStream/internal/sessiondb"
)

func main() {
	dbFile := flag.String("db", "sessions.db", "Session database path")
	sessionID := flag.String("session", "", "Session ID, latest when empty")
	list := flag.Bool("list", false, "List recent sessions and exit")
	limit := flag.Int("limit", 20, "How many sessions to list")
	plotDir := flag.String("plots", "", "Directory for PNG plots, empty disables plotting")
	flag.Parse()

	store, err := sessiondb.OpenNoMigrate(*dbFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open session database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if *list {
		if err := listSessions(store, *limit); err != nil {
			fmt.Fprintf(os.Stderr, "failed to list sessions: %v\n", err)
			os.Exit(1)
		}
		return
	}

	id := *sessionID
	if id == "" {
		recent, err := store.RecentSessions(1)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to find latest session: %v\n", err)
			os.Exit(1)
		}
		if len(recent) == 0 {
			fmt.Fprintln(os.Stderr, "no sessions recorded")
			os.Exit(1)
		}
		id = recent[0].ID
	}

	session, err := store.SessionByID(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load session %s: %v\n", id, err)
		os.Exit(1)
	}
	events, err := store.Events(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load events: %v\n", err)
		os.Exit(1)
	}
	promoted, err := store.CountsByKind(id, string(experiment.EventPromoted))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to count promotions: %v\n", err)
		os.Exit(1)
	}

	intervals := stimIntervals(session, events)
	printReport(session, events, promoted, intervals)

	if *plotDir != "" {
		if err := generatePlots(*plotDir, session, events, intervals); err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate plots: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nplots written to %s\n", *plotDir)
	}
}

func listSessions(store *sessiondb.Store, limit int) error {
	sessions, err := store.RecentSessions(limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("no sessions recorded")
		return nil
	}
	for _, s := range sessions {
		state := "open"
		if s.EndedAt != nil {
			state = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
		}
		fmt.Printf("%s  %-20s %-20s %s  %s\n",
			s.ID, s.Name, s.Experiment, s.StartedAt.Format(time.RFC3339), state)
	}
	return nil
}

// stimInterval is one contiguous stimulation period reconstructed from
// the stim_on/stim_off event pairs.
type stimInterval struct {
	trial string
	start time.Time
	end   time.Time
}

func (iv stimInterval) duration() time.Duration {
	return iv.end.Sub(iv.start)
}

// stimIntervals pairs up stimulation transitions in event order. An
// interval still open at the end of the log is closed at the session
// end, or at the last recorded event when the session never ended.
func stimIntervals(session sessiondb.Session, events []sessiondb.TrialEvent) []stimInterval {
	var out []stimInterval
	open := -1
	for _, ev := range events {
		switch ev.Kind {
		case string(experiment.EventStimOn):
			if open == -1 {
				out = append(out, stimInterval{trial: ev.Trial, start: ev.RecordedAt})
				open = len(out) - 1
			}
		case string(experiment.EventStimOff):
			if open != -1 {
				out[open].end = ev.RecordedAt
				open = -1
			}
		}
	}
	if open != -1 {
		end := out[open].start
		if session.EndedAt != nil && session.EndedAt.After(end) {
			end = *session.EndedAt
		} else if last := events[len(events)-1].RecordedAt; last.After(end) {
			end = last
		}
		out[open].end = end
	}
	return out
}

func printReport(session sessiondb.Session, events []sessiondb.TrialEvent, promoted map[string]int, intervals []stimInterval) {
	fmt.Printf("session %s  %s  experiment=%s\n", session.ID, session.Name, session.Experiment)
	fmt.Printf("started %s", session.StartedAt.Format(time.RFC3339))
	switch {
	case session.EndedAt != nil:
		fmt.Printf("  ended %s  duration %s\n",
			session.EndedAt.Format(time.RFC3339),
			session.EndedAt.Sub(session.StartedAt).Round(time.Second))
	case len(events) > 0:
		fmt.Printf("  still open, last event %s\n",
			events[len(events)-1].RecordedAt.Format(time.RFC3339))
	default:
		fmt.Println("  no events recorded")
	}
	fmt.Printf("events: %d\n", len(events))

	// Group the stimulation intervals per trial, in seconds for the
	// statistics functions.
	durations := make(map[string][]float64)
	var totalStim time.Duration
	for _, iv := range intervals {
		durations[iv.trial] = append(durations[iv.trial], iv.duration().Seconds())
		totalStim += iv.duration()
	}

	names := make(map[string]bool)
	for name := range promoted {
		names[name] = true
	}
	for name := range durations {
		names[name] = true
	}
	var sorted []string
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	if len(sorted) > 0 {
		fmt.Printf("\n%-24s %9s %6s %11s %8s %8s %8s\n",
			"trial", "promoted", "stim", "total", "mean", "median", "stddev")
		for _, name := range sorted {
			durs := durations[name]
			var total, mean, median, sd float64
			for _, d := range durs {
				total += d
			}
			if len(durs) > 0 {
				mean = stat.Mean(durs, nil)
				ordered := append([]float64(nil), durs...)
				sort.Float64s(ordered)
				median = stat.Quantile(0.5, stat.Empirical, ordered, nil)
			}
			if len(durs) > 1 {
				sd = stat.StdDev(durs, nil)
			}
			fmt.Printf("%-24s %9d %6d %10.2fs %7.2fs %7.2fs %7.2fs\n",
				name, promoted[name], len(durs), total, mean, median, sd)
		}
		fmt.Printf("\ntotal stimulation: %s over %d intervals\n",
			totalStim.Round(10*time.Millisecond), len(intervals))
	}

	var delivered, collected int
	for _, ev := range events {
		switch ev.Kind {
		case string(experiment.EventDelivered):
			delivered++
		case string(experiment.EventCollected):
			collected++
		}
	}
	if delivered > 0 || collected > 0 {
		fmt.Printf("rewards: delivered=%d collected=%d\n", delivered, collected)
	}

	for _, ev := range events {
		if ev.Kind == string(experiment.EventStage) {
			fmt.Printf("advanced to stage %d at +%s\n",
				ev.Count, ev.RecordedAt.Sub(session.StartedAt).Round(time.Second))
		}
	}
}

func generatePlots(dir string, session sessiondb.Session, events []sessiondb.TrialEvent, intervals []stimInterval) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := plotTimeline(filepath.Join(dir, "trial_timeline.png"), session, events); err != nil {
		return fmt.Errorf("trial timeline: %w", err)
	}
	if err := plotStimulation(filepath.Join(dir, "stimulation.png"), session, intervals); err != nil {
		return fmt.Errorf("stimulation: %w", err)
	}
	return nil
}

// plotTimeline draws cumulative promotions per trial against seconds
// since the session started.
func plotTimeline(file string, session sessiondb.Session, events []sessiondb.TrialEvent) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - Trial Promotions", session.Experiment)
	p.X.Label.Text = "Seconds since start"
	p.Y.Label.Text = "Promotions"

	series := make(map[string]plotter.XYs)
	counts := make(map[string]int)
	var names []string
	for _, ev := range events {
		if ev.Kind != string(experiment.EventPromoted) {
			continue
		}
		if _, ok := series[ev.Trial]; !ok {
			names = append(names, ev.Trial)
			series[ev.Trial] = plotter.XYs{{X: 0, Y: 0}}
		}
		counts[ev.Trial]++
		series[ev.Trial] = append(series[ev.Trial], plotter.XY{
			X: ev.RecordedAt.Sub(session.StartedAt).Seconds(),
			Y: float64(counts[ev.Trial]),
		})
	}
	sort.Strings(names)

	colors := generateColors(len(names))
	for i, name := range names {
		line, err := plotter.NewLine(series[name])
		if err != nil {
			return err
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(name, line)
	}

	p.Legend.Top = true
	p.Legend.Left = true
	p.Legend.XOffs = 10
	p.Legend.YOffs = -10

	return p.Save(14*vg.Inch, 6*vg.Inch, file)
}

// plotStimulation draws the running total of stimulation time.
func plotStimulation(file string, session sessiondb.Session, intervals []stimInterval) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - Cumulative Stimulation", session.Experiment)
	p.X.Label.Text = "Seconds since start"
	p.Y.Label.Text = "Stimulation (s)"

	pts := plotter.XYs{{X: 0, Y: 0}}
	var cum float64
	for _, iv := range intervals {
		pts = append(pts, plotter.XY{X: iv.start.Sub(session.StartedAt).Seconds(), Y: cum})
		cum += iv.duration().Seconds()
		pts = append(pts, plotter.XY{X: iv.end.Sub(session.StartedAt).Seconds(), Y: cum})
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = color.RGBA{R: 220, G: 60, B: 60, A: 255}
	line.Width = vg.Points(1)
	p.Add(line)

	return p.Save(14*vg.Inch, 6*vg.Inch, file)
}

// generateColors creates a palette of distinct colors for trial lines
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}

	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
