package stimulus

import (
	"context"
	"sync"
)

// Displayer renders visual cues. Display shows the named cue fullscreen
// and Blank returns the screen to the background.
type Displayer interface {
	Display(name string)
	Blank()
}

// LogDisplay is a Displayer that only logs transitions. It stands in for
// a real display when running headless or in dev mode.
type LogDisplay struct{}

func (LogDisplay) Display(name string) { Opsf("screen cue %q", name) }
func (LogDisplay) Blank()              { Opsf("screen blanked") }

// ScreenWorker decouples per-frame trial state from the display. Show and
// Clear are cheap and non-blocking so the frame loop never stalls on
// rendering; repeated commands for the same cue are suppressed and only
// transitions reach the Displayer.
type ScreenWorker struct {
	display Displayer

	mu      sync.Mutex
	current string

	queue chan string
}

// NewScreenWorker creates a worker driving the given display. Run must be
// started for cues to appear.
func NewScreenWorker(display Displayer) *ScreenWorker {
	return &ScreenWorker{
		display: display,
		queue:   make(chan string, 16),
	}
}

// Show queues the named cue if it is not already showing.
func (w *ScreenWorker) Show(name string) {
	w.enqueue(name)
}

// Clear queues a blank if a cue is showing.
func (w *ScreenWorker) Clear() {
	w.enqueue("")
}

// Current returns the cue most recently queued, or the empty string when
// the screen is blank.
func (w *ScreenWorker) Current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *ScreenWorker) enqueue(name string) {
	w.mu.Lock()
	if w.current == name {
		w.mu.Unlock()
		return
	}
	w.current = name
	w.mu.Unlock()

	select {
	case w.queue <- name:
	default:
		Diagf("screen queue full, dropped cue %q", name)
	}
}

// Run forwards queued transitions to the display until ctx is cancelled,
// blanking the screen on the way out.
func (w *ScreenWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.display.Blank()
			return
		case name := <-w.queue:
			if name == "" {
				w.display.Blank()
			} else {
				w.display.Display(name)
			}
		}
	}
}
