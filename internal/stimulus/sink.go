package stimulus

import "sync"

// Switcher is the slice of the laser mux a sink needs: turn the beam on
// and off.
type Switcher interface {
	On() error
	Off() error
}

// LaserSink drives the laser controller from trial state. Each Activate
// issues exactly one on command and each Deactivate exactly one off
// command. Controllers forward state every frame and repeated commands
// are no-ops on the device.
type LaserSink struct {
	laser Switcher
}

// NewLaserSink wraps a laser mux as an experiment sink.
func NewLaserSink(laser Switcher) *LaserSink {
	return &LaserSink{laser: laser}
}

func (s *LaserSink) Activate(trial string) error {
	return s.laser.On()
}

func (s *LaserSink) Deactivate() error {
	return s.laser.Off()
}

// ScreenSink forwards trial state to the screen worker, showing the cue
// named after the trial while it is current and blanking otherwise.
type ScreenSink struct {
	worker *ScreenWorker
}

// NewScreenSink wraps a screen worker as an experiment sink.
func NewScreenSink(worker *ScreenWorker) *ScreenSink {
	return &ScreenSink{worker: worker}
}

func (s *ScreenSink) Activate(trial string) error {
	s.worker.Show(trial)
	return nil
}

func (s *ScreenSink) Deactivate() error {
	s.worker.Clear()
	return nil
}

// RecordingSink captures the command stream for tests and dry runs. Each
// Activate appends the trial name and each Deactivate appends an empty
// string.
type RecordingSink struct {
	mu       sync.Mutex
	commands []string
	err      error
}

// NewRecordingSink creates an empty RecordingSink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

// Fail makes subsequent commands return err while still recording them.
func (s *RecordingSink) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *RecordingSink) Activate(trial string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, trial)
	return s.err
}

func (s *RecordingSink) Deactivate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, "")
	return s.err
}

// Commands returns the recorded command stream.
func (s *RecordingSink) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}
