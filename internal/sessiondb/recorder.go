package sessiondb

import (
	"sync"

	"github.com/google/uuid"

	"github.com/clementpouget/DeepLabStream/internal/experiment"
)

// Recorder appends controller events to one session. It implements
// experiment.Recorder. Sequence numbers are monotonic per session and
// start at 1, so event order survives identical timestamps.
type Recorder struct {
	store     *Store
	sessionID string

	mu  sync.Mutex
	seq uint64
}

// NewRecorder creates a recorder writing to the given session.
func NewRecorder(store *Store, sessionID string) *Recorder {
	return &Recorder{store: store, sessionID: sessionID}
}

func (r *Recorder) Record(ev experiment.Event) error {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	Tracef("session %s seq %d: %s trial=%q count=%d frame=%d",
		r.sessionID, seq, ev.Kind, ev.Trial, ev.Count, ev.Frame)

	return r.store.insertEvent(TrialEvent{
		ID:         uuid.NewString(),
		SessionID:  r.sessionID,
		Seq:        seq,
		Kind:       string(ev.Kind),
		Trial:      ev.Trial,
		Count:      ev.Count,
		Frame:      ev.Frame,
		Detail:     ev.Detail,
		RecordedAt: ev.Time,
	})
}
