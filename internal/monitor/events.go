package monitor

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/clementpouget/DeepLabStream/internal/experiment"
)

// EventHub sits between a controller and its recorder, fanning every
// event out to SSE subscribers on the way through. Slow subscribers
// miss events rather than stall the frame loop.
type EventHub struct {
	next experiment.Recorder

	subscriberMu sync.Mutex
	subscribers  map[string]chan experiment.Event
}

// NewEventHub creates a hub that forwards events to next. A nil next
// keeps the fanout without persistence.
func NewEventHub(next experiment.Recorder) *EventHub {
	return &EventHub{
		next:        next,
		subscribers: make(map[string]chan experiment.Event),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe returns a channel of live controller events and its ID for
// Unsubscribe.
func (h *EventHub) Subscribe() (string, chan experiment.Event) {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()

	id := randomID()
	c := make(chan experiment.Event, 16)
	h.subscribers[id] = c
	return id, c
}

// Unsubscribe closes and removes the subscriber channel.
func (h *EventHub) Unsubscribe(id string) {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()

	if c, ok := h.subscribers[id]; ok {
		close(c)
		delete(h.subscribers, id)
	}
}

// Record forwards the event to the downstream recorder, then to every
// subscriber without blocking.
func (h *EventHub) Record(ev experiment.Event) error {
	var err error
	if h.next != nil {
		err = h.next.Record(ev)
	}

	h.subscriberMu.Lock()
	for _, c := range h.subscribers {
		select {
		case c <- ev:
		default:
			// Skip subscribers with full channels
		}
	}
	h.subscriberMu.Unlock()

	return err
}
