// Package monitor serves the experiment's debugging surface: a status
// JSON snapshot, live trial events over SSE, chart pages, a read-only
// SQL browser and database backups. Everything registers on the tsweb
// debug mux, so routes are reachable only over localhost or the
// tailnet, and nothing here ever blocks the frame loop.
package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/clementpouget/DeepLabStream/internal/experiment"
	"github.com/clementpouget/DeepLabStream/internal/httputil"
	"github.com/clementpouget/DeepLabStream/internal/sessiondb"
	"github.com/clementpouget/DeepLabStream/internal/viz"
)

// Config wires a Server to the running experiment.
type Config struct {
	// Status snapshots the controller. Required.
	Status func() experiment.Status

	// Store enables the tailsql browser, backup download and the event
	// timeline chart. Optional.
	Store *sessiondb.Store

	// Hub enables the SSE event tail. Optional.
	Hub *EventHub

	// SessionID is the session this run records into, used as the
	// default for the event timeline. Optional.
	SessionID string
}

// Server holds the handlers behind the monitor's debug routes.
type Server struct {
	status    func() experiment.Status
	store     *sessiondb.Store
	hub       *EventHub
	sessionID string

	overlayMu sync.Mutex
	overlay   overlaySnapshot
}

// overlaySnapshot is the latest frame's visualization output.
type overlaySnapshot struct {
	Time   time.Time   `json:"time"`
	Frame  uint64      `json:"frame"`
	Active bool        `json:"active"`
	Shapes []viz.Shape `json:"shapes,omitempty"`
}

// NewServer creates a monitor over the given experiment plumbing.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Status == nil {
		return nil, fmt.Errorf("monitor needs a status function")
	}
	return &Server{
		status:    cfg.Status,
		store:     cfg.Store,
		hub:       cfg.Hub,
		sessionID: cfg.SessionID,
	}, nil
}

// SetOverlay publishes one frame's visualization output. The frame loop
// calls this after every evaluation; nil responses clear the overlay
// shapes but keep the frame number current.
func (s *Server) SetOverlay(frame uint64, resp *viz.Response) {
	snap := overlaySnapshot{Time: time.Now(), Frame: frame}
	if resp != nil {
		snap.Active = resp.Active
		snap.Shapes = resp.Shapes
	}

	s.overlayMu.Lock()
	s.overlay = snap
	s.overlayMu.Unlock()
}

// AttachDebugRoutes registers the monitor endpoints under /debug/.
func (s *Server) AttachDebugRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("experiment-status", "experiment status snapshot (JSON)", s.handleStatus)
	debug.HandleFunc("trial-counts", "trial counts bar chart", s.handleTrialCounts)

	if s.store != nil {
		debug.HandleFunc("event-timeline", "trial event timeline chart", s.handleEventTimeline)
		if err := s.store.AttachDebugRoutes(mux); err != nil {
			return err
		}
	}

	if s.hub != nil {
		// SSE stream of trial events as they happen
		debug.HandleSilentFunc("events-tail", s.handleEventsTail)
	}

	// Latest frame overlay for external renderers
	debug.HandleSilentFunc("overlay", s.handleOverlay)

	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := struct {
		Session string            `json:"session,omitempty"`
		Time    time.Time         `json:"time"`
		Status  experiment.Status `json:"status"`
	}{
		Session: s.sessionID,
		Time:    time.Now(),
		Status:  s.status(),
	}

	httputil.WriteJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	s.overlayMu.Lock()
	snap := s.overlay
	s.overlayMu.Unlock()

	httputil.WriteJSON(w, http.StatusOK, snap)
}

func (s *Server) handleEventsTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	w.(http.Flusher).Flush()

	for {
		select {
		case ev, ok := <-c:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte(fmt.Sprintf("data: %s\n\n", data))); err != nil {
				return
			}
			w.(http.Flusher).Flush()
		case <-r.Context().Done():
			return
		}
	}
}
