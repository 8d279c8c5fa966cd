package sessiondb

import (
	"compress/gzip"
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/clementpouget/DeepLabStream/internal/experiment"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestOpenMigratesSchema tests that Open applies all embedded migrations
func TestOpenMigratesSchema(t *testing.T) {
	store := setupTestStore(t)

	version, dirty, err := store.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if dirty {
		t.Error("Expected clean migration state")
	}
	if version != 2 {
		t.Errorf("Expected schema version 2, got %d", version)
	}

	for _, table := range []string{"sessions", "trial_events"} {
		var count int
		err := store.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table,
		).Scan(&count)
		if err != nil {
			t.Fatalf("Failed to check table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Expected table %s to exist", table)
		}
	}
}

// TestMigrateDownAndUp tests stepping the schema back and forward
func TestMigrateDownAndUp(t *testing.T) {
	store := setupTestStore(t)

	if err := store.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	version, _, err := store.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 {
		t.Errorf("Expected schema version 1 after down, got %d", version)
	}

	if err := store.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	version, _, err = store.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 2 {
		t.Errorf("Expected schema version 2 after up, got %d", version)
	}
}

// TestSessionLifecycle tests session begin, fetch, end and listing
func TestSessionLifecycle(t *testing.T) {
	store := setupTestStore(t)

	sess, err := store.BeginSession("mouse-7", "optogen")
	if err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("BeginSession returned empty ID")
	}
	if sess.StartedAt.IsZero() {
		t.Error("BeginSession returned zero start time")
	}

	got, err := store.SessionByID(sess.ID)
	if err != nil {
		t.Fatalf("SessionByID failed: %v", err)
	}
	if got.Name != "mouse-7" || got.Experiment != "optogen" {
		t.Errorf("SessionByID = %+v, want name mouse-7 / experiment optogen", got)
	}
	if !got.StartedAt.Equal(sess.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, sess.StartedAt)
	}
	if got.EndedAt != nil {
		t.Errorf("Expected nil EndedAt on a running session, got %v", got.EndedAt)
	}

	if err := store.EndSession(sess.ID); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	got, err = store.SessionByID(sess.ID)
	if err != nil {
		t.Fatalf("SessionByID failed: %v", err)
	}
	if got.EndedAt == nil {
		t.Error("Expected EndedAt to be set after EndSession")
	}

	// Ending twice is an error
	if err := store.EndSession(sess.ID); err == nil {
		t.Error("Expected error when ending an already ended session")
	}

	sessions, err := store.RecentSessions(10)
	if err != nil {
		t.Fatalf("RecentSessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != sess.ID {
		t.Errorf("RecentSessions = %+v, want the one session", sessions)
	}
}

// TestEndUnknownSession tests error handling for bad session IDs
func TestEndUnknownSession(t *testing.T) {
	store := setupTestStore(t)

	if err := store.EndSession("no-such-session"); err == nil {
		t.Error("Expected error for unknown session")
	}
}

// TestRecorderAssignsMonotonicSeq tests event persistence and ordering
func TestRecorderAssignsMonotonicSeq(t *testing.T) {
	store := setupTestStore(t)

	sess, err := store.BeginSession("mouse-7", "example")
	if err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}
	rec := NewRecorder(store, sess.ID)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	events := []experiment.Event{
		{Time: base, Kind: experiment.EventStarted},
		{Time: base.Add(1 * time.Second), Kind: experiment.EventPromoted, Trial: "Greenbar_whiteback", Count: 1, Frame: 30},
		{Time: base.Add(2 * time.Second), Kind: experiment.EventDemoted, Trial: "Greenbar_whiteback", Count: 1, Frame: 60},
		{Time: base.Add(3 * time.Second), Kind: experiment.EventStopped, Detail: "experiment timer expired"},
	}
	for _, ev := range events {
		if err := rec.Record(ev); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	got, err := store.Events(sess.ID)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("Expected %d events, got %d", len(events), len(got))
	}
	for i, ev := range got {
		if ev.Seq != uint64(i+1) {
			t.Errorf("event %d: Seq = %d, want %d", i, ev.Seq, i+1)
		}
		if ev.Kind != string(events[i].Kind) {
			t.Errorf("event %d: Kind = %q, want %q", i, ev.Kind, events[i].Kind)
		}
		if ev.Trial != events[i].Trial {
			t.Errorf("event %d: Trial = %q, want %q", i, ev.Trial, events[i].Trial)
		}
		if ev.Count != events[i].Count {
			t.Errorf("event %d: Count = %d, want %d", i, ev.Count, events[i].Count)
		}
		if ev.Frame != events[i].Frame {
			t.Errorf("event %d: Frame = %d, want %d", i, ev.Frame, events[i].Frame)
		}
		if ev.Detail != events[i].Detail {
			t.Errorf("event %d: Detail = %q, want %q", i, ev.Detail, events[i].Detail)
		}
		if !ev.RecordedAt.Equal(events[i].Time) {
			t.Errorf("event %d: RecordedAt = %v, want %v", i, ev.RecordedAt, events[i].Time)
		}
		if ev.SessionID != sess.ID {
			t.Errorf("event %d: SessionID = %q, want %q", i, ev.SessionID, sess.ID)
		}
	}
}

// TestEventsEmptySession tests reading a session with no events
func TestEventsEmptySession(t *testing.T) {
	store := setupTestStore(t)

	events, err := store.Events("no-such-session")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Expected no events, got %d", len(events))
	}
}

// TestCountsByKind tests the per-trial tallies used by the monitor charts
func TestCountsByKind(t *testing.T) {
	store := setupTestStore(t)

	sess, err := store.BeginSession("mouse-7", "example")
	if err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}
	rec := NewRecorder(store, sess.ID)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	kinds := []struct {
		kind  experiment.EventKind
		trial string
	}{
		{experiment.EventPromoted, "Greenbar_whiteback"},
		{experiment.EventDemoted, "Greenbar_whiteback"},
		{experiment.EventPromoted, "Greenbar_whiteback"},
		{experiment.EventPromoted, "Bluebar_whiteback"},
	}
	for i, k := range kinds {
		ev := experiment.Event{Time: base.Add(time.Duration(i) * time.Second), Kind: k.kind, Trial: k.trial}
		if err := rec.Record(ev); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	counts, err := store.CountsByKind(sess.ID, string(experiment.EventPromoted))
	if err != nil {
		t.Fatalf("CountsByKind failed: %v", err)
	}
	want := map[string]int{"Greenbar_whiteback": 2, "Bluebar_whiteback": 1}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
}

// TestBackupDownload tests the gzip backup endpoint end to end
func TestBackupDownload(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.BeginSession("mouse-7", "example"); err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}

	httpMux := http.NewServeMux()
	if err := store.AttachDebugRoutes(httpMux); err != nil {
		t.Fatalf("AttachDebugRoutes failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", w.Code, w.Body.String())
	}

	gz, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("Failed to read gzip body: %v", err)
	}
	raw, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("Failed to decompress backup: %v", err)
	}

	backupPath := filepath.Join(t.TempDir(), "restored.db")
	if err := os.WriteFile(backupPath, raw, 0o644); err != nil {
		t.Fatalf("Failed to write restored backup: %v", err)
	}

	restored, err := sql.Open("sqlite", backupPath)
	if err != nil {
		t.Fatalf("Failed to open restored backup: %v", err)
	}
	defer restored.Close()

	var count int
	if err := restored.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		t.Fatalf("Failed to count sessions in backup: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 session in backup, got %d", count)
	}
}
