// Package sessiondb persists experiment sessions and their trial events
// in a sqlite database. Each run of an experiment controller opens one
// session; the recorder appends controller events to it with a per-session
// monotonic sequence number.
package sessiondb

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

// timeLayout is how timestamps are stored. RFC 3339 keeps the columns
// readable in ad-hoc SQL queries and sorts lexicographically.
const timeLayout = time.RFC3339Nano

type Store struct {
	*sql.DB

	path string
}

// Open opens (creating if needed) the session database at path and runs
// all pending schema migrations.
func Open(path string) (*Store, error) {
	s, err := OpenNoMigrate(path)
	if err != nil {
		return nil, err
	}
	if err := s.MigrateUp(); err != nil {
		s.Close()
		return nil, err
	}
	Opsf("session db open at %s", path)
	return s, nil
}

// OpenNoMigrate opens the session database without touching the schema.
// The migrate subcommand uses this so migrations only run when asked.
func OpenNoMigrate(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return &Store{DB: db, path: path}, nil
}

// Session is one experiment run.
type Session struct {
	ID         string
	Name       string
	Experiment string
	StartedAt  time.Time
	EndedAt    *time.Time
}

// TrialEvent is one recorded controller transition within a session.
type TrialEvent struct {
	ID         string
	SessionID  string
	Seq        uint64
	Kind       string
	Trial      string
	Count      int
	Frame      uint64
	Detail     string
	RecordedAt time.Time
}

// BeginSession inserts a new session row and returns it.
func (s *Store) BeginSession(name, experiment string) (Session, error) {
	sess := Session{
		ID:         uuid.NewString(),
		Name:       name,
		Experiment: experiment,
		StartedAt:  time.Now().UTC(),
	}
	_, err := s.Exec(
		`INSERT INTO sessions (id, name, experiment, started_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.Name, sess.Experiment, sess.StartedAt.Format(timeLayout),
	)
	if err != nil {
		return Session{}, fmt.Errorf("failed to insert session: %w", err)
	}
	Opsf("session %s started (%s / %s)", sess.ID, sess.Name, sess.Experiment)
	return sess, nil
}

// EndSession stamps the session's end time.
func (s *Store) EndSession(id string) error {
	res, err := s.Exec(
		`UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		time.Now().UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s not found or already ended", id)
	}
	Opsf("session %s ended", id)
	return nil
}

// SessionByID fetches one session.
func (s *Store) SessionByID(id string) (Session, error) {
	row := s.QueryRow(
		`SELECT id, name, experiment, started_at, ended_at FROM sessions WHERE id = ?`, id,
	)
	return scanSession(row)
}

// RecentSessions lists sessions newest first.
func (s *Store) RecentSessions(limit int) ([]Session, error) {
	rows, err := s.Query(
		`SELECT id, name, experiment, started_at, ended_at
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		sess    Session
		started string
		ended   sql.NullString
	)
	if err := row.Scan(&sess.ID, &sess.Name, &sess.Experiment, &started, &ended); err != nil {
		return Session{}, err
	}
	startedAt, err := time.Parse(timeLayout, started)
	if err != nil {
		return Session{}, fmt.Errorf("bad started_at for session %s: %w", sess.ID, err)
	}
	sess.StartedAt = startedAt
	if ended.Valid {
		endedAt, err := time.Parse(timeLayout, ended.String)
		if err != nil {
			return Session{}, fmt.Errorf("bad ended_at for session %s: %w", sess.ID, err)
		}
		sess.EndedAt = &endedAt
	}
	return sess, nil
}

func (s *Store) insertEvent(ev TrialEvent) error {
	_, err := s.Exec(
		`INSERT INTO trial_events (id, session_id, seq, kind, trial, count, frame, detail, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SessionID, ev.Seq, ev.Kind, ev.Trial, ev.Count, ev.Frame, ev.Detail,
		ev.RecordedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trial event: %w", err)
	}
	return nil
}

// Events returns a session's trial events in sequence order.
func (s *Store) Events(sessionID string) ([]TrialEvent, error) {
	rows, err := s.Query(
		`SELECT id, session_id, seq, kind, trial, count, frame, detail, recorded_at
		 FROM trial_events WHERE session_id = ? ORDER BY seq ASC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []TrialEvent
	for rows.Next() {
		var (
			ev       TrialEvent
			recorded string
		)
		if err := rows.Scan(
			&ev.ID, &ev.SessionID, &ev.Seq, &ev.Kind, &ev.Trial,
			&ev.Count, &ev.Frame, &ev.Detail, &recorded,
		); err != nil {
			return nil, err
		}
		recordedAt, err := time.Parse(timeLayout, recorded)
		if err != nil {
			return nil, fmt.Errorf("bad recorded_at for event %s: %w", ev.ID, err)
		}
		ev.RecordedAt = recordedAt
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountsByKind tallies a session's events of one kind per trial.
func (s *Store) CountsByKind(sessionID, kind string) (map[string]int, error) {
	rows, err := s.Query(
		`SELECT trial, COUNT(*) FROM trial_events
		 WHERE session_id = ? AND kind = ? GROUP BY trial`, sessionID, kind,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			trial string
			n     int
		)
		if err := rows.Scan(&trial, &n); err != nil {
			return nil, err
		}
		counts[trial] = n
	}
	return counts, rows.Err()
}

// AttachDebugRoutes mounts a tailsql browser over the session database and
// a backup download endpoint under /debug/.
func (s *Store) AttachDebugRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.DB, &tailsql.DBOptions{
		Label: "Session DB",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := filepath.Join(filepath.Dir(s.path), fmt.Sprintf("backup-%d.db", time.Now().Unix()))
		if _, err := s.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filepath.Base(backupPath)))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}

		// close the backup file after sending it
		// and remove it from the filesystem
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				Diagf("failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()

		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))

	return nil
}
