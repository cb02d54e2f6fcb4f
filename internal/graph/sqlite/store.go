// Package sqlite implements the session chain store and the analytics query
// engine on SQLite. The graph is encoded relationally: sessions carry the
// head pointer (set once) and the tail pointer (repointed per link), and each
// event carries at most one outgoing next_event_id, so every session's events
// form a simple path.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/artello/eventflow/internal/domain"
	"github.com/artello/eventflow/internal/graph"
)

// timeLayout is fixed-width so lexicographic comparison of stored timestamps
// equals chronological comparison. SQLite's datetime functions accept it.
const timeLayout = "2006-01-02 15:04:05.000"

// Store is the SQLite implementation of graph.ChainStore and
// graph.QueryEngine.
type Store struct {
	db *sql.DB
}

var _ graph.ChainStore = (*Store)(nil)

// New opens (or creates) the store at dbPath and initializes the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			app_id TEXT NOT NULL,
			head_event_id TEXT,
			last_event_id TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			app_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			action TEXT,
			payload TEXT NOT NULL,
			user_id TEXT,
			timestamp TEXT NOT NULL,
			next_event_id TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			country TEXT,
			device_type TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user ON events(user_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// LinkEvent appends ev to its session's chain as one transaction. SQLite
// serializes writing transactions, so two racing links on the same session
// cannot both observe "no tail": the loser sees the winner's tail.
//
// Redelivery of an already-linked event_id is absorbed as a no-op with
// Duplicate set; the chain is left untouched.
func (s *Store) LinkEvent(ctx context.Context, ev *domain.Event) (graph.LinkResult, error) {
	var res graph.LinkResult

	payload, err := json.Marshal(domain.NormalizePayload(ev.Payload))
	if err != nil {
		return res, fmt.Errorf("%w: payload not encodable: %v", domain.ErrValidation, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, domain.Unavailable("link_event", ev.SessionID, err)
	}
	defer tx.Rollback()

	// Idempotency check: event_id is globally unique.
	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM events WHERE event_id = ?`, ev.EventID).Scan(&exists)
	switch {
	case err == nil:
		res.Duplicate = true
		return res, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return res, domain.Unavailable("link_event", ev.SessionID, err)
	}

	// Get-or-create the session. app_id is set only on creation: the first
	// app to touch a session owns it.
	insert, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (session_id, app_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		ev.SessionID, ev.AppID, formatTime(time.Now()))
	if err != nil {
		return res, domain.Unavailable("link_event", ev.SessionID, err)
	}
	if n, err := insert.RowsAffected(); err == nil && n > 0 {
		res.SessionCreated = true
	}

	// Read the current tail.
	var tail sql.NullString
	if err := tx.QueryRowContext(ctx,
		`SELECT last_event_id FROM sessions WHERE session_id = ?`, ev.SessionID).Scan(&tail); err != nil {
		return res, domain.Unavailable("link_event", ev.SessionID, err)
	}

	// Create the event node.
	var userID sql.NullString
	if id := ev.UserID(); id != "" {
		userID = sql.NullString{String: id, Valid: true}
	}
	var action sql.NullString
	if ev.Action != "" {
		action = sql.NullString{String: ev.Action, Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (event_id, session_id, app_id, event_type, action, payload, user_id, timestamp, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.SessionID, ev.AppID, ev.EventType, action, string(payload),
		userID, formatTime(ev.Timestamp), formatTime(time.Now())); err != nil {
		return res, domain.Unavailable("link_event", ev.SessionID, err)
	}

	if !tail.Valid {
		// First event: establish the chain head and the tail together.
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET head_event_id = ?, last_event_id = ? WHERE session_id = ?`,
			ev.EventID, ev.EventID, ev.SessionID); err != nil {
			return res, domain.Unavailable("link_event", ev.SessionID, err)
		}
	} else {
		// Attach to the old tail, then repoint the tail.
		if _, err := tx.ExecContext(ctx,
			`UPDATE events SET next_event_id = ? WHERE event_id = ?`,
			ev.EventID, tail.String); err != nil {
			return res, domain.Unavailable("link_event", ev.SessionID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET last_event_id = ? WHERE session_id = ?`,
			ev.EventID, ev.SessionID); err != nil {
			return res, domain.Unavailable("link_event", ev.SessionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return res, domain.Unavailable("link_event", ev.SessionID, err)
	}
	return res, nil
}

// UpsertUser records or refreshes a user's segmentation attributes.
func (s *Store) UpsertUser(ctx context.Context, u graph.User) error {
	if u.UserID == "" {
		return fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, country, device_type) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			country = COALESCE(NULLIF(excluded.country, ''), country),
			device_type = COALESCE(NULLIF(excluded.device_type, ''), device_type)`,
		u.UserID, u.Country, u.DeviceType)
	if err != nil {
		return domain.Unavailable("upsert_user", "", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
