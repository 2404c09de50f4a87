// Package store persists session checkpoints in SQLite so a paused or
// interrupted generation can resume exactly where it stopped. The full
// session state is stored as a JSON blob per checkpoint; the sessions table
// always holds the latest state, the checkpoints table keeps the per-delta
// history for diagnostics.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"mcpforge/internal/logging"
	"mcpforge/internal/types"
)

// SessionStore is the SQLite-backed checkpoint store. One process owns the
// database file; the mutex serializes access on top of the single connection.
type SessionStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open initializes the checkpoint database at the given path, creating the
// parent directory and schema as needed.
func Open(path string) (*SessionStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("Opening session store at %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreDebug("pragma failed (%s): %v", pragma, err)
		}
	}

	s := &SessionStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logging.StoreDebug("Session store schema ready")
	return s, nil
}

func (s *SessionStore) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id      TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			state_json      TEXT NOT NULL,
			is_complete     INTEGER NOT NULL DEFAULT 0,
			needs_input     INTEGER NOT NULL DEFAULT 0,
			updated_at      DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id  TEXT NOT NULL,
			seq         INTEGER NOT NULL,
			phase       TEXT NOT NULL,
			state_json  TEXT NOT NULL,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(session_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id, seq)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveCheckpoint upserts the latest session state and appends one checkpoint
// row tagged with the phase that produced it.
func (s *SessionStore) SaveCheckpoint(session *types.SessionState, phase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", session.SessionID, err)
	}

	logging.StoreDebug("Saving checkpoint: session=%s phase=%s state_len=%d",
		session.SessionID, phase, len(blob))

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO sessions (session_id, conversation_id, state_json, is_complete, needs_input, updated_at)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(session_id) DO UPDATE SET
			state_json = excluded.state_json,
			is_complete = excluded.is_complete,
			needs_input = excluded.needs_input,
			updated_at = CURRENT_TIMESTAMP`,
		session.SessionID, session.ConversationID, string(blob),
		boolInt(session.IsComplete), boolInt(session.NeedsUserInput),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to save session %s: %v", session.SessionID, err)
		return err
	}

	var next int
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM checkpoints WHERE session_id = ?`,
		session.SessionID,
	).Scan(&next); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO checkpoints (session_id, seq, phase, state_json) VALUES (?, ?, ?, ?)`,
		session.SessionID, next, phase, string(blob),
	); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to append checkpoint for %s: %v", session.SessionID, err)
		return err
	}

	return tx.Commit()
}

// LoadSession retrieves the latest state for a session ID.
func (s *SessionStore) LoadSession(sessionID string) (*types.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blob string
	err := s.db.QueryRow(
		`SELECT state_json FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	if err != nil {
		return nil, err
	}

	var session types.SessionState
	if err := json.Unmarshal([]byte(blob), &session); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	logging.StoreDebug("Loaded session %s (complete=%v, needsInput=%v)",
		sessionID, session.IsComplete, session.NeedsUserInput)
	return &session, nil
}

// SessionSummary is one row of ListSessions.
type SessionSummary struct {
	SessionID      string
	ConversationID string
	IsComplete     bool
	NeedsUserInput bool
	UpdatedAt      time.Time
}

// ListSessions returns recent sessions, newest first.
func (s *SessionStore) ListSessions(limit int) ([]SessionSummary, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ListSessions")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT session_id, conversation_id, is_complete, needs_input, updated_at
		 FROM sessions ORDER BY updated_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var complete, needs int
		if err := rows.Scan(&sum.SessionID, &sum.ConversationID, &complete, &needs, &sum.UpdatedAt); err != nil {
			continue
		}
		sum.IsComplete = complete != 0
		sum.NeedsUserInput = needs != 0
		out = append(out, sum)
	}
	return out, rows.Err()
}

// CheckpointHistory returns the phase trail of a session, oldest first.
func (s *SessionStore) CheckpointHistory(sessionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT phase FROM checkpoints WHERE session_id = ? ORDER BY seq`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var phases []string
	for rows.Next() {
		var phase string
		if err := rows.Scan(&phase); err != nil {
			continue
		}
		phases = append(phases, phase)
	}
	return phases, rows.Err()
}

// DeleteSession removes a session and its checkpoint history.
func (s *SessionStore) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM checkpoints WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	logging.StoreDebug("Deleted session %s", sessionID)
	return tx.Commit()
}

// Close releases the database handle.
func (s *SessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
