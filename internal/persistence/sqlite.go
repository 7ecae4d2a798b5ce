package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/agentworker/internal/sessionstore"
)

// SQLiteStore is the optional structured alternative to the flat JSON
// Store, for deployments that want queryable local persistence (e.g.
// "list every failed session across all repositories") without a
// server-side database. One row per AgentSession, keyed by
// (repository_id, session_id); entries are stored as a JSON blob
// column rather than normalized, since they are only ever read back
// whole.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) a sqlite database under
// <cyrusHome>/state/sessions.db.
func NewSQLiteStore(cyrusHome string) (*SQLiteStore, error) {
	path := filepath.Join(cyrusHome, "state", "sessions.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite state db: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS agent_sessions (
	repository_id TEXT NOT NULL,
	session_id    TEXT NOT NULL,
	session_json  TEXT NOT NULL,
	entries_json  TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	PRIMARY KEY (repository_id, session_id)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save upserts every session in a repository's partition.
func (s *SQLiteStore) Save(repoID string, store *sessionstore.Store) error {
	sessions, entries := store.Snapshot(repoID)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin sqlite tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
INSERT INTO agent_sessions (repository_id, session_id, session_json, entries_json, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (repository_id, session_id) DO UPDATE SET
	session_json = excluded.session_json,
	entries_json = excluded.entries_json,
	updated_at   = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare sqlite upsert: %w", err)
	}
	defer stmt.Close()

	for id, sess := range sessions {
		sessJSON, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("marshal session %s: %w", id, err)
		}
		entryJSON, err := json.Marshal(entries[id])
		if err != nil {
			return fmt.Errorf("marshal entries for %s: %w", id, err)
		}
		if _, err := stmt.Exec(repoID, id, string(sessJSON), string(entryJSON), sess.UpdatedAt.Format("2006-01-02T15:04:05.000Z07:00")); err != nil {
			return fmt.Errorf("upsert session %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// Load restores every session recorded for repoID into store.
func (s *SQLiteStore) Load(repoID string, store *sessionstore.Store) error {
	rows, err := s.db.Query(`SELECT session_id, session_json, entries_json FROM agent_sessions WHERE repository_id = ?`, repoID)
	if err != nil {
		return fmt.Errorf("query sqlite sessions: %w", err)
	}
	defer rows.Close()

	sessions := make(map[string]*sessionstore.AgentSession)
	entries := make(map[string][]sessionstore.AgentSessionEntry)

	for rows.Next() {
		var id, sessJSON, entryJSON string
		if err := rows.Scan(&id, &sessJSON, &entryJSON); err != nil {
			return fmt.Errorf("scan sqlite row: %w", err)
		}
		var sess sessionstore.AgentSession
		if err := json.Unmarshal([]byte(sessJSON), &sess); err != nil {
			return fmt.Errorf("unmarshal session %s: %w", id, err)
		}
		var entryList []sessionstore.AgentSessionEntry
		if err := json.Unmarshal([]byte(entryJSON), &entryList); err != nil {
			return fmt.Errorf("unmarshal entries for %s: %w", id, err)
		}
		sessions[id] = &sess
		entries[id] = entryList
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate sqlite rows: %w", err)
	}

	store.Restore(repoID, sessions, entries)
	return nil
}
