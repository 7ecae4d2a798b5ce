// Package persistence implements C10: a single state file under
// <cyrusHome>/state capturing every repository's AgentSessions and
// AgentSessionEntries, written atomically after each state-advancing
// action and reloaded into the Session Store on startup. Ephemeral
// structures (dedup, bot provenance, child/parent links, reactions)
// are never persisted, per §4.10.
//
// Grounded on internal/sessions.Manager.Save()'s temp-file-then-rename
// idiom, generalized from one file per session key to a single file
// for the whole repository-partitioned store.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/nextlevelbuilder/agentworker/internal/sessionstore"
)

// Snapshot is the on-disk shape named in §4.10.
type Snapshot struct {
	AgentSessions       map[string]map[string]*sessionstore.AgentSession       `json:"agentSessions"`
	AgentSessionEntries map[string]map[string][]sessionstore.AgentSessionEntry `json:"agentSessionEntries"`
}

// Store writes and loads the state file, serializing writers so two
// concurrent state-advancing actions never interleave temp-file
// writes.
type Store struct {
	path string
	mu   sync.Mutex
}

// New returns a Store writing to <cyrusHome>/state/sessions.json.
func New(cyrusHome string) *Store {
	return &Store{path: filepath.Join(cyrusHome, "state", "sessions.json")}
}

// Save writes a full snapshot of every repository known to s
// atomically (temp file + rename), mirroring the teacher's
// sessions.Manager.Save().
func (st *Store) Save(s *sessionstore.Store) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	snap := Snapshot{
		AgentSessions:       make(map[string]map[string]*sessionstore.AgentSession),
		AgentSessionEntries: make(map[string]map[string][]sessionstore.AgentSessionEntry),
	}
	for _, repoID := range s.RepositoryIDs() {
		sessions, entries := s.Snapshot(repoID)
		snap.AgentSessions[repoID] = sessions
		snap.AgentSessionEntries[repoID] = entries
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state snapshot: %w", err)
	}

	dir := filepath.Dir(st.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "sessions-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tmpPath, st.path); err != nil {
		return fmt.Errorf("rename temp state file: %w", err)
	}
	cleanup = false
	return nil
}

// Load reads the state file, if present, and restores every
// repository's sessions and entries into s. A missing file is not an
// error — it means a fresh cyrusHome.
func (st *Store) Load(s *sessionstore.Store) error {
	st.mu.Lock()
	data, err := os.ReadFile(st.path)
	st.mu.Unlock()

	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("unmarshal state file: %w", err)
	}

	for repoID, sessions := range snap.AgentSessions {
		s.Restore(repoID, sessions, snap.AgentSessionEntries[repoID])
	}
	return nil
}
