package persistence

import (
	"log/slog"

	"github.com/nextlevelbuilder/agentworker/internal/sessionstore"
)

// DualStore fans a save out to the flat JSON Store (the canonical
// snapshot Load restores from on boot) and the optional SQLiteStore
// (queryable secondary copy, e.g. "list every failed session across
// all repositories" without parsing the JSON file). SQLite writes are
// best-effort: a failure there is logged, never returned, since the
// JSON Store remains the source of truth.
type DualStore struct {
	json   *Store
	sqlite *SQLiteStore
}

// NewDualStore pairs json with an optional sqlite backend. sqlite may
// be nil, in which case DualStore behaves exactly like json alone.
func NewDualStore(json *Store, sqlite *SQLiteStore) *DualStore {
	return &DualStore{json: json, sqlite: sqlite}
}

// Save implements orchestrator.Persister.
func (d *DualStore) Save(s *sessionstore.Store) error {
	if err := d.json.Save(s); err != nil {
		return err
	}
	if d.sqlite == nil {
		return nil
	}
	for _, repoID := range s.RepositoryIDs() {
		if err := d.sqlite.Save(repoID, s); err != nil {
			slog.Warn("persistence.sqlite_save_failed", "repo_id", repoID, "error", err)
		}
	}
	return nil
}

// Load restores from the JSON Store only — SQLiteStore is a secondary,
// query-oriented copy, never the boot-time source of truth, so a
// corrupt or absent sessions.db must never block startup.
func (d *DualStore) Load(s *sessionstore.Store) error {
	return d.json.Load(s)
}
