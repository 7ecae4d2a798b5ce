// Package runtime implements the Supervisor Runtime, C11: process
// signal handling, ordered graceful shutdown, and the Unresponded
// Tracker, §4.7.1 step 4 / §7.5.
package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/agentworker/internal/cronsweep"
)

// unrespondedAlertAfter is how long a pending ⏳ reaction may sit
// before UnrespondedTracker logs an alert, §7.5 ("original comment
// reaction remains ⏳ until the Unresponded Tracker alerts").
const unrespondedAlertAfter = 15 * time.Minute

type pending struct {
	repoID    string
	commentID string
	sessionID string
	markedAt  time.Time
	alerted   bool
}

// UnrespondedTracker watches sessions whose original comment still
// carries a ⏳ reaction — most commonly a session that failed before
// ever posting its thread reply (§4.7.1 step 4, §4.6 failure semantics)
// — and logs once per pending item once it has sat unresolved past
// unrespondedAlertAfter. Grounded on dedup.Deduplicator's
// mark/sweep/TTL shape, generalized from "suppress duplicates" to
// "alert on staleness" since both are owned-map-with-a-ticker idioms.
type UnrespondedTracker struct {
	mu      sync.Mutex
	pending map[string]*pending // keyed by sessionID
}

// NewUnrespondedTracker builds an empty tracker.
func NewUnrespondedTracker() *UnrespondedTracker {
	return &UnrespondedTracker{pending: make(map[string]*pending)}
}

// Mark records that sessionID's original comment now carries a
// pending ⏳ reaction awaiting resolution.
func (u *UnrespondedTracker) Mark(repoID, sessionID, commentID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pending[sessionID] = &pending{repoID: repoID, commentID: commentID, sessionID: sessionID, markedAt: time.Now()}
}

// Resolve clears sessionID's pending entry once its reaction has been
// swapped to ✅ (or the session has otherwise reached a terminal state
// that no longer needs alerting).
func (u *UnrespondedTracker) Resolve(sessionID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.pending, sessionID)
}

// Sweep logs an alert, once, for every entry that has been pending
// longer than unrespondedAlertAfter.
func (u *UnrespondedTracker) Sweep() {
	u.mu.Lock()
	defer u.mu.Unlock()
	now := time.Now()
	for _, p := range u.pending {
		if p.alerted || now.Sub(p.markedAt) < unrespondedAlertAfter {
			continue
		}
		p.alerted = true
		slog.Warn("unresponded.alert",
			"repository_id", p.repoID,
			"session_id", p.sessionID,
			"comment_id", p.commentID,
			"pending_for", now.Sub(p.markedAt).String(),
		)
	}
}

// Run sweeps on a cron schedule until ctx is cancelled.
func (u *UnrespondedTracker) Run(ctx context.Context, cron string) {
	ticker := cronsweep.NewTicker(cron)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.Sweep()
		}
	}
}
