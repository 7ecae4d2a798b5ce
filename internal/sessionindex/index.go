// Package sessionindex holds the process-global ephemeral bot-provenance
// and parent/child structures named in §3 and exposed, per DESIGN NOTES
// §9 ("Global ephemeral maps ... expose as a single SessionIndex object
// with explicit lifecycle"), as one object rather than module-global
// singletons.
package sessionindex

import (
	"context"
	"sync"
	"time"

	"github.com/nextlevelbuilder/agentworker/internal/cronsweep"
)

// recentBotCommentTTL is the 5-minute window named in §3.
const recentBotCommentTTL = 5 * time.Minute

// sweepCron is the "at most once per minute" cadence of §4.4,
// expressed as a cron schedule rather than a fixed interval so an
// operator can slow it down without a code change.
const sweepCron = "* * * * *"

type ttlSet struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration // 0 = no expiry
}

func newTTLSet(ttl time.Duration) *ttlSet {
	return &ttlSet{entries: make(map[string]time.Time), ttl: ttl}
}

func (s *ttlSet) add(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = time.Now()
}

func (s *ttlSet) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.entries[key]
	if !ok {
		return false
	}
	if s.ttl > 0 && time.Since(t) >= s.ttl {
		delete(s.entries, key)
		return false
	}
	return true
}

func (s *ttlSet) sweep() {
	if s.ttl == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for k, t := range s.entries {
		if now.Sub(t) >= s.ttl {
			delete(s.entries, k)
		}
	}
}

// Index is the single process-global object holding:
//   - recentBotCommentIds (5 min TTL) — suppress self-reply loops
//   - botParentCommentIds (no TTL; reset on restart) — comments we
//     authored that may be replied to
//   - botUserIds (no TTL) — Tracker user ids belonging to us
//   - childToParent — agent-session id → agent-session id
//
// All four are process-global per §5 ("guarded, and may be mutated
// from any session task"); Index owns their lifecycle explicitly via
// Start/Shutdown rather than letting them live as package-level vars,
// per DESIGN NOTES §9.
type Index struct {
	recentBotComments *ttlSet
	botParentComments *ttlSet
	botUserIDs        *ttlSet

	childMu     sync.RWMutex
	childToParent map[string]string

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs an Index. Call Start to begin its TTL sweeper.
func New() *Index {
	return &Index{
		recentBotComments: newTTLSet(recentBotCommentTTL),
		botParentComments: newTTLSet(0),
		botUserIDs:        newTTLSet(0),
		childToParent:     make(map[string]string),
	}
}

// Start launches the background TTL sweeper (at most once per minute,
// per §4.4). It is idempotent-safe to call once per process lifetime.
func (idx *Index) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	idx.cancel = cancel
	idx.done = make(chan struct{})

	go func() {
		defer close(idx.done)
		ticker := cronsweep.NewTicker(sweepCron)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				idx.recentBotComments.sweep()
			}
		}
	}()
}

// Shutdown stops the sweeper and waits for it to exit.
func (idx *Index) Shutdown() {
	if idx.cancel == nil {
		return
	}
	idx.cancel()
	<-idx.done
}

// RegisterBotComment marks commentID as bot-authored (adds it to both
// recentBotCommentIds and botParentCommentIds) and authorID as a bot
// user id — §4.7.10's three invariant-maintaining writes, performed
// together since every bot-authored comment triggers all three.
func (idx *Index) RegisterBotComment(commentID, authorID string) {
	idx.recentBotComments.add(commentID)
	idx.botParentComments.add(commentID)
	if authorID != "" {
		idx.botUserIDs.add(authorID)
	}
}

// IsRecentBotComment reports whether commentID was authored by us
// within the last 5 minutes.
func (idx *Index) IsRecentBotComment(commentID string) bool {
	return idx.recentBotComments.has(commentID)
}

// IsBotParentComment reports whether commentID is one we authored that
// may be legitimately replied to (no TTL — a reply to an old bot
// comment is still a reply to a bot comment).
func (idx *Index) IsBotParentComment(commentID string) bool {
	return idx.botParentComments.has(commentID)
}

// IsBotUser reports whether userID belongs to us.
func (idx *Index) IsBotUser(userID string) bool {
	return idx.botUserIDs.has(userID)
}

// LinkChild records that childID's parent is parentID — called when
// the "cyrus" MCP server spawns a child session, per §4.7.9.
func (idx *Index) LinkChild(childID, parentID string) {
	idx.childMu.Lock()
	defer idx.childMu.Unlock()
	idx.childToParent[childID] = parentID
}

// ParentOf returns the parent session id for childID, if any.
func (idx *Index) ParentOf(childID string) (string, bool) {
	idx.childMu.RLock()
	defer idx.childMu.RUnlock()
	p, ok := idx.childToParent[childID]
	return p, ok
}

// Unlink removes the child→parent edge once the parent has been
// resumed, so a child cannot trigger a second resumption — enforces
// "completion of c's final Subroutine triggers at most one resumption
// of p" (§8).
func (idx *Index) Unlink(childID string) {
	idx.childMu.Lock()
	defer idx.childMu.Unlock()
	delete(idx.childToParent, childID)
}
