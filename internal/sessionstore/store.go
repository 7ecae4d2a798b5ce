package sessionstore

import (
	"fmt"
	"sync"
	"time"
)

// repoPartition is one repository's slice of the store, each guarded by
// its own lock so operations on different repositories never contend —
// mirrors the teacher's internal/sessions.Manager, generalized from one
// flat RWMutex-guarded map to N per-repository ones, per §5 ("The
// Session Store is partitioned per repository; no cross-partition
// locks").
type repoPartition struct {
	mu       sync.RWMutex
	sessions map[string]*AgentSession
	entries  map[string][]AgentSessionEntry
}

func newPartition() *repoPartition {
	return &repoPartition{
		sessions: make(map[string]*AgentSession),
		entries:  make(map[string][]AgentSessionEntry),
	}
}

// Store is the C4 Session Store.
type Store struct {
	mu         sync.RWMutex
	partitions map[string]*repoPartition // keyed by repository id
}

// New creates an empty Store.
func New() *Store {
	return &Store{partitions: make(map[string]*repoPartition)}
}

func (s *Store) partition(repoID string) *repoPartition {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partitions[repoID]
	if !ok {
		p = newPartition()
		s.partitions[repoID] = p
	}
	return p
}

// Get returns the session with id in repoID.
func (s *Store) Get(repoID, sessionID string) (*AgentSession, bool) {
	p := s.partition(repoID)
	p.mu.RLock()
	defer p.mu.RUnlock()
	sess, ok := p.sessions[sessionID]
	return sess, ok
}

// GetAny looks for sessionID across every repository partition —
// needed by §4.7.9 ("C7 finds the parent (looking in any repository)").
func (s *Store) GetAny(sessionID string) (repoID string, sess *AgentSession, ok bool) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.partitions))
	for id := range s.partitions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		if sess, found := s.Get(id, sessionID); found {
			return id, sess, true
		}
	}
	return "", nil, false
}

// FindByAssistantSessionID looks for the session whose current
// AssistantSessionID matches runtimeID, across every repository
// partition — the reverse of the AgentSession.ID -> AssistantSessionID
// link, needed to route a streamed Assistant message back to its
// owning session (C6's caller knows only the runtime's own id).
func (s *Store) FindByAssistantSessionID(runtimeID string) (repoID string, sess *AgentSession, ok bool) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.partitions))
	for id := range s.partitions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		p := s.partition(id)
		p.mu.RLock()
		for _, candidate := range p.sessions {
			if candidate.AssistantSessionID == runtimeID {
				p.mu.RUnlock()
				return id, candidate, true
			}
		}
		p.mu.RUnlock()
	}
	return "", nil, false
}

// GetForIssue returns every session for the given issue id within one
// repository.
func (s *Store) GetForIssue(repoID, issueID string) []*AgentSession {
	p := s.partition(repoID)
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*AgentSession
	for _, sess := range p.sessions {
		if sess.IssueID == issueID {
			out = append(out, sess)
		}
	}
	return out
}

// Upsert inserts or replaces a session.
func (s *Store) Upsert(repoID string, sess *AgentSession) {
	p := s.partition(repoID)
	p.mu.Lock()
	defer p.mu.Unlock()
	sess.UpdatedAt = time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = sess.UpdatedAt
	}
	p.sessions[sess.ID] = sess
}

// Delete removes a session and its entries.
func (s *Store) Delete(repoID, sessionID string) {
	p := s.partition(repoID)
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, sessionID)
	delete(p.entries, sessionID)
}

// AppendEntry appends one turn/tool-use record to a session's entry
// log.
func (s *Store) AppendEntry(repoID, sessionID string, e AgentSessionEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	p := s.partition(repoID)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sessions[sessionID]; !ok {
		return fmt.Errorf("append entry: unknown session %s in repo %s", sessionID, repoID)
	}
	p.entries[sessionID] = append(p.entries[sessionID], e)
	return nil
}

// Entries returns the full entry log for a session.
func (s *Store) Entries(repoID, sessionID string) []AgentSessionEntry {
	p := s.partition(repoID)
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]AgentSessionEntry, len(p.entries[sessionID]))
	copy(out, p.entries[sessionID])
	return out
}

// SetProcedureMetadata updates a session's procedure bookkeeping.
func (s *Store) SetProcedureMetadata(repoID, sessionID string, meta ProcedureMetadata) error {
	return s.mutate(repoID, sessionID, func(sess *AgentSession) {
		sess.Metadata.Procedure = meta
	})
}

// SetResponseTemplate records the template chosen by a session's
// select-template Subroutine, §4.7.8.
func (s *Store) SetResponseTemplate(repoID, sessionID, template string) error {
	return s.mutate(repoID, sessionID, func(sess *AgentSession) {
		sess.Metadata.ResponseTemplate = template
	})
}

// MarkThreadReplyPosted sets the thread-reply-posted flag (TTL 5 min,
// enforced by the caller re-checking ThreadReplyPostedAt before
// re-posting) per §4.7.8.
func (s *Store) MarkThreadReplyPosted(repoID, sessionID string) error {
	return s.mutate(repoID, sessionID, func(sess *AgentSession) {
		sess.Metadata.ThreadReplyPostedAt = time.Now()
	})
}

// SetReactionID records the ⏳/✅ reaction id on a session's original
// comment.
func (s *Store) SetReactionID(repoID, sessionID, reactionID string) error {
	return s.mutate(repoID, sessionID, func(sess *AgentSession) {
		sess.ReactionID = reactionID
	})
}

// SetStatus transitions a session's status.
func (s *Store) SetStatus(repoID, sessionID string, status Status) error {
	return s.mutate(repoID, sessionID, func(sess *AgentSession) {
		sess.Status = status
	})
}

// SetAssistantSessionID records the Assistant runtime's own resumption
// handle.
func (s *Store) SetAssistantSessionID(repoID, sessionID, assistantSessionID string) error {
	return s.mutate(repoID, sessionID, func(sess *AgentSession) {
		sess.AssistantSessionID = assistantSessionID
	})
}

// AppendIssueChange records a change record into
// metadata.issueChangeHistory, §4.7.4 ("Never auto-advance").
func (s *Store) AppendIssueChange(repoID, sessionID string, rec IssueChangeRecord) error {
	return s.mutate(repoID, sessionID, func(sess *AgentSession) {
		sess.Metadata.IssueChangeHistory = append(sess.Metadata.IssueChangeHistory, rec)
	})
}

func (s *Store) mutate(repoID, sessionID string, fn func(*AgentSession)) error {
	p := s.partition(repoID)
	p.mu.Lock()
	defer p.mu.Unlock()
	sess, ok := p.sessions[sessionID]
	if !ok {
		return fmt.Errorf("mutate: unknown session %s in repo %s", sessionID, repoID)
	}
	fn(sess)
	sess.UpdatedAt = time.Now()
	return nil
}

// ActiveForIssue returns the active (non-terminal) sessions for an
// issue — used by §4.7.3 (unassign stops every active Assistant for
// the issue).
func (s *Store) ActiveForIssue(repoID, issueID string) []*AgentSession {
	var out []*AgentSession
	for _, sess := range s.GetForIssue(repoID, issueID) {
		if sess.Status == StatusPending || sess.Status == StatusActive {
			out = append(out, sess)
		}
	}
	return out
}

// RemoveRepository drops an entire repository partition — §4.8's
// "Removed → ... drop from all maps".
func (s *Store) RemoveRepository(repoID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partitions, repoID)
}

// Snapshot returns every session and its entries for a repository, for
// C10 persistence.
func (s *Store) Snapshot(repoID string) (map[string]*AgentSession, map[string][]AgentSessionEntry) {
	p := s.partition(repoID)
	p.mu.RLock()
	defer p.mu.RUnlock()

	sessions := make(map[string]*AgentSession, len(p.sessions))
	for id, sess := range p.sessions {
		cp := *sess
		sessions[id] = &cp
	}
	entries := make(map[string][]AgentSessionEntry, len(p.entries))
	for id, e := range p.entries {
		cp := make([]AgentSessionEntry, len(e))
		copy(cp, e)
		entries[id] = cp
	}
	return sessions, entries
}

// Restore loads a repository's sessions and entries (from C10 on
// startup), overwriting any existing partition for that id.
func (s *Store) Restore(repoID string, sessions map[string]*AgentSession, entries map[string][]AgentSessionEntry) {
	p := newPartition()
	for id, sess := range sessions {
		p.sessions[id] = sess
	}
	for id, e := range entries {
		p.entries[id] = e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partitions[repoID] = p
}

// RepositoryIDs lists every partitioned repository id, for C10's full
// snapshot write.
func (s *Store) RepositoryIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.partitions))
	for id := range s.partitions {
		ids = append(ids, id)
	}
	return ids
}
