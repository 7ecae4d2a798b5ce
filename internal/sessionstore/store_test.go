package sessionstore

import "testing"

func TestUpsertAndGet(t *testing.T) {
	s := New()
	sess := &AgentSession{ID: "s1", IssueID: "ENG-1", Status: StatusPending}
	s.Upsert("repo-a", sess)

	got, ok := s.Get("repo-a", "s1")
	if !ok {
		t.Fatalf("expected session to be found")
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Errorf("expected timestamps to be set on upsert")
	}
}

func TestPartitionsDoNotLeak(t *testing.T) {
	s := New()
	s.Upsert("repo-a", &AgentSession{ID: "s1", IssueID: "ENG-1"})
	s.Upsert("repo-b", &AgentSession{ID: "s1", IssueID: "ENG-1"})

	if _, ok := s.Get("repo-a", "s1"); !ok {
		t.Fatalf("repo-a/s1 missing")
	}
	if _, ok := s.Get("repo-b", "s1"); !ok {
		t.Fatalf("repo-b/s1 missing")
	}

	s.RemoveRepository("repo-a")
	if _, ok := s.Get("repo-a", "s1"); ok {
		t.Errorf("expected repo-a partition to be gone")
	}
	if _, ok := s.Get("repo-b", "s1"); !ok {
		t.Errorf("repo-b partition should be unaffected by repo-a removal")
	}
}

func TestGetAny_SearchesAllRepositories(t *testing.T) {
	s := New()
	s.Upsert("repo-a", &AgentSession{ID: "parent-1", IssueID: "ENG-1"})

	repoID, sess, ok := s.GetAny("parent-1")
	if !ok || repoID != "repo-a" || sess.ID != "parent-1" {
		t.Fatalf("GetAny = (%q, %+v, %v)", repoID, sess, ok)
	}

	if _, _, ok := s.GetAny("does-not-exist"); ok {
		t.Errorf("expected not found")
	}
}

func TestFindByAssistantSessionID_SearchesAllRepositories(t *testing.T) {
	s := New()
	s.Upsert("repo-a", &AgentSession{ID: "sess-1", AssistantSessionID: "runtime-xyz"})

	repoID, sess, ok := s.FindByAssistantSessionID("runtime-xyz")
	if !ok || repoID != "repo-a" || sess.ID != "sess-1" {
		t.Fatalf("FindByAssistantSessionID = (%q, %+v, %v)", repoID, sess, ok)
	}

	if _, _, ok := s.FindByAssistantSessionID("no-such-runtime-id"); ok {
		t.Errorf("expected not found")
	}
}

func TestAppendEntry_RequiresExistingSession(t *testing.T) {
	s := New()
	if err := s.AppendEntry("repo-a", "missing", AgentSessionEntry{Type: EntryUser, Content: "hi"}); err == nil {
		t.Fatalf("expected error appending entry to unknown session")
	}

	s.Upsert("repo-a", &AgentSession{ID: "s1"})
	if err := s.AppendEntry("repo-a", "s1", AgentSessionEntry{Type: EntryUser, Content: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entries := s.Entries("repo-a", "s1"); len(entries) != 1 {
		t.Errorf("len(entries) = %d, want 1", len(entries))
	}
}

func TestActiveForIssue_ExcludesTerminal(t *testing.T) {
	s := New()
	s.Upsert("repo-a", &AgentSession{ID: "s1", IssueID: "ENG-1", Status: StatusActive})
	s.Upsert("repo-a", &AgentSession{ID: "s2", IssueID: "ENG-1", Status: StatusCompleted})

	active := s.ActiveForIssue("repo-a", "ENG-1")
	if len(active) != 1 || active[0].ID != "s1" {
		t.Fatalf("ActiveForIssue = %+v, want only s1", active)
	}
}
