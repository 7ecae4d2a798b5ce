package orchestrator

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/agentworker/internal/sessionstore"
)

func TestOnChildSessionTerminated_ResumesParentWithSummary(t *testing.T) {
	repo := testRepo()
	o, ft := newTestOrchestrator(t, repo)

	o.sessions.Upsert(repo.ID, &sessionstore.AgentSession{
		ID: "parent-1", IssueID: "ENG-1", Status: sessionstore.StatusActive,
		Workspace: sessionstore.Workspace{Path: "/work/repo-1"},
	})
	o.sessions.Upsert(repo.ID, &sessionstore.AgentSession{
		ID: "child-1", IssueID: "ENG-2", Status: sessionstore.StatusCompleted,
		Workspace: sessionstore.Workspace{Path: "/work/repo-1/child"},
	})
	o.RegisterChildSession("child-1", "parent-1")

	if err := o.OnChildSessionTerminated(context.Background(), repo.ID, "child-1", "child finished: did the thing"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parent, _ := o.sessions.Get(repo.ID, "parent-1")
	if parent.Status != sessionstore.StatusActive {
		t.Errorf("parent.Status = %v, want active", parent.Status)
	}
	if len(ft.activities) == 0 {
		t.Errorf("expected a 'resuming from child session' thought to be posted")
	}
}

func TestOnChildSessionTerminated_AtMostOneResumptionPerChild(t *testing.T) {
	repo := testRepo()
	o, ft := newTestOrchestrator(t, repo)

	o.sessions.Upsert(repo.ID, &sessionstore.AgentSession{
		ID: "parent-1", IssueID: "ENG-1", Status: sessionstore.StatusActive,
		Workspace: sessionstore.Workspace{Path: "/work/repo-1"},
	})
	o.sessions.Upsert(repo.ID, &sessionstore.AgentSession{
		ID: "child-1", IssueID: "ENG-2", Status: sessionstore.StatusCompleted,
		Workspace: sessionstore.Workspace{Path: "/work/repo-1/child"},
	})
	o.RegisterChildSession("child-1", "parent-1")

	if err := o.OnChildSessionTerminated(context.Background(), repo.ID, "child-1", "first summary"); err != nil {
		t.Fatalf("unexpected error on first termination: %v", err)
	}
	firstCount := len(ft.activities)

	if err := o.OnChildSessionTerminated(context.Background(), repo.ID, "child-1", "second summary"); err != nil {
		t.Fatalf("unexpected error on second termination: %v", err)
	}
	if len(ft.activities) != firstCount {
		t.Errorf("expected the second termination of the same child to be a no-op, got %d new activities", len(ft.activities)-firstCount)
	}
}

func TestOnChildSessionTerminated_UnknownChildIsNoOp(t *testing.T) {
	repo := testRepo()
	o, ft := newTestOrchestrator(t, repo)

	if err := o.OnChildSessionTerminated(context.Background(), repo.ID, "never-registered", "summary"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ft.activities) != 0 {
		t.Errorf("expected no activity for a child with no linked parent")
	}
}
