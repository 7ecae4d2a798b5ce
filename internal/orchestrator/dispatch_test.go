package orchestrator

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/agentworker/internal/config"
	"github.com/nextlevelbuilder/agentworker/internal/trackerapi"
	"github.com/nextlevelbuilder/agentworker/pkg/event"
)

func assignedEvent(issueID string) event.Event {
	return event.Event{
		Kind:          event.KindIssueAssigned,
		IssueAssigned: &event.IssueAssigned{IssueID: issueID, AssigneeID: "bot"},
	}
}

func TestDispatch_RoutesByLabelAndCallsHandle(t *testing.T) {
	repoA := config.Repository{ID: "repo-a", Name: "a", RepositoryPath: "/a", BaseBranch: "main", RoutingLabels: []string{"alpha"}}
	repoB := config.Repository{ID: "repo-b", Name: "b", RepositoryPath: "/b", BaseBranch: "main", RoutingLabels: []string{"beta"}}
	o, ft := newTestOrchestrator(t, repoA, repoB)
	ft.issues["ISS-1"] = trackerapi.Issue{ID: "ISS-1", Identifier: "ENG-1", Labels: []string{"beta"}}

	o.Dispatch(context.Background(), assignedEvent("ISS-1"), []config.Repository{repoA, repoB})

	sessA, _ := o.sessions.Snapshot("repo-a")
	sessB, _ := o.sessions.Snapshot("repo-b")
	if len(sessA) != 0 {
		t.Errorf("expected no session created on repo-a, got %d", len(sessA))
	}
	if len(sessB) != 1 {
		t.Fatalf("expected Dispatch to route the beta-labeled issue to repo-b, got %d sessions", len(sessB))
	}
}

func TestDispatch_DuplicateEventIsDroppedSilently(t *testing.T) {
	repo := config.Repository{ID: "repo-a", Name: "a", RepositoryPath: "/a", BaseBranch: "main"}
	o, ft := newTestOrchestrator(t, repo)
	ft.issues["ISS-1"] = trackerapi.Issue{ID: "ISS-1", Identifier: "ENG-1"}

	evt := assignedEvent("ISS-1")
	o.Dispatch(context.Background(), evt, []config.Repository{repo})
	sessFirst, _ := o.sessions.Snapshot("repo-a")
	o.Dispatch(context.Background(), evt, []config.Repository{repo})
	sessSecond, _ := o.sessions.Snapshot("repo-a")

	if len(sessFirst) != 1 || len(sessSecond) != len(sessFirst) {
		t.Fatalf("expected the duplicate Dispatch call to create no additional session: first=%d second=%d", len(sessFirst), len(sessSecond))
	}
}

func TestDispatch_NoCandidateRepositoriesIsANoOp(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	o.Dispatch(context.Background(), assignedEvent("ISS-1"), nil) // must not panic
}

func TestDispatch_FallsBackToSoleCandidateWhenNothingElseMatches(t *testing.T) {
	repo := config.Repository{ID: "repo-a", Name: "a", RepositoryPath: "/a", BaseBranch: "main", RoutingLabels: []string{"only-this"}}
	o, ft := newTestOrchestrator(t, repo)
	ft.issues["ISS-1"] = trackerapi.Issue{ID: "ISS-1", Identifier: "ZZZ-1", Labels: []string{"something-else"}}

	o.Dispatch(context.Background(), assignedEvent("ISS-1"), []config.Repository{repo})

	sess, _ := o.sessions.Snapshot("repo-a")
	if len(sess) != 1 {
		t.Fatalf("expected the workspace-first fallback to still route to the sole candidate, got %d sessions", len(sess))
	}
}
