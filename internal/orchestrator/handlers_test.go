package orchestrator

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/agentworker/internal/config"
	"github.com/nextlevelbuilder/agentworker/internal/sessionstore"
	"github.com/nextlevelbuilder/agentworker/internal/trackerapi"
	"github.com/nextlevelbuilder/agentworker/pkg/event"
)

func testRepo() config.Repository {
	return config.Repository{
		ID:             "repo-1",
		Name:           "repo-1",
		WorkspaceID:    "ws-1",
		TrackerToken:   "tok-1",
		RepositoryPath: "/repos/repo-1",
		BaseBranch:     "main",
		IsActive:       true,
	}
}

func TestHandleSessionCreated_HappyPath(t *testing.T) {
	repo := testRepo()
	o, ft := newTestOrchestrator(t, repo)
	ft.issues["ENG-1"] = trackerapi.Issue{ID: "ENG-1", Identifier: "ENG-1", Title: "Fix the bug"}

	evt := event.Event{
		Kind: event.KindSessionCreated,
		SessionCreated: &event.SessionCreated{
			AgentSessionID: "sess-1",
			IssueID:        "ENG-1",
		},
	}

	if err := o.handleSessionCreated(context.Background(), evt, repo); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sess, ok := o.sessions.Get(repo.ID, "sess-1")
	if !ok {
		t.Fatalf("expected session to be created")
	}
	if sess.Status != sessionstore.StatusActive {
		t.Errorf("status = %v, want active", sess.Status)
	}
	if len(ft.activities) == 0 {
		t.Errorf("expected an acknowledgment activity to be posted")
	}
}

func TestHandleSessionCreated_DownloadsAttachmentsForThreadReply(t *testing.T) {
	repo := testRepo()
	o, ft, fa := newTestOrchestratorWithAttachments(t, repo)
	ft.issues["ENG-1"] = trackerapi.Issue{ID: "ENG-1", Identifier: "ENG-1", Title: "Fix the bug"}

	evt := event.Event{
		Kind: event.KindSessionCreated,
		SessionCreated: &event.SessionCreated{
			AgentSessionID: "sess-1",
			IssueID:        "ENG-1",
			OriginalComment: &event.CommentRef{
				CommentID: "C1",
				Body:      "see attached",
				Attachments: []string{
					"https://tracker.example/a.png",
					"https://tracker.example/a.png",          // duplicate, must be dropped
					"https://tracker.example/bad(name).png", // bracket/paren, must be dropped
				},
			},
		},
	}

	if err := o.handleSessionCreated(context.Background(), evt, repo); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fa.calls) != 1 {
		t.Fatalf("expected exactly one Download call, got %d", len(fa.calls))
	}
	if got := fa.calls[0].urls; len(got) != 1 || got[0] != "https://tracker.example/a.png" {
		t.Errorf("urls = %v, want deduplicated single URL", got)
	}
	if fa.calls[0].destDir == "" {
		t.Errorf("expected a non-empty attachments destination directory")
	}
}

func TestHandleSessionCreated_SyntheticSkipsAcknowledgment(t *testing.T) {
	repo := testRepo()
	o, ft := newTestOrchestrator(t, repo)
	ft.issues["ENG-1"] = trackerapi.Issue{ID: "ENG-1", Identifier: "ENG-1"}

	evt := event.Event{
		Kind:      event.KindSessionCreated,
		Synthetic: true,
		SessionCreated: &event.SessionCreated{
			AgentSessionID: "sess-1",
			IssueID:        "ENG-1",
		},
	}

	if err := o.handleSessionCreated(context.Background(), evt, repo); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ft.activities) != 0 {
		t.Errorf("expected no acknowledgment activity for a synthetic event, got %v", ft.activities)
	}
}

func TestHandleIssueUnassigned_StopsActiveSessionsAndPostsFarewell(t *testing.T) {
	repo := testRepo()
	o, ft := newTestOrchestrator(t, repo)
	o.sessions.Upsert(repo.ID, &sessionstore.AgentSession{ID: "s1", IssueID: "ENG-1", Status: sessionstore.StatusActive})
	o.sessions.Upsert(repo.ID, &sessionstore.AgentSession{ID: "s2", IssueID: "ENG-1", Status: sessionstore.StatusCompleted})

	evt := event.Event{Kind: event.KindIssueUnassigned, IssueUnassigned: &event.IssueUnassigned{IssueID: "ENG-1"}}
	if err := o.handleIssueUnassigned(context.Background(), evt, repo); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s1, _ := o.sessions.Get(repo.ID, "s1")
	if s1.Status != sessionstore.StatusStopped {
		t.Errorf("s1.Status = %v, want stopped", s1.Status)
	}
	s2, _ := o.sessions.Get(repo.ID, "s2")
	if s2.Status != sessionstore.StatusCompleted {
		t.Errorf("s2.Status should be left untouched, got %v", s2.Status)
	}
	if len(ft.createdCmts) != 1 {
		t.Errorf("expected exactly one farewell comment, got %d", len(ft.createdCmts))
	}
}

func TestHandleIssueUnassigned_NoActiveSessionsIsNoOp(t *testing.T) {
	repo := testRepo()
	o, ft := newTestOrchestrator(t, repo)

	evt := event.Event{Kind: event.KindIssueUnassigned, IssueUnassigned: &event.IssueUnassigned{IssueID: "ENG-1"}}
	if err := o.handleIssueUnassigned(context.Background(), evt, repo); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ft.createdCmts) != 0 {
		t.Errorf("expected no farewell comment when nothing was active")
	}
}

func TestHandleIssueAssigned_SynthesizesSessionOnQualifyingTransition(t *testing.T) {
	repo := testRepo()
	o, ft := newTestOrchestrator(t, repo)
	ft.issues["ENG-1"] = trackerapi.Issue{ID: "ENG-1", Identifier: "ENG-1"}

	evt := event.Event{Kind: event.KindIssueAssigned, IssueAssigned: &event.IssueAssigned{
		IssueID: "ENG-1", PreviousAssign: "", AssigneeID: "user-1", StateType: "started",
	}}
	if err := o.handleIssueAssigned(context.Background(), evt, repo); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sessions := o.sessions.GetForIssue(repo.ID, "ENG-1")
	if len(sessions) != 1 {
		t.Fatalf("expected exactly one synthesized session, got %d", len(sessions))
	}
}

func TestHandleIssueAssigned_SkipsBacklogState(t *testing.T) {
	repo := testRepo()
	o, _ := newTestOrchestrator(t, repo)

	evt := event.Event{Kind: event.KindIssueAssigned, IssueAssigned: &event.IssueAssigned{
		IssueID: "ENG-1", PreviousAssign: "", AssigneeID: "user-1", StateType: "backlog",
	}}
	if err := o.handleIssueAssigned(context.Background(), evt, repo); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sessions := o.sessions.GetForIssue(repo.ID, "ENG-1"); len(sessions) != 0 {
		t.Errorf("expected no session to be synthesized for a backlog-state assignment")
	}
}

func TestHandleIssueAssigned_SkipsReassignment(t *testing.T) {
	repo := testRepo()
	o, _ := newTestOrchestrator(t, repo)

	evt := event.Event{Kind: event.KindIssueAssigned, IssueAssigned: &event.IssueAssigned{
		IssueID: "ENG-1", PreviousAssign: "user-0", AssigneeID: "user-1", StateType: "started",
	}}
	if err := o.handleIssueAssigned(context.Background(), evt, repo); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sessions := o.sessions.GetForIssue(repo.ID, "ENG-1"); len(sessions) != 0 {
		t.Errorf("expected no session to be synthesized for a reassignment (previous assignee was non-empty)")
	}
}

func TestHandleIssueEdited_RecordsChangeWithoutAdvancing(t *testing.T) {
	repo := testRepo()
	o, _ := newTestOrchestrator(t, repo)
	o.sessions.Upsert(repo.ID, &sessionstore.AgentSession{ID: "s1", IssueID: "ENG-1", Status: sessionstore.StatusActive})

	statusChange := event.FieldChange{Before: "started", After: "completed"}
	evt := event.Event{Kind: event.KindIssueEdited, IssueEdited: &event.IssueEdited{
		IssueID: "ENG-1", Revision: "r2", Status: &statusChange,
	}}
	if err := o.handleIssueEdited(context.Background(), evt, repo); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries := o.sessions.Entries(repo.ID, "s1")
	if len(entries) != 0 {
		t.Errorf("issue edits must never append session entries directly")
	}
	sess, _ := o.sessions.Get(repo.ID, "s1")
	if len(sess.Metadata.IssueChangeHistory) != 1 || sess.Metadata.IssueChangeHistory[0].Status != "completed" {
		t.Errorf("IssueChangeHistory = %+v", sess.Metadata.IssueChangeHistory)
	}
	if sess.Metadata.Procedure.CurrentIndex != 0 {
		t.Errorf("expected issue edit to never auto-advance the procedure")
	}
}

func TestHandleCommentCreated_RespondsOnMention(t *testing.T) {
	repo := testRepo()
	o, _ := newTestOrchestrator(t, repo)

	evt := event.Event{Kind: event.KindCommentCreated, CommentCreated: &event.CommentCreated{
		CommentID: "C1", IssueID: "ENG-1", AuthorID: "human-1", Body: "@cyrus please help",
	}}
	if err := o.handleCommentCreated(context.Background(), evt, repo); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sessions := o.sessions.GetForIssue(repo.ID, "ENG-1"); len(sessions) != 1 {
		t.Errorf("expected a session to be synthesized on explicit mention")
	}
}

func TestHandleCommentCreated_IgnoresPlainComment(t *testing.T) {
	repo := testRepo()
	o, _ := newTestOrchestrator(t, repo)

	evt := event.Event{Kind: event.KindCommentCreated, CommentCreated: &event.CommentCreated{
		CommentID: "C1", IssueID: "ENG-1", AuthorID: "human-1", Body: "just a regular update",
	}}
	if err := o.handleCommentCreated(context.Background(), evt, repo); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sessions := o.sessions.GetForIssue(repo.ID, "ENG-1"); len(sessions) != 0 {
		t.Errorf("expected no session for a comment with no bot-reply signal")
	}
}

func TestHandleCommentCreated_IgnoresBotAuthoredComment(t *testing.T) {
	repo := testRepo()
	o, _ := newTestOrchestrator(t, repo)

	evt := event.Event{Kind: event.KindCommentCreated, CommentCreated: &event.CommentCreated{
		CommentID: "C1", IssueID: "ENG-1", AuthorID: "human-1", Body: "@cyrus hi", BotActor: true,
	}}
	if err := o.handleCommentCreated(context.Background(), evt, repo); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sessions := o.sessions.GetForIssue(repo.ID, "ENG-1"); len(sessions) != 0 {
		t.Errorf("expected no session for a bot-authored comment even with a mention token")
	}
}
