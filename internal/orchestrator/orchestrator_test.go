package orchestrator

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/agentworker/internal/config"
	"github.com/nextlevelbuilder/agentworker/internal/dedup"
	"github.com/nextlevelbuilder/agentworker/internal/procedure"
	"github.com/nextlevelbuilder/agentworker/internal/sessionindex"
	"github.com/nextlevelbuilder/agentworker/internal/sessionstore"
	"github.com/nextlevelbuilder/agentworker/internal/supervisor"
	"github.com/nextlevelbuilder/agentworker/internal/trackerapi"
)

// fakeTracker is a minimal in-memory stand-in for trackerapi.Client.
type fakeTracker struct {
	issues       map[string]trackerapi.Issue
	comments     map[string]trackerapi.Comment
	activities   []string
	createdCmts  []trackerapi.Comment
	reactions    map[string]string
	nextComment  int
	nextReaction int
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		issues:    make(map[string]trackerapi.Issue),
		comments:  make(map[string]trackerapi.Comment),
		reactions: make(map[string]string),
	}
}

func (f *fakeTracker) GetIssue(ctx context.Context, id string) (trackerapi.Issue, error) {
	return f.issues[id], nil
}
func (f *fakeTracker) ListComments(ctx context.Context, issueID string) ([]trackerapi.Comment, error) {
	return nil, nil
}
func (f *fakeTracker) GetComment(ctx context.Context, id string) (trackerapi.Comment, error) {
	return f.comments[id], nil
}
func (f *fakeTracker) CreateComment(ctx context.Context, issueID, body, parentID string) (trackerapi.Comment, error) {
	f.nextComment++
	c := trackerapi.Comment{ID: "C-new-" + itoa(f.nextComment), IssueID: issueID, ParentID: parentID, Body: body}
	f.comments[c.ID] = c
	f.createdCmts = append(f.createdCmts, c)
	return c, nil
}
func (f *fakeTracker) CreateAgentActivity(ctx context.Context, sessionID string, kind trackerapi.ActivityType, body string) (trackerapi.Ack, error) {
	f.activities = append(f.activities, body)
	return trackerapi.Ack{OK: true}, nil
}
func (f *fakeTracker) AddReaction(ctx context.Context, commentID, emoji string) (string, error) {
	f.nextReaction++
	id := "R-" + itoa(f.nextReaction)
	f.reactions[id] = emoji
	return id, nil
}
func (f *fakeTracker) DeleteReaction(ctx context.Context, reactionID string) (trackerapi.Ack, error) {
	delete(f.reactions, reactionID)
	return trackerapi.Ack{OK: true}, nil
}
func (f *fakeTracker) ListTeams(ctx context.Context) ([]trackerapi.Team, error)   { return nil, nil }
func (f *fakeTracker) ListLabels(ctx context.Context) ([]trackerapi.Label, error) { return nil, nil }
func (f *fakeTracker) ListWorkflowStates(ctx context.Context, teamID string) ([]trackerapi.WorkflowState, error) {
	return nil, nil
}
func (f *fakeTracker) UpdateIssue(ctx context.Context, id string, patch trackerapi.IssuePatch) (trackerapi.Issue, error) {
	return f.issues[id], nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

type fakeWorkspace struct{}

func (fakeWorkspace) EnsureWorkspace(ctx context.Context, repo config.Repository, issue trackerapi.Issue) (sessionstore.Workspace, error) {
	return sessionstore.Workspace{Path: "/work/" + repo.ID}, nil
}
func (fakeWorkspace) AttachmentsDir(repo config.Repository, sessionID string) string {
	return "/work/" + repo.ID + "/attachments/" + sessionID
}

type fakePrompts struct{}

func (fakePrompts) InitialPrompt(repo config.Repository, issue trackerapi.Issue, baseBranch string, isThreadReply bool) (string, error) {
	return "work on " + issue.Identifier, nil
}
func (fakePrompts) SystemPrompt(repo config.Repository, promptType string) (string, string, bool) {
	return "", "", false
}
func (fakePrompts) SubroutinePrompt(sub procedure.Subroutine, responseTemplate string) string {
	return "subroutine: " + sub.Name
}

type fakeAssistant struct {
	startCount int
}

func (f *fakeAssistant) Start(ctx context.Context, req supervisor.StartRequest) (string, error) {
	f.startCount++
	return "runtime-" + itoa(f.startCount), nil
}
func (f *fakeAssistant) AddMessage(ctx context.Context, sessionID, text string) error { return nil }
func (f *fakeAssistant) Stop(ctx context.Context, sessionID string) error             { return nil }

// fakeAttachments records every Download call instead of performing
// real network I/O, satisfying AttachmentDownloader for hermetic
// tests.
type fakeAttachments struct {
	calls []fakeAttachmentsCall
}

type fakeAttachmentsCall struct {
	urls    []string
	destDir string
}

func (f *fakeAttachments) Download(ctx context.Context, urls []string, destDir string) error {
	f.calls = append(f.calls, fakeAttachmentsCall{urls: urls, destDir: destDir})
	return nil
}

// fakeRegistry always hands out the same fakeTracker regardless of
// token, satisfying TrackerProvider for hermetic tests.
type fakeRegistry struct {
	client trackerapi.Client
}

func (r *fakeRegistry) ClientFor(token string, opts ...trackerapi.Option) trackerapi.Client {
	return r.client
}

func newTestOrchestrator(t *testing.T, repos ...config.Repository) (*Orchestrator, *fakeTracker) {
	t.Helper()
	cfg := &config.Config{Repositories: repos}
	ft := newFakeTracker()

	o := New(Deps{
		Config:     cfg,
		TrackerReg: &fakeRegistry{client: ft},
		Sessions:   sessionstore.New(),
		Index:      sessionindex.New(),
		Dedup:      dedup.New(),
		Catalogue:  procedure.NewCatalogue(),
		Router:     procedure.NewRouter(procedure.NewCatalogue(), nil),
		Supervisor: supervisor.New(&fakeAssistant{}, nil, nil),
		Workspace:  fakeWorkspace{},
		Prompts:    fakePrompts{},
	})
	return o, ft
}

// newTestOrchestratorWithAttachments is newTestOrchestrator plus a
// fakeAttachments downloader, for tests covering §4.7.1 step 7's
// attachment-manifest substitution.
func newTestOrchestratorWithAttachments(t *testing.T, repos ...config.Repository) (*Orchestrator, *fakeTracker, *fakeAttachments) {
	t.Helper()
	cfg := &config.Config{Repositories: repos}
	ft := newFakeTracker()
	fa := &fakeAttachments{}

	o := New(Deps{
		Config:      cfg,
		TrackerReg:  &fakeRegistry{client: ft},
		Sessions:    sessionstore.New(),
		Index:       sessionindex.New(),
		Dedup:       dedup.New(),
		Catalogue:   procedure.NewCatalogue(),
		Router:      procedure.NewRouter(procedure.NewCatalogue(), nil),
		Supervisor:  supervisor.New(&fakeAssistant{}, nil, nil),
		Workspace:   fakeWorkspace{},
		Prompts:     fakePrompts{},
		Attachments: fa,
	})
	return o, ft, fa
}
