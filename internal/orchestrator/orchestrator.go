// Package orchestrator implements the Session Orchestrator, C7 — the
// heart of the system: it handles the four session event classes
// (created, prompted, unassigned, data-change), owns AgentSession
// transitions, emits activity back to the Tracker, drives the
// Procedure Router (C5) and Assistant Supervisor (C6), and posts
// thread replies and reactions.
//
// Grounded on internal/agent/loop.go's Loop as the nearest teacher
// analogue of "the component that owns one conversation's lifecycle
// end to end" — generalized from one provider call per turn to a
// four-event-class state machine coordinating several subordinate
// components, and on internal/bus for the event-callback wiring shape.
package orchestrator

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentworker/internal/config"
	"github.com/nextlevelbuilder/agentworker/internal/dedup"
	"github.com/nextlevelbuilder/agentworker/internal/procedure"
	"github.com/nextlevelbuilder/agentworker/internal/sessionindex"
	"github.com/nextlevelbuilder/agentworker/internal/sessionstore"
	"github.com/nextlevelbuilder/agentworker/internal/supervisor"
	"github.com/nextlevelbuilder/agentworker/internal/tracing"
	"github.com/nextlevelbuilder/agentworker/internal/trackerapi"
	"github.com/nextlevelbuilder/agentworker/pkg/event"
)

// WorkspaceProvider ensures an on-disk working directory exists for a
// session — workspace/git-worktree creation is out of scope (§1); only
// this interface matters to the orchestrator.
type WorkspaceProvider interface {
	EnsureWorkspace(ctx context.Context, repo config.Repository, issue trackerapi.Issue) (sessionstore.Workspace, error)
	AttachmentsDir(repo config.Repository, sessionID string) string
}

// PromptRenderer builds prompt text from templates — prompt-template
// rendering is out of scope (§1); only this interface matters.
type PromptRenderer interface {
	// InitialPrompt builds the first user-turn prompt for a newly
	// created session, substituting the placeholders named in §4.7.1
	// step 7.
	InitialPrompt(repo config.Repository, issue trackerapi.Issue, baseBranch string, isThreadReply bool) (string, error)
	// SystemPrompt returns the label-based system prompt and its
	// version tag for promptType, or ("", "", false) if none applies.
	SystemPrompt(repo config.Repository, promptType string) (prompt string, versionTag string, ok bool)
	// SubroutinePrompt loads a Subroutine's prompt file, optionally
	// appending a response template. A load failure falls back to a
	// short synthetic prompt per §7.7 rather than erroring.
	SubroutinePrompt(sub procedure.Subroutine, responseTemplate string) string
}

// AttachmentDownloader fetches comment attachments into a session's
// attachments directory — out of scope (§1); only the interface
// matters.
type AttachmentDownloader interface {
	Download(ctx context.Context, urls []string, destDir string) error
}

// Persister is the subset of C10 the orchestrator needs: a save hook
// invoked after any state-advancing mutation.
type Persister interface {
	Save(store *sessionstore.Store) error
}

// TrackerProvider hands out the shared Tracker Client for a token —
// satisfied by *trackerapi.Registry; narrowed to an interface so tests
// can substitute an in-memory fake instead of dialing real HTTP.
type TrackerProvider interface {
	ClientFor(token string, opts ...trackerapi.Option) trackerapi.Client
}

// Deps bundles every subordinate component C7 drives.
type Deps struct {
	Config      *config.Config
	TrackerReg  TrackerProvider
	Sessions    *sessionstore.Store
	Index       *sessionindex.Index
	Dedup       *dedup.Deduplicator
	Catalogue   *procedure.Catalogue
	Router      *procedure.Router
	Supervisor  *supervisor.Supervisor
	Workspace   WorkspaceProvider
	Prompts     PromptRenderer
	Attachments AttachmentDownloader
	Persist     Persister // may be nil: persistence becomes best-effort no-op
}

// Orchestrator is C7.
type Orchestrator struct {
	cfg         *config.Config
	trackerReg  TrackerProvider
	sessions    *sessionstore.Store
	index       *sessionindex.Index
	dedup       *dedup.Deduplicator
	catalogue   *procedure.Catalogue
	router      *procedure.Router
	supervisor  *supervisor.Supervisor
	workspace   WorkspaceProvider
	prompts     PromptRenderer
	attachments AttachmentDownloader
	persist     Persister
}

// New builds an Orchestrator from deps.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:         deps.Config,
		trackerReg:  deps.TrackerReg,
		sessions:    deps.Sessions,
		index:       deps.Index,
		dedup:       deps.Dedup,
		catalogue:   deps.Catalogue,
		router:      deps.Router,
		supervisor:  deps.Supervisor,
		workspace:   deps.Workspace,
		prompts:     deps.Prompts,
		attachments: deps.Attachments,
		persist:     deps.Persist,
	}
}

// Handle dispatches evt (already deduplicated and routed to repo) to
// the matching handler, §4.7. It never panics out of a handler — any
// error is logged at this boundary per §7 ("unhandled exceptions
// inside a webhook handler are caught and logged at the orchestrator
// boundary").
func (o *Orchestrator) Handle(ctx context.Context, evt event.Event, repo config.Repository) {
	ctx, span := tracing.StartEventSpan(ctx, repo.ID, string(evt.Kind))
	defer func() {
		if r := recover(); r != nil {
			slog.Error("orchestrator.handler_panic", "kind", evt.Kind, "repo", repo.ID, "panic", r)
		}
	}()

	var err error
	switch evt.Kind {
	case event.KindSessionCreated:
		err = o.handleSessionCreated(ctx, evt, repo)
	case event.KindSessionPrompted:
		err = o.handleSessionPrompted(ctx, evt, repo)
	case event.KindIssueUnassigned:
		err = o.handleIssueUnassigned(ctx, evt, repo)
	case event.KindIssueAssigned:
		err = o.handleIssueAssigned(ctx, evt, repo)
	case event.KindIssueEdited:
		err = o.handleIssueEdited(ctx, evt, repo)
	case event.KindCommentCreated:
		err = o.handleCommentCreated(ctx, evt, repo)
	default:
		slog.Warn("orchestrator.unknown_event_kind", "kind", evt.Kind)
		tracing.RecordOutcome(span, nil)
		return
	}
	if err != nil {
		slog.Error("orchestrator.handler_failed", "kind", evt.Kind, "repo", repo.ID, "error", err)
	}
	tracing.RecordOutcome(span, err)
}

func (o *Orchestrator) tracker(repo config.Repository) trackerapi.Client {
	return o.trackerReg.ClientFor(repo.TrackerToken)
}

func (o *Orchestrator) saveState() {
	if o.persist == nil {
		return
	}
	if err := o.persist.Save(o.sessions); err != nil {
		slog.Warn("orchestrator.persist_failed", "error", err)
	}
}

func newSyntheticSessionID() string {
	return uuid.NewString()
}
