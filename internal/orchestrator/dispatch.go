package orchestrator

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/agentworker/internal/config"
	"github.com/nextlevelbuilder/agentworker/internal/dedup"
	"github.com/nextlevelbuilder/agentworker/internal/routing"
	"github.com/nextlevelbuilder/agentworker/pkg/event"
)

// Dispatch is C2+C3's meeting point with C7: the entry point a
// Transport's Deliverer calls with a decoded event and the candidate
// repositories bound to the delivering token. It deduplicates, fetches
// the subject issue to build a routing.Subject, picks the one
// Repository to handle it, and calls Handle — no teacher analogue
// (multi-repo webhook routing doesn't exist in the teacher), mirroring
// internal/routing's own "no direct teacher analogue" note since this
// is simply where C2/C3's pure pieces get wired against live state.
func (o *Orchestrator) Dispatch(ctx context.Context, evt event.Event, repos []config.Repository) {
	if len(repos) == 0 {
		slog.Warn("orchestrator.dispatch.no_candidates", "kind", evt.Kind)
		return
	}

	eventType, action, subjectID, revision := evt.Fingerprint()
	fp := dedup.Fingerprint(eventType, action, subjectID, revision)
	if !o.dedup.MarkIfNew(fp) {
		slog.Debug("orchestrator.dispatch.duplicate", "kind", evt.Kind, "fingerprint", fp)
		return
	}

	issueID, ok := issueIDFor(evt)
	if !ok {
		slog.Warn("orchestrator.dispatch.no_issue_id", "kind", evt.Kind)
		return
	}

	tracker := o.trackerReg.ClientFor(repos[0].TrackerToken)
	issue, err := tracker.GetIssue(ctx, issueID)
	if err != nil {
		slog.Error("orchestrator.dispatch.fetch_issue_failed", "issue_id", issueID, "error", err)
		return
	}

	subject := routing.SubjectFromIssue(issue)
	repo := routing.Route(subject, repos)
	if repo == nil {
		slog.Warn("orchestrator.dispatch.no_route", "kind", evt.Kind, "issue_identifier", issue.Identifier)
		return
	}

	o.Handle(ctx, evt, *repo)
}

// issueIDFor extracts the subject issue id from whichever payload evt
// actually carries, per event.Event's "exactly one non-nil payload"
// invariant.
func issueIDFor(evt event.Event) (string, bool) {
	switch evt.Kind {
	case event.KindSessionCreated:
		if evt.SessionCreated == nil {
			return "", false
		}
		return evt.SessionCreated.IssueID, true
	case event.KindSessionPrompted:
		if evt.SessionPrompted == nil {
			return "", false
		}
		return evt.SessionPrompted.IssueID, true
	case event.KindIssueAssigned:
		if evt.IssueAssigned == nil {
			return "", false
		}
		return evt.IssueAssigned.IssueID, true
	case event.KindIssueUnassigned:
		if evt.IssueUnassigned == nil {
			return "", false
		}
		return evt.IssueUnassigned.IssueID, true
	case event.KindIssueEdited:
		if evt.IssueEdited == nil {
			return "", false
		}
		return evt.IssueEdited.IssueID, true
	case event.KindCommentCreated:
		if evt.CommentCreated == nil {
			return "", false
		}
		return evt.CommentCreated.IssueID, true
	default:
		return "", false
	}
}
