package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/agentworker/internal/config"
	"github.com/nextlevelbuilder/agentworker/internal/procedure"
	"github.com/nextlevelbuilder/agentworker/internal/sessionstore"
	"github.com/nextlevelbuilder/agentworker/internal/supervisor"
	"github.com/nextlevelbuilder/agentworker/internal/tracing"
	"github.com/nextlevelbuilder/agentworker/internal/trackerapi"
)

// threadReplyDedupWindow is the TTL named in §4.7.8 ("mark the
// session's thread-reply-posted flag (TTL 5 min to prevent
// duplicates)").
const threadReplyDedupWindow = 5 * time.Minute

// OnAssistantResult implements §4.7.8: called with the terminal
// "result" message of an Assistant run for sessionID in repo. Advances
// the Procedure to its next Subroutine, or — if none remains and the
// session should reply in thread — posts the thread reply and swaps
// the session's reaction.
func (o *Orchestrator) OnAssistantResult(ctx context.Context, repo config.Repository, sessionID string, lastAssistantMessage string) error {
	sess, ok := o.sessions.Get(repo.ID, sessionID)
	if !ok {
		return fmt.Errorf("assistant result: unknown session %s", sessionID)
	}

	proc, ok := o.catalogue.Get(sess.Metadata.Procedure.Name)
	if !ok {
		return fmt.Errorf("assistant result: unknown procedure %s", sess.Metadata.Procedure.Name)
	}

	cur, _ := procedure.GetCurrentSubroutine(proc, sess.Metadata.Procedure.CurrentIndex)
	responseTemplate := sess.Metadata.ResponseTemplate
	if cur.Name == "select-template" {
		if result, parsed := procedure.ParseSelectTemplateOutput(lastAssistantMessage); parsed {
			responseTemplate = result.Template
			if err := o.sessions.SetResponseTemplate(repo.ID, sessionID, responseTemplate); err != nil {
				return fmt.Errorf("store response template: %w", err)
			}
		}
	}

	next, hasNext := procedure.GetNextSubroutine(proc, sess.Metadata.Procedure.CurrentIndex)
	if hasNext {
		spanCtx, span := tracing.StartSubroutineSpan(ctx, sessionID, proc.Name, next.Name)
		var spanErr error
		defer func() { tracing.RecordOutcome(span, spanErr) }()
		ctx = spanCtx

		nextMeta := sessionstore.ProcedureMetadata{
			Name:              proc.Name,
			CurrentIndex:      sess.Metadata.Procedure.CurrentIndex + 1,
			SubroutineHistory: append(append([]string{}, sess.Metadata.Procedure.SubroutineHistory...), cur.Name),
		}
		if err := o.sessions.SetProcedureMetadata(repo.ID, sessionID, nextMeta); err != nil {
			spanErr = fmt.Errorf("advance procedure: %w", err)
			return spanErr
		}

		prompt := o.prompts.SubroutinePrompt(next, responseTemplate)
		req := supervisor.StartRequest{
			WorkingDirectory: sess.Workspace.Path,
			InitialPrompt:    prompt,
			ResumeSessionID:  sess.AssistantSessionID,
			MaxTurns:         next.MaxTurns,
		}
		assistantSessionID, err := o.supervisor.StartStreaming(ctx, sessionID, req)
		if err != nil {
			spanErr = fmt.Errorf("resume into next subroutine: %w", err)
			return spanErr
		}
		o.sessions.SetAssistantSessionID(repo.ID, sessionID, assistantSessionID)
		o.saveState()
		return nil
	}

	// No next subroutine. If this session should reply in thread, post
	// the reply to the top-level ancestor of the original comment.
	if !sess.Metadata.ShouldReplyInThread {
		o.sessions.SetStatus(repo.ID, sessionID, sessionstore.StatusCompleted)
		o.saveState()
		return nil
	}

	if !sess.Metadata.ThreadReplyPostedAt.IsZero() && time.Since(sess.Metadata.ThreadReplyPostedAt) < threadReplyDedupWindow {
		return nil // already posted recently; never duplicate, §4.7.8
	}

	tracker := o.tracker(repo)
	topLevelID, err := o.resolveTopLevelAncestor(ctx, tracker, sess.Metadata.OriginalCommentID)
	if err != nil {
		return fmt.Errorf("resolve thread ancestor: %w", err)
	}

	reply, err := tracker.CreateComment(ctx, sess.IssueID, lastAssistantMessage, topLevelID)
	if err != nil {
		return fmt.Errorf("post thread reply: %w", err)
	}
	o.index.RegisterBotComment(reply.ID, "")

	if sess.ReactionID != "" {
		if err := tracker.DeleteReaction(ctx, sess.ReactionID); err != nil {
			return fmt.Errorf("clear pending reaction: %w", err)
		}
		reactionID, err := tracker.AddReaction(ctx, sess.Metadata.OriginalCommentID, "✅")
		if err != nil {
			return fmt.Errorf("add done reaction: %w", err)
		}
		o.sessions.SetReactionID(repo.ID, sessionID, reactionID)
	}

	o.sessions.MarkThreadReplyPosted(repo.ID, sessionID)
	o.sessions.SetStatus(repo.ID, sessionID, sessionstore.StatusCompleted)
	o.saveState()
	return nil
}

// resolveTopLevelAncestor walks comment.parent links via Tracker until
// it finds a comment with no parent, per §4.7.8 ("resolve via
// comment.parent") and the testable property in §8 ("the reply's
// parentId equals the top-level ancestor ... never a nested reply
// id").
func (o *Orchestrator) resolveTopLevelAncestor(ctx context.Context, tracker trackerapi.Client, commentID string) (string, error) {
	id := commentID
	for i := 0; i < 32; i++ { // bounded walk: a malformed parent chain must never hang the orchestrator
		c, err := tracker.GetComment(ctx, id)
		if err != nil {
			return "", err
		}
		if c.ParentID == "" {
			return c.ID, nil
		}
		id = c.ParentID
	}
	return id, nil
}
