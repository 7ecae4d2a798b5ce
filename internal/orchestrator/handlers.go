package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/agentworker/internal/config"
	"github.com/nextlevelbuilder/agentworker/internal/procedure"
	"github.com/nextlevelbuilder/agentworker/internal/sessionstore"
	"github.com/nextlevelbuilder/agentworker/internal/supervisor"
	"github.com/nextlevelbuilder/agentworker/internal/trackerapi"
	"github.com/nextlevelbuilder/agentworker/pkg/event"
)

// qualifyingDelegationMarker is the synthetic marker looked for in an
// initial comment body to select a system prompt by label, §4.7.1
// step 6.
const qualifyingDelegationMarker = "This thread is for an agent session"

const labelBasedPromptCommand = "/label-based-prompt"

// handleSessionCreated implements §4.7.1.
func (o *Orchestrator) handleSessionCreated(ctx context.Context, evt event.Event, repo config.Repository) error {
	sc := evt.SessionCreated
	tracker := o.tracker(repo)

	// Step 1-2: acknowledgment thought, skipped for synthetic events.
	if !evt.Synthetic {
		if _, err := tracker.CreateAgentActivity(ctx, sc.AgentSessionID, trackerapi.ActivityThought, "On it."); err != nil {
			return fmt.Errorf("post acknowledgment: %w", err)
		}
	}

	// Step 3: fetch full issue, ensure workspace, attachments dir.
	issue, err := tracker.GetIssue(ctx, sc.IssueID)
	if err != nil {
		return fmt.Errorf("fetch issue: %w", err)
	}
	workspace, err := o.workspace.EnsureWorkspace(ctx, repo, issue)
	if err != nil {
		return fmt.Errorf("ensure workspace: %w", err)
	}
	attachmentsDir := o.workspace.AttachmentsDir(repo, sc.AgentSessionID)
	allowedDirs := []string{workspace.Path, attachmentsDir}

	sess := &sessionstore.AgentSession{
		ID:        sc.AgentSessionID,
		IssueID:   sc.IssueID,
		Issue:     issueRef(issue),
		Workspace: workspace,
		Status:    sessionstore.StatusPending,
	}

	isThreadReply := sc.OriginalComment != nil
	if isThreadReply {
		sess.Metadata.OriginalCommentID = sc.OriginalComment.CommentID
		sess.Metadata.OriginalCommentBody = sc.OriginalComment.Body
		sess.Metadata.ShouldReplyInThread = true

		// Step 4: reply-to-bot-comment ⏳ reaction. The session is not
		// registered with the Unresponded Tracker; the Orchestrator holds
		// no reference to it.
		if o.index.IsBotParentComment(sc.OriginalComment.CommentID) {
			reactionID, err := tracker.AddReaction(ctx, sc.OriginalComment.CommentID, "⏳")
			if err != nil {
				return fmt.Errorf("add pending reaction: %w", err)
			}
			sess.ReactionID = reactionID
		}
	}

	// Step 5: determine Procedure.
	label, matchedLabel, overridden := procedure.LabelOverride(issue.Labels, repo.LabelPrompts.Debugger, repo.LabelPrompts.Orchestrator)
	var proc procedure.Procedure
	var ok bool
	if overridden {
		proc, ok = o.catalogue.Get(label)
		if ok {
			tracker.CreateAgentActivity(ctx, sc.AgentSessionID, trackerapi.ActivityThought, fmt.Sprintf("Routing via the %q label.", matchedLabel))
		}
	}
	if !ok {
		classification, classified := o.router.DetermineRoutine(ctx, issue.Title+"\n\n"+issue.Description)
		proc = classified
		label = classification.ProcedureName
	}
	procName := o.catalogue.ApplyControlMode(proc.Name, repo.ControlMode)
	if controlled, found := o.catalogue.Get(procName); found {
		proc = controlled
	}
	name, idx, history := procedure.InitializeProcedureMetadata(proc)
	sess.Metadata.Procedure = sessionstore.ProcedureMetadata{Name: name, CurrentIndex: idx, SubroutineHistory: history}

	o.sessions.Upsert(repo.ID, sess)

	// Step 6: determine system prompt.
	promptType := procedureKind(proc)
	var systemPrompt string
	isDelegation := isThreadReply && containsDelegationMarker(sc.OriginalComment.Body)
	isLabelCommand := isThreadReply && containsLabelCommand(sc.OriginalComment.Body)
	if isDelegation || isLabelCommand {
		if sp, _, found := o.prompts.SystemPrompt(repo, promptType); found {
			systemPrompt = sp
		}
	}

	// Step 7: build initial user prompt.
	baseBranch := selectBaseBranch(repo, issue, func(string) bool { return issue.ParentID != "" })
	initialPrompt, err := o.prompts.InitialPrompt(repo, issue, baseBranch, isThreadReply)
	if err != nil {
		initialPrompt = fmt.Sprintf("Work on %s: %s", issue.Identifier, issue.Title) // §7.7 fallback
	}

	if o.attachments != nil && isThreadReply && len(sc.OriginalComment.Attachments) > 0 {
		urls := dedupeURLs(sc.OriginalComment.Attachments)
		if err := o.attachments.Download(ctx, urls, attachmentsDir); err != nil {
			return fmt.Errorf("download attachments: %w", err)
		}
		if manifest := attachmentManifest(urls); manifest != "" {
			initialPrompt += "\n\n" + manifest
		}
	}

	// Step 8: build tool policy and start the Assistant.
	policy := resolveToolPolicy(repo, o.cfg.ToolDefaults, promptType, []string{"tracker"}, []string{"cyrus"})
	sub, _ := procedure.GetCurrentSubroutine(proc, idx)

	req := supervisor.StartRequest{
		WorkingDirectory:   workspace.Path,
		InitialPrompt:      initialPrompt,
		AllowedTools:       policy.Allowed,
		DisallowedTools:    policy.Disallowed,
		AllowedDirectories: allowedDirs,
		Model:              repo.Model,
		FallbackModel:      repo.FallbackModel,
		AppendSystemPrompt: systemPrompt,
		MaxTurns:           sub.MaxTurns,
	}
	assistantSessionID, err := o.supervisor.StartStreaming(ctx, sc.AgentSessionID, req)
	if err != nil {
		o.sessions.SetStatus(repo.ID, sc.AgentSessionID, sessionstore.StatusFailed)
		return fmt.Errorf("start assistant: %w", err)
	}
	o.sessions.SetAssistantSessionID(repo.ID, sc.AgentSessionID, assistantSessionID)
	o.sessions.SetStatus(repo.ID, sc.AgentSessionID, sessionstore.StatusActive)
	o.saveState()
	return nil
}

// handleSessionPrompted implements §4.7.2.
func (o *Orchestrator) handleSessionPrompted(ctx context.Context, evt event.Event, repo config.Repository) error {
	sp := evt.SessionPrompted
	tracker := o.tracker(repo)

	sess, ok := o.sessions.Get(repo.ID, sp.AgentSessionID)
	if !ok {
		return fmt.Errorf("session prompted: unknown session %s", sp.AgentSessionID)
	}

	if sp.Signal == "stop" {
		if err := o.supervisor.Stop(ctx, sp.AgentSessionID, sess.AssistantSessionID); err != nil {
			return fmt.Errorf("stop assistant: %w", err)
		}
		o.sessions.SetStatus(repo.ID, sp.AgentSessionID, sessionstore.StatusStopped)
		tracker.CreateAgentActivity(ctx, sp.AgentSessionID, trackerapi.ActivityResponse, "Stopped as requested.")
		o.saveState()
		return nil
	}

	if o.supervisor.IsStreaming(sp.AgentSessionID) {
		tracker.CreateAgentActivity(ctx, sp.AgentSessionID, trackerapi.ActivityThought, "Queued as guidance.")
		return o.supervisor.AddStreamMessage(ctx, sp.AgentSessionID, sess.AssistantSessionID, sp.Text)
	}

	tracker.CreateAgentActivity(ctx, sp.AgentSessionID, trackerapi.ActivityThought, "Getting started...")

	classification, proc := o.router.DetermineRoutine(ctx, sp.Text)
	name, idx, history := procedure.InitializeProcedureMetadata(proc)
	o.sessions.SetProcedureMetadata(repo.ID, sp.AgentSessionID, sessionstore.ProcedureMetadata{Name: name, CurrentIndex: idx, SubroutineHistory: history})
	_ = classification

	policy := resolveToolPolicy(repo, o.cfg.ToolDefaults, procedureKind(proc), []string{"tracker"}, []string{"cyrus"})
	req := supervisor.StartRequest{
		WorkingDirectory:   sess.Workspace.Path,
		InitialPrompt:      sp.Text,
		AllowedTools:       policy.Allowed,
		DisallowedTools:    policy.Disallowed,
		Model:              repo.Model,
		FallbackModel:      repo.FallbackModel,
		ResumeSessionID:    sess.AssistantSessionID,
	}
	assistantSessionID, err := o.supervisor.StartStreaming(ctx, sp.AgentSessionID, req)
	if err != nil {
		return fmt.Errorf("resume assistant: %w", err)
	}
	o.sessions.SetAssistantSessionID(repo.ID, sp.AgentSessionID, assistantSessionID)
	o.sessions.SetStatus(repo.ID, sp.AgentSessionID, sessionstore.StatusActive)
	o.saveState()
	return nil
}

// handleIssueUnassigned implements §4.7.3.
func (o *Orchestrator) handleIssueUnassigned(ctx context.Context, evt event.Event, repo config.Repository) error {
	iu := evt.IssueUnassigned
	active := o.sessions.ActiveForIssue(repo.ID, iu.IssueID)
	if len(active) == 0 {
		return nil
	}

	tracker := o.tracker(repo)
	for _, sess := range active {
		if err := o.supervisor.Stop(ctx, sess.ID, sess.AssistantSessionID); err != nil {
			return fmt.Errorf("stop assistant for %s: %w", sess.ID, err)
		}
		o.sessions.SetStatus(repo.ID, sess.ID, sessionstore.StatusStopped)
	}

	farewell, err := tracker.CreateComment(ctx, iu.IssueID, "This issue was unassigned; stepping away.", "")
	if err != nil {
		return fmt.Errorf("post farewell comment: %w", err)
	}
	o.index.RegisterBotComment(farewell.ID, "")
	o.saveState()
	return nil
}

// handleIssueAssigned implements §4.7.4's "issue assigned transition":
// only when assignee transitions null → non-null AND state is not
// backlog/completed/canceled, synthesize a session-created event.
func (o *Orchestrator) handleIssueAssigned(ctx context.Context, evt event.Event, repo config.Repository) error {
	ia := evt.IssueAssigned
	if ia.PreviousAssign != "" || ia.AssigneeID == "" {
		return nil
	}
	if isTerminalOrBacklogState(ia.StateType) {
		return nil
	}

	synthetic := event.Event{
		Kind:      event.KindSessionCreated,
		Synthetic: true,
		SessionCreated: &event.SessionCreated{
			AgentSessionID: newSyntheticSessionID(),
			IssueID:        ia.IssueID,
		},
	}
	return o.handleSessionCreated(ctx, synthetic, repo)
}

func isTerminalOrBacklogState(stateType string) bool {
	switch stateType {
	case "backlog", "completed", "canceled":
		return true
	default:
		return false
	}
}

// handleIssueEdited implements §4.7.4's "issue edited": record a
// change into every active session for the issue; never auto-advance.
func (o *Orchestrator) handleIssueEdited(ctx context.Context, evt event.Event, repo config.Repository) error {
	ie := evt.IssueEdited
	active := o.sessions.ActiveForIssue(repo.ID, ie.IssueID)
	if len(active) == 0 {
		return nil
	}

	rec := sessionstore.IssueChangeRecord{}
	if ie.Status != nil {
		rec.Status = ie.Status.After
	}
	if ie.Priority != nil {
		rec.Priority = ie.Priority.After
	}
	if ie.Assignee != nil {
		rec.Assignee = ie.Assignee.After
	}
	if ie.Project != nil {
		rec.Project = ie.Project.After
	}
	if ie.Title != nil {
		rec.Title = ie.Title.After
	}
	if ie.Description != nil {
		rec.Description = ie.Description.After
	}

	for _, sess := range active {
		if err := o.sessions.AppendIssueChange(repo.ID, sess.ID, rec); err != nil {
			return fmt.Errorf("append issue change for %s: %w", sess.ID, err)
		}
	}
	o.saveState()
	return nil
}

// handleCommentCreated implements §4.7.4's "comment created": the
// should-respond decision (§4.7.7) determines whether to synthesize a
// session-created event.
func (o *Orchestrator) handleCommentCreated(ctx context.Context, evt event.Event, repo config.Repository) error {
	c := evt.CommentCreated
	if !shouldRespondToComment(*c, o.index) {
		return nil
	}

	synthetic := event.Event{
		Kind:      event.KindSessionCreated,
		Synthetic: true,
		SessionCreated: &event.SessionCreated{
			AgentSessionID:  newSyntheticSessionID(),
			IssueID:         c.IssueID,
			OriginalComment: &event.CommentRef{CommentID: c.CommentID, Body: c.Body, Attachments: c.Attachments},
		},
	}
	return o.handleSessionCreated(ctx, synthetic, repo)
}

func issueRef(issue trackerapi.Issue) sessionstore.IssueRef {
	return sessionstore.IssueRef{
		ID:          issue.ID,
		Identifier:  issue.Identifier,
		Title:       issue.Title,
		Description: issue.Description,
		BranchName:  issue.BranchName,
	}
}

func procedureKind(proc procedure.Procedure) string {
	if len(proc.Subroutines) > 0 {
		return proc.Subroutines[0].Kind
	}
	return "builder"
}

func containsDelegationMarker(body string) bool {
	return strings.Contains(body, qualifyingDelegationMarker)
}

func containsLabelCommand(body string) bool {
	return strings.Contains(body, labelBasedPromptCommand)
}

// dedupeURLs drops repeats and anything containing brackets or
// parens, per §8's "attachment URLs containing brackets/parens are
// not captured; duplicate URLs are deduplicated before download",
// preserving first-seen order.
func dedupeURLs(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if strings.ContainsAny(u, "[]()") {
			continue
		}
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// attachmentManifest renders the "optional attachment manifest"
// substitution named in §4.7.1 step 7: a short listing of the
// attachment URLs downloaded into the session's attachments
// directory, so the Assistant knows what local files are available.
func attachmentManifest(urls []string) string {
	if len(urls) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Attachments (downloaded into the attachments directory):\n")
	for _, u := range urls {
		fmt.Fprintf(&b, "- %s\n", u)
	}
	return b.String()
}
