package orchestrator

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/agentworker/internal/sessionstore"
	"github.com/nextlevelbuilder/agentworker/internal/supervisor"
	"github.com/nextlevelbuilder/agentworker/internal/trackerapi"
)

// RegisterChildSession implements the "cyrus" MCP server callback
// named in §4.7.9: when a Subroutine or MCP tool spawns a child
// session, it calls back with (childID, parentID), which C7 stores in
// childToParent (here, sessionindex.Index.LinkChild).
func (o *Orchestrator) RegisterChildSession(childID, parentID string) {
	o.index.LinkChild(childID, parentID)
}

// OnChildSessionTerminated implements the rest of §4.7.9: when the
// child terminates its final Subroutine, C7 finds the parent (in any
// repository), optionally includes the child workspace in the
// parent's allowedDirectories, posts a "Resuming from child session"
// thought to the parent, and resumes the parent with the child's
// summary as the prompt. At most one resumption per child, enforced
// by unlinking before resuming.
func (o *Orchestrator) OnChildSessionTerminated(ctx context.Context, childRepoID, childID, childSummary string) error {
	parentID, ok := o.index.ParentOf(childID)
	if !ok {
		return nil // not a spawned child, or already resumed once
	}
	o.index.Unlink(childID) // at most one resumption per child, §3 invariant

	parentRepoID, parent, ok := o.sessions.GetAny(parentID)
	if !ok {
		return fmt.Errorf("child termination: parent session %s not found in any repository", parentID)
	}

	child, ok := o.sessions.Get(childRepoID, childID)
	if !ok {
		return fmt.Errorf("child termination: child session %s not found", childID)
	}

	allowedDirs := []string{parent.Workspace.Path}
	if child.Workspace.Path != "" {
		allowedDirs = append(allowedDirs, child.Workspace.Path)
	}

	parentRepo, ok := o.cfg.ByID(parentRepoID)
	if !ok {
		return fmt.Errorf("child termination: parent repository %s not configured", parentRepoID)
	}
	tracker := o.tracker(parentRepo)
	if _, err := tracker.CreateAgentActivity(ctx, parentID, trackerapi.ActivityThought, "Resuming from child session."); err != nil {
		return fmt.Errorf("post child-resume thought: %w", err)
	}

	req := supervisor.StartRequest{
		WorkingDirectory:   parent.Workspace.Path,
		InitialPrompt:      childSummary,
		AllowedDirectories: allowedDirs,
		ResumeSessionID:    parent.AssistantSessionID,
	}
	assistantSessionID, err := o.supervisor.StartStreaming(ctx, parentID, req)
	if err != nil {
		return fmt.Errorf("resume parent from child summary: %w", err)
	}
	o.sessions.SetAssistantSessionID(parentRepoID, parentID, assistantSessionID)
	o.sessions.SetStatus(parentRepoID, parentID, sessionstore.StatusActive)
	o.saveState()
	return nil
}
