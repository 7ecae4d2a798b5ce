// Package sessionstore is the Session Store, C4: an in-memory,
// durable-backed map of AgentSession by id and Entries by session,
// partitioned per repository so no cross-partition locks are ever
// required (§5), grounded on the teacher's internal/sessions.Manager
// generalized from a flat map to a repo-partitioned one.
package sessionstore

import "time"

// Status is an AgentSession's lifecycle state, §3.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// IssueRef is the minimal issue shape carried on a session, §3.
type IssueRef struct {
	ID          string
	Identifier  string
	Title       string
	Description string
	BranchName  string
}

// Workspace is the on-disk working directory for a session's Assistant.
type Workspace struct {
	Path          string
	IsGitWorktree bool
}

// IssueChangeRecord is one entry of metadata.issueChangeHistory, §4.7.4.
type IssueChangeRecord struct {
	At          time.Time
	Status      string
	Priority    string
	Assignee    string
	Labels      []string
	Project     string
	Title       string
	Description string
}

// ProcedureMetadata tracks a session's progress through its Procedure,
// §3 ("metadata.procedure carries {name, currentIndex,
// subroutineHistory[]}").
type ProcedureMetadata struct {
	Name              string
	CurrentIndex      int
	SubroutineHistory []string
}

// Metadata is the AgentSession.metadata record, §3.
type Metadata struct {
	Procedure            ProcedureMetadata
	IssueChangeHistory    []IssueChangeRecord
	OriginalCommentID     string
	OriginalCommentBody   string
	ShouldReplyInThread   bool
	ResponseTemplate      string
	ThreadReplyPostedAt   time.Time // zero = not yet posted
}

// AgentSession is the Tracker-side threaded conversation bound to one
// issue, §3.
type AgentSession struct {
	ID                 string
	IssueID            string
	Issue              IssueRef
	Workspace          Workspace
	AssistantSessionID string
	Status             Status
	Metadata           Metadata
	ReactionID         string // the ⏳/✅ reaction id on the original comment, if any
	SpawnedBy          string // parent AgentSession id, if this is a child
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// EntryType discriminates an AgentSessionEntry, §3.
type EntryType string

const (
	EntryUser      EntryType = "user"
	EntryAssistant EntryType = "assistant"
	EntryToolUse   EntryType = "tool_use"
	EntryToolResult EntryType = "tool_result"
	EntryThought   EntryType = "thought"
)

// AgentSessionEntry is one append-only turn/tool-use record, §3.
type AgentSessionEntry struct {
	Type      EntryType
	Content   string
	ToolUseID string
	Timestamp time.Time
}
