// Package event defines the tagged union of inbound Tracker webhook
// events that the orchestrator dispatches on.
package event

import "time"

// Kind discriminates the Event union. Every Event carries exactly one
// non-nil payload matching its Kind.
type Kind string

const (
	KindSessionCreated  Kind = "session.created"
	KindSessionPrompted Kind = "session.prompted"
	KindIssueAssigned   Kind = "issue.assigned"
	KindIssueUnassigned Kind = "issue.unassigned"
	KindIssueEdited     Kind = "issue.edited"
	KindCommentCreated  Kind = "comment.created"
)

// Event is the decoded, routable representation of a webhook delivery.
// Exactly one of the payload fields is populated, matching Kind; callers
// dispatch with a type switch on Kind and must handle every case (the
// orchestrator's default branch logs and drops anything unrecognized,
// per the "unknown webhook type" error kind).
type Event struct {
	Kind           Kind
	OrganizationID string
	WebhookID      string
	Synthetic      bool // synthesized by the orchestrator itself, e.g. from a data-change

	SessionCreated  *SessionCreated
	SessionPrompted *SessionPrompted
	IssueAssigned   *IssueAssigned
	IssueUnassigned *IssueUnassigned
	IssueEdited     *IssueEdited
	CommentCreated  *CommentCreated
}

// Fingerprint identifies the subject + action + revision this event
// carries, for C2 deduplication.
func (e Event) Fingerprint() (eventType string, action string, subjectID string, revision string) {
	switch e.Kind {
	case KindSessionCreated:
		return "session", "created", e.SessionCreated.AgentSessionID, e.SessionCreated.IssueID
	case KindSessionPrompted:
		return "session", "prompted", e.SessionPrompted.AgentSessionID, e.SessionPrompted.PromptedAt.Format(time.RFC3339Nano)
	case KindIssueAssigned:
		return "issue", "assigned", e.IssueAssigned.IssueID, e.IssueAssigned.AssigneeID
	case KindIssueUnassigned:
		return "issue", "unassigned", e.IssueUnassigned.IssueID, ""
	case KindIssueEdited:
		return "issue", "edited", e.IssueEdited.IssueID, e.IssueEdited.Revision
	case KindCommentCreated:
		return "comment", "created", e.CommentCreated.CommentID, e.CommentCreated.IssueID
	default:
		return "unknown", "", e.WebhookID, ""
	}
}

// SessionCreated is delivered when the Tracker opens a new agent session
// thread (or is synthesized by the orchestrator from a qualifying
// data-change).
type SessionCreated struct {
	AgentSessionID  string
	IssueID         string
	OriginalComment *CommentRef // nil unless this session started from a comment
}

// SessionPrompted is delivered when a user posts into an existing agent
// session thread, optionally carrying a stop signal.
type SessionPrompted struct {
	AgentSessionID string
	IssueID        string
	Text           string
	Signal         string // "" or "stop"
	PromptedAt     time.Time
	Attachments    []string
}

// IssueAssigned is a data-change subtype: the issue's assignee field
// transitioned.
type IssueAssigned struct {
	IssueID        string
	PreviousAssign string // empty if previously unassigned
	AssigneeID     string
	StateType      string // e.g. "backlog", "unstarted", "started", "completed", "canceled"
	StateName      string
}

// IssueUnassigned is delivered when an issue's agent-session assignment
// is explicitly removed.
type IssueUnassigned struct {
	IssueID string
}

// IssueEdited is a data-change subtype carrying the fields that changed.
type IssueEdited struct {
	IssueID     string
	Revision    string
	Status      *FieldChange
	Priority    *FieldChange
	Assignee    *FieldChange
	Labels      *FieldChange
	Project     *FieldChange
	Title       *FieldChange
	Description *FieldChange
}

// FieldChange records a before/after pair for one edited field.
type FieldChange struct {
	Before string
	After  string
}

// CommentCreated is a data-change subtype for a newly posted comment.
type CommentCreated struct {
	CommentID  string
	IssueID    string
	ParentID   string // empty if top-level
	AuthorID   string
	BotActor   bool
	Body       string
	Attachments []string
}

// CommentRef is a lightweight pointer to a comment, used when a session
// is anchored to one.
type CommentRef struct {
	CommentID   string
	Body        string
	Attachments []string
}
