// Package trackerapi is the authenticated client for the external
// Tracker service (issues, comments, labels, reactions, agent
// activity), grounded on the teacher's internal/providers package:
// same interface-first design, functional-option constructor, and
// retry/cache wrapping around a single HTTP call per method.
package trackerapi

import "time"

// Issue is the minimal issue shape the orchestrator needs, §3
// ("issue (minimal: id, identifier, title, description, branchName)").
type Issue struct {
	ID           string
	Identifier   string // e.g. "ENG-42"
	Title        string
	Description  string
	BranchName   string
	TeamKey      string
	ProjectName  string
	Labels       []string
	AssigneeID   string
	StateType    string // backlog | unstarted | started | completed | canceled
	StateName    string
	ParentID     string
	ParentBranch string
}

// Comment is a Tracker comment/reply.
type Comment struct {
	ID        string
	IssueID   string
	ParentID  string // empty if top-level
	AuthorID  string
	BotActor  bool
	Body      string
	CreatedAt time.Time
}

// Ack is the generic acknowledgement returned by write operations that
// carry no further payload.
type Ack struct {
	OK bool
}

// ActivityType discriminates an agent-activity post, §4.1.
type ActivityType string

const (
	ActivityThought  ActivityType = "thought"
	ActivityResponse ActivityType = "response"
)

// Team is a Tracker team record, used by C3 team-key routing.
type Team struct {
	ID  string
	Key string
}

// Label is a Tracker label record, used by C3 label routing.
type Label struct {
	ID   string
	Name string
}

// WorkflowState is one of an issue's possible states, grouped by
// StateType (backlog/unstarted/started/completed/canceled).
type WorkflowState struct {
	ID        string
	Name      string
	StateType string
}

// IssuePatch is a partial update to an issue, for UpdateIssue.
type IssuePatch struct {
	StateID string
	Title   *string
}
