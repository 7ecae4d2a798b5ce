package trackerapi

import "context"

// Client is the Tracker contract named in §4.1. Every method passes
// through the shared rate limiter and retry policy of the underlying
// implementation.
type Client interface {
	GetIssue(ctx context.Context, id string) (Issue, error)
	ListComments(ctx context.Context, issueID string) ([]Comment, error)
	GetComment(ctx context.Context, id string) (Comment, error)
	CreateComment(ctx context.Context, issueID, body, parentID string) (Comment, error)
	CreateAgentActivity(ctx context.Context, sessionID string, kind ActivityType, body string) (Ack, error)
	AddReaction(ctx context.Context, commentID, emoji string) (string, error)
	DeleteReaction(ctx context.Context, reactionID string) (Ack, error)
	ListTeams(ctx context.Context) ([]Team, error)
	ListLabels(ctx context.Context) ([]Label, error)
	ListWorkflowStates(ctx context.Context, teamID string) ([]WorkflowState, error)
	UpdateIssue(ctx context.Context, id string, patch IssuePatch) (Issue, error)
}

// AuthError marks a non-retryable authentication failure (§4.1: "token
// rejected"). Callers surface it to the orchestrator verbatim per §7.1.
type AuthError struct {
	Token string
	Cause error
}

func (e *AuthError) Error() string {
	return "tracker auth rejected: " + e.Cause.Error()
}

func (e *AuthError) Unwrap() error { return e.Cause }

// TransientError wraps a retried-and-exhausted error (5xx, 429, network),
// per §7.2.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return "tracker transient error: " + e.Cause.Error()
}

func (e *TransientError) Unwrap() error { return e.Cause }
