package trackerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultAPIBase  = "https://api.tracker.example.com"
	requestsPerSec  = 10
)

// httpClient implements Client over net/http, gated by a shared
// *rate.Limiter, grounded on internal/providers/anthropic.go's
// functional-option constructor and single-request-per-method shape.
type httpClient struct {
	token   string
	apiBase string
	http    *http.Client
	limiter *rate.Limiter
	cache   *responseCache
	retry   RetryConfig
}

// Option configures httpClient, mirroring the teacher's
// WithAnthropicModel/WithAnthropicBaseURL functional-option pattern.
type Option func(*httpClient)

// WithAPIBase overrides the default API base URL.
func WithAPIBase(base string) Option {
	return func(c *httpClient) { c.apiBase = base }
}

// WithHTTPClient overrides the underlying *http.Client (tests inject a
// fake RoundTripper here).
func WithHTTPClient(h *http.Client) Option {
	return func(c *httpClient) { c.http = h }
}

// NewClient builds a Client for one Tracker token. limiter and cache
// are shared across every repository using the same token (§5,
// "the Tracker rate limiter and response cache are shared across all
// repositories using the same token") — callers obtain both from a
// Registry rather than constructing them per-repository.
func NewClient(token string, limiter *rate.Limiter, cache *responseCache, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		apiBase: defaultAPIBase,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: limiter,
		cache:   cache,
		retry:   DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) GetIssue(ctx context.Context, id string) (Issue, error) {
	key := "issue:" + id
	if v, ok := c.cache.get(key); ok {
		return v.(Issue), nil
	}
	issue, err := RetryDo(ctx, c.retry, func() (Issue, error) {
		var out Issue
		return out, c.doJSON(ctx, http.MethodGet, "/issues/"+id, nil, &out)
	})
	if err != nil {
		return Issue{}, err
	}
	c.cache.set(key, issue)
	return issue, nil
}

func (c *httpClient) ListComments(ctx context.Context, issueID string) ([]Comment, error) {
	key := "comments:" + issueID
	if v, ok := c.cache.get(key); ok {
		return v.([]Comment), nil
	}
	out, err := RetryDo(ctx, c.retry, func() ([]Comment, error) {
		var comments []Comment
		return comments, c.doJSON(ctx, http.MethodGet, "/issues/"+issueID+"/comments", nil, &comments)
	})
	if err != nil {
		return nil, err
	}
	c.cache.set(key, out)
	return out, nil
}

func (c *httpClient) GetComment(ctx context.Context, id string) (Comment, error) {
	key := "comment:" + id
	if v, ok := c.cache.get(key); ok {
		return v.(Comment), nil
	}
	out, err := RetryDo(ctx, c.retry, func() (Comment, error) {
		var comment Comment
		return comment, c.doJSON(ctx, http.MethodGet, "/comments/"+id, nil, &comment)
	})
	if err != nil {
		return Comment{}, err
	}
	c.cache.set(key, out)
	return out, nil
}

func (c *httpClient) CreateComment(ctx context.Context, issueID, body, parentID string) (Comment, error) {
	req := struct {
		Body     string `json:"body"`
		ParentID string `json:"parentId,omitempty"`
	}{Body: body, ParentID: parentID}

	comment, err := RetryDo(ctx, c.retry, func() (Comment, error) {
		var out Comment
		return out, c.doJSON(ctx, http.MethodPost, "/issues/"+issueID+"/comments", req, &out)
	})
	if err != nil {
		return Comment{}, err
	}
	// §4.1 side effect: the caller (orchestrator) registers the new
	// comment id as bot-authored via sessionindex; this client only
	// returns the created Comment for that registration to happen on.
	return comment, nil
}

func (c *httpClient) CreateAgentActivity(ctx context.Context, sessionID string, kind ActivityType, body string) (Ack, error) {
	req := struct {
		Type string `json:"type"`
		Body string `json:"body"`
	}{Type: string(kind), Body: body}

	return RetryDo(ctx, c.retry, func() (Ack, error) {
		var ack Ack
		return ack, c.doJSON(ctx, http.MethodPost, "/agent-sessions/"+sessionID+"/activity", req, &ack)
	})
}

func (c *httpClient) AddReaction(ctx context.Context, commentID, emoji string) (string, error) {
	req := struct {
		Emoji string `json:"emoji"`
	}{Emoji: emoji}

	return RetryDo(ctx, c.retry, func() (string, error) {
		var out struct {
			ReactionID string `json:"reactionId"`
		}
		if err := c.doJSON(ctx, http.MethodPost, "/comments/"+commentID+"/reactions", req, &out); err != nil {
			return "", err
		}
		return out.ReactionID, nil
	})
}

func (c *httpClient) DeleteReaction(ctx context.Context, reactionID string) (Ack, error) {
	return RetryDo(ctx, c.retry, func() (Ack, error) {
		var ack Ack
		return ack, c.doJSON(ctx, http.MethodDelete, "/reactions/"+reactionID, nil, &ack)
	})
}

func (c *httpClient) ListTeams(ctx context.Context) ([]Team, error) {
	const key = "teams"
	if v, ok := c.cache.get(key); ok {
		return v.([]Team), nil
	}
	out, err := RetryDo(ctx, c.retry, func() ([]Team, error) {
		var teams []Team
		return teams, c.doJSON(ctx, http.MethodGet, "/teams", nil, &teams)
	})
	if err != nil {
		return nil, err
	}
	c.cache.set(key, out)
	return out, nil
}

func (c *httpClient) ListLabels(ctx context.Context) ([]Label, error) {
	const key = "labels"
	if v, ok := c.cache.get(key); ok {
		return v.([]Label), nil
	}
	out, err := RetryDo(ctx, c.retry, func() ([]Label, error) {
		var labels []Label
		return labels, c.doJSON(ctx, http.MethodGet, "/labels", nil, &labels)
	})
	if err != nil {
		return nil, err
	}
	c.cache.set(key, out)
	return out, nil
}

func (c *httpClient) ListWorkflowStates(ctx context.Context, teamID string) ([]WorkflowState, error) {
	key := "states:" + teamID
	if v, ok := c.cache.get(key); ok {
		return v.([]WorkflowState), nil
	}
	out, err := RetryDo(ctx, c.retry, func() ([]WorkflowState, error) {
		var states []WorkflowState
		return states, c.doJSON(ctx, http.MethodGet, "/teams/"+teamID+"/states", nil, &states)
	})
	if err != nil {
		return nil, err
	}
	c.cache.set(key, out)
	return out, nil
}

func (c *httpClient) UpdateIssue(ctx context.Context, id string, patch IssuePatch) (Issue, error) {
	return RetryDo(ctx, c.retry, func() (Issue, error) {
		var out Issue
		return out, c.doJSON(ctx, http.MethodPatch, "/issues/"+id, patch, &out)
	})
}

// doJSON performs one rate-limited HTTP round trip. A 401/403 response
// is wrapped as a non-retryable AuthError; 429/5xx/network errors
// surface as plain errors for RetryDo to retry.
func (c *httpClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("tracker request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthError{Token: c.token, Cause: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("tracker responded %d for %s %s", resp.StatusCode, method, path)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
