// Package routing implements the webhook router, C3: mapping an
// inbound event to a single Repository by label → project → team →
// workspace fallback, §4.3.
package routing

import (
	"strings"

	"github.com/nextlevelbuilder/agentworker/internal/config"
	"github.com/nextlevelbuilder/agentworker/internal/trackerapi"
)

// Subject carries the fields the router needs from the event's issue,
// already resolved by the caller (the orchestrator fetches these via
// trackerapi before calling Route).
type Subject struct {
	Labels      []string
	ProjectName string
	TeamKey     string
	Identifier  string // e.g. "ENG-42", used to parse a team-key prefix
}

// Route picks the first Repository matching, in priority order:
// label, project, team (or identifier prefix), workspace catch-all,
// workspace-first — exactly the 5 steps of §4.3. candidates must all
// share the delivering Tracker token (the caller filters by token
// before calling Route).
func Route(subject Subject, candidates []config.Repository) *config.Repository {
	if r := routeByLabel(subject, candidates); r != nil {
		return r
	}
	if r := routeByProject(subject, candidates); r != nil {
		return r
	}
	if r := routeByTeam(subject, candidates); r != nil {
		return r
	}
	if r := workspaceCatchAll(subject, candidates); r != nil {
		return r
	}
	return workspaceFirst(subject, candidates)
}

func routeByLabel(subject Subject, candidates []config.Repository) *config.Repository {
	for i := range candidates {
		r := &candidates[i]
		for _, label := range subject.Labels {
			if containsFold(r.RoutingLabels, label) {
				return r
			}
		}
	}
	return nil
}

func routeByProject(subject Subject, candidates []config.Repository) *config.Repository {
	if subject.ProjectName == "" {
		return nil
	}
	for i := range candidates {
		r := &candidates[i]
		if containsFold(r.ProjectKeys, subject.ProjectName) {
			return r
		}
	}
	return nil
}

func routeByTeam(subject Subject, candidates []config.Repository) *config.Repository {
	teamKey := subject.TeamKey
	if teamKey == "" {
		teamKey = identifierPrefix(subject.Identifier)
	}
	if teamKey == "" {
		return nil
	}
	for i := range candidates {
		r := &candidates[i]
		if containsFold(r.TeamKeys, teamKey) {
			return r
		}
	}
	return nil
}

// workspaceCatchAll finds the one repository in the subject's workspace
// that declares no routing keys at all — §4.3 step 4. Since Subject
// does not itself carry a workspace id (it is resolved per-candidate
// set, already filtered to one workspace by the caller), this simply
// looks for the first repository with empty routing/project/team keys.
func workspaceCatchAll(_ Subject, candidates []config.Repository) *config.Repository {
	for i := range candidates {
		r := &candidates[i]
		if len(r.RoutingLabels) == 0 && len(r.ProjectKeys) == 0 && len(r.TeamKeys) == 0 {
			return r
		}
	}
	return nil
}

func workspaceFirst(_ Subject, candidates []config.Repository) *config.Repository {
	if len(candidates) == 0 {
		return nil
	}
	return &candidates[0]
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

// identifierPrefix extracts "ENG" from "ENG-123", per §4.3's "fall
// back to parsing IDENTIFIER-123's prefix".
func identifierPrefix(identifier string) string {
	idx := strings.LastIndexByte(identifier, '-')
	if idx <= 0 {
		return ""
	}
	return identifier[:idx]
}

// SubjectFromIssue builds a Subject from a fetched trackerapi.Issue.
func SubjectFromIssue(issue trackerapi.Issue) Subject {
	return Subject{
		Labels:      issue.Labels,
		ProjectName: issue.ProjectName,
		TeamKey:     issue.TeamKey,
		Identifier:  issue.Identifier,
	}
}
