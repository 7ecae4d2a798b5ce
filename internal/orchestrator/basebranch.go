package orchestrator

import (
	"strings"

	"github.com/nextlevelbuilder/agentworker/internal/config"
	"github.com/nextlevelbuilder/agentworker/internal/trackerapi"
)

// selectBaseBranch implements §4.7.5: default to repository.baseBranch,
// but if the issue has a parent with a local or remote branch that
// exists, use the parent branch instead, sanitized to strip backticks
// (a prompt-injection guard against a malicious branch name breaking
// out of a templated code block).
func selectBaseBranch(repo config.Repository, issue trackerapi.Issue, parentBranchExists func(branch string) bool) string {
	if issue.ParentID != "" && issue.ParentBranch != "" && parentBranchExists(issue.ParentBranch) {
		return sanitizeBranchName(issue.ParentBranch)
	}
	return repo.BaseBranch
}

func sanitizeBranchName(branch string) string {
	return strings.ReplaceAll(branch, "`", "")
}
