// Package workspace implements orchestrator.WorkspaceProvider — the
// on-disk working directory (optionally a git worktree) an Assistant
// runs in for a session, §3's workspace{path, isGitWorktree}.
//
// Workspace/git-worktree creation is named out of scope by spec.md §1
// ("only their interfaces matter"), so this favors the simplest thing
// that actually works over a fully general git-worktree manager: one
// git worktree per session branch when RepositoryPath looks like a git
// checkout, falling back to a plain directory otherwise. Grounded on
// the teacher's internal/tools/shell.go exec.CommandContext("sh", "-c",
// ...) invocation shape, generalized to a fixed "git worktree add"
// argv instead of an arbitrary shell command.
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/agentworker/internal/config"
	"github.com/nextlevelbuilder/agentworker/internal/sessionstore"
	"github.com/nextlevelbuilder/agentworker/internal/trackerapi"
)

// Provider is the default WorkspaceProvider.
type Provider struct {
	// BaseDir is used when a repository has no WorkspaceBaseDir of its
	// own configured.
	BaseDir string
}

// New builds a Provider, defaulting BaseDir to the OS temp dir's
// agentworker subdirectory when baseDir is empty.
func New(baseDir string) *Provider {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "agentworker-workspaces")
	}
	return &Provider{BaseDir: baseDir}
}

func (p *Provider) root(repo config.Repository) string {
	if repo.WorkspaceBaseDir != "" {
		return repo.WorkspaceBaseDir
	}
	return p.BaseDir
}

// EnsureWorkspace creates (or reuses) the session's working directory.
// When repo.RepositoryPath is a git checkout, it adds a worktree on a
// branch derived from the issue; otherwise it just creates a plain
// directory under the repository's workspace root.
func (p *Provider) EnsureWorkspace(ctx context.Context, repo config.Repository, issue trackerapi.Issue) (sessionstore.Workspace, error) {
	dir := filepath.Join(p.root(repo), repo.ID, sanitize(sessionSlug(issue)))

	if isGitCheckout(repo.RepositoryPath) {
		if _, err := os.Stat(dir); err == nil {
			return sessionstore.Workspace{Path: dir, IsGitWorktree: true}, nil
		}
		branch := issue.BranchName
		if branch == "" {
			branch = sanitize(sessionSlug(issue))
		}
		if err := addWorktree(ctx, repo.RepositoryPath, dir, branch); err == nil {
			return sessionstore.Workspace{Path: dir, IsGitWorktree: true}, nil
		}
		// Worktree creation failed (dirty branch, name collision,
		// non-bare checkout limitations) — fall back to a plain
		// directory rather than failing the whole session.
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return sessionstore.Workspace{}, fmt.Errorf("workspace: mkdir %s: %w", dir, err)
	}
	return sessionstore.Workspace{Path: dir, IsGitWorktree: false}, nil
}

// AttachmentsDir returns the directory comment attachments for a
// session are downloaded into, created on first use by the downloader
// rather than here.
func (p *Provider) AttachmentsDir(repo config.Repository, sessionID string) string {
	return filepath.Join(p.root(repo), repo.ID, "attachments", sanitize(sessionID))
}

func isGitCheckout(repoPath string) bool {
	if repoPath == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(repoPath, ".git"))
	return err == nil && (info.IsDir() || info.Mode().IsRegular())
}

func addWorktree(ctx context.Context, repoPath, dir, branch string) error {
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, "git", "-C", repoPath, "worktree", "add", "-B", branch, dir)
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Run()
}

func sessionSlug(issue trackerapi.Issue) string {
	if issue.Identifier != "" {
		return issue.Identifier
	}
	return issue.ID
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitize collapses anything that isn't a safe path segment character,
// so an issue identifier or session id can never escape its parent
// directory or inject a git ref with a slash/space in it.
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = unsafeChars.ReplaceAllString(s, "-")
	if s == "." || s == ".." {
		return "-"
	}
	return s
}
