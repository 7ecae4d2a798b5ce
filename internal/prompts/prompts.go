// Package prompts implements orchestrator.PromptRenderer, rendering
// the initial user prompt, the optional label/delegation system
// prompt, and each Subroutine's prompt from a fixed set of embedded
// markdown templates keyed by procedure kind. Grounded on
// internal/bootstrap/seed.go's embed.FS-of-markdown-templates idiom —
// generalized from "seed these files into a workspace" to "render
// these files as prompt text", since both are "templates are data,
// not code" uses of go:embed.
package prompts

import (
	"embed"
	"fmt"
	"path"
	"strings"

	"github.com/nextlevelbuilder/agentworker/internal/config"
	"github.com/nextlevelbuilder/agentworker/internal/procedure"
	"github.com/nextlevelbuilder/agentworker/internal/trackerapi"
)

//go:embed templates/*/*.md
var templateFS embed.FS

// Renderer is the concrete PromptRenderer backed by the embedded
// template set, plus a per-repository append instruction read from
// config (§4.7's AppendInstruction field).
type Renderer struct{}

// New builds a Renderer. It has no state — every template is embedded
// at build time.
func New() *Renderer {
	return &Renderer{}
}

// InitialPrompt builds the first user-turn prompt for a newly created
// session, §4.7.1 step 7.
func (r *Renderer) InitialPrompt(repo config.Repository, issue trackerapi.Issue, baseBranch string, isThreadReply bool) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Issue %s: %s\n\n", issue.Identifier, issue.Title)
	if issue.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", issue.Description)
	}
	fmt.Fprintf(&b, "Base branch: %s\n", baseBranch)
	if isThreadReply {
		b.WriteString("This session was started from a reply in an existing comment thread; read the thread before acting.\n")
	}
	if repo.AppendInstruction != "" {
		fmt.Fprintf(&b, "\n%s\n", repo.AppendInstruction)
	}
	return b.String(), nil
}

// SystemPrompt returns the label/delegation-triggered system prompt
// appended to the Assistant's system prompt, §4.7.1 step 6. promptType
// is one of debugger/builder/scoper/orchestrator; the version tag is
// the promptType itself since these templates have no independent
// version history yet.
func (r *Renderer) SystemPrompt(repo config.Repository, promptType string) (string, string, bool) {
	content, err := templateFS.ReadFile(path.Join("templates", promptType, "execute.md"))
	if err != nil {
		return "", "", false
	}
	return string(content), promptType, true
}

// SubroutinePrompt loads a Subroutine's prompt file by its PromptPath
// (e.g. "prompts/builder/select-template.md"), falling back to a
// generic instruction if the path has no matching embedded template —
// §7.7's "template/IO failure degrades to a safe default" rule applies
// here too.
func (r *Renderer) SubroutinePrompt(sub procedure.Subroutine, responseTemplate string) string {
	rel := strings.TrimPrefix(sub.PromptPath, "prompts/")
	content, err := templateFS.ReadFile(path.Join("templates", rel))
	if err != nil {
		return fmt.Sprintf("Continue with the %q step of this session.", sub.Name)
	}
	body := string(content)
	if responseTemplate != "" {
		body += fmt.Sprintf("\n\nUse the %q response template for your reply.\n", responseTemplate)
	}
	return body
}
