package prompts

import (
	"strings"
	"testing"

	"github.com/nextlevelbuilder/agentworker/internal/config"
	"github.com/nextlevelbuilder/agentworker/internal/procedure"
	"github.com/nextlevelbuilder/agentworker/internal/trackerapi"
)

func TestInitialPrompt_IncludesIssueAndBranch(t *testing.T) {
	r := New()
	issue := trackerapi.Issue{Identifier: "ENG-42", Title: "Fix the thing", Description: "It is broken."}
	repo := config.Repository{}

	got, err := r.InitialPrompt(repo, issue, "main", false)
	if err != nil {
		t.Fatalf("InitialPrompt: %v", err)
	}
	for _, want := range []string{"ENG-42", "Fix the thing", "It is broken.", "main"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q: %s", want, got)
		}
	}
	if strings.Contains(got, "thread") {
		t.Errorf("non-thread-reply prompt should not mention threads: %s", got)
	}
}

func TestInitialPrompt_ThreadReplyAndAppendInstruction(t *testing.T) {
	r := New()
	issue := trackerapi.Issue{Identifier: "ENG-1", Title: "T"}
	repo := config.Repository{AppendInstruction: "Always run the linter."}

	got, err := r.InitialPrompt(repo, issue, "develop", true)
	if err != nil {
		t.Fatalf("InitialPrompt: %v", err)
	}
	if !strings.Contains(got, "thread") {
		t.Errorf("expected thread-reply note, got: %s", got)
	}
	if !strings.Contains(got, "Always run the linter.") {
		t.Errorf("expected append instruction, got: %s", got)
	}
}

func TestSystemPrompt_KnownPromptTypeLoadsTemplate(t *testing.T) {
	r := New()
	for _, kind := range []string{"debugger", "builder", "scoper", "orchestrator"} {
		prompt, tag, ok := r.SystemPrompt(config.Repository{}, kind)
		if !ok {
			t.Fatalf("SystemPrompt(%q): ok=false", kind)
		}
		if tag != kind {
			t.Errorf("SystemPrompt(%q): version tag = %q, want %q", kind, tag, kind)
		}
		if strings.TrimSpace(prompt) == "" {
			t.Errorf("SystemPrompt(%q): empty prompt", kind)
		}
	}
}

func TestSystemPrompt_UnknownPromptTypeFails(t *testing.T) {
	r := New()
	_, _, ok := r.SystemPrompt(config.Repository{}, "not-a-real-kind")
	if ok {
		t.Fatalf("SystemPrompt(unknown) = ok, want failure")
	}
}

func TestSubroutinePrompt_LoadsEmbeddedTemplate(t *testing.T) {
	r := New()
	sub := procedure.Subroutine{Name: "select-template", PromptPath: "prompts/builder/select-template.md", Kind: "builder"}

	got := r.SubroutinePrompt(sub, "")
	if !strings.Contains(got, "response template") {
		t.Errorf("expected select-template instructions, got: %s", got)
	}
}

func TestSubroutinePrompt_AppendsResponseTemplate(t *testing.T) {
	r := New()
	sub := procedure.Subroutine{Name: "execute", PromptPath: "prompts/debugger/execute.md", Kind: "debugger"}

	got := r.SubroutinePrompt(sub, "status")
	if !strings.Contains(got, `"status"`) {
		t.Errorf("expected response template name in output, got: %s", got)
	}
}

func TestSubroutinePrompt_UnknownPathFallsBack(t *testing.T) {
	r := New()
	sub := procedure.Subroutine{Name: "mystery-step", PromptPath: "prompts/nope/mystery-step.md", Kind: "nope"}

	got := r.SubroutinePrompt(sub, "")
	if !strings.Contains(got, "mystery-step") {
		t.Errorf("fallback should reference subroutine name, got: %s", got)
	}
}
