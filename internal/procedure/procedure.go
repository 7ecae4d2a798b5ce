// Package procedure implements the Procedure Router, C5: classifying an
// issue/prompt into a Procedure (ordered Subroutines) and advancing
// through them, §4.5. Grounded on internal/providers/types.go's
// Provider interface (the Classifier here mirrors Chat) and
// internal/agent/loop.go's treatment of prompt files as data.
package procedure

import (
	"context"
	"encoding/json"
	"time"
)

// Subroutine is one step of a Procedure, §3.
type Subroutine struct {
	Name        string
	Description string
	PromptPath  string
	MaxTurns    int
	Kind        string
}

// Procedure is an ordered list of Subroutines, §3.
type Procedure struct {
	Name        string
	Subroutines []Subroutine
}

// Classification is the result of C5's classifier call, §4.5.
type Classification struct {
	Label         string // e.g. "debugger", "orchestrator", "builder", "scoper"
	ProcedureName string
	Reasoning     string
}

// Classifier performs the short LLM call that maps free text to a
// Classification. Implementations wrap whatever model client the
// deployment configures; Router applies the hard 30s timeout itself so
// Classifier implementations don't need to.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// classificationTimeout is the hard deadline named in §4.5 and §5.
const classificationTimeout = 30 * time.Second

// Catalogue holds the fixed, named Procedures available to the
// orchestrator.
type Catalogue struct {
	procedures map[string]Procedure
}

// NewCatalogue builds the catalogue described in §8's seed suite:
// debugger-full, orchestrator-full, builder-basic, scoper-basic, and
// their -controlled variants.
func NewCatalogue() *Catalogue {
	c := &Catalogue{procedures: make(map[string]Procedure)}
	for _, name := range []string{"debugger", "orchestrator", "builder", "scoper"} {
		c.procedures[name+"-full"] = defaultProcedure(name+"-full", name)
		c.procedures[name+"-basic"] = defaultProcedure(name+"-basic", name)
		c.procedures[name+"-full-controlled"] = defaultProcedure(name+"-full-controlled", name)
		c.procedures[name+"-basic-controlled"] = defaultProcedure(name+"-basic-controlled", name)
	}
	return c
}

func defaultProcedure(name, kind string) Procedure {
	return Procedure{
		Name: name,
		Subroutines: []Subroutine{
			{Name: "select-template", Description: "choose a response template", PromptPath: "prompts/" + kind + "/select-template.md", MaxTurns: 3, Kind: kind},
			{Name: "execute", Description: "carry out the work", PromptPath: "prompts/" + kind + "/execute.md", MaxTurns: 40, Kind: kind},
		},
	}
}

// Get returns the named Procedure.
func (c *Catalogue) Get(name string) (Procedure, bool) {
	p, ok := c.procedures[name]
	return p, ok
}

// Register adds or overwrites a Procedure, used by deployments that
// load custom procedures from disk at startup.
func (c *Catalogue) Register(p Procedure) {
	c.procedures[p.Name] = p
}

// Router classifies text into a Procedure and tracks a session's
// position within it.
type Router struct {
	catalogue  *Catalogue
	classifier Classifier
}

// NewRouter builds a Router over catalogue, using classifier for free-
// text classification. classifier may be nil, in which case every
// classification falls back to the rule-based default.
func NewRouter(catalogue *Catalogue, classifier Classifier) *Router {
	return &Router{catalogue: catalogue, classifier: classifier}
}

// DetermineRoutine classifies text into a Procedure under a hard 30s
// timeout; on error or timeout it falls back to the rule-based default
// builder-basic, per §4.5.
func (r *Router) DetermineRoutine(ctx context.Context, text string) (Classification, Procedure) {
	if r.classifier != nil {
		cctx, cancel := context.WithTimeout(ctx, classificationTimeout)
		defer cancel()

		result, err := r.classifier.Classify(cctx, text)
		if err == nil {
			if proc, ok := r.catalogue.Get(result.ProcedureName); ok {
				return result, proc
			}
		}
	}

	fallback := Classification{Label: "builder", ProcedureName: "builder-basic", Reasoning: "classification unavailable; rule-based default"}
	proc, _ := r.catalogue.Get("builder-basic")
	return fallback, proc
}

// LabelOverride resolves the §4.5/§4.7.1-step-5 label-to-Procedure
// override, applying debugger-over-orchestrator precedence when both
// labels are present (DESIGN NOTES §9 open question, decided: debugger
// wins, per the literal step-5 ordering "debugger/orchestrator").
func LabelOverride(labels []string, debuggerProc, orchestratorProc string) (procedureName string, matchedLabel string, ok bool) {
	hasLabel := func(name string) bool {
		for _, l := range labels {
			if l == name {
				return true
			}
		}
		return false
	}
	if debuggerProc != "" && hasLabel("debugger") {
		return debuggerProc, "debugger", true
	}
	if orchestratorProc != "" && hasLabel("orchestrator") {
		return orchestratorProc, "orchestrator", true
	}
	return "", "", false
}

// ApplyControlMode substitutes the "-controlled" variant of name if the
// repository has control mode enabled and that variant is registered,
// per §4.5 ("Control-mode suffix (-controlled) substitutes a controlled
// variant if registered").
func (c *Catalogue) ApplyControlMode(name string, controlMode bool) string {
	if !controlMode {
		return name
	}
	controlled := name + "-controlled"
	if _, ok := c.procedures[controlled]; ok {
		return controlled
	}
	return name
}

// GetCurrentSubroutine returns the Subroutine at meta.CurrentIndex.
func GetCurrentSubroutine(proc Procedure, currentIndex int) (Subroutine, bool) {
	if currentIndex < 0 || currentIndex >= len(proc.Subroutines) {
		return Subroutine{}, false
	}
	return proc.Subroutines[currentIndex], true
}

// GetNextSubroutine returns the Subroutine after meta.CurrentIndex, if
// any.
func GetNextSubroutine(proc Procedure, currentIndex int) (Subroutine, bool) {
	return GetCurrentSubroutine(proc, currentIndex+1)
}

// InitializeProcedureMetadata builds the initial ProcedureMetadata for
// a session entering Procedure proc.
func InitializeProcedureMetadata(proc Procedure) (name string, currentIndex int, history []string) {
	return proc.Name, 0, nil
}

// SelectTemplateResult is the parsed output of a select-template
// Subroutine's terminal assistant message, §4.7.8.
type SelectTemplateResult struct {
	Template  string `json:"template"`
	Reasoning string `json:"reasoning"`
}

// ParseSelectTemplateOutput extracts {template, reasoning} from the
// assistant's JSON output, returning ok=false if it does not parse —
// callers fall back to treating the Subroutine as producing no
// template rather than failing the session (§7.7, "Template/IO
// failure ... never crash the session").
func ParseSelectTemplateOutput(raw string) (SelectTemplateResult, bool) {
	var out SelectTemplateResult
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return SelectTemplateResult{}, false
	}
	return out, out.Template != ""
}
