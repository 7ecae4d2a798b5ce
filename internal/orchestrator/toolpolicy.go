package orchestrator

import "github.com/nextlevelbuilder/agentworker/internal/config"

// ToolPolicy is the resolved allowed/disallowed tool lists handed to
// C6 when starting an Assistant, §4.7.6.
type ToolPolicy struct {
	Allowed    []string
	Disallowed []string
}

// toolPresets resolve the fixed preset names named in §4.7.6.
func toolPresets(defaults config.ToolDefaults, preset string) ([]string, bool) {
	switch preset {
	case "readOnly":
		return defaults.ReadOnlyTools, true
	case "safe":
		return defaults.SafeTools, true
	case "all":
		return nil, true // nil allowed list means "no restriction"
	case "coordinator":
		return defaults.CoordinatorTools, true
	default:
		return nil, false
	}
}

// resolveToolPolicy implements §4.7.6's priority order for both the
// allowed and disallowed lists:
//
//	(a) repository × promptType
//	(b) global defaults × promptType
//	(c) repository-wide
//	(d) global defaults
//	(e) safe-tools fallback
//
// mcpTrackerTools and mcpCyrusTools are always unioned into the
// allowed list, since the tool policy "always unions-in MCP server
// tools for the Tracker and for the in-process cyrus server".
func resolveToolPolicy(repo config.Repository, defaults config.ToolDefaults, promptType string, mcpTrackerTools, mcpCyrusTools []string) ToolPolicy {
	allowed := firstNonEmpty(
		repo.AllowedToolsByPromptType[promptType],
		defaults.AllowedByPromptType[promptType],
		repo.AllowedTools,
		defaults.Allowed,
		defaults.SafeTools,
	)
	disallowed := firstNonEmpty(
		repo.DisallowedToolsByPromptType[promptType],
		defaults.DisallowedByPromptType[promptType],
		repo.DisallowedTools,
		defaults.Disallowed,
		nil,
	)

	allowed = union(allowed, mcpTrackerTools, mcpCyrusTools)

	return ToolPolicy{Allowed: allowed, Disallowed: disallowed}
}

// firstNonEmpty returns the first non-empty slice among candidates —
// models priority tier (a) through (e) as successive fallbacks.
func firstNonEmpty(candidates ...[]string) []string {
	for _, c := range candidates {
		if len(c) > 0 {
			return c
		}
	}
	return nil
}

func union(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, item := range list {
			if !seen[item] {
				seen[item] = true
				out = append(out, item)
			}
		}
	}
	return out
}
