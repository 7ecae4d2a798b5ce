// Package config holds the repository configuration record, its
// defaults, and the env-var overlay, in the shape and idiom of the
// teacher's internal/config package (same JSON5 + env-override style,
// generalized from the teacher's agent/channel settings to the
// Repository record named in spec §3).
package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
)

// LabelPrompts maps a label name to the Procedure it forces, per §4.5
// ("label override").
type LabelPrompts struct {
	Debugger     string `json:"debugger,omitempty"`
	Builder      string `json:"builder,omitempty"`
	Scoper       string `json:"scoper,omitempty"`
	Orchestrator string `json:"orchestrator,omitempty"`
}

// Repository is an immutable-during-a-session config record, §3.
type Repository struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	WorkspaceID       string       `json:"workspaceId"`
	TrackerToken      string       `json:"trackerToken"`
	TeamKeys          []string     `json:"teamKeys,omitempty"`
	RoutingLabels     []string     `json:"routingLabels,omitempty"`
	ProjectKeys       []string     `json:"projectKeys,omitempty"`
	RepositoryPath    string       `json:"repositoryPath"`
	WorkspaceBaseDir  string       `json:"workspaceBaseDir"`
	BaseBranch        string       `json:"baseBranch"`
	IsActive          bool         `json:"isActive"`
	LabelPrompts      LabelPrompts `json:"labelPrompts,omitempty"`
	AllowedTools      []string     `json:"allowedTools,omitempty"`
	DisallowedTools   []string     `json:"disallowedTools,omitempty"`
	// AllowedToolsByPromptType/DisallowedToolsByPromptType hold the
	// repository × promptType tier of §4.7.6's tool-policy priority
	// order, keyed by prompt type (debugger/builder/scoper/orchestrator).
	AllowedToolsByPromptType    map[string][]string `json:"allowedToolsByPromptType,omitempty"`
	DisallowedToolsByPromptType map[string][]string `json:"disallowedToolsByPromptType,omitempty"`
	Model             string       `json:"model,omitempty"`
	FallbackModel     string       `json:"fallbackModel,omitempty"`
	AppendInstruction string       `json:"appendInstruction,omitempty"`
	MCPConfigPath     string       `json:"mcpConfigPath,omitempty"`
	ControlMode       bool         `json:"controlMode,omitempty"`
}

// Validate checks the fields §4.8 names as required on every repository
// record ("each must have id, name, repositoryPath, baseBranch").
func (r Repository) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("repository missing id")
	}
	if r.Name == "" {
		return fmt.Errorf("repository %q missing name", r.ID)
	}
	if r.RepositoryPath == "" {
		return fmt.Errorf("repository %q missing repositoryPath", r.ID)
	}
	if r.BaseBranch == "" {
		return fmt.Errorf("repository %q missing baseBranch", r.ID)
	}
	return nil
}

// ToolDefaults holds the global fallback tool-policy lists used by
// §4.7.6 priority tiers (b) and (d), keyed by prompt type
// (debugger/builder/scoper/orchestrator).
type ToolDefaults struct {
	AllowedByPromptType    map[string][]string `json:"allowedByPromptType,omitempty"`
	DisallowedByPromptType map[string][]string `json:"disallowedByPromptType,omitempty"`
	Allowed                []string            `json:"allowed,omitempty"`
	Disallowed             []string            `json:"disallowed,omitempty"`
	SafeTools              []string            `json:"safeTools,omitempty"`
	ReadOnlyTools          []string            `json:"readOnlyTools,omitempty"`
	CoordinatorTools       []string            `json:"coordinatorTools,omitempty"`
}

// Config is the full repository set plus process-wide settings named in
// §6 ("Env / config").
type Config struct {
	CyrusHome               string       `json:"cyrusHome"`
	ProxyURL                string       `json:"proxyUrl,omitempty"`
	BaseURL                 string       `json:"baseUrl,omitempty"`
	ServerPort              int          `json:"serverPort"`
	ServerHost              string       `json:"serverHost"`
	NgrokAuthToken          string       `json:"ngrokAuthToken,omitempty"`
	UseLinearDirectWebhooks bool         `json:"useLinearDirectWebhooks"`
	IsDebugMode             bool         `json:"isDebugMode"`
	IsWebhookDebugMode      bool         `json:"isWebhookDebugMode"`
	Repositories            []Repository `json:"repositories"`
	ToolDefaults            ToolDefaults `json:"toolDefaults,omitempty"`

	mu sync.RWMutex
}

// ReplaceFrom copies all data fields from src into c, preserving c's
// mutex — mirrors the teacher's Config.ReplaceFrom used by hot-reload.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CyrusHome = src.CyrusHome
	c.ProxyURL = src.ProxyURL
	c.BaseURL = src.BaseURL
	c.ServerPort = src.ServerPort
	c.ServerHost = src.ServerHost
	c.NgrokAuthToken = src.NgrokAuthToken
	c.UseLinearDirectWebhooks = src.UseLinearDirectWebhooks
	c.IsDebugMode = src.IsDebugMode
	c.IsWebhookDebugMode = src.IsWebhookDebugMode
	c.Repositories = src.Repositories
	c.ToolDefaults = src.ToolDefaults
}

// Snapshot returns a deep-enough copy of the repository set for
// lock-free reads by C3/C8, mirroring the teacher's snapshot-under-
// RLock pattern in sessions.Manager.Save().
func (c *Config) Snapshot() []Repository {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Repository, len(c.Repositories))
	copy(out, c.Repositories)
	return out
}

// ByID returns the repository with the given id, or false.
func (c *Config) ByID(id string) (Repository, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.Repositories {
		if r.ID == id {
			return r, true
		}
	}
	return Repository{}, false
}

// ByToken returns every repository sharing the given Tracker token.
func (c *Config) ByToken(token string) []Repository {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Repository
	for _, r := range c.Repositories {
		if r.TrackerToken == token {
			out = append(out, r)
		}
	}
	return out
}

// Hash returns a stable short digest of the config for optimistic
// reload diffing, mirroring the teacher's config.Hash().
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}
