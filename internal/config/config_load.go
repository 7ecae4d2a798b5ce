package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"github.com/titanous/json5"
)

// Default returns the baseline configuration before file load and env
// overlay, mirroring the teacher's config.Default().
func Default() *Config {
	return &Config{
		CyrusHome:  "~/.agentworker",
		ServerHost: "0.0.0.0",
		ServerPort: 3456,
		ToolDefaults: ToolDefaults{
			SafeTools:        []string{"read_file", "list_directory", "search", "grep"},
			ReadOnlyTools:    []string{"read_file", "list_directory", "search", "grep"},
			CoordinatorTools: []string{"read_file", "list_directory", "search", "grep", "spawn_child_session"},
		},
		Repositories: []Repository{},
	}
}

// Load reads the repository config from a JSON5 file, then overlays env
// vars, exactly as the teacher's Load(path) does.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validateRepositories(cfg.Repositories); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// validateRepositories enforces §4.8's "repositories must be an array;
// each must have id, name, repositoryPath, baseBranch" and rejects
// duplicate ids atomically (§7.8, "reject the new configuration
// atomically; retain prior state").
func validateRepositories(repos []Repository) error {
	seen := make(map[string]bool, len(repos))
	for _, r := range repos {
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate repository id %q", r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}

// envOverrideKeys are every env var named in spec §6, bound onto a
// scratch viper.Viper so the overlay goes through the same precedence
// and type-coercion rules (one BindEnv per key + cast.To*) as every other
// example repo in the pack that reads config from the environment.
var envOverrideKeys = []string{
	"AGENTWORKER_CYRUS_HOME",
	"AGENTWORKER_PROXY_URL",
	"AGENTWORKER_BASE_URL",
	"AGENTWORKER_SERVER_HOST",
	"AGENTWORKER_NGROK_AUTH_TOKEN",
	"AGENTWORKER_SERVER_PORT",
	"AGENTWORKER_USE_LINEAR_DIRECT_WEBHOOKS",
	"AGENTWORKER_DEBUG",
	"AGENTWORKER_WEBHOOK_DEBUG",
}

// applyEnvOverrides overlays the env vars named in spec §6 onto the
// config. Env vars take precedence over file values, matching the
// teacher's applyEnvOverrides() idiom, generalized from raw os.Getenv
// calls to a viper overlay per the rest of the pack's config-loading
// convention.
func (c *Config) applyEnvOverrides() {
	v := viper.New()
	for _, key := range envOverrideKeys {
		_ = v.BindEnv(key)
	}

	envStr := func(key string, dst *string) {
		if val := v.GetString(key); val != "" {
			*dst = val
		}
	}

	envStr("AGENTWORKER_CYRUS_HOME", &c.CyrusHome)
	envStr("AGENTWORKER_PROXY_URL", &c.ProxyURL)
	envStr("AGENTWORKER_BASE_URL", &c.BaseURL)
	envStr("AGENTWORKER_SERVER_HOST", &c.ServerHost)
	envStr("AGENTWORKER_NGROK_AUTH_TOKEN", &c.NgrokAuthToken)

	if v.IsSet("AGENTWORKER_SERVER_PORT") {
		if port := v.GetInt("AGENTWORKER_SERVER_PORT"); port > 0 {
			c.ServerPort = port
		}
	}
	if v.IsSet("AGENTWORKER_USE_LINEAR_DIRECT_WEBHOOKS") {
		c.UseLinearDirectWebhooks = v.GetBool("AGENTWORKER_USE_LINEAR_DIRECT_WEBHOOKS")
	}
	if v.IsSet("AGENTWORKER_DEBUG") {
		c.IsDebugMode = v.GetBool("AGENTWORKER_DEBUG")
	}
	if v.IsSet("AGENTWORKER_WEBHOOK_DEBUG") {
		c.IsWebhookDebugMode = v.GetBool("AGENTWORKER_WEBHOOK_DEBUG")
	}

	c.CyrusHome = ExpandHome(c.CyrusHome)
}

// Save writes the config to a JSON file, matching the teacher's
// Save(path, cfg): indented, 0600, parent dir created.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.MarshalIndent(cfg, "", "  ")
	cfg.mu.RUnlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// WorkspacePath returns the expanded cyrusHome path.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.CyrusHome)
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config. Exposed for callers (e.g. the config watcher) that load a
// fresh Config directly via json5.Unmarshal and need the same overlay
// Load() applies.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// ExpandHome replaces a leading ~ with the user home directory, exactly
// as the teacher's ExpandHome does.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
