package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jgarizk/brainpro/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server      ServerConfig             `koanf:"server"`
	Agent       AgentConfig              `koanf:"agent"`
	Backends    map[string]BackendConfig `koanf:"backends"`
	Targets     map[string]string        `koanf:"targets"`
	Routing     map[string]string        `koanf:"routing"`
	Permissions PermissionsConfig        `koanf:"permissions"`
	Policy      PolicyConfig             `koanf:"policy"`
	Bash        BashConfig               `koanf:"bash"`
	Turns       TurnsConfig              `koanf:"turns"`
	Store       StoreConfig              `koanf:"store"`
	Events      EventsConfig             `koanf:"events"`
	Pricing     map[string]PriceConfig   `koanf:"pricing"`
	Skills      SkillsConfig             `koanf:"skills"`
	Daemon      DaemonConfig             `koanf:"daemon"`
}

type ServerConfig struct {
	Port            int    `koanf:"port"`
	LogLevel        string `koanf:"log_level"`
	ReadTimeout     string `koanf:"read_timeout"`
	WriteTimeout    string `koanf:"write_timeout"`
	IdleTimeout     string `koanf:"idle_timeout"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
	// RequestWindow is how long a run_turn request id is remembered.
	RequestWindow string `koanf:"request_window"`
}

type AgentConfig struct {
	DefaultTarget   string `koanf:"default_target"`
	ActorID         string `koanf:"actor_id"`
	MaxIterations   int    `koanf:"max_iterations"`
	IncludeTaskTool bool   `koanf:"include_task_tool"`
	MaxTaskDepth    int    `koanf:"max_task_depth"`
	SystemPrompt    string `koanf:"system_prompt"`
}

// BackendConfig describes one model provider endpoint. Provider is one of
// openai, anthropic or gemini; any OpenAI-compatible server uses openai with
// its own base_url.
type BackendConfig struct {
	Provider  string `koanf:"provider"`
	BaseURL   string `koanf:"base_url"`
	APIKey    string `koanf:"api_key"`
	APIKeyEnv string `koanf:"api_key_env"`
	MaxTokens int    `koanf:"max_tokens"`
}

// ResolveAPIKey returns the configured key, then the key named by api_key_env.
// Keyless local servers get a placeholder because OpenAI-compatible clients
// always send the header.
func (b BackendConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(b.APIKey); key != "" {
		return key
	}
	if b.APIKeyEnv != "" {
		if key := strings.TrimSpace(os.Getenv(b.APIKeyEnv)); key != "" {
			return key
		}
	}
	if b.Provider == "" || b.Provider == "openai" {
		return DefaultKeylessAPIKey
	}
	return ""
}

type PermissionsConfig struct {
	Mode  string   `koanf:"mode"`
	Allow []string `koanf:"allow"`
	Ask   []string `koanf:"ask"`
	Deny  []string `koanf:"deny"`
}

type PolicyConfig struct {
	File                string      `koanf:"file"`
	Watch               bool        `koanf:"watch"`
	WatchDebounce       string      `koanf:"watch_debounce"`
	BuiltinRestrictions bool        `koanf:"builtin_restrictions"`
	Audit               AuditConfig `koanf:"audit"`
}

type AuditConfig struct {
	Enabled        bool     `koanf:"enabled"`
	RedactPatterns []string `koanf:"redact_patterns"`
}

type BashConfig struct {
	Timeout        string `koanf:"timeout"`
	MaxOutputBytes int    `koanf:"max_output_bytes"`
	Shell          string `koanf:"shell"`
}

type TurnsConfig struct {
	Backend       string `koanf:"backend"`
	TTL           string `koanf:"ttl"`
	PruneSchedule string `koanf:"prune_schedule"`
	SQLitePath    string `koanf:"sqlite_path"`
}

type StoreConfig struct {
	LockTimeout              string `koanf:"lock_timeout"`
	LockRetry                string `koanf:"lock_retry"`
	LockMaxRetry             int    `koanf:"lock_max_retry"`
	InboxSize                int    `koanf:"inbox_size"`
	TranscriptRotateMaxBytes int64  `koanf:"transcript_rotate_max_bytes"`
}

type EventsConfig struct {
	BufferSize int `koanf:"buffer_size"`
}

// PriceConfig is USD per million tokens.
type PriceConfig struct {
	Input  float64 `koanf:"input"`
	Output float64 `koanf:"output"`
}

type SkillsConfig struct {
	Dirs []string `koanf:"dirs"`
}

type DaemonConfig struct {
	ShutdownTimeout     string `koanf:"shutdown_timeout"`
	HealthCheckInterval string `koanf:"health_check_interval"`
	StaleLockTTL        string `koanf:"stale_lock_ttl"`
	WorkspacePath       string `koanf:"workspace_path"`
	WorkspaceID         string `koanf:"workspace_id"`
}

// builtinBackends mirrors the providers brainpro knows out of the box.
func builtinBackends() map[string]interface{} {
	return map[string]interface{}{
		"backends.chatgpt.provider":    "openai",
		"backends.chatgpt.base_url":    DefaultOpenAIBaseURL,
		"backends.chatgpt.api_key_env": "OPENAI_API_KEY",
		"backends.claude.provider":     "anthropic",
		"backends.claude.api_key_env":  "ANTHROPIC_API_KEY",
		"backends.gemini.provider":     "gemini",
		"backends.gemini.api_key_env":  "GEMINI_API_KEY",
		"backends.venice.provider":     "openai",
		"backends.venice.base_url":     DefaultVeniceBaseURL,
		"backends.venice.api_key_env":  "VENICE_API_KEY",
		"backends.ollama.provider":     "openai",
		"backends.ollama.base_url":     DefaultOllamaBaseURL,
	}
}

// Load builds the configuration from defaults, the global config file
// (--config or ~/.brainpro/config.yaml), a project file
// (./.brainpro/config.yaml), BRAINPRO_* environment variables and finally
// command flags.
func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                       DefaultServerPort,
		"server.log_level":                  DefaultServerLogLevel,
		"server.read_timeout":               DefaultServerReadTimeout,
		"server.write_timeout":              DefaultServerWriteTimeout,
		"server.idle_timeout":               DefaultServerIdleTimeout,
		"server.shutdown_timeout":           DefaultServerShutdownTimeout,
		"server.request_window":             DefaultServerRequestWindow,
		"agent.default_target":              DefaultAgentTarget,
		"agent.actor_id":                    DefaultAgentActorID,
		"agent.max_iterations":              DefaultAgentMaxIterations,
		"agent.include_task_tool":           DefaultAgentIncludeTaskTool,
		"agent.max_task_depth":              DefaultAgentMaxTaskDepth,
		"permissions.mode":                  DefaultPermissionMode,
		"policy.watch":                      DefaultPolicyWatch,
		"policy.watch_debounce":             DefaultPolicyWatchDebounce,
		"policy.builtin_restrictions":       DefaultPolicyBuiltinRestrictions,
		"policy.audit.enabled":              DefaultPolicyAuditEnabled,
		"bash.timeout":                      DefaultBashTimeout,
		"bash.max_output_bytes":             DefaultBashMaxOutputBytes,
		"bash.shell":                        DefaultBashShell,
		"turns.backend":                     DefaultTurnsBackend,
		"turns.ttl":                         DefaultTurnsTTL,
		"turns.prune_schedule":              DefaultTurnsPruneSchedule,
		"store.lock_timeout":                DefaultStoreLockTimeout,
		"store.lock_retry":                  DefaultStoreLockRetry,
		"store.lock_max_retry":              DefaultStoreLockMaxRetry,
		"store.inbox_size":                  DefaultStoreInboxSize,
		"store.transcript_rotate_max_bytes": DefaultStoreTranscriptRotateMaxBytes,
		"events.buffer_size":                DefaultEventsBufferSize,
		"daemon.shutdown_timeout":           DefaultDaemonShutdownTimeout,
		"daemon.health_check_interval":      DefaultDaemonHealthCheckInterval,
		"daemon.stale_lock_ttl":             DefaultDaemonStaleLockTTL,
		"daemon.workspace_path":             DefaultDaemonWorkspacePath,
		"daemon.workspace_id":               DefaultDaemonWorkspaceID,
	}
	for key, value := range builtinBackends() {
		defaults[key] = value
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", configPath, err)
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".brainpro", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
		projectPath := filepath.Join(".brainpro", "config.yaml")
		if _, err := os.Stat(projectPath); err == nil {
			if err := k.Load(file.Provider(projectPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load project config %s: %w", projectPath, err)
			}
		}
	}

	k.Load(env.Provider("BRAINPRO_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "BRAINPRO_")), "_", ".", -1)
	}), nil)

	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for name, b := range cfg.Backends {
		if b.Provider == "" {
			b.Provider = "openai"
			cfg.Backends[name] = b
		}
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ResolveTarget turns an alias or a literal "model@backend" into a target
// string. Empty input resolves to the configured default.
func (c *Config) ResolveTarget(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = strings.TrimSpace(c.Agent.DefaultTarget)
	}
	if alias, ok := c.Targets[name]; ok {
		return alias
	}
	return name
}

func normalizePathFields(cfg *Config) error {
	var err error
	if cfg.Daemon.WorkspacePath, err = expandConfiguredPath(cfg.Daemon.WorkspacePath); err != nil {
		return fmt.Errorf("daemon.workspace_path: %w", err)
	}
	if cfg.Policy.File, err = expandConfiguredPath(cfg.Policy.File); err != nil {
		return fmt.Errorf("policy.file: %w", err)
	}
	if cfg.Turns.SQLitePath, err = expandConfiguredPath(cfg.Turns.SQLitePath); err != nil {
		return fmt.Errorf("turns.sqlite_path: %w", err)
	}
	for i, dir := range cfg.Skills.Dirs {
		if cfg.Skills.Dirs[i], err = expandConfiguredPath(dir); err != nil {
			return fmt.Errorf("skills.dirs[%d]: %w", i, err)
		}
	}
	return nil
}

func expandConfiguredPath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	return pathutil.Expand(path)
}
