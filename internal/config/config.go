// Package config is mama's thin config loader, per spec.md §6: a single
// YAML file with ${VAR} environment-variable expansion for secrets.
// Grounded on the teacher's internal/config/config.go (yaml.v3 unmarshal,
// defaults-then-override layering) and internal/config/loader.go
// (raw-map loading ahead of typed decode), trimmed to the fields mama's
// own components need rather than the teacher's full channel/plugin/
// marketplace surface.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is mama's root configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Memory    MemoryConfig    `yaml:"memory"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Daemon    DaemonConfig    `yaml:"daemon"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Logging   LoggingConfig   `yaml:"logging"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Triggers  TriggersConfig  `yaml:"triggers"`
	WebSearch WebSearchConfig `yaml:"web_search"`
}

// ServerConfig configures the loopback HTTP API.
type ServerConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token"`
}

// DatabaseConfig points at the SQLite store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ProviderConfig configures one LLM backend.
type ProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// LLMConfig configures the router's providers and routing table.
type LLMConfig struct {
	Primary   string                    `yaml:"primary"`
	Fallback  string                    `yaml:"fallback"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Routes    map[string]string         `yaml:"routes"`
}

// MemoryConfig configures the embedding provider and consolidation cadence.
type MemoryConfig struct {
	EmbeddingProvider string        `yaml:"embedding_provider"`
	EmbeddingAPIKey   string        `yaml:"embedding_api_key"`
	EmbeddingBaseURL  string        `yaml:"embedding_base_url"`
	EmbeddingModel    string        `yaml:"embedding_model"`
	ConsolidationHour int           `yaml:"consolidation_interval_hours"`
	DecayAfter        time.Duration `yaml:"decay_after"`
}

// SchedulerConfig tunes the cron scheduler.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DaemonConfig configures the service supervisor.
type DaemonConfig struct {
	PIDFile             string        `yaml:"pid_file"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// TelegramConfig configures the Telegram chat-bot adapter.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// SandboxConfig configures the filesystem/shell/network capabilities, per
// spec.md §4.2.
type SandboxConfig struct {
	WorkspaceRoot      string   `yaml:"workspace_root"`
	AllowedDomains     []string `yaml:"allowed_domains"`
	AskDomains         bool     `yaml:"ask_domains"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
}

// HeartbeatConfig configures the periodic self-check runner, per spec.md
// §4.9.
type HeartbeatConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// FileWatchConfig describes one path to watch, per spec.md §4.10.
type FileWatchConfig struct {
	Path   string   `yaml:"path"`
	Events []string `yaml:"events"`
	Task   string   `yaml:"task"`
}

// WebhookConfig describes one registered webhook endpoint, per spec.md
// §4.10: a bearer token gates POST /hooks/<id>, and Task is a template
// expanded with the request body before it is handed to an agent session.
type WebhookConfig struct {
	ID    string `yaml:"id"`
	Token string `yaml:"token"`
	Task  string `yaml:"task"`
}

// TriggersConfig configures the file-watch and webhook trigger services,
// per spec.md §4.10.
type TriggersConfig struct {
	WebhookAddr string            `yaml:"webhook_addr"`
	Webhooks    []WebhookConfig   `yaml:"webhooks"`
	FileWatches []FileWatchConfig `yaml:"file_watches"`
}

// WebSearchConfig configures the web_search tool's SearXNG backend.
type WebSearchConfig struct {
	SearchURL   string `yaml:"search_url"`
	ResultCount int    `yaml:"result_count"`
}

// Home resolves mama's persisted-state directory: $MAMA_HOME if set,
// otherwise $XDG_DATA_HOME/mama, otherwise ~/.mama, per spec.md §6.
func Home() string {
	if home := os.Getenv("MAMA_HOME"); home != "" {
		return home
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "mama")
	}
	return filepath.Join(os.Getenv("HOME"), ".mama")
}

// Default returns a Config with spec-default paths rooted at Home() and
// sane component defaults.
func Default() Config {
	home := Home()
	return Config{
		Server:    ServerConfig{Addr: "127.0.0.1:8787"},
		Database:  DatabaseConfig{Path: filepath.Join(home, "mama.db")},
		LLM:       LLMConfig{Providers: map[string]ProviderConfig{}, Routes: map[string]string{}},
		Memory:    MemoryConfig{ConsolidationHour: 1, DecayAfter: 30 * 24 * time.Hour},
		Scheduler: SchedulerConfig{Enabled: true},
		Daemon:    DaemonConfig{PIDFile: filepath.Join(home, "mama.pid"), HealthCheckInterval: 30 * time.Second},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Sandbox:   SandboxConfig{WorkspaceRoot: filepath.Join(home, "workspace"), RateLimitPerMinute: 30},
		Heartbeat: HeartbeatConfig{Enabled: true, Interval: 30 * time.Minute},
		WebSearch: WebSearchConfig{ResultCount: 5},
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} occurrences with their environment value,
// leaving unset variables as an empty string, per spec.md §6.
func expandEnv(raw []byte) []byte {
	return envVarPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads path, expands ${VAR} references, and merges the result over
// Default(). A missing file is not an error: Default() is returned as-is,
// letting mama boot with environment-only configuration.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(expandEnv(raw), &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultConfigPath returns the spec's default config.yaml location.
func DefaultConfigPath() string {
	return filepath.Join(Home(), "config.yaml")
}
