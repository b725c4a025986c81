package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for lurkbot.
type Config struct {
	General   GeneralConfig             `json:"general" yaml:"general"`
	Discord   DiscordConfig             `json:"discord" yaml:"discord"`
	Store     StoreConfig               `json:"store" yaml:"store"`
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`
	AI        AIConfig                  `json:"ai" yaml:"ai"`
	Reply     ReplyConfig               `json:"reply" yaml:"reply"`
	Dispatch  DispatchConfig            `json:"dispatch" yaml:"dispatch"`
	Metrics   MetricsConfig             `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	DataDir   string `json:"dataDir" yaml:"dataDir"`
	LogLevel  string `json:"logLevel" yaml:"logLevel"`   // debug | info | warn | error
	LogFormat string `json:"logFormat" yaml:"logFormat"` // text | json | logfmt
	LogFile   string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
}

type DiscordConfig struct {
	Token string `json:"token" yaml:"token"`
	// GuildID registers slash commands in one guild only (instant updates
	// while developing). Empty registers them globally.
	GuildID string `json:"guildId,omitempty" yaml:"guildId,omitempty"`
}

type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"` // sqlite | postgres | supabase
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

type ProviderConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Type selects the client when the provider name is not a built-in one:
	// openai-compatible | gemini | ollama | openai | claude.
	Type         string `json:"type,omitempty" yaml:"type,omitempty"`
	APIBase      string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty" yaml:"defaultModel,omitempty"`
}

type AIConfig struct {
	DefaultProvider    string   `json:"defaultProvider" yaml:"defaultProvider"`
	FailoverChain      []string `json:"failoverChain,omitempty" yaml:"failoverChain,omitempty"`
	MaxTokens          int      `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
	Temperature        float64  `json:"temperature" yaml:"temperature"`
	Workers            int      `json:"workers" yaml:"workers"`
	TimeoutSeconds     int      `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	SystemPrompt       string   `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty"`
	DefaultPersonality string   `json:"defaultPersonality,omitempty" yaml:"defaultPersonality,omitempty"`
}

type ReplyConfig struct {
	Chance          float64 `json:"chance" yaml:"chance"`
	ContextMessages int     `json:"contextMessages" yaml:"contextMessages"`
	ExcludeBots     bool    `json:"excludeBots" yaml:"excludeBots"`
	IncludeMedia    bool    `json:"includeMedia" yaml:"includeMedia"`
	StripLabels     bool    `json:"stripLabels,omitempty" yaml:"stripLabels,omitempty"`
}

type DispatchConfig struct {
	WebhookName       string `json:"webhookName" yaml:"webhookName"`
	RetryBackoffMs    int    `json:"retryBackoffMs" yaml:"retryBackoffMs"`
	FallbackToChannel bool   `json:"fallbackToChannel" yaml:"fallbackToChannel"`
}

// MetricsConfig configures the Prometheus and status HTTP server.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// DefaultConfigDir returns ~/.lurkbot.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lurkbot"
	}
	return filepath.Join(home, ".lurkbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	return finalize(cfg)
}

// LoadOrDefault loads path, or falls back to Defaults plus environment when
// the file does not exist. This lets the bot run from a .env file alone.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(ExpandPath(path)); errors.Is(err, fs.ErrNotExist) {
		return finalize(Defaults())
	}
	return Load(path)
}

func finalize(cfg *Config) (*Config, error) {
	ApplyEnv(cfg)
	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Store.Path = ExpandPath(cfg.Store.Path)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// ApplyEnv fills empty secrets from the conventional environment variables.
func ApplyEnv(cfg *Config) {
	if cfg.Discord.Token == "" {
		cfg.Discord.Token = os.Getenv("DISCORD_BOT_TOKEN")
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = os.Getenv("DATABASE_URL")
	}
	for name, env := range map[string]string{
		"gemini": "GOOGLE_API_KEY",
		"openai": "OPENAI_API_KEY",
		"claude": "ANTHROPIC_API_KEY",
	} {
		pc, ok := cfg.Providers[name]
		if !ok || pc.APIKey != "" {
			continue
		}
		pc.APIKey = os.Getenv(env)
		cfg.Providers[name] = pc
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset VAR
// without a default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg as YAML or JSON depending on the file extension.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has usable values and reports every
// problem at once.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json", "logfmt":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json, logfmt")
	}

	switch cfg.Store.Driver {
	case "sqlite":
		if cfg.Store.Path == "" {
			errs = append(errs, "store.path is required for the sqlite driver")
		}
	case "postgres", "supabase":
		if cfg.Store.DSN == "" {
			errs = append(errs, fmt.Sprintf("store.dsn (or DATABASE_URL) is required for the %s driver", cfg.Store.Driver))
		}
	default:
		errs = append(errs, "store.driver must be one of: sqlite, postgres, supabase")
	}

	if cfg.Reply.Chance < 0 || cfg.Reply.Chance > 1 {
		errs = append(errs, "reply.chance must be between 0 and 1")
	}
	if cfg.Reply.ContextMessages < 1 || cfg.Reply.ContextMessages > 100 {
		errs = append(errs, "reply.contextMessages must be between 1 and 100")
	}

	if cfg.AI.Workers < 1 || cfg.AI.Workers > 32 {
		errs = append(errs, "ai.workers must be between 1 and 32")
	}
	if cfg.AI.TimeoutSeconds < 1 {
		errs = append(errs, "ai.timeoutSeconds must be >= 1")
	}
	if _, ok := cfg.Providers[cfg.AI.DefaultProvider]; !ok && len(cfg.AI.FailoverChain) == 0 {
		errs = append(errs, fmt.Sprintf("ai.defaultProvider references unknown provider: %s", cfg.AI.DefaultProvider))
	}
	for _, name := range cfg.AI.FailoverChain {
		if _, ok := cfg.Providers[name]; !ok {
			errs = append(errs, fmt.Sprintf("ai.failoverChain references unknown provider: %s", name))
		}
	}
	for name, pc := range cfg.Providers {
		switch pc.Type {
		case "", "openai-compatible", "gemini", "ollama", "openai", "claude":
		default:
			errs = append(errs, fmt.Sprintf("providers.%s.type must be one of: openai-compatible, gemini, ollama, openai, claude", name))
		}
	}

	if cfg.Dispatch.RetryBackoffMs < 0 {
		errs = append(errs, "dispatch.retryBackoffMs must be >= 0")
	}
	if strings.TrimSpace(cfg.Dispatch.WebhookName) == "" {
		errs = append(errs, "dispatch.webhookName must not be empty")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
