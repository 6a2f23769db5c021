package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "config.yaml"

// EnvPrefix prefixes every environment override, e.g. ROUTER_SERVER__PORT.
const EnvPrefix = "ROUTER_"

type Config struct {
	Server    ServerConfig       `koanf:"server"`
	Auth      AuthConfig         `koanf:"auth"`
	Storage   StorageConfig      `koanf:"storage"`
	Router    RouterConfig       `koanf:"router"`
	Stream    StreamConfig       `koanf:"stream"`
	Reasoning ReasoningConfig    `koanf:"reasoning"`
	Tools     []ToolServerConfig `koanf:"tools"`
	Agents    []AgentConfig      `koanf:"agents"`
	Policy    PolicyConfig       `koanf:"policy"`
	Telemetry TelemetryConfig    `koanf:"telemetry"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	// RunsPerSecond throttles run creation; 0 disables the limiter.
	RunsPerSecond float64 `koanf:"runs_per_second"`
	RunsBurst     int     `koanf:"runs_burst"`
}

type AuthConfig struct {
	Enabled bool           `koanf:"enabled"`
	APIKeys []APIKeyConfig `koanf:"api_keys"`
}

type APIKeyConfig struct {
	KeyHash     string `koanf:"key_hash"`
	Description string `koanf:"description"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, badger, memory, none
	SQLite SQLiteConfig `koanf:"sqlite"`
	Badger BadgerConfig `koanf:"badger"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type BadgerConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

type RouterConfig struct {
	DefaultMaxIterations int `koanf:"default_max_iterations"`
	// MaxIterationsCeiling rejects requests asking for more iterations.
	MaxIterationsCeiling int           `koanf:"max_iterations_ceiling"`
	MaxDepth             int           `koanf:"max_depth"`
	RunTimeout           time.Duration `koanf:"run_timeout"`
	ToolConcurrency      int           `koanf:"tool_concurrency"`
	ToolTimeout          time.Duration `koanf:"tool_timeout"`
	// ContextTokenBudget bounds the prior conversation turns carried into a run.
	ContextTokenBudget  int    `koanf:"context_token_budget"`
	TokenizerModel      string `koanf:"tokenizer_model"`
	StopOnNoSubscribers bool   `koanf:"stop_on_no_subscribers"`
	// BlockPrivateNetworks refuses webhook tool calls to loopback and private addresses.
	BlockPrivateNetworks bool `koanf:"block_private_networks"`
}

type StreamConfig struct {
	QueueSize     int           `koanf:"queue_size"`
	GracePeriod   time.Duration `koanf:"grace_period"`
	IdleTimeout   time.Duration `koanf:"idle_timeout"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

type ReasoningConfig struct {
	Provider    string        `koanf:"provider"` // openai, ollama, gemini
	Model       string        `koanf:"model"`
	APIKey      string        `koanf:"api_key"`
	BaseURL     string        `koanf:"base_url"`
	Temperature float64       `koanf:"temperature"`
	Timeout     time.Duration `koanf:"timeout"`
}

type ToolServerConfig struct {
	Name    string            `koanf:"name"`
	Type    string            `koanf:"type"` // mcp, mcp_sse, webhook
	URL     string            `koanf:"url"`
	Headers map[string]string `koanf:"headers"`
	Timeout time.Duration     `koanf:"timeout"`
	Retries int               `koanf:"retries"`
}

type AgentConfig struct {
	Name          string   `koanf:"name"`
	Description   string   `koanf:"description"`
	Tools         []string `koanf:"tools"`
	MaxIterations int      `koanf:"max_iterations"`
}

type PolicyConfig struct {
	Enabled bool `koanf:"enabled"`
	// Path to a rego module; the built-in policy is used when empty.
	Path string `koanf:"path"`
	// Blocked lists tool names rejected by the built-in policy.
	Blocked []string `koanf:"blocked"`
}

type TelemetryConfig struct {
	Tracing bool   `koanf:"tracing"`
	Service string `koanf:"service"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func Load() (*Config, error) {
	return LoadFrom(DefaultPath)
}

// LoadFrom reads path (if it exists), then applies ROUTER_ environment overrides and defaults.
func LoadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Reasoning.APIKey = substituteEnvVars(cfg.Reasoning.APIKey)
	for i := range cfg.Tools {
		cfg.Tools[i].URL = substituteEnvVars(cfg.Tools[i].URL)
		for h, v := range cfg.Tools[i].Headers {
			cfg.Tools[i].Headers[h] = substituteEnvVars(v)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":                   8080,
		"server.request_timeout":        "60s",
		"storage.type":                  "sqlite",
		"storage.sqlite.path":           "router.db",
		"router.default_max_iterations": 5,
		"router.max_iterations_ceiling": 20,
		"router.max_depth":              2,
		"router.run_timeout":            "5m",
		"router.tool_concurrency":       4,
		"router.tool_timeout":           "30s",
		"router.context_token_budget":   4000,
		"router.tokenizer_model":        "gpt-4o",
		"stream.queue_size":             64,
		"stream.grace_period":           "30s",
		"stream.idle_timeout":           "2m",
		"stream.sweep_interval":         "5s",
		"reasoning.provider":            "openai",
		"reasoning.model":               "gpt-4o-mini",
		"reasoning.timeout":             "60s",
		"telemetry.service":             "agent-router",
	}
	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Router.DefaultMaxIterations < 1 {
		return fmt.Errorf("router.default_max_iterations must be >= 1")
	}
	if c.Router.MaxIterationsCeiling < c.Router.DefaultMaxIterations {
		return fmt.Errorf("router.max_iterations_ceiling must be >= router.default_max_iterations")
	}
	if c.Router.MaxDepth < 0 {
		return fmt.Errorf("router.max_depth must be >= 0")
	}
	if c.Stream.QueueSize < 1 {
		return fmt.Errorf("stream.queue_size must be >= 1")
	}
	if c.Stream.GracePeriod <= 0 {
		return fmt.Errorf("stream.grace_period must be positive")
	}

	seen := make(map[string]bool, len(c.Tools))
	for _, t := range c.Tools {
		if t.Name == "" {
			return fmt.Errorf("tool server name cannot be empty")
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate tool server %q", t.Name)
		}
		seen[t.Name] = true
		switch t.Type {
		case "mcp", "mcp_sse", "webhook":
		default:
			return fmt.Errorf("tool server %q: unknown type %q", t.Name, t.Type)
		}
	}

	for _, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent name cannot be empty")
		}
		if a.MaxIterations < 0 || a.MaxIterations > c.Router.MaxIterationsCeiling {
			return fmt.Errorf("agent %q: max_iterations out of range", a.Name)
		}
	}

	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
