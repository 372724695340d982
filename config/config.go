// Package config loads the agentstream server configuration from YAML with
// environment overrides. Every problem is reported as a
// *core.ConfigurationError and is meant to stop the process at startup.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentstream/core"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AGENTSTREAM_"

// Config is the root configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Model       ModelConfig       `yaml:"model"`
	Engine      EngineConfig      `yaml:"engine"`
	Memory      MemoryConfig      `yaml:"memory"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Auth        AuthConfig        `yaml:"auth"`
	Tools       ToolsConfig       `yaml:"tools"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MetricsEnabled    bool          `yaml:"metrics_enabled"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ModelConfig selects the language model provider.
type ModelConfig struct {
	Provider       string  `yaml:"provider"`
	Name           string  `yaml:"name"`
	APIKey         string  `yaml:"api_key"`
	BaseURL        string  `yaml:"base_url"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int64   `yaml:"max_tokens"`
	ThinkingBudget int64   `yaml:"thinking_budget"`
}

// EngineConfig configures the step orchestrator.
type EngineConfig struct {
	MaxSteps int    `yaml:"max_steps"`
	System   string `yaml:"system"`
	// Tools lists the tool names exposed to the model. Unknown names are a
	// startup error.
	Tools []string `yaml:"tools"`
}

// MemoryConfig configures the memory store and semantic recall.
type MemoryConfig struct {
	Backend        string        `yaml:"backend"`
	Path           string        `yaml:"path"`
	Embedder       string        `yaml:"embedder"`
	EmbeddingModel string        `yaml:"embedding_model"`
	APIKey         string        `yaml:"api_key"`
	RecallTimeout  time.Duration `yaml:"recall_timeout"`
	RecentMessages int           `yaml:"recent_messages"`
	TopK           int           `yaml:"top_k"`
}

// PersistenceConfig configures the message store.
type PersistenceConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type AuthConfig struct {
	Disabled    bool          `yaml:"disabled"`
	JWTSecret   string        `yaml:"jwt_secret"`
	Issuer      string        `yaml:"issuer"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

// TracingConfig enables OTLP span export when Endpoint is set.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

type ToolsConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Search  struct {
		URL    string `yaml:"url"`
		APIKey string `yaml:"api_key"`
	} `yaml:"search"`
	X402 struct {
		BaseURL string `yaml:"base_url"`
		// AutoPay authorizes payments up to MaxPrice per call.
		AutoPay  bool    `yaml:"auto_pay"`
		MaxPrice float64 `yaml:"max_price"`
	} `yaml:"x402"`
	Reason struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"reason"`
}

// Load reads path (when non-empty), expands ${VAR} references, applies
// defaults and AGENTSTREAM_* overrides and validates the result.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, &core.ConfigurationError{Setting: "config", Message: fmt.Sprintf("failed to read config file: %v", err)}
		}
		data = raw
	}
	return Parse(data, os.LookupEnv)
}

// Parse builds a Config from YAML bytes and an environment lookup.
func Parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	expanded := os.Expand(string(data), func(key string) string {
		v, _ := lookup(key)
		return v
	})

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &core.ConfigurationError{Setting: "config", Message: fmt.Sprintf("failed to parse config: %v", err)}
	}

	applyDefaults(&cfg)
	if err := applyEnv(&cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Model.Provider == "" {
		cfg.Model.Provider = "anthropic"
	}
	if cfg.Model.Temperature == 0 {
		cfg.Model.Temperature = 0.7
	}
	if cfg.Model.MaxTokens == 0 {
		cfg.Model.MaxTokens = 4096
	}
	if cfg.Engine.MaxSteps == 0 {
		cfg.Engine.MaxSteps = 10
	}
	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = "memory"
	}
	if cfg.Memory.Embedder == "" {
		cfg.Memory.Embedder = "none"
	}
	if cfg.Memory.RecallTimeout == 0 {
		cfg.Memory.RecallTimeout = 2 * time.Second
	}
	if cfg.Persistence.Driver == "" {
		cfg.Persistence.Driver = "memory"
	}
	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}
	if cfg.Tools.Timeout == 0 {
		cfg.Tools.Timeout = 30 * time.Second
	}
}

// applyEnv applies AGENTSTREAM_* overrides and provider key fallbacks.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"SERVER_ADDR":        &cfg.Server.Addr,
		"LOG_LEVEL":          &cfg.Logging.Level,
		"LOG_FORMAT":         &cfg.Logging.Format,
		"MODEL_PROVIDER":     &cfg.Model.Provider,
		"MODEL_NAME":         &cfg.Model.Name,
		"MODEL_API_KEY":      &cfg.Model.APIKey,
		"MODEL_BASE_URL":     &cfg.Model.BaseURL,
		"MEMORY_BACKEND":     &cfg.Memory.Backend,
		"MEMORY_PATH":        &cfg.Memory.Path,
		"MEMORY_EMBEDDER":    &cfg.Memory.Embedder,
		"PERSISTENCE_DRIVER": &cfg.Persistence.Driver,
		"PERSISTENCE_DSN":    &cfg.Persistence.DSN,
		"AUTH_JWT_SECRET":    &cfg.Auth.JWTSecret,
		"SEARCH_URL":         &cfg.Tools.Search.URL,
		"X402_BASE_URL":      &cfg.Tools.X402.BaseURL,
		"REASON_BASE_URL":    &cfg.Tools.Reason.BaseURL,
		"OTLP_ENDPOINT":      &cfg.Tracing.Endpoint,
	}
	for key, dst := range str {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	if v, ok := lookup(EnvPrefix + "MAX_STEPS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &core.ConfigurationError{Setting: EnvPrefix + "MAX_STEPS", Message: fmt.Sprintf("not an integer: %q", v)}
		}
		cfg.Engine.MaxSteps = n
	}
	if v, ok := lookup(EnvPrefix + "TOOLS"); ok {
		cfg.Engine.Tools = splitList(v)
	}
	if v, ok := lookup(EnvPrefix + "AUTH_DISABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &core.ConfigurationError{Setting: EnvPrefix + "AUTH_DISABLED", Message: fmt.Sprintf("not a boolean: %q", v)}
		}
		cfg.Auth.Disabled = b
	}

	if cfg.Model.APIKey == "" {
		switch cfg.Model.Provider {
		case "anthropic":
			cfg.Model.APIKey, _ = lookup("ANTHROPIC_API_KEY")
		case "openai":
			cfg.Model.APIKey, _ = lookup("OPENAI_API_KEY")
		}
	}
	if cfg.Memory.Embedder == "openai" && cfg.Memory.APIKey == "" {
		if cfg.Model.Provider == "openai" {
			cfg.Memory.APIKey = cfg.Model.APIKey
		} else {
			cfg.Memory.APIKey, _ = lookup("OPENAI_API_KEY")
		}
	}
	return nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case "anthropic", "openai":
	default:
		return &core.ConfigurationError{Setting: "model.provider", Message: fmt.Sprintf("unsupported provider %q", c.Model.Provider)}
	}
	if c.Model.APIKey == "" {
		return &core.ConfigurationError{Setting: "model.api_key", Message: "a model API key is required"}
	}
	if c.Engine.MaxSteps < 1 {
		return &core.ConfigurationError{Setting: "engine.max_steps", Message: "must be at least 1"}
	}

	switch c.Memory.Backend {
	case "memory", "none":
	case "sqlite":
		if c.Memory.Path == "" {
			return &core.ConfigurationError{Setting: "memory.path", Message: "required for the sqlite backend"}
		}
	default:
		return &core.ConfigurationError{Setting: "memory.backend", Message: fmt.Sprintf("unsupported backend %q", c.Memory.Backend)}
	}
	switch c.Memory.Embedder {
	case "none":
	case "openai":
		if c.Memory.APIKey == "" {
			return &core.ConfigurationError{Setting: "memory.api_key", Message: "the openai embedder needs an API key"}
		}
	default:
		return &core.ConfigurationError{Setting: "memory.embedder", Message: fmt.Sprintf("unsupported embedder %q", c.Memory.Embedder)}
	}

	switch c.Persistence.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Persistence.DSN == "" {
			return &core.ConfigurationError{Setting: "persistence.dsn", Message: "required for driver " + c.Persistence.Driver}
		}
	default:
		return &core.ConfigurationError{Setting: "persistence.driver", Message: fmt.Sprintf("unsupported driver %q", c.Persistence.Driver)}
	}

	if !c.Auth.Disabled && strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return &core.ConfigurationError{Setting: "auth.jwt_secret", Message: "required unless auth.disabled is set"}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return &core.ConfigurationError{Setting: "tracing.sampling_rate", Message: "must be between 0 and 1"}
	}
	if c.Tools.X402.AutoPay && c.Tools.X402.MaxPrice <= 0 {
		return &core.ConfigurationError{Setting: "tools.x402.max_price", Message: "auto_pay needs a positive max_price"}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
