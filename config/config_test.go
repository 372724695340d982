package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstream/core"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil, env(map[string]string{
		"ANTHROPIC_API_KEY":           "sk-ant",
		"AGENTSTREAM_AUTH_JWT_SECRET": "secret",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, "sk-ant", cfg.Model.APIKey)
	assert.Equal(t, 10, cfg.Engine.MaxSteps)
	assert.Equal(t, "memory", cfg.Persistence.Driver)
	assert.Equal(t, 2*time.Second, cfg.Memory.RecallTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenExpiry)
}

func TestParse_YAMLWithExpansion(t *testing.T) {
	data := []byte(`
server:
  addr: ":9090"
model:
  provider: openai
  name: gpt-4o
  api_key: ${OPENAI_KEY}
engine:
  max_steps: 4
  tools: [searchWeb, reason]
memory:
  backend: sqlite
  path: /tmp/memory.db
  embedder: openai
  recall_timeout: 500ms
persistence:
  driver: postgres
  dsn: postgres://localhost/agentstream
auth:
  jwt_secret: s3cret
  issuer: agentstream
`)
	cfg, err := Parse(data, env(map[string]string{"OPENAI_KEY": "sk-openai"}))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "sk-openai", cfg.Model.APIKey)
	assert.Equal(t, "sk-openai", cfg.Memory.APIKey, "openai embedder reuses the model key")
	assert.Equal(t, []string{"searchWeb", "reason"}, cfg.Engine.Tools)
	assert.Equal(t, 500*time.Millisecond, cfg.Memory.RecallTimeout)
	assert.Equal(t, "postgres", cfg.Persistence.Driver)
	assert.Equal(t, "agentstream", cfg.Auth.Issuer)
}

func TestParse_EnvOverrides(t *testing.T) {
	data := []byte("engine:\n  max_steps: 3\n")
	cfg, err := Parse(data, env(map[string]string{
		"AGENTSTREAM_MODEL_API_KEY": "k",
		"AGENTSTREAM_MAX_STEPS":     "7",
		"AGENTSTREAM_TOOLS":         "searchWeb, switchboardOracle ,",
		"AGENTSTREAM_AUTH_DISABLED": "true",
	}))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Engine.MaxSteps)
	assert.Equal(t, []string{"searchWeb", "switchboardOracle"}, cfg.Engine.Tools)
	assert.True(t, cfg.Auth.Disabled)
}

func TestParse_Errors(t *testing.T) {
	base := map[string]string{"AGENTSTREAM_MODEL_API_KEY": "k", "AGENTSTREAM_AUTH_JWT_SECRET": "s"}
	with := func(extra map[string]string) map[string]string {
		out := map[string]string{}
		for k, v := range base {
			out[k] = v
		}
		for k, v := range extra {
			out[k] = v
		}
		return out
	}

	tests := []struct {
		name    string
		data    string
		env     map[string]string
		setting string
	}{
		{name: "unknown provider", env: with(map[string]string{"AGENTSTREAM_MODEL_PROVIDER": "cohere"}), setting: "model.provider"},
		{name: "missing api key", env: map[string]string{"AGENTSTREAM_AUTH_JWT_SECRET": "s"}, setting: "model.api_key"},
		{name: "missing jwt secret", env: map[string]string{"AGENTSTREAM_MODEL_API_KEY": "k"}, setting: "auth.jwt_secret"},
		{name: "bad max steps", env: with(map[string]string{"AGENTSTREAM_MAX_STEPS": "many"}), setting: "AGENTSTREAM_MAX_STEPS"},
		{name: "zero max steps", data: "engine:\n  max_steps: -1\n", env: base, setting: "engine.max_steps"},
		{name: "postgres without dsn", env: with(map[string]string{"AGENTSTREAM_PERSISTENCE_DRIVER": "postgres"}), setting: "persistence.dsn"},
		{name: "unknown driver", env: with(map[string]string{"AGENTSTREAM_PERSISTENCE_DRIVER": "mongo"}), setting: "persistence.driver"},
		{name: "sqlite memory without path", env: with(map[string]string{"AGENTSTREAM_MEMORY_BACKEND": "sqlite"}), setting: "memory.path"},
		{name: "autopay without price", data: "tools:\n  x402:\n    auto_pay: true\n", env: base, setting: "tools.x402.max_price"},
		{name: "unknown field", data: "nope: 1\n", env: base, setting: "config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), env(tt.env))
			var ce *core.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.setting, ce.Setting)
			assert.True(t, core.IsTerminal(err))
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("AGENTSTREAM_MODEL_API_KEY", "k")
	t.Setenv("AGENTSTREAM_AUTH_JWT_SECRET", "s")

	path := filepath.Join(t.TempDir(), "agentstream.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var ce *core.ConfigurationError
	assert.ErrorAs(t, err, &ce)
}
