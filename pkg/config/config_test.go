package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "figflow.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	t.Setenv("TEST_FIGFLOW_KEY", "sk-test")
	path := writeConfig(t, `{
		"endpoints": [
			{"name": "primary", "provider": "openai", "model": "qwen", "api_key": "${TEST_FIGFLOW_KEY}"},
			{"provider": "Ollama", "model": "llama3"}
		]
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.Endpoints[0].APIKey)
	assert.Equal(t, "ollama-1", cfg.Endpoints[1].Name)
	assert.Equal(t, ProviderOllama, cfg.Endpoints[1].Provider)
	assert.True(t, cfg.Endpoints[0].SupportsTools())
	assert.False(t, cfg.Endpoints[1].SupportsTools())

	assert.Equal(t, DefaultCooldownSeconds, cfg.Router.CooldownSeconds)
	assert.Equal(t, DefaultRetryWaitSeconds, cfg.Router.RetryWaitSeconds)
	assert.Equal(t, 3, cfg.Pipeline.MaxReflectionRounds)
	assert.Equal(t, 50, cfg.Pipeline.MaxMessages)
	assert.InDelta(t, 0.70, cfg.Pipeline.SimilarityThreshold, 1e-9)
	assert.Equal(t, "code_writer", cfg.Pipeline.Roles.CodeWriter)
	assert.Equal(t, "REVIEW_APPROVED", cfg.Pipeline.Markers.ReviewApproved)
	assert.Equal(t, time.Minute, cfg.Comparer.Timeout())
	assert.Empty(t, cfg.Comparer.URL)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("FIGFLOW_ROUTER_COOLDOWN_SECONDS", "5")
	t.Setenv("FIGFLOW_PIPELINE_SIMILARITY_THRESHOLD", "0.9")
	t.Setenv("FIGFLOW_DEBUG", "true")
	path := writeConfig(t, `{"endpoints": [{"name": "local", "provider": "ollama", "model": "llama3"}]}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Router.CooldownSeconds)
	assert.InDelta(t, 0.9, cfg.Pipeline.SimilarityThreshold, 1e-9)
	assert.True(t, cfg.Debug)
}

func TestLoadConfigMissingFileFailsValidation(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "no endpoints configured")
}

func TestLoadConfigMissingCredentials(t *testing.T) {
	t.Setenv("FIGFLOW_TEST_ABSENT_KEY", "")
	path := writeConfig(t, `{"endpoints": [{"name": "a", "provider": "anthropic", "model": "claude", "api_key_env": "FIGFLOW_TEST_ABSENT_KEY"}]}`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestValidateRejectsBadEndpoints(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown provider", `{"endpoints": [{"name": "x", "provider": "mystery", "model": "m", "api_key": "k"}]}`, "unknown provider"},
		{"no model", `{"endpoints": [{"name": "x", "provider": "openai", "api_key": "k"}]}`, "has no model"},
		{"duplicate", `{"endpoints": [{"name": "x", "provider": "ollama", "model": "m"}, {"name": "x", "provider": "ollama", "model": "m"}]}`, "duplicate"},
		{"threshold", `{"endpoints": [{"name": "x", "provider": "ollama", "model": "m"}], "pipeline": {"similarity_threshold": 1.5}}`, "similarity_threshold"},
		{"comparer scheme", `{"endpoints": [{"name": "x", "provider": "ollama", "model": "m"}], "comparer": {"url": "ftp://host"}}`, "comparer url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Endpoints = []Endpoint{{Name: "local", Provider: ProviderOllama, Model: "llama3"}}
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, Save(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Endpoints[0].Model, loaded.Endpoints[0].Model)
}
