package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{name: "empty string", input: "", expected: ""},
		{name: "no placeholders", input: "simple-string", expected: "simple-string"},
		{name: "simple", input: "${API_KEY}", envVars: map[string]string{"API_KEY": "sk-12345"}, expected: "sk-12345"},
		{name: "embedded", input: "prefix-${API_KEY}-suffix", envVars: map[string]string{"API_KEY": "sk-12345"}, expected: "prefix-sk-12345-suffix"},
		{name: "multiple", input: "${SCHEME}://${HOST}:${PORT}", envVars: map[string]string{"SCHEME": "https", "HOST": "api.example.com", "PORT": "8080"}, expected: "https://api.example.com:8080"},
		{name: "default unused", input: "${API_KEY:-default-key}", envVars: map[string]string{"API_KEY": "sk-real-key"}, expected: "sk-real-key"},
		{name: "default used", input: "${API_KEY:-default-key}", expected: "default-key"},
		{name: "unset stays", input: "${API_KEY}", expected: "${API_KEY}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"API_KEY", "SCHEME", "HOST", "PORT"} {
				t.Setenv(k, "")
				require.NoError(t, os.Unsetenv(k))
			}
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.expected, expandString(tt.input))
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "10M", cfg.Server.BodySizeLimit)
	assert.Equal(t, "auto", cfg.Logging.Format)
	assert.Equal(t, 3, cfg.Resilience.Retry.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.Catalog.RefreshInterval)
	assert.NotNil(t, cfg.Providers)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("does-not-exist.yaml")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestLoad_YAMLWithExpansionAndOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("TEST_OPENAI_KEY", "sk-from-env")
	t.Setenv("PORT", "9090")

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "7070"
logging:
  level: debug
  format: json
providers:
  openai:
    type: openai
    api_key: ${TEST_OPENAI_KEY}
models:
  - name: openai/gpt-4o
    upstream: gpt-4o-2024-08-06
    pricing:
      input: 2.5
      output: 10
  - name: openai/text-embedding-3-small
    type: embedding
catalog:
  refresh_interval: 30s
  cache:
    type: redis
    redis:
      url: redis://localhost:6379/0
      ttl: 1h
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port, "env wins over YAML")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "sk-from-env", cfg.Providers["openai"].APIKey)
	require.Len(t, cfg.Models, 2)
	assert.Equal(t, "gpt-4o-2024-08-06", cfg.Models[0].Upstream)
	require.NotNil(t, cfg.Models[0].Pricing)
	assert.InDelta(t, 10.0, cfg.Models[0].Pricing.Output, 1e-9)
	assert.Equal(t, "embedding", cfg.Models[1].Type)
	assert.Equal(t, 30*time.Second, cfg.Catalog.RefreshInterval)
	assert.Equal(t, time.Hour, cfg.Catalog.Cache.Redis.TTL)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("PORT", "")
	require.NoError(t, os.Unsetenv("PORT"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PORT=7171\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "7171", cfg.Server.Port)
	// godotenv sets the variable process-wide
	require.NoError(t, os.Unsetenv("PORT"))
}

func TestApplyEnvOverrides(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(t *testing.T, cfg *Config)
		wantErr bool
	}{
		{
			name:    "metrics bool",
			envVars: map[string]string{"METRICS_ENABLED": "true"},
			check:   func(t *testing.T, cfg *Config) { assert.True(t, cfg.Metrics.Enabled) },
		},
		{
			name:    "bad bool",
			envVars: map[string]string{"METRICS_ENABLED": "maybe"},
			wantErr: true,
		},
		{
			name:    "http timeouts",
			envVars: map[string]string{"HTTP_TIMEOUT": "30", "HTTP_RESPONSE_HEADER_TIMEOUT": "60"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 30, cfg.HTTP.Timeout)
				assert.Equal(t, 60, cfg.HTTP.ResponseHeaderTimeout)
			},
		},
		{
			name:    "bad timeout",
			envVars: map[string]string{"HTTP_TIMEOUT": "soon"},
			wantErr: true,
		},
		{
			name:    "cache and nats",
			envVars: map[string]string{"CATALOG_CACHE_TYPE": "redis", "REDIS_URL": "redis://r:6379", "NATS_URL": "nats://n:4222"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "redis", cfg.Catalog.Cache.Type)
				assert.Equal(t, "redis://r:6379", cfg.Catalog.Cache.Redis.URL)
				assert.Equal(t, "nats://n:4222", cfg.Callbacks.NATS.URL)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			cfg := Defaults()
			err := applyEnvOverrides(cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadModels(t *testing.T) {
	dir := t.TempDir()

	list := filepath.Join(dir, "list.yaml")
	require.NoError(t, os.WriteFile(list, []byte("- name: openai/gpt-4o\n- name: anthropic/claude\n"), 0o644))
	models, err := LoadModels(list)
	require.NoError(t, err)
	assert.Len(t, models, 2)

	doc := filepath.Join(dir, "doc.yaml")
	require.NoError(t, os.WriteFile(doc, []byte("models:\n  - name: openai/gpt-4o\n"), 0o644))
	models, err = LoadModels(doc)
	require.NoError(t, err)
	assert.Len(t, models, 1)

	_, err = LoadModels(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestParseBodySizeLimit(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"10M", 10 << 20, false},
		{"512k", 512 << 10, false},
		{"1G", 1 << 30, false},
		{"2048", 2048, false},
		{"", 0, false},
		{"lots", 0, true},
		{"-1M", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBodySizeLimit(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
