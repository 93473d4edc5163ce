package providers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgateway/config"
	"llmgateway/internal/cache"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Providers = map[string]config.RawProviderConfig{
		"upstream": {Type: "openai", APIKey: "k", BaseURL: "http://localhost:1"},
	}
	cfg.Models = []config.ModelConfig{
		{Name: "upstream/gpt-4o", Pricing: &config.PricingConfig{Input: 2.5, Output: 10}},
		{Name: "upstream/embed", Type: "embedding", Upstream: "text-embedding-3-small"},
	}
	return cfg
}

func TestInit_InlineModels(t *testing.T) {
	result, err := Init(context.Background(), testConfig(), NewProviderFactory(nil, config.ResilienceConfig{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = result.Close() })

	assert.Equal(t, 2, result.Registry.ModelCount())
	assert.Nil(t, result.Cache)

	p, ok := result.Providers.Lookup("upstream")
	require.True(t, ok)
	assert.Equal(t, "openai", p.Type)

	pricing, ok := result.Registry.ResolvePricing("upstream", "gpt-4o")
	require.True(t, ok)
	assert.InDelta(t, 2.5, pricing.InputPerMTok, 1e-9)
}

func TestInit_CatalogFileAndLocalCache(t *testing.T) {
	dir := t.TempDir()
	modelsFile := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(modelsFile, []byte("models:\n  - name: upstream/from-file\n"), 0o600))

	cfg := testConfig()
	cfg.Catalog.File = modelsFile
	cfg.Catalog.RefreshInterval = 0
	cfg.Catalog.Cache = config.CacheConfig{Type: "local", Path: filepath.Join(dir, "catalog.json")}

	result, err := Init(context.Background(), cfg, NewProviderFactory(nil, config.ResilienceConfig{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = result.Close() })

	assert.Equal(t, 3, result.Registry.ModelCount())
	_, err = result.Registry.Find("upstream/from-file")
	assert.NoError(t, err)
	assert.IsType(t, &cache.LocalCache{}, result.Cache)
}

func TestInit_Errors(t *testing.T) {
	t.Run("nil factory", func(t *testing.T) {
		_, err := Init(context.Background(), testConfig(), nil)
		assert.Error(t, err)
	})

	t.Run("unknown cache type", func(t *testing.T) {
		cfg := testConfig()
		cfg.Catalog.Cache.Type = "memcached"
		_, err := Init(context.Background(), cfg, NewProviderFactory(nil, config.ResilienceConfig{}))
		assert.ErrorContains(t, err, "unknown cache type")
	})

	t.Run("invalid model entry", func(t *testing.T) {
		cfg := testConfig()
		cfg.Models = append(cfg.Models, config.ModelConfig{Name: "no-provider"})
		_, err := Init(context.Background(), cfg, NewProviderFactory(nil, config.ResilienceConfig{}))
		assert.Error(t, err)
	})
}

func TestInitResult_CloseIsIdempotent(t *testing.T) {
	result, err := Init(context.Background(), testConfig(), NewProviderFactory(nil, config.ResilienceConfig{}))
	require.NoError(t, err)
	assert.NoError(t, result.Close())
	assert.NoError(t, result.Close())
}
