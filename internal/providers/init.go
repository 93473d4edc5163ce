package providers

import (
	"context"
	"fmt"
	"log/slog"

	"llmgateway/config"
	"llmgateway/internal/cache"
	"llmgateway/internal/catalog"
)

// InitResult holds the initialized provider infrastructure and cleanup functions.
type InitResult struct {
	Registry  *catalog.Registry
	Providers *ProviderSet
	Cache     cache.Cache
	Factory   *ProviderFactory

	// stopRefresh is called to stop the background refresh goroutine
	stopRefresh func()
}

// Close releases all resources and stops background goroutines.
// Safe to call multiple times (but stopRefresh is only called once).
func (r *InitResult) Close() error {
	if r.stopRefresh != nil {
		r.stopRefresh()
		r.stopRefresh = nil // Prevent double-call
	}
	if r.Cache != nil {
		return r.Cache.Close()
	}
	return nil
}

// Init builds the provider set and the model catalogue.
//
// It performs:
// 1. Provider set construction from config and well-known provider env vars
// 2. Cache initialization (none, local or Redis)
// 3. Catalogue load, falling back to the cached snapshot
// 4. Background refresh scheduling
//
// The caller must call InitResult.Close() during shutdown.
func Init(ctx context.Context, cfg *config.Config, factory *ProviderFactory) (*InitResult, error) {
	if factory == nil {
		return nil, fmt.Errorf("provider factory is required")
	}

	provs := NewProviderSet(cfg.Providers)
	if len(provs.Names()) == 0 {
		slog.Warn("no providers configured, requests must carry their own credentials")
	}

	modelCache, err := initCache(ctx, cfg.Catalog.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	registry := catalog.NewRegistry(catalogLoader(cfg, provs), modelCache)
	if err := registry.Initialize(ctx); err != nil {
		if modelCache != nil {
			_ = modelCache.Close()
		}
		return nil, fmt.Errorf("failed to load model catalog: %w", err)
	}
	if registry.IsInitialized() {
		if err := registry.SaveToCache(ctx); err != nil {
			slog.Warn("failed to save catalog to cache", "error", err)
		}
	}

	slog.Info("model catalog loaded",
		"models", registry.ModelCount(),
		"providers", provs.Names(),
		"adapters", factory.ListRegistered(),
	)

	stopRefresh := func() {}
	if cfg.Catalog.File != "" {
		stopRefresh = registry.StartBackgroundRefresh(cfg.Catalog.RefreshInterval)
	}

	return &InitResult{
		Registry:    registry,
		Providers:   provs,
		Cache:       modelCache,
		Factory:     factory,
		stopRefresh: stopRefresh,
	}, nil
}

// catalogLoader reads the inline models plus the optional catalog file. The
// file is re-read on every refresh.
func catalogLoader(cfg *config.Config, provs *ProviderSet) catalog.Loader {
	inline := cfg.Models
	file := cfg.Catalog.File
	return func(context.Context) (catalog.AvailableModels, error) {
		entries := append([]config.ModelConfig(nil), inline...)
		if file != "" {
			fromFile, err := config.LoadModels(file)
			if err != nil {
				return nil, err
			}
			entries = append(entries, fromFile...)
		}
		models, err := catalog.FromConfig(entries)
		if err != nil {
			return nil, err
		}
		for _, m := range models {
			if _, ok := provs.Lookup(m.InferenceProvider.Provider); !ok {
				slog.Warn("model refers to an unconfigured provider",
					"model", m.FullName(),
					"provider", m.InferenceProvider.Provider)
			}
		}
		return models, nil
	}
}

// initCache initializes the cache backend selected by configuration. An empty
// type disables caching.
func initCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "redis":
		ttl := cfg.Redis.TTL
		if ttl == 0 {
			ttl = cache.DefaultRedisTTL
		}
		return cache.NewRedisCache(ctx, cache.RedisConfig{
			URL: cfg.Redis.URL,
			Key: cfg.Redis.Key,
			TTL: ttl,
		})
	case "local":
		slog.Info("using local file cache", "path", cfg.Path)
		return cache.NewLocalCache(cfg.Path), nil
	default:
		return nil, fmt.Errorf("unknown cache type %q", cfg.Type)
	}
}
