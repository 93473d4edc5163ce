package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"llmgateway/internal/cache"
	"llmgateway/internal/core"
)

// Loader produces a fresh catalogue, typically by re-reading configuration.
type Loader func(ctx context.Context) (AvailableModels, error)

// Registry serves the current catalogue. Reads see an immutable snapshot;
// Refresh swaps in a new one. The snapshot is mirrored to an optional cache so
// that a restarting instance, or a sibling instance, can serve immediately.
type Registry struct {
	mu          sync.RWMutex
	models      AvailableModels
	loader      Loader
	cache       cache.Cache
	initialized bool
	updatedAt   time.Time
}

// NewRegistry creates a registry. cache may be nil.
func NewRegistry(loader Loader, c cache.Cache) *Registry {
	return &Registry{loader: loader, cache: c}
}

// NewStaticRegistry creates a registry that always serves models.
func NewStaticRegistry(models AvailableModels) *Registry {
	r := NewRegistry(func(context.Context) (AvailableModels, error) { return models, nil }, nil)
	r.set(models)
	return r
}

// Models returns the current snapshot. Callers must not modify it.
func (r *Registry) Models() AvailableModels {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models
}

// Find resolves name against the current snapshot.
func (r *Registry) Find(name string) (ModelDefinition, error) {
	return FindModelByFullName(name, r.Models())
}

// ModelCount returns the number of catalogue entries.
func (r *Registry) ModelCount() int {
	return len(r.Models())
}

// IsInitialized reports whether a load from the Loader has succeeded.
func (r *Registry) IsInitialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

// Initialize loads the catalogue. If the loader fails and nothing has been
// loaded yet, the cached snapshot is used instead.
func (r *Registry) Initialize(ctx context.Context) error {
	models, err := r.loader(ctx)
	if err != nil {
		if r.ModelCount() > 0 {
			return fmt.Errorf("catalog reload failed, keeping %d models: %w", r.ModelCount(), err)
		}
		n, cacheErr := r.LoadFromCache(ctx)
		if cacheErr != nil || n == 0 {
			return fmt.Errorf("failed to load catalog: %w", err)
		}
		slog.Warn("catalog loader failed, serving cached catalog", "error", err, "models", n)
		return nil
	}

	r.set(models)
	r.mu.Lock()
	r.initialized = true
	r.mu.Unlock()
	slog.Info("catalog loaded", "models", len(models))
	return nil
}

// Refresh reloads the catalogue and saves it to the cache.
func (r *Registry) Refresh(ctx context.Context) error {
	if err := r.Initialize(ctx); err != nil {
		return err
	}
	return r.SaveToCache(ctx)
}

// LoadFromCache replaces the snapshot with the cached one and returns its size.
func (r *Registry) LoadFromCache(ctx context.Context) (int, error) {
	if r.cache == nil {
		return 0, nil
	}
	snapshot, err := r.cache.Get(ctx)
	if err != nil {
		return 0, err
	}
	if snapshot == nil {
		return 0, nil
	}
	models := fromSnapshot(snapshot)
	r.set(models)
	return len(models), nil
}

// SaveToCache writes the current snapshot to the cache.
func (r *Registry) SaveToCache(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Set(ctx, toSnapshot(r.Models()))
}

// StartBackgroundRefresh periodically calls Refresh until the returned
// function is called.
func (r *Registry) StartBackgroundRefresh(interval time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	if interval <= 0 {
		return cancel
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refreshCtx, refreshCancel := context.WithTimeout(ctx, 30*time.Second)
				if err := r.Refresh(refreshCtx); err != nil {
					slog.Warn("background catalog refresh failed", "error", err)
				}
				refreshCancel()
			}
		}
	}()

	return cancel
}

// ResolvePricing returns the pricing of the entry served by provider under the
// upstream model name. The first priced match wins.
func (r *Registry) ResolvePricing(provider, model string) (*Pricing, bool) {
	return r.Models().PricingFor(provider, model)
}

// ListModels returns the catalogue in the /v1/models shape, sorted by id.
func (r *Registry) ListModels() []core.Model {
	r.mu.RLock()
	models, created := r.models, r.updatedAt.Unix()
	r.mu.RUnlock()

	out := make([]core.Model, 0, len(models))
	for _, m := range models {
		out = append(out, core.Model{
			ID:      m.FullName(),
			Object:  "model",
			OwnedBy: m.ModelProvider,
			Type:    string(m.Type),
			Created: created,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) set(models AvailableModels) {
	r.mu.Lock()
	r.models = models
	r.updatedAt = time.Now()
	r.mu.Unlock()
}

func toSnapshot(models AvailableModels) *cache.Snapshot {
	out := &cache.Snapshot{
		Version:   cache.SnapshotVersion,
		UpdatedAt: time.Now().UTC(),
		Models:    make([]cache.CachedModel, 0, len(models)),
	}
	for _, m := range models {
		cm := cache.CachedModel{
			Model:         m.Model,
			ModelProvider: m.ModelProvider,
			Type:          string(m.Type),
			Description:   m.Description,
			Provider:      m.InferenceProvider.Provider,
			UpstreamModel: m.InferenceProvider.ModelName,
			Endpoint:      m.InferenceProvider.Endpoint,
		}
		if m.Pricing != nil {
			cm.Pricing = &cache.CachedPricing{
				Input:       m.Pricing.InputPerMTok,
				CachedInput: m.Pricing.CachedInputPerMTok,
				Output:      m.Pricing.OutputPerMTok,
			}
		}
		out.Models = append(out.Models, cm)
	}
	return out
}

func fromSnapshot(s *cache.Snapshot) AvailableModels {
	models := make(AvailableModels, 0, len(s.Models))
	for _, cm := range s.Models {
		modelType, err := ParseModelType(cm.Type)
		if err != nil {
			slog.Warn("skipping cached model with unknown type", "model", cm.Model, "type", cm.Type)
			continue
		}
		def := ModelDefinition{
			Model:         cm.Model,
			ModelProvider: cm.ModelProvider,
			Type:          modelType,
			Description:   cm.Description,
			InferenceProvider: InferenceProvider{
				Provider:  cm.Provider,
				ModelName: cm.UpstreamModel,
				Endpoint:  cm.Endpoint,
			},
		}
		if cm.Pricing != nil {
			def.Pricing = &Pricing{
				InputPerMTok:       cm.Pricing.Input,
				CachedInputPerMTok: cm.Pricing.CachedInput,
				OutputPerMTok:      cm.Pricing.Output,
			}
		}
		models = append(models, def)
	}
	return models
}
