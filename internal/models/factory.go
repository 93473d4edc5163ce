// Package models turns an execution plan into a runnable model instance.
package models

import (
	"fmt"
	"log/slog"

	"github.com/alphadose/haxmap"
	"github.com/cespare/xxhash/v2"

	"llmgateway/internal/core"
	"llmgateway/internal/engine"
	"llmgateway/internal/providers"
	"llmgateway/internal/tools"
)

// maxCachedAdapters bounds the adapter cache. Keys include the API key, so
// callers bringing their own credentials add entries.
const maxCachedAdapters = 1024

// AdapterCreator builds an adapter for an engine.
type AdapterCreator interface {
	Create(e engine.Engine) (providers.Adapter, error)
}

// Factory creates model instances. Adapters, and the HTTP clients inside them,
// are reused across requests that target the same upstream with the same key.
type Factory struct {
	creator  AdapterCreator
	adapters *haxmap.Map[uint64, providers.Adapter]
}

// NewFactory creates a factory backed by creator.
func NewFactory(creator AdapterCreator) *Factory {
	return &Factory{
		creator:  creator,
		adapters: haxmap.New[uint64, providers.Adapter](),
	}
}

// NewCompletionInstance binds def to an upstream adapter. A non-empty endpoint
// replaces the engine's base URL. costs may be nil.
func (f *Factory) NewCompletionInstance(def engine.CompletionModelDefinition, toolSet *tools.Set, costs core.CostCalculator, endpoint string) (*Instance, error) {
	if def.Engine == nil {
		return nil, core.NewCustomError("model definition has no engine", nil)
	}
	eng := engine.WithEndpoint(def.Engine, endpoint)
	def.Engine = eng

	adapter, err := f.adapter(eng)
	if err != nil {
		return nil, core.NewCustomError(fmt.Sprintf("failed to create model instance for %s", def.ProviderName), err)
	}
	return &Instance{
		def:     def,
		adapter: adapter,
		tools:   toolSet,
		costs:   costs,
	}, nil
}

// Adapter returns the adapter for an engine, creating it on first use.
func (f *Factory) Adapter(e engine.Engine) (providers.Adapter, error) {
	adapter, err := f.adapter(e)
	if err != nil {
		return nil, core.NewCustomError(fmt.Sprintf("failed to create adapter for %s", e.Connection().ProviderName), err)
	}
	return adapter, nil
}

func (f *Factory) adapter(e engine.Engine) (providers.Adapter, error) {
	key := adapterKey(e)
	if adapter, ok := f.adapters.Get(key); ok {
		return adapter, nil
	}

	adapter, err := f.creator.Create(e)
	if err != nil {
		return nil, err
	}
	if f.adapters.Len() >= maxCachedAdapters {
		f.evictAll()
	}
	// A concurrent request may have stored one already; keep whichever is there.
	stored, _ := f.adapters.GetOrSet(key, adapter)
	return stored, nil
}

func (f *Factory) evictAll() {
	keys := make([]uint64, 0, f.adapters.Len())
	f.adapters.ForEach(func(k uint64, _ providers.Adapter) bool {
		keys = append(keys, k)
		return true
	})
	f.adapters.Del(keys...)
	slog.Debug("adapter cache reset", "evicted", len(keys))
}

// CachedAdapters is the number of adapters currently cached.
func (f *Factory) CachedAdapters() int {
	return int(f.adapters.Len())
}

func adapterKey(e engine.Engine) uint64 {
	conn := e.Connection()
	kind := string(e.Family())
	if oc, ok := e.(engine.OpenAICompatible); ok {
		kind = oc.Flavor
	}
	d := xxhash.New()
	for _, part := range []string{kind, conn.ProviderName, conn.BaseURL, conn.APIKey} {
		_, _ = d.WriteString(part)
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}
