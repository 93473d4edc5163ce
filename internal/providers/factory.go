// Package providers turns an engine into a runnable upstream adapter.
package providers

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/alphadose/haxmap"

	"llmgateway/config"
	"llmgateway/internal/engine"
	"llmgateway/internal/httpclient"
	"llmgateway/internal/pkg/llmclient"
)

// Settings is everything a builder needs to reach one upstream.
type Settings struct {
	// Name is the configured provider name.
	Name string
	// Kind is the provider kind, e.g. "openai", "groq" or "anthropic".
	Kind       string
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Resilience config.ResilienceConfig
	// Breaker is shared by every adapter talking to the same upstream.
	Breaker *llmclient.CircuitBreaker
}

// Builder creates an adapter from settings.
type Builder func(s Settings) (Adapter, error)

// Registration binds a builder to the engine family it serves.
type Registration struct {
	Family engine.Family
	New    Builder
}

// ProviderFactory creates adapters for engines. Builders are registered
// explicitly at startup.
type ProviderFactory struct {
	mu         sync.RWMutex
	builders   map[engine.Family]Builder
	httpClient *http.Client
	resilience config.ResilienceConfig
	breakers   *haxmap.Map[string, *llmclient.CircuitBreaker]
}

// NewProviderFactory creates a factory. A nil httpClient uses the shared
// default transport.
func NewProviderFactory(httpClient *http.Client, resilience config.ResilienceConfig) *ProviderFactory {
	if httpClient == nil {
		httpClient = httpclient.NewDefaultHTTPClient()
	}
	return &ProviderFactory{
		builders:   make(map[engine.Family]Builder),
		httpClient: httpClient,
		resilience: resilience,
		breakers:   haxmap.New[string, *llmclient.CircuitBreaker](),
	}
}

// Register adds a builder. A later registration for the same family replaces
// the earlier one.
func (f *ProviderFactory) Register(r Registration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[r.Family] = r.New
}

// Create builds the adapter serving e.
func (f *ProviderFactory) Create(e engine.Engine) (Adapter, error) {
	f.mu.RLock()
	build, ok := f.builders[e.Family()]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no adapter registered for engine family %q", e.Family())
	}

	conn := e.Connection()
	kind := string(e.Family())
	if oc, ok := e.(engine.OpenAICompatible); ok {
		kind = oc.Flavor
	}
	return build(Settings{
		Name:       conn.ProviderName,
		Kind:       kind,
		BaseURL:    conn.BaseURL,
		APIKey:     conn.APIKey,
		HTTPClient: f.httpClient,
		Resilience: f.resilience,
		Breaker:    f.breaker(conn.ProviderName, conn.BaseURL),
	})
}

// ListRegistered returns the registered families, sorted.
func (f *ProviderFactory) ListRegistered() []engine.Family {
	f.mu.RLock()
	defer f.mu.RUnlock()
	families := make([]engine.Family, 0, len(f.builders))
	for family := range f.builders {
		families = append(families, family)
	}
	sort.Slice(families, func(i, j int) bool { return families[i] < families[j] })
	return families
}

func (f *ProviderFactory) breaker(provider, baseURL string) *llmclient.CircuitBreaker {
	cb, _ := f.breakers.GetOrCompute(provider+"|"+baseURL, func() *llmclient.CircuitBreaker {
		return llmclient.NewCircuitBreaker(provider,
			llmclient.ConfigFromResilience(provider, baseURL, f.resilience).CircuitBreaker)
	})
	return cb
}
