// Package executor runs chat completion, embedding and image generation
// requests against the upstream their model resolves to.
package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"llmgateway/internal/catalog"
	"llmgateway/internal/core"
	"llmgateway/internal/engine"
	"llmgateway/internal/events"
	"llmgateway/internal/models"
	"llmgateway/internal/providers"
	"llmgateway/internal/usage"
)

// Catalog supplies the models a request may name.
type Catalog interface {
	Models() catalog.AvailableModels
}

// ProviderLookup resolves a configured provider by name.
type ProviderLookup interface {
	Lookup(name string) (providers.ProviderConfig, bool)
}

// CollectorStarter starts the event collector of one request.
type CollectorStarter func(ctx context.Context, sink events.CallbackHandler, model engine.Model) *events.Collector

// Executor runs requests. It is safe for concurrent use.
type Executor struct {
	catalog        Catalog
	providers      ProviderLookup
	models         *models.Factory
	sink           events.CallbackHandler
	costs          core.CostCalculator
	startCollector CollectorStarter
}

// Option configures an Executor.
type Option func(*Executor)

// WithCostCalculator prices usage and emits Cost events.
func WithCostCalculator(c core.CostCalculator) Option {
	return func(e *Executor) { e.costs = c }
}

// WithCollectorStarter replaces events.StartCollector.
func WithCollectorStarter(start CollectorStarter) Option {
	return func(e *Executor) { e.startCollector = start }
}

// New creates an executor. sink receives every event of every request.
func New(cat Catalog, provs ProviderLookup, factory *models.Factory, sink events.CallbackHandler, opts ...Option) *Executor {
	e := &Executor{
		catalog:        cat,
		providers:      provs,
		models:         factory,
		sink:           sink,
		startCollector: events.StartCollector,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// binding is a model resolved to its upstream.
type binding struct {
	def      catalog.ModelDefinition
	provider providers.ProviderConfig
	creds    core.Credentials
	// endpoint overrides the provider base URL when set.
	endpoint string
}

// resolve finds the model and its provider. It allocates nothing.
func (e *Executor) resolve(ctx context.Context, name string, want catalog.ModelType) (binding, error) {
	def, err := catalog.FindModelByFullName(name, e.catalog.Models())
	if err != nil {
		return binding{}, err
	}
	if def.Type != want {
		return binding{}, core.NewInvalidRequestError(
			fmt.Sprintf("model %q is a %s model, not %s", name, def.Type, want), nil)
	}
	pc, ok := e.providers.Lookup(def.InferenceProvider.Provider)
	if !ok {
		return binding{}, core.NewCustomError(
			fmt.Sprintf("model %q refers to unknown provider %q", name, def.InferenceProvider.Provider), nil)
	}

	b := binding{def: def, provider: pc, endpoint: def.InferenceProvider.Endpoint}
	if creds, ok := core.CredentialsFromContext(ctx); ok {
		b.creds = creds
		if ep := core.CredentialsEndpoint(creds); ep != "" {
			b.endpoint = ep
		}
	}
	return b, nil
}

// connection is how the upstream is reached. Caller credentials replace the
// configured key.
func (b binding) connection() engine.Connection {
	conn := engine.Connection{
		ProviderName: b.provider.Name,
		BaseURL:      b.provider.BaseURL,
		APIKey:       b.provider.APIKey,
	}
	if b.creds != nil {
		conn.APIKey = b.creds.Key()
	}
	return conn
}

func (b binding) engine(params engine.CompletionParams) (engine.Engine, error) {
	eng, err := engine.New(b.provider.Type, b.connection(), params)
	if err != nil {
		return nil, core.NewCustomError(fmt.Sprintf("provider %q", b.provider.Name), err)
	}
	return eng, nil
}

func (b binding) metadata(ctx context.Context, modelType catalog.ModelType) engine.Model {
	return engine.Model{
		Name:          b.def.FullName(),
		Description:   b.def.Description,
		ProviderName:  b.provider.Name,
		UpstreamModel: b.def.InferenceProvider.ModelName,
		ModelType:     modelType,
		Credentials:   b.creds,
		Tags:          core.TagsFromContext(ctx),
	}
}

// callerID identifies the caller to the upstream: the request's user, or a
// fresh id.
func callerID(user string) string {
	if user != "" {
		return user
	}
	return uuid.NewString()
}

// emit sends ev, logging instead of failing.
func emit(ctx context.Context, sender events.Sender, ev events.Event) {
	if err := sender.Emit(ctx, ev); err != nil {
		slog.Debug("event dropped", "event", ev.Type(), "error", err)
	}
}

// emitCost emits a Cost event when usage can be priced.
func (e *Executor) emitCost(ctx context.Context, sender events.Sender, provider, model string, u core.Usage) {
	if cost, ok := usage.Price(e.costs, provider, model, u); ok {
		emit(ctx, sender, events.Cost{Cost: cost, Usage: u})
	}
}
