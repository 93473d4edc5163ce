// Package catalog holds the configured model catalogue and resolves caller-facing
// model names to inference provider bindings.
package catalog

import (
	"fmt"
	"strings"

	"llmgateway/config"
	"llmgateway/internal/core"
)

// ModelType is the kind of workload a model serves.
type ModelType string

const (
	ModelTypeCompletions ModelType = "completions"
	ModelTypeEmbedding   ModelType = "embedding"
	ModelTypeImage       ModelType = "image"
)

// ParseModelType accepts the configured spelling of a model type. Empty means completions.
func ParseModelType(s string) (ModelType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "completions", "completion", "chat":
		return ModelTypeCompletions, nil
	case "embedding", "embeddings":
		return ModelTypeEmbedding, nil
	case "image", "images", "image_generation":
		return ModelTypeImage, nil
	default:
		return "", fmt.Errorf("unknown model type %q", s)
	}
}

// InferenceProvider is the concrete upstream binding of a model.
type InferenceProvider struct {
	// Provider names the configured provider that serves the model.
	Provider string
	// ModelName is the name the upstream expects.
	ModelName string
	// Endpoint overrides the provider base URL when set.
	Endpoint string
}

// Pricing holds USD prices per million tokens.
type Pricing struct {
	InputPerMTok       float64
	CachedInputPerMTok float64
	OutputPerMTok      float64
}

// ModelDefinition is one catalogue entry.
type ModelDefinition struct {
	Model             string
	ModelProvider     string
	Type              ModelType
	Description       string
	InferenceProvider InferenceProvider
	Pricing           *Pricing
}

// FullName is the caller-facing name, "provider/model".
func (m ModelDefinition) FullName() string {
	return ModelName{Provider: m.ModelProvider, Model: m.Model}.String()
}

// AvailableModels is the catalogue consulted for one request.
type AvailableModels []ModelDefinition

// FindModelByFullName returns the entry whose full name equals name exactly.
// There is no fuzzy matching and no provider fallback.
func FindModelByFullName(name string, models AvailableModels) (ModelDefinition, error) {
	for _, m := range models {
		if m.FullName() == name {
			return m, nil
		}
	}
	return ModelDefinition{}, core.NewModelNotFoundError(name)
}

// PricingFor returns the pricing of the first entry bound to provider and the
// upstream model name.
func (models AvailableModels) PricingFor(provider, model string) (*Pricing, bool) {
	for _, m := range models {
		ip := m.InferenceProvider
		if ip.Provider == provider && ip.ModelName == model && m.Pricing != nil {
			return m.Pricing, true
		}
	}
	return nil, false
}

// FromConfig builds the catalogue from configured entries.
func FromConfig(entries []config.ModelConfig) (AvailableModels, error) {
	models := make(AvailableModels, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		name, err := ParseModelName(e.Name)
		if err != nil {
			return nil, fmt.Errorf("models[%d]: %w", i, err)
		}
		modelType, err := ParseModelType(e.Type)
		if err != nil {
			return nil, fmt.Errorf("models[%d]: %w", i, err)
		}

		def := ModelDefinition{
			Model:         name.Model,
			ModelProvider: name.Provider,
			Type:          modelType,
			Description:   e.Description,
			InferenceProvider: InferenceProvider{
				Provider:  firstNonEmpty(e.Provider, name.Provider),
				ModelName: firstNonEmpty(e.Upstream, name.Model),
				Endpoint:  e.Endpoint,
			},
		}
		if e.Pricing != nil {
			def.Pricing = &Pricing{
				InputPerMTok:       e.Pricing.Input,
				CachedInputPerMTok: e.Pricing.CachedInput,
				OutputPerMTok:      e.Pricing.Output,
			}
		}

		if _, dup := seen[def.FullName()]; dup {
			return nil, fmt.Errorf("models[%d]: duplicate model %q", i, def.FullName())
		}
		seen[def.FullName()] = struct{}{}
		models = append(models, def)
	}
	return models, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
