package engine

import (
	"encoding/json"
	"time"

	"llmgateway/internal/catalog"
	"llmgateway/internal/core"
)

// Model is the descriptive record attached to every emitted event, so sinks can
// attribute telemetry without resolving the model again.
type Model struct {
	// Name is the caller-facing model name.
	Name         string
	Description  string
	ProviderName string
	// UpstreamModel is the name sent to the provider.
	UpstreamModel    string
	ExecutionOptions ExecutionOptions
	Tools            ModelTools
	ModelType        catalog.ModelType
	Credentials      core.Credentials
	ResponseSchema   json.RawMessage
	Tags             core.Tags
}

// ExecutionOptions describe how the instance runs.
type ExecutionOptions struct {
	Stream     bool
	MaxRetries int
	Timeout    time.Duration
}

// ModelTool is a lightweight tool descriptor: name and description, no bound
// arguments.
type ModelTool struct {
	Name        string
	Description string
	PassedArgs  []string
}

// ModelTools is the ordered descriptor list of a request. Duplicate names are
// kept as supplied.
type ModelTools []ModelTool

// Names returns the descriptor names in order.
func (t ModelTools) Names() []string {
	names := make([]string, len(t))
	for i, tool := range t {
		names[i] = tool.Name
	}
	return names
}

// Prompt is a server-side prompt template. The zero value is the empty prompt:
// the caller's messages are the whole prompt.
type Prompt struct {
	System string
}

// EmptyPrompt returns the empty prompt.
func EmptyPrompt() Prompt { return Prompt{} }

// IsEmpty reports whether no server-side prompt is configured.
func (p Prompt) IsEmpty() bool { return p.System == "" }

// InputArgs are template arguments for the prompt.
type InputArgs map[string]any

// CompletionModelDefinition is the execution plan of one chat completion.
type CompletionModelDefinition struct {
	// Name is the upstream model name.
	Name         string
	Engine       Engine
	ProviderName string
	Prompt       Prompt
	InputArgs    InputArgs
	Tools        ModelTools
	Metadata     Model
}
