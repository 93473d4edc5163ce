// Package engine describes how a request is executed: which upstream engine
// serves it, with what parameters, tools and messages. Everything here is
// built once per request and not modified afterwards.
package engine

import (
	"fmt"
	"log/slog"
	"strings"

	"llmgateway/internal/core"
)

// Family selects the adapter implementation for an engine.
type Family string

const (
	FamilyOpenAI    Family = "openai"
	FamilyAnthropic Family = "anthropic"
)

// Engine is the upstream an execution plan is bound to. The set of variants is
// closed: OpenAICompatible and Anthropic.
type Engine interface {
	slog.LogValuer
	// Family is the adapter family that serves this engine.
	Family() Family
	// Connection returns where and how to reach the upstream.
	Connection() Connection
	// Params returns the completion parameters.
	Params() CompletionParams
	sealed()
}

// Connection identifies an upstream endpoint. APIKey is never logged.
type Connection struct {
	// ProviderName is the configured provider, e.g. "openai" or "groq".
	ProviderName string
	BaseURL      string
	APIKey       string
}

// LogValue implements slog.LogValuer.
func (c Connection) LogValue() slog.Value {
	key := ""
	if c.APIKey != "" {
		key = "[REDACTED]"
	}
	return slog.GroupValue(
		slog.String("provider", c.ProviderName),
		slog.String("base_url", c.BaseURL),
		slog.String("api_key", key),
	)
}

// CompletionParams are the sampling and tool parameters sent upstream.
type CompletionParams struct {
	// Model is the upstream model name.
	Model             string
	Temperature       *float64
	TopP              *float64
	MaxTokens         *int
	Stop              []string
	PresencePenalty   *float64
	FrequencyPenalty  *float64
	Seed              *int64
	ToolChoice        *core.ToolChoice
	ParallelToolCalls *bool
	// User identifies the caller to the upstream.
	User string
}

// OpenAICompatible serves OpenAI and every provider speaking its chat API.
type OpenAICompatible struct {
	// Flavor is the provider kind, e.g. "openai", "groq", "ollama".
	Flavor string
	Conn   Connection
	P      CompletionParams
}

// Anthropic serves the Anthropic Messages API.
type Anthropic struct {
	Conn Connection
	P    CompletionParams
}

func (OpenAICompatible) sealed() {}
func (Anthropic) sealed()        {}

func (OpenAICompatible) Family() Family            { return FamilyOpenAI }
func (e OpenAICompatible) Connection() Connection  { return e.Conn }
func (e OpenAICompatible) Params() CompletionParams { return e.P }

func (Anthropic) Family() Family            { return FamilyAnthropic }
func (e Anthropic) Connection() Connection  { return e.Conn }
func (e Anthropic) Params() CompletionParams { return e.P }

// LogValue implements slog.LogValuer.
func (e OpenAICompatible) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("family", string(FamilyOpenAI)),
		slog.String("flavor", e.Flavor),
		slog.String("model", e.P.Model),
		slog.Any("connection", e.Conn),
	)
}

// LogValue implements slog.LogValuer.
func (e Anthropic) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("family", string(FamilyAnthropic)),
		slog.String("model", e.P.Model),
		slog.Any("connection", e.Conn),
	)
}

// Default base URLs of the OpenAI-compatible flavors.
var openAICompatibleBaseURLs = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"xai":        "https://api.x.ai/v1",
	"gemini":     "https://generativelanguage.googleapis.com/v1beta/openai",
	"deepseek":   "https://api.deepseek.com/v1",
	"mistral":    "https://api.mistral.ai/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"together":   "https://api.together.xyz/v1",
	"ollama":     "http://localhost:11434/v1",
}

const anthropicBaseURL = "https://api.anthropic.com"

// DefaultBaseURL returns the default base URL for a provider kind.
func DefaultBaseURL(kind string) (string, bool) {
	if kind == string(FamilyAnthropic) {
		return anthropicBaseURL, true
	}
	u, ok := openAICompatibleBaseURLs[kind]
	return u, ok
}

// IsKnownKind reports whether kind can be turned into an engine.
func IsKnownKind(kind string) bool {
	_, ok := DefaultBaseURL(kind)
	return ok
}

// New selects the engine variant for a provider kind. An empty conn.BaseURL
// is replaced with the kind's default.
func New(kind string, conn Connection, params CompletionParams) (Engine, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if conn.BaseURL == "" {
		conn.BaseURL, _ = DefaultBaseURL(kind)
	}
	switch {
	case kind == string(FamilyAnthropic):
		return Anthropic{Conn: conn, P: params}, nil
	case openAICompatibleBaseURLs[kind] != "":
		return OpenAICompatible{Flavor: kind, Conn: conn, P: params}, nil
	default:
		return nil, fmt.Errorf("unsupported provider kind %q", kind)
	}
}

// WithEndpoint returns a copy of e that connects to endpoint instead of its
// configured base URL. An empty endpoint returns e unchanged.
func WithEndpoint(e Engine, endpoint string) Engine {
	if endpoint == "" {
		return e
	}
	switch v := e.(type) {
	case OpenAICompatible:
		v.Conn.BaseURL = endpoint
		return v
	case Anthropic:
		v.Conn.BaseURL = endpoint
		return v
	default:
		return e
	}
}
