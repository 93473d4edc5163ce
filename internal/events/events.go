// Package events defines the model events emitted while a request executes and
// the per-request pipeline that delivers them to callback sinks.
package events

import (
	"context"
	"time"

	"llmgateway/internal/core"
	"llmgateway/internal/engine"
)

// Type names an event kind.
type Type string

const (
	TypeLlmStart      Type = "llm_start"
	TypeLlmFirstToken Type = "llm_first_token"
	TypeLlmContent    Type = "llm_content"
	TypeLlmStop       Type = "llm_stop"
	TypeLlmError      Type = "llm_error"
	TypeToolStart     Type = "tool_start"
	TypeCost          Type = "cost"
)

// Event is the payload of a ModelEvent. The set of payloads is closed.
type Event interface {
	Type() Type
	event()
}

// LlmStart is emitted before the upstream is called.
type LlmStart struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages int    `json:"messages"`
}

// LlmFirstToken carries the time to first token.
type LlmFirstToken struct {
	TTFT time.Duration `json:"ttft"`
}

// LlmContent is a fragment of streamed output.
type LlmContent struct {
	Content string `json:"content"`
}

// LlmStop is emitted once the upstream has finished.
type LlmStop struct {
	FinishReason string      `json:"finish_reason"`
	Usage        *core.Usage `json:"usage,omitempty"`
	Output       string      `json:"output,omitempty"`
}

// LlmError is emitted when the upstream call fails.
type LlmError struct {
	Message string `json:"message"`
}

// ToolStart is emitted for each tool call the model requests.
type ToolStart struct {
	ToolCall core.ToolCall `json:"tool_call"`
	// Declared is false when the model called a tool the caller did not declare.
	Declared bool `json:"declared"`
}

// Cost is emitted after LlmStop when the usage could be priced.
type Cost struct {
	Cost  core.Cost  `json:"cost"`
	Usage core.Usage `json:"usage"`
}

func (LlmStart) Type() Type      { return TypeLlmStart }
func (LlmFirstToken) Type() Type { return TypeLlmFirstToken }
func (LlmContent) Type() Type    { return TypeLlmContent }
func (LlmStop) Type() Type       { return TypeLlmStop }
func (LlmError) Type() Type      { return TypeLlmError }
func (ToolStart) Type() Type     { return TypeToolStart }
func (Cost) Type() Type          { return TypeCost }

func (LlmStart) event()      {}
func (LlmFirstToken) event() {}
func (LlmContent) event()    {}
func (LlmStop) event()       {}
func (LlmError) event()      {}
func (ToolStart) event()     {}
func (Cost) event()          {}

// ModelEvent is one emitted event.
type ModelEvent struct {
	ID        string    `json:"id"`
	SpanID    string    `json:"span_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Event     Event     `json:"event"`
}

// ModelEventWithDetails pairs an event with the model metadata current when it
// was emitted.
type ModelEventWithDetails struct {
	Event ModelEvent
	Model engine.Model
}

// CallbackHandler receives every event of every request.
type CallbackHandler interface {
	OnEvent(ctx context.Context, ev ModelEventWithDetails) error
}

// CallbackHandlerFunc adapts a function to CallbackHandler.
type CallbackHandlerFunc func(ctx context.Context, ev ModelEventWithDetails) error

// OnEvent calls f.
func (f CallbackHandlerFunc) OnEvent(ctx context.Context, ev ModelEventWithDetails) error {
	return f(ctx, ev)
}

// Sender is the emitting end of a pipeline.
type Sender interface {
	Emit(ctx context.Context, ev Event) error
}
