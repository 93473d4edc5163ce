package models

import (
	"context"
	"log/slog"
	"time"

	"llmgateway/internal/core"
	"llmgateway/internal/engine"
	"llmgateway/internal/events"
	"llmgateway/internal/providers"
	"llmgateway/internal/tools"
	"llmgateway/internal/usage"
)

// Instance is a runnable model bound to one upstream adapter. It emits its
// events to the sender passed to each invocation.
type Instance struct {
	def     engine.CompletionModelDefinition
	adapter providers.Adapter
	tools   *tools.Set
	costs   core.CostCalculator
}

// Definition returns the plan the instance executes.
func (i *Instance) Definition() engine.CompletionModelDefinition {
	return i.def
}

// Invoke runs the completion to the end.
//
// Events, in order: LlmStart, LlmFirstToken, one ToolStart per tool call,
// LlmStop and, when the usage can be priced, Cost. A failed call emits
// LlmError instead of everything after LlmStart.
func (i *Instance) Invoke(ctx context.Context, msgs []engine.Message, sender events.Sender) (*providers.ChatResult, error) {
	call := i.chatCall(msgs)
	i.emit(ctx, sender, i.startEvent(call, false))

	start := time.Now()
	res, err := i.adapter.Complete(ctx, call)
	if err != nil {
		i.emit(ctx, sender, events.LlmError{Message: err.Error()})
		return nil, err
	}
	i.emit(ctx, sender, events.LlmFirstToken{TTFT: time.Since(start)})

	for n, tc := range res.ToolCalls {
		res.ToolCalls[n] = i.toolStart(ctx, sender, tc)
	}
	u := res.Usage
	i.emit(ctx, sender, events.LlmStop{FinishReason: res.FinishReason, Usage: &u, Output: res.Content})
	i.emitCost(ctx, sender, u)
	return res, nil
}

// InvokeStream opens a streamed completion. Nothing is read from the upstream
// until the returned stream is pulled.
func (i *Instance) InvokeStream(ctx context.Context, msgs []engine.Message, sender events.Sender) (*Stream, error) {
	call := i.chatCall(msgs)
	i.emit(ctx, sender, i.startEvent(call, true))

	start := time.Now()
	upstream, err := i.adapter.Stream(ctx, call)
	if err != nil {
		i.emit(ctx, sender, events.LlmError{Message: err.Error()})
		return nil, err
	}
	return newStream(ctx, i, upstream, sender, start), nil
}

func (i *Instance) chatCall(msgs []engine.Message) *providers.ChatCall {
	if !i.def.Prompt.IsEmpty() {
		system := engine.Message{
			Role:  engine.RoleSystem,
			Parts: []engine.Part{{Type: engine.PartText, Text: i.def.Prompt.System}},
		}
		msgs = append([]engine.Message{system}, msgs...)
	}
	return &providers.ChatCall{
		Params:   i.def.Engine.Params(),
		Messages: msgs,
		Tools:    i.tools.Definitions(),
	}
}

func (i *Instance) startEvent(call *providers.ChatCall, stream bool) events.LlmStart {
	return events.LlmStart{
		Provider: i.def.ProviderName,
		Model:    call.Params.Model,
		Stream:   stream,
		Messages: len(call.Messages),
	}
}

// toolStart normalizes tc through its capability and emits ToolStart.
func (i *Instance) toolStart(ctx context.Context, sender events.Sender, tc core.ToolCall) core.ToolCall {
	resolved, declared, err := i.tools.Resolve(ctx, tc)
	if err != nil {
		slog.Warn("tool call rejected by capability", "tool", tc.Function.Name, "error", err)
	}
	if !declared {
		slog.Warn("model called an undeclared tool", "tool", tc.Function.Name, "model", i.def.Name)
	}
	i.emit(ctx, sender, events.ToolStart{ToolCall: resolved, Declared: declared})
	return resolved
}

func (i *Instance) emitCost(ctx context.Context, sender events.Sender, u core.Usage) {
	if cost, ok := usage.Price(i.costs, i.def.ProviderName, i.def.Name, u); ok {
		i.emit(ctx, sender, events.Cost{Cost: cost, Usage: u})
	}
}

// emit delivers ev. Telemetry never fails the request, so a closed pipeline
// or a cancelled context only gets logged.
func (i *Instance) emit(ctx context.Context, sender events.Sender, ev events.Event) {
	if sender == nil {
		return
	}
	if err := sender.Emit(ctx, ev); err != nil {
		slog.Debug("event dropped", "event", ev.Type(), "model", i.def.Name, "error", err)
	}
}
