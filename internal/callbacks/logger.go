package callbacks

import (
	"context"
	"log/slog"

	"llmgateway/internal/events"
)

// Logger logs model events. Every event is logged at debug; first token
// latency and stop reasons at info; upstream failures at warn.
type Logger struct {
	logger *slog.Logger
}

// NewLogger creates a Logger. A nil logger means slog.Default().
func NewLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger}
}

func (l *Logger) OnEvent(ctx context.Context, ev events.ModelEventWithDetails) error {
	attrs := []any{
		"event", ev.Event.Event.Type(),
		"event_id", ev.Event.ID,
		"request_id", ev.Event.RequestID,
		"model", ev.Model.Name,
		"provider", ev.Model.ProviderName,
	}
	l.logger.DebugContext(ctx, "model event", attrs...)

	switch e := ev.Event.Event.(type) {
	case events.LlmFirstToken:
		l.logger.InfoContext(ctx, "first token", append(attrs, "ttft", e.TTFT)...)
	case events.LlmStop:
		stopAttrs := append(attrs, "finish_reason", e.FinishReason)
		if e.Usage != nil {
			stopAttrs = append(stopAttrs,
				"prompt_tokens", e.Usage.PromptTokens,
				"completion_tokens", e.Usage.CompletionTokens)
		}
		l.logger.InfoContext(ctx, "model stopped", stopAttrs...)
	case events.ToolStart:
		l.logger.InfoContext(ctx, "tool call", append(attrs, "tool", e.ToolCall.Function.Name, "declared", e.Declared)...)
	case events.LlmError:
		l.logger.WarnContext(ctx, "model call failed", append(attrs, "error", e.Message)...)
	case events.Cost:
		l.logger.InfoContext(ctx, "request cost", append(attrs, "total_cost", e.Cost.TotalCost)...)
	}
	return nil
}
