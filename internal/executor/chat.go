package executor

import (
	"context"
	"time"

	"llmgateway/internal/catalog"
	"llmgateway/internal/core"
	"llmgateway/internal/engine"
	"llmgateway/internal/messages"
	"llmgateway/internal/providers"
	"llmgateway/internal/tools"
	"llmgateway/internal/tracing"
)

// Execute runs a chat completion. The result is a *StreamedCompletion when
// req.Stream is set and an *AggregatedCompletion otherwise.
//
// Resolution, plan construction and message mapping happen before the event
// collector starts, so a request that fails there leaves nothing running.
// Every returned error has been recorded on the request span.
func (e *Executor) Execute(ctx context.Context, req *core.ChatRequest) (Completion, error) {
	ctx, span := tracing.Start(ctx, "chat_completion")
	span.SetAttr("model", req.Model)
	span.SetAttr("stream", req.Stream)

	completion, err := e.execute(ctx, span, req)
	if err != nil {
		span.RecordError(err)
		span.End()
		return nil, err
	}
	if _, streamed := completion.(*StreamedCompletion); !streamed {
		span.End()
	}
	return completion, nil
}

func (e *Executor) execute(ctx context.Context, span *tracing.Span, req *core.ChatRequest) (Completion, error) {
	b, err := e.resolve(ctx, req.Model, catalog.ModelTypeCompletions)
	if err != nil {
		return nil, err
	}
	upstreamModel := b.def.InferenceProvider.ModelName
	span.SetAttr("provider", b.provider.Name)
	span.SetAttr("upstream_model", upstreamModel)

	req = req.Clone()
	req.Model = upstreamModel

	toolSet, err := tools.NewSet(req.Tools)
	if err != nil {
		return nil, err
	}
	eng, err := b.engine(completionParams(req))
	if err != nil {
		return nil, err
	}

	metadata := b.metadata(ctx, catalog.ModelTypeCompletions)
	metadata.Tools = toolSet.Descriptors()
	metadata.ExecutionOptions = engine.ExecutionOptions{Stream: req.Stream}
	def := engine.CompletionModelDefinition{
		Name:         upstreamModel,
		Engine:       eng,
		ProviderName: b.provider.Name,
		Prompt:       engine.EmptyPrompt(),
		Tools:        metadata.Tools,
		Metadata:     metadata,
	}

	inst, err := e.models.NewCompletionInstance(def, toolSet, e.costs, b.endpoint)
	if err != nil {
		return nil, err
	}

	userID := callerID(req.User)
	span.SetAttr("user_id", userID)
	msgs, err := messages.NewMapper(upstreamModel, userID).MapAll(req.Messages)
	if err != nil {
		return nil, err
	}

	collector := e.startCollector(ctx, e.sink, metadata)

	if req.Stream {
		stream, err := inst.InvokeStream(ctx, msgs, collector)
		if err != nil {
			collector.Close()
			return nil, upstreamError(b.provider.Name, err)
		}
		return &StreamedCompletion{
			stream:    stream,
			collector: collector,
			span:      span,
			model:     metadata.Name,
			provider:  b.provider.Name,
		}, nil
	}

	res, err := inst.Invoke(ctx, msgs, collector)
	collector.Close()
	summary, waitErr := collector.Wait(ctx)
	if err != nil {
		return nil, upstreamError(b.provider.Name, err)
	}
	if waitErr != nil {
		return nil, waitErr
	}
	return aggregate(res, summary.StopReason(), summary.ToolCalls, metadata.Name, b.provider.Name), nil
}

func completionParams(req *core.ChatRequest) engine.CompletionParams {
	return engine.CompletionParams{
		Model:             req.Model,
		Temperature:       req.Temperature,
		TopP:              req.TopP,
		MaxTokens:         req.MaxOutputTokens(),
		Stop:              req.Stop,
		PresencePenalty:   req.PresencePenalty,
		FrequencyPenalty:  req.FrequencyPenalty,
		Seed:              req.Seed,
		ToolChoice:        req.ToolChoice,
		ParallelToolCalls: req.ParallelToolCalls,
		User:              req.User,
	}
}

// aggregate builds the response from the upstream result and what the
// collector recorded.
func aggregate(res *providers.ChatResult, stopReason string, toolCalls []core.ToolCall, model, provider string) *AggregatedCompletion {
	if stopReason == "" {
		stopReason = res.FinishReason
	}
	created := res.Created
	if created == 0 {
		created = time.Now().Unix()
	}
	msg := core.Message{
		Role:      core.RoleAssistant,
		Content:   core.TextContent(res.Content),
		ToolCalls: toolCalls,
	}
	return &AggregatedCompletion{
		Response: &core.ChatResponse{
			ID:       res.ID,
			Object:   "chat.completion",
			Model:    model,
			Provider: provider,
			Choices:  []core.Choice{{Message: msg, FinishReason: stopReason}},
			Usage:    res.Usage,
			Created:  created,
		},
		StopReason: stopReason,
		ToolCalls:  toolCalls,
	}
}
