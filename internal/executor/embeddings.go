package executor

import (
	"context"

	"llmgateway/internal/catalog"
	"llmgateway/internal/core"
	"llmgateway/internal/engine"
	"llmgateway/internal/events"
	"llmgateway/internal/tracing"
)

// Embeddings runs an embeddings request against the model's upstream.
func (e *Executor) Embeddings(ctx context.Context, req *core.EmbeddingRequest) (*core.EmbeddingResponse, error) {
	ctx, span := tracing.Start(ctx, "embeddings")
	defer span.End()
	span.SetAttr("model", req.Model)

	resp, err := e.embeddings(ctx, req)
	if err != nil {
		return nil, span.RecordError(err)
	}
	return resp, nil
}

func (e *Executor) embeddings(ctx context.Context, req *core.EmbeddingRequest) (*core.EmbeddingResponse, error) {
	b, err := e.resolve(ctx, req.Model, catalog.ModelTypeEmbedding)
	if err != nil {
		return nil, err
	}
	upstreamModel := b.def.InferenceProvider.ModelName
	out := *req
	out.Model = upstreamModel

	eng, err := b.engine(engine.CompletionParams{Model: upstreamModel})
	if err != nil {
		return nil, err
	}
	adapter, err := e.models.Adapter(engine.WithEndpoint(eng, b.endpoint))
	if err != nil {
		return nil, err
	}

	metadata := b.metadata(ctx, catalog.ModelTypeEmbedding)
	collector := e.startCollector(ctx, e.sink, metadata)
	defer collector.Close()

	emit(ctx, collector, events.LlmStart{Provider: b.provider.Name, Model: upstreamModel})
	resp, err := adapter.Embeddings(ctx, &out)
	if err != nil {
		emit(ctx, collector, events.LlmError{Message: err.Error()})
		return nil, upstreamError(b.provider.Name, err)
	}
	u := resp.Usage
	emit(ctx, collector, events.LlmStop{FinishReason: core.FinishReasonStop, Usage: &u})
	e.emitCost(ctx, collector, b.provider.Name, upstreamModel, u)

	resp.Model = metadata.Name
	resp.Provider = b.provider.Name
	return resp, nil
}
