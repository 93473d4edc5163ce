package executor

import (
	"context"

	"llmgateway/internal/catalog"
	"llmgateway/internal/core"
	"llmgateway/internal/engine"
	"llmgateway/internal/events"
	"llmgateway/internal/tracing"
)

// Images runs an image generation request against the model's upstream.
func (e *Executor) Images(ctx context.Context, req *core.ImageRequest) (*core.ImageResponse, error) {
	ctx, span := tracing.Start(ctx, "image_generation")
	defer span.End()
	span.SetAttr("model", req.Model)

	b, err := e.resolve(ctx, req.Model, catalog.ModelTypeImage)
	if err != nil {
		return nil, span.RecordError(err)
	}
	upstreamModel := b.def.InferenceProvider.ModelName
	out := *req
	out.Model = upstreamModel

	eng, err := b.engine(engine.CompletionParams{Model: upstreamModel})
	if err != nil {
		return nil, span.RecordError(err)
	}
	adapter, err := e.models.Adapter(engine.WithEndpoint(eng, b.endpoint))
	if err != nil {
		return nil, span.RecordError(err)
	}

	collector := e.startCollector(ctx, e.sink, b.metadata(ctx, catalog.ModelTypeImage))
	defer collector.Close()

	emit(ctx, collector, events.LlmStart{Provider: b.provider.Name, Model: upstreamModel})
	resp, err := adapter.Images(ctx, &out)
	if err != nil {
		emit(ctx, collector, events.LlmError{Message: err.Error()})
		return nil, span.RecordError(upstreamError(b.provider.Name, err))
	}
	stop := events.LlmStop{FinishReason: core.FinishReasonStop, Usage: resp.Usage}
	emit(ctx, collector, stop)
	if resp.Usage != nil {
		e.emitCost(ctx, collector, b.provider.Name, upstreamModel, *resp.Usage)
	}
	return resp, nil
}
