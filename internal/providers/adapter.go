package providers

import (
	"context"
	"fmt"
	"net/http"

	"llmgateway/internal/core"
	"llmgateway/internal/engine"
)

// ChatCall is one chat completion as an adapter sees it: upstream model name,
// parameters, normalized messages and the tool definitions to advertise.
type ChatCall struct {
	Params   engine.CompletionParams
	Messages []engine.Message
	Tools    []core.FunctionDefinition
}

// ChatResult is a finished, non-streamed completion.
type ChatResult struct {
	ID           string
	Model        string
	Content      string
	ToolCalls    []core.ToolCall
	FinishReason string
	Usage        core.Usage
	Created      int64
}

// Chunk is one streamed delta. Tool call fragments carry their Index so they
// can be stitched together; a usage-only chunk has no content.
type Chunk struct {
	ID           string
	Model        string
	Created      int64
	Role         string
	Content      string
	ToolCalls    []core.ToolCall
	FinishReason string
	Usage        *core.Usage
}

// ChunkStream is a pull-based stream of chunks. Next returns false at the end
// of the stream or on error; Err reports which.
type ChunkStream interface {
	Next() bool
	Current() Chunk
	Err() error
	Close() error
}

// Adapter is a runnable upstream for one provider endpoint.
type Adapter interface {
	Complete(ctx context.Context, call *ChatCall) (*ChatResult, error)
	Stream(ctx context.Context, call *ChatCall) (ChunkStream, error)
	Embeddings(ctx context.Context, req *core.EmbeddingRequest) (*core.EmbeddingResponse, error)
	Images(ctx context.Context, req *core.ImageRequest) (*core.ImageResponse, error)
}

// NotSupportedError is returned by adapters for operations their upstream
// does not offer.
func NotSupportedError(provider, operation string) *core.GatewayError {
	return core.NewInvalidRequestErrorWithStatus(http.StatusBadRequest,
		fmt.Sprintf("%s is not supported by provider %s", operation, provider), nil)
}
