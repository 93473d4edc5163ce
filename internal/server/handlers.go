// Package server provides HTTP handlers and server setup for the LLM gateway.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"

	"llmgateway/internal/core"
	"llmgateway/internal/executor"
)

// Executor runs the requests behind the /v1 routes.
type Executor interface {
	Execute(ctx context.Context, req *core.ChatRequest) (executor.Completion, error)
	Embeddings(ctx context.Context, req *core.EmbeddingRequest) (*core.EmbeddingResponse, error)
	Images(ctx context.Context, req *core.ImageRequest) (*core.ImageResponse, error)
}

// ModelLister lists the models the catalogue serves.
type ModelLister interface {
	ListModels() []core.Model
}

// Handler holds the HTTP handlers
type Handler struct {
	exec   Executor
	models ModelLister
}

// NewHandler creates a new handler
func NewHandler(exec Executor, models ModelLister) *Handler {
	return &Handler{
		exec:   exec,
		models: models,
	}
}

// ChatCompletion handles POST /v1/chat/completions
func (h *Handler) ChatCompletion(c echo.Context) error {
	var req core.ChatRequest
	if err := bind(c, &req); err != nil {
		return handleError(c, err)
	}

	completion, err := h.exec.Execute(c.Request().Context(), &req)
	if err != nil {
		return handleError(c, err)
	}

	switch res := completion.(type) {
	case *executor.AggregatedCompletion:
		return c.JSON(http.StatusOK, res.Response)
	case *executor.StreamedCompletion:
		return writeStream(c, res)
	default:
		return handleError(c, core.NewCustomError("unexpected completion type", nil))
	}
}

// writeStream relays a streamed completion as server-sent events. The first
// chunk is read before any header is written, so a stream that fails to open
// gets an ordinary JSON error response. After that an upstream error is
// written as an "error" event and the stream ends without [DONE].
func writeStream(c echo.Context, stream *executor.StreamedCompletion) error {
	defer func() {
		_ = stream.Close() //nolint:errcheck
	}()

	ctx := c.Request().Context()
	chunk, err := stream.Recv()
	if err != nil && !errors.Is(err, io.EOF) {
		if ctx.Err() != nil {
			return nil
		}
		return handleError(c, err)
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		if errors.Is(err, io.EOF) {
			_, _ = io.WriteString(w, "data: [DONE]\n\n") //nolint:errcheck
			w.Flush()
			logStreamSummary(ctx, stream)
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				// Client went away.
				return nil
			}
			slog.Warn("stream aborted", "request_id", core.GetRequestID(ctx), "error", err)
			writeEvent(w, "error", errorBody(err))
			return nil
		}
		if !writeEvent(w, "", chunk) {
			return nil
		}
		chunk, err = stream.Recv()
	}
}

func logStreamSummary(ctx context.Context, stream *executor.StreamedCompletion) {
	if !slog.Default().Enabled(ctx, slog.LevelDebug) {
		return
	}
	summary, err := stream.Summary(ctx)
	if err != nil {
		return
	}
	slog.DebugContext(ctx, "stream completed",
		"request_id", core.GetRequestID(ctx),
		"stop_reason", summary.StopReason(),
		"tool_calls", len(summary.ToolCalls),
		"duration", stream.Elapsed(),
	)
}

func writeEvent(w *echo.Response, event string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode stream event", "error", err)
		return false
	}
	var frame []byte
	if event != "" {
		frame = append(frame, "event: "+event+"\n"...)
	}
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	if _, err := w.Write(frame); err != nil {
		return false
	}
	w.Flush()
	return true
}

// Embeddings handles POST /v1/embeddings
func (h *Handler) Embeddings(c echo.Context) error {
	var req core.EmbeddingRequest
	if err := bind(c, &req); err != nil {
		return handleError(c, err)
	}
	resp, err := h.exec.Embeddings(c.Request().Context(), &req)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// Images handles POST /v1/images/generations
func (h *Handler) Images(c echo.Context) error {
	var req core.ImageRequest
	if err := bind(c, &req); err != nil {
		return handleError(c, err)
	}
	resp, err := h.exec.Images(c.Request().Context(), &req)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ListModels handles GET /v1/models
func (h *Handler) ListModels(c echo.Context) error {
	data := h.models.ListModels()
	if data == nil {
		data = []core.Model{}
	}
	return c.JSON(http.StatusOK, core.ModelsResponse{Object: "list", Data: data})
}

// bind decodes the JSON body. Body limit violations keep their 413.
func bind(c echo.Context, v any) error {
	err := c.Bind(v)
	if err == nil {
		return nil
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) && httpErr.Code == http.StatusRequestEntityTooLarge {
		return core.NewInvalidRequestErrorWithStatus(http.StatusRequestEntityTooLarge, "request body too large", err)
	}
	return core.NewInvalidRequestError("invalid request body: "+err.Error(), err)
}

// handleError converts gateway errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var gatewayErr *core.GatewayError
	if errors.As(err, &gatewayErr) {
		return c.JSON(gatewayErr.HTTPStatusCode(), gatewayErr.ToJSON())
	}
	return c.JSON(http.StatusInternalServerError, errorBody(err))
}

func errorBody(err error) map[string]any {
	var gatewayErr *core.GatewayError
	if errors.As(err, &gatewayErr) {
		return gatewayErr.ToJSON()
	}
	// Fallback for unexpected errors
	return map[string]any{
		"error": map[string]any{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	}
}
