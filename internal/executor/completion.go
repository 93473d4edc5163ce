package executor

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"llmgateway/internal/core"
	"llmgateway/internal/events"
	"llmgateway/internal/models"
	"llmgateway/internal/providers"
	"llmgateway/internal/tracing"
)

// Completion is the result of a chat completion. It is either a
// *StreamedCompletion or an *AggregatedCompletion, never both; callers switch
// on the concrete type.
type Completion interface {
	completion()
}

// AggregatedCompletion is a finished, non-streamed completion.
type AggregatedCompletion struct {
	Response *core.ChatResponse
	// StopReason and ToolCalls are what the event collector recorded.
	StopReason string
	ToolCalls  []core.ToolCall
}

// StreamedCompletion is a lazy sequence of chunks. Recv returns io.EOF after
// the last chunk. The caller must call Close when done, whether or not the
// sequence was read to the end.
type StreamedCompletion struct {
	stream    *models.Stream
	collector *events.Collector
	span      *tracing.Span
	model     string
	provider  string
	once      sync.Once
}

func (*AggregatedCompletion) completion() {}
func (*StreamedCompletion) completion()   {}

// Recv returns the next chunk in OpenAI wire form. Upstream failures are
// returned as *core.GatewayError; chunks already returned stand.
func (s *StreamedCompletion) Recv() (*core.ChatCompletionChunk, error) {
	chunk, err := s.stream.Next()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			err = s.span.RecordError(upstreamError(s.provider, err))
		}
		s.finish()
		return nil, err
	}
	return toWireChunk(chunk, s.model), nil
}

// Close releases the upstream connection and ends the event pipeline. The
// collector drains in the background.
func (s *StreamedCompletion) Close() error {
	err := s.stream.Close()
	s.finish()
	return err
}

// Summary waits for the event collector and returns what it recorded. It only
// returns once the stream has ended or been closed.
func (s *StreamedCompletion) Summary(ctx context.Context) (events.Summary, error) {
	return s.collector.Wait(ctx)
}

// Elapsed is the time since the request span started, frozen once the stream
// has ended.
func (s *StreamedCompletion) Elapsed() time.Duration {
	return s.span.Duration()
}

func (s *StreamedCompletion) finish() {
	s.once.Do(func() {
		s.collector.Close()
		s.span.End()
	})
}

func toWireChunk(c providers.Chunk, model string) *core.ChatCompletionChunk {
	out := &core.ChatCompletionChunk{
		ID:      c.ID,
		Object:  "chat.completion.chunk",
		Created: c.Created,
		Model:   model,
		Choices: []core.ChunkChoice{},
		Usage:   c.Usage,
	}
	usageOnly := c.Role == "" && c.Content == "" && len(c.ToolCalls) == 0 && c.FinishReason == "" && c.Usage != nil
	if usageOnly {
		return out
	}
	choice := core.ChunkChoice{
		Delta: core.Delta{Role: c.Role, Content: c.Content, ToolCalls: c.ToolCalls},
	}
	if c.FinishReason != "" {
		reason := c.FinishReason
		choice.FinishReason = &reason
	}
	out.Choices = append(out.Choices, choice)
	return out
}

func upstreamError(provider string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return core.AsGatewayError(provider, err)
}
