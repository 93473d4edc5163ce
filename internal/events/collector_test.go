package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgateway/internal/core"
	"llmgateway/internal/engine"
	"llmgateway/internal/tracing"
)

type recordingSink struct {
	mu     sync.Mutex
	events []ModelEventWithDetails
	fail   bool
}

func (s *recordingSink) OnEvent(_ context.Context, ev ModelEventWithDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func (s *recordingSink) recorded() []ModelEventWithDetails {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ModelEventWithDetails(nil), s.events...)
}

func TestCollector_ForwardsInOrderAndSummarizes(t *testing.T) {
	ctx, span := tracing.Start(context.Background(), "test")
	sink := &recordingSink{}
	model := engine.Model{Name: "openai/gpt-4", ProviderName: "openai"}
	c := StartCollector(ctx, sink, model)

	lookup := core.ToolCall{ID: "call_1", Type: "function", Function: core.FunctionCall{Name: "lookup", Arguments: `{"q":"x"}`}}
	emitted := []Event{
		LlmStart{Provider: "openai", Model: "gpt-4", Stream: true},
		LlmFirstToken{TTFT: 120 * time.Millisecond},
		LlmContent{Content: "Hel"},
		LlmContent{Content: "lo"},
		ToolStart{ToolCall: lookup, Declared: true},
		LlmStop{FinishReason: "tool_calls", Usage: &core.Usage{TotalTokens: 9}},
		Cost{Cost: core.Cost{TotalCost: 0.01}},
	}
	for _, ev := range emitted {
		require.NoError(t, c.Emit(ctx, ev))
	}
	c.Close()

	summary, err := c.Wait(context.Background())
	require.NoError(t, err)

	got := sink.recorded()
	require.Len(t, got, len(emitted))
	for i, ev := range got {
		assert.Equal(t, emitted[i], ev.Event.Event, "event %d out of order", i)
		assert.Equal(t, model, ev.Model)
		assert.Equal(t, span.ID, ev.Event.SpanID)
		assert.NotEmpty(t, ev.Event.ID)
	}

	assert.Equal(t, len(emitted), summary.Forwarded)
	assert.Equal(t, "tool_calls", summary.StopReason())
	assert.Equal(t, []core.ToolCall{lookup}, summary.ToolCalls)

	ttft, ok := span.Attr("ttft")
	require.True(t, ok)
	assert.Equal(t, 120*time.Millisecond, ttft)
}

func TestCollector_SinkFailuresAreSwallowed(t *testing.T) {
	sink := &recordingSink{fail: true}
	c := StartCollector(context.Background(), sink, engine.Model{})

	require.NoError(t, c.Emit(context.Background(), LlmStart{}))
	require.NoError(t, c.Emit(context.Background(), LlmStop{FinishReason: "stop"}))
	c.Close()

	summary, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stop", summary.StopReason())
	assert.Len(t, sink.recorded(), 2)
}

func TestCollector_SinkPanicIsContained(t *testing.T) {
	calls := 0
	sink := CallbackHandlerFunc(func(context.Context, ModelEventWithDetails) error {
		calls++
		panic("boom")
	})
	c := StartCollector(context.Background(), sink, engine.Model{})
	require.NoError(t, c.Emit(context.Background(), LlmStart{}))
	require.NoError(t, c.Emit(context.Background(), LlmStop{}))
	c.Close()

	summary, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Forwarded)
	assert.Equal(t, 2, calls)
}

func TestCollector_NoStopEvent(t *testing.T) {
	c := StartCollector(context.Background(), nil, engine.Model{})
	require.NoError(t, c.Emit(context.Background(), LlmError{Message: "upstream failed"}))
	c.Close()

	summary, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Nil(t, summary.Stop)
	assert.Equal(t, "", summary.StopReason())
	assert.Empty(t, summary.ToolCalls)
}

func TestCollector_EmitAfterClose(t *testing.T) {
	c := StartCollector(context.Background(), nil, engine.Model{})
	c.Close()
	c.Close()
	assert.ErrorIs(t, c.Emit(context.Background(), LlmStart{}), ErrClosed)
	<-c.Done()
}

func TestCollector_Backpressure(t *testing.T) {
	release := make(chan struct{})
	var delivered int
	var mu sync.Mutex
	sink := CallbackHandlerFunc(func(context.Context, ModelEventWithDetails) error {
		<-release
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	})
	c := StartCollector(context.Background(), sink, engine.Model{})

	// One event is held by the blocked sink, ChannelCapacity more fill the buffer.
	for i := 0; i < ChannelCapacity+1; i++ {
		require.NoError(t, c.Emit(context.Background(), LlmContent{Content: "x"}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Emit(ctx, LlmContent{Content: "overflow"})
	assert.ErrorIs(t, err, context.DeadlineExceeded, "a full channel must block the emitter")

	close(release)
	c.Close()
	summary, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ChannelCapacity+1, summary.Forwarded)
	mu.Lock()
	assert.Equal(t, ChannelCapacity+1, delivered)
	mu.Unlock()
}

func TestCollector_WaitHonoursContext(t *testing.T) {
	c := StartCollector(context.Background(), nil, engine.Model{})
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCollector_SinkContextOutlivesRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var sinkErr error
	sink := CallbackHandlerFunc(func(ctx context.Context, _ ModelEventWithDetails) error {
		sinkErr = ctx.Err()
		return nil
	})
	c := StartCollector(ctx, sink, engine.Model{})
	require.NoError(t, c.Emit(context.Background(), LlmStart{}))
	cancel()
	c.Close()
	_, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.NoError(t, sinkErr)
}
