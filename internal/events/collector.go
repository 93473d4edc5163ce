package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"llmgateway/internal/core"
	"llmgateway/internal/engine"
	"llmgateway/internal/tracing"
)

// ChannelCapacity bounds the events buffered per request. A full channel
// blocks the emitter until the collector catches up.
const ChannelCapacity = 1000

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("event pipeline closed")

// Summary is what the collector accumulated over a request.
type Summary struct {
	// Stop is the last stop event, or nil if the model never stopped.
	Stop *LlmStop
	// ToolCalls are the payloads of the ToolStart events, in order.
	ToolCalls []core.ToolCall
	// Forwarded counts events handed to the sink.
	Forwarded int
}

// StopReason returns the finish reason, or "".
func (s Summary) StopReason() string {
	if s.Stop == nil {
		return ""
	}
	return s.Stop.FinishReason
}

// Collector owns the per-request event channel and the goroutine draining it.
// Events reach the sink once each, in the order they were emitted.
type Collector struct {
	ch        chan ModelEvent
	done      chan struct{}
	spanID    string
	requestID string

	mu     sync.RWMutex
	closed bool

	summary Summary
}

// StartCollector creates the channel and starts the collector goroutine.
// The sink is called with a context that is not cancelled when ctx is, so
// telemetry for a disconnected caller is still delivered.
func StartCollector(ctx context.Context, sink CallbackHandler, model engine.Model) *Collector {
	c := &Collector{
		ch:        make(chan ModelEvent, ChannelCapacity),
		done:      make(chan struct{}),
		spanID:    tracing.SpanID(ctx),
		requestID: core.GetRequestID(ctx),
	}
	go c.run(context.WithoutCancel(ctx), sink, model)
	return c
}

func (c *Collector) run(ctx context.Context, sink CallbackHandler, model engine.Model) {
	defer close(c.done)
	span := tracing.FromContext(ctx)

	for ev := range c.ch {
		switch e := ev.Event.(type) {
		case LlmStop:
			stop := e
			c.summary.Stop = &stop
		case ToolStart:
			c.summary.ToolCalls = append(c.summary.ToolCalls, e.ToolCall)
		case LlmFirstToken:
			span.SetAttr("ttft", e.TTFT)
		}
		forward(ctx, sink, ModelEventWithDetails{Event: ev, Model: model})
		c.summary.Forwarded++
	}
}

// forward calls the sink and swallows its failures.
func forward(ctx context.Context, sink CallbackHandler, ev ModelEventWithDetails) {
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("callback handler panicked", "event", ev.Event.Event.Type(), "panic", fmt.Sprint(r))
		}
	}()
	if err := sink.OnEvent(ctx, ev); err != nil {
		slog.Warn("callback handler failed", "event", ev.Event.Event.Type(), "error", err)
	}
}

// Emit stamps ev and queues it. It blocks while the channel is full, returning
// early if ctx is cancelled. A cancelled ctx does not drop events while there
// is room in the channel.
func (c *Collector) Emit(ctx context.Context, ev Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	me := ModelEvent{
		ID:        uuid.NewString(),
		SpanID:    c.spanID,
		RequestID: c.requestID,
		Timestamp: time.Now(),
		Event:     ev,
	}
	select {
	case c.ch <- me:
		return nil
	default:
	}
	select {
	case c.ch <- me:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the stream of events. The collector drains what is queued and
// then finishes. Close is idempotent.
func (c *Collector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}

// Done is closed when the collector has finished.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the collector has finished and returns its summary.
func (c *Collector) Wait(ctx context.Context) (Summary, error) {
	select {
	case <-c.done:
		return c.summary, nil
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
}
