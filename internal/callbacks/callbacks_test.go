package callbacks

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"llmgateway/internal/core"
	"llmgateway/internal/engine"
	"llmgateway/internal/events"
)

func detailed(ev events.Event) events.ModelEventWithDetails {
	return events.ModelEventWithDetails{
		Event: events.ModelEvent{
			ID:        "ev-1",
			RequestID: "req-1",
			Timestamp: time.Unix(1700000000, 0).UTC(),
			Event:     ev,
		},
		Model: engine.Model{
			Name:          "openai/gpt-4o",
			ProviderName:  "openai",
			UpstreamModel: "gpt-4o-2024-08-06",
			Tools:         engine.ModelTools{{Name: "lookup"}},
			Credentials:   core.APIKeyCredentials{APIKey: "sk-secret"},
			Tags:          core.Tags{"team": "search"},
		},
	}
}

type handlerFunc = events.CallbackHandlerFunc

func TestMulti_DeliversToAllAndJoinsErrors(t *testing.T) {
	var calls []string
	first := handlerFunc(func(context.Context, events.ModelEventWithDetails) error {
		calls = append(calls, "first")
		return errors.New("first failed")
	})
	panicky := handlerFunc(func(context.Context, events.ModelEventWithDetails) error {
		calls = append(calls, "panicky")
		panic("boom")
	})
	last := handlerFunc(func(context.Context, events.ModelEventWithDetails) error {
		calls = append(calls, "last")
		return nil
	})

	err := Multi(first, nil, panicky, last).OnEvent(context.Background(), detailed(events.LlmStart{}))
	assert.Equal(t, []string{"first", "panicky", "last"}, calls)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first failed")
	assert.Contains(t, err.Error(), "panicked")
}

func TestMulti_Empty(t *testing.T) {
	assert.NoError(t, Multi().OnEvent(context.Background(), detailed(events.LlmStart{})))
}

func TestLogger_LevelsAndRedaction(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	require.NoError(t, l.OnEvent(context.Background(), detailed(events.LlmContent{Content: "hi"})))
	assert.Empty(t, buf.String(), "content events are debug only")

	require.NoError(t, l.OnEvent(context.Background(), detailed(events.LlmStop{
		FinishReason: core.FinishReasonStop,
		Usage:        &core.Usage{PromptTokens: 3, CompletionTokens: 4},
	})))
	line := buf.String()
	assert.Equal(t, "model stopped", gjson.Get(line, "msg").String())
	assert.Equal(t, "stop", gjson.Get(line, "finish_reason").String())
	assert.Equal(t, int64(4), gjson.Get(line, "completion_tokens").Int())
	assert.NotContains(t, line, "sk-secret")

	buf.Reset()
	require.NoError(t, l.OnEvent(context.Background(), detailed(events.LlmError{Message: "upstream down"})))
	assert.Equal(t, "WARN", gjson.Get(buf.String(), "level").String())
}

func TestMetrics_RecordsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	ctx := context.Background()

	require.NoError(t, m.OnEvent(ctx, detailed(events.LlmFirstToken{TTFT: 250 * time.Millisecond})))
	require.NoError(t, m.OnEvent(ctx, detailed(events.ToolStart{ToolCall: core.ToolCall{ID: "c1"}, Declared: true})))
	require.NoError(t, m.OnEvent(ctx, detailed(events.LlmStop{Usage: &core.Usage{PromptTokens: 10, CompletionTokens: 5}})))
	require.NoError(t, m.OnEvent(ctx, detailed(events.Cost{Cost: core.Cost{TotalCost: 0.5}})))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("llm_stop", "openai", "openai/gpt-4o")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("openai", "openai/gpt-4o", "true")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.tokens.WithLabelValues("openai", "openai/gpt-4o", "prompt")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.tokens.WithLabelValues("openai", "openai/gpt-4o", "completion")))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.cost.WithLabelValues("openai", "openai/gpt-4o")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ttft))
}

type fakePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func TestNATSPublisher_PublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	p := NewNATSPublisher(pub, "llmgateway.events.")

	err := p.OnEvent(context.Background(), detailed(events.ToolStart{
		ToolCall: core.ToolCall{ID: "call_1", Type: "function", Function: core.FunctionCall{Name: "lookup", Arguments: "{}"}},
		Declared: true,
	}))
	require.NoError(t, err)

	require.Equal(t, []string{"llmgateway.events.tool_start"}, pub.subjects)
	body := string(pub.payloads[0])
	assert.Equal(t, "tool_start", gjson.Get(body, "type").String())
	assert.Equal(t, "openai/gpt-4o", gjson.Get(body, "model").String())
	assert.Equal(t, "gpt-4o-2024-08-06", gjson.Get(body, "upstream_model").String())
	assert.Equal(t, "search", gjson.Get(body, "tags.team").String())
	assert.Equal(t, "lookup", gjson.Get(body, "tools.0").String())
	assert.Equal(t, "call_1", gjson.Get(body, "payload.tool_call.id").String())
	assert.False(t, strings.Contains(body, "sk-secret"), "credentials must not be published")
}

func TestNATSPublisher_Subject(t *testing.T) {
	assert.Equal(t, "llm_stop", NewNATSPublisher(&fakePublisher{}, "").Subject(events.TypeLlmStop))
	assert.Equal(t, "gw.cost", NewNATSPublisher(&fakePublisher{}, "gw").Subject(events.TypeCost))
}

func TestNATSPublisher_PublishError(t *testing.T) {
	p := NewNATSPublisher(&fakePublisher{err: errors.New("nats: connection closed")}, "gw")
	err := p.OnEvent(context.Background(), detailed(events.LlmStart{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish llm_start event")
}
