package callbacks

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"llmgateway/internal/events"
)

// Metrics records model events as Prometheus metrics.
type Metrics struct {
	events    *prometheus.CounterVec
	toolCalls *prometheus.CounterVec
	tokens    *prometheus.CounterVec
	ttft      *prometheus.HistogramVec
	cost      *prometheus.CounterVec
}

// NewMetrics registers the metrics with reg. A nil reg means the default
// registerer. Registering twice with the same registerer panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "llmgateway_model_events_total",
			Help: "Model events emitted, by event type.",
		}, []string{"type", "provider", "model"}),
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "llmgateway_tool_calls_total",
			Help: "Tool calls requested by models.",
		}, []string{"provider", "model", "declared"}),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "llmgateway_tokens_total",
			Help: "Tokens reported by upstreams, by direction.",
		}, []string{"provider", "model", "direction"}),
		ttft: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llmgateway_time_to_first_token_seconds",
			Help:    "Latency from the upstream call to the first token.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider", "model"}),
		cost: f.NewCounterVec(prometheus.CounterOpts{
			Name: "llmgateway_cost_usd_total",
			Help: "Priced cost of requests in USD.",
		}, []string{"provider", "model"}),
	}
}

func (m *Metrics) OnEvent(_ context.Context, ev events.ModelEventWithDetails) error {
	provider, model := ev.Model.ProviderName, ev.Model.Name
	m.events.WithLabelValues(string(ev.Event.Event.Type()), provider, model).Inc()

	switch e := ev.Event.Event.(type) {
	case events.LlmFirstToken:
		m.ttft.WithLabelValues(provider, model).Observe(e.TTFT.Seconds())
	case events.ToolStart:
		m.toolCalls.WithLabelValues(provider, model, strconv.FormatBool(e.Declared)).Inc()
	case events.LlmStop:
		if e.Usage != nil {
			m.tokens.WithLabelValues(provider, model, "prompt").Add(float64(e.Usage.PromptTokens))
			m.tokens.WithLabelValues(provider, model, "completion").Add(float64(e.Usage.CompletionTokens))
		}
	case events.Cost:
		m.cost.WithLabelValues(provider, model).Add(e.Cost.TotalCost)
	}
	return nil
}
