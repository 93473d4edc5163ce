package callbacks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"llmgateway/internal/core"
	"llmgateway/internal/events"
)

// Publisher is the part of *nats.Conn the publisher needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes every model event as JSON on
// "<prefix>.<event type>".
type NATSPublisher struct {
	pub    Publisher
	prefix string
}

// NewNATSPublisher creates a publisher. An empty prefix publishes on the bare
// event type.
func NewNATSPublisher(pub Publisher, prefix string) *NATSPublisher {
	return &NATSPublisher{pub: pub, prefix: strings.TrimSuffix(prefix, ".")}
}

// ConnectNATS dials the server at url.
func ConnectNATS(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("llmgateway"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return conn, nil
}

// publishedEvent is the wire form of an event. Credentials are never part of it.
type publishedEvent struct {
	ID            string       `json:"id"`
	Type          events.Type  `json:"type"`
	SpanID        string       `json:"span_id,omitempty"`
	RequestID     string       `json:"request_id,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
	Model         string       `json:"model"`
	Provider      string       `json:"provider"`
	UpstreamModel string       `json:"upstream_model"`
	ModelType     string       `json:"model_type,omitempty"`
	Tools         []string     `json:"tools,omitempty"`
	Tags          core.Tags    `json:"tags,omitempty"`
	Payload       events.Event `json:"payload"`
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(t events.Type) string {
	if p.prefix == "" {
		return string(t)
	}
	return p.prefix + "." + string(t)
}

func (p *NATSPublisher) OnEvent(_ context.Context, ev events.ModelEventWithDetails) error {
	e := ev.Event
	data, err := json.Marshal(publishedEvent{
		ID:            e.ID,
		Type:          e.Event.Type(),
		SpanID:        e.SpanID,
		RequestID:     e.RequestID,
		Timestamp:     e.Timestamp,
		Model:         ev.Model.Name,
		Provider:      ev.Model.ProviderName,
		UpstreamModel: ev.Model.UpstreamModel,
		ModelType:     string(ev.Model.ModelType),
		Tools:         ev.Model.Tools.Names(),
		Tags:          ev.Model.Tags,
		Payload:       e.Event,
	})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Event.Type(), err)
	}
	if err := p.pub.Publish(p.Subject(e.Event.Type()), data); err != nil {
		return fmt.Errorf("publish %s event: %w", e.Event.Type(), err)
	}
	return nil
}
