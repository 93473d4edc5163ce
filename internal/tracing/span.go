// Package tracing carries an explicit per-request span through context.Context.
//
// Spans are plain values owned by the request; there is no global tracer. Every
// method is safe on a nil *Span so components can run without one.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type spanKey struct{}

// Span records attributes and errors for one unit of work.
type Span struct {
	ID       string
	ParentID string
	Name     string
	Start    time.Time

	mu     sync.Mutex
	attrs  map[string]any
	end    time.Time
	ended  bool
	logger *slog.Logger
}

// Start opens a span named name as a child of the span already in ctx, if any.
func Start(ctx context.Context, name string) (context.Context, *Span) {
	span := &Span{
		ID:     uuid.NewString(),
		Name:   name,
		Start:  time.Now(),
		attrs:  make(map[string]any),
		logger: slog.Default(),
	}
	if parent := FromContext(ctx); parent != nil {
		span.ParentID = parent.ID
	}
	return ContextWithSpan(ctx, span), span
}

// ContextWithSpan returns a context carrying span.
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, spanKey{}, span)
}

// FromContext returns the span carried by ctx, or nil.
func FromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(spanKey{}).(*Span)
	return span
}

// SpanID returns the ID of the span in ctx, or "".
func SpanID(ctx context.Context) string {
	if span := FromContext(ctx); span != nil {
		return span.ID
	}
	return ""
}

// SetAttr records a key/value attribute.
func (s *Span) SetAttr(key string, value any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.attrs[key] = value
	s.mu.Unlock()
}

// Attr returns the attribute stored under key.
func (s *Span) Attr(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[key]
	return v, ok
}

// RecordError stores err as the span's "error" attribute and returns it unchanged.
func (s *Span) RecordError(err error) error {
	if s == nil || err == nil {
		return err
	}
	s.mu.Lock()
	s.attrs["error"] = err.Error()
	s.mu.Unlock()
	return err
}

// End closes the span and logs a summary at debug level. Only the first call has effect.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.end = time.Now()
	attrs := make([]any, 0, 2*len(s.attrs)+8)
	attrs = append(attrs, "span", s.Name, "span_id", s.ID, "duration", s.end.Sub(s.Start))
	if s.ParentID != "" {
		attrs = append(attrs, "parent_id", s.ParentID)
	}
	for k, v := range s.attrs {
		attrs = append(attrs, k, v)
	}
	s.mu.Unlock()

	s.logger.Debug("span ended", attrs...)
}

// Duration is the span's length, or the time since Start if it has not ended.
func (s *Span) Duration() time.Duration {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return s.end.Sub(s.Start)
	}
	return time.Since(s.Start)
}
