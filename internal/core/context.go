package core

import (
	"context"
	"fmt"
	"maps"
	"strings"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	requestIDKey   contextKey = "request-id"
	tagsKey        contextKey = "tags"
	credentialsKey contextKey = "credentials"
)

// WithRequestID returns a new context with the request ID attached.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
// Returns empty string if not found.
func GetRequestID(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// Tags are free-form key/value pairs supplied by the caller for telemetry correlation.
type Tags map[string]string

// Clone returns an independent copy of the tags.
func (t Tags) Clone() Tags {
	if t == nil {
		return nil
	}
	return maps.Clone(t)
}

// ParseTags parses a header value of the form "k1=v1,k2=v2" (";" is accepted too).
// Empty segments are skipped; a segment without "=" or with an empty key is rejected.
func ParseTags(header string) (Tags, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}
	tags := Tags{}
	segments := strings.FieldsFunc(header, func(r rune) bool { return r == ',' || r == ';' })
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		key, value, ok := strings.Cut(seg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, NewInvalidRequestError(fmt.Sprintf("malformed tag %q, expected key=value", seg), nil)
		}
		tags[key] = strings.TrimSpace(value)
	}
	return tags, nil
}

// WithTags attaches tags to the context.
func WithTags(ctx context.Context, tags Tags) context.Context {
	return context.WithValue(ctx, tagsKey, tags)
}

// TagsFromContext returns the tags attached to ctx, or nil.
func TagsFromContext(ctx context.Context) Tags {
	if tags, ok := ctx.Value(tagsKey).(Tags); ok {
		return tags
	}
	return nil
}
