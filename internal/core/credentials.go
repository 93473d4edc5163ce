package core

import (
	"context"
	"log/slog"
)

// Credentials is per-request secret material supplied by the caller. The set of
// variants is closed; use a type switch to read one.
type Credentials interface {
	slog.LogValuer
	// Key returns the API key carried by the credentials.
	Key() string
	credentials()
}

// APIKeyCredentials carries a bare API key.
type APIKeyCredentials struct {
	APIKey string
}

// APIKeyWithEndpointCredentials carries an API key bound to a caller-chosen endpoint.
type APIKeyWithEndpointCredentials struct {
	APIKey   string
	Endpoint string
}

func (APIKeyCredentials) credentials()             {}
func (APIKeyWithEndpointCredentials) credentials() {}

func (c APIKeyCredentials) Key() string             { return c.APIKey }
func (c APIKeyWithEndpointCredentials) Key() string { return c.APIKey }

func (c APIKeyCredentials) String() string { return "api_key(" + redact(c.APIKey) + ")" }

func (c APIKeyWithEndpointCredentials) String() string {
	return "api_key(" + redact(c.APIKey) + ")@" + c.Endpoint
}

// LogValue keeps the key out of logs.
func (c APIKeyCredentials) LogValue() slog.Value {
	return slog.GroupValue(slog.String("kind", "api_key"), slog.String("api_key", redact(c.APIKey)))
}

// LogValue keeps the key out of logs.
func (c APIKeyWithEndpointCredentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", "api_key_with_endpoint"),
		slog.String("api_key", redact(c.APIKey)),
		slog.String("endpoint", c.Endpoint),
	)
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "[REDACTED]"
}

// WithCredentials attaches caller credentials to the context. A nil value is ignored.
func WithCredentials(ctx context.Context, c Credentials) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, credentialsKey, c)
}

// CredentialsFromContext returns the credentials attached to ctx, if any.
func CredentialsFromContext(ctx context.Context) (Credentials, bool) {
	c, ok := ctx.Value(credentialsKey).(Credentials)
	return c, ok
}

// CredentialsEndpoint returns the endpoint override carried by c, or "".
func CredentialsEndpoint(c Credentials) string {
	if withEndpoint, ok := c.(APIKeyWithEndpointCredentials); ok {
		return withEndpoint.Endpoint
	}
	return ""
}
