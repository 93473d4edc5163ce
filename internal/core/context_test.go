package core

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseTags(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    Tags
		wantErr bool
	}{
		{name: "empty", header: "", want: nil},
		{name: "single", header: "team=search", want: Tags{"team": "search"}},
		{name: "comma and semicolon", header: "team=search; env=prod,run=42", want: Tags{"team": "search", "env": "prod", "run": "42"}},
		{name: "empty value", header: "flag=", want: Tags{"flag": ""}},
		{name: "trailing separator", header: "a=1,", want: Tags{"a": "1"}},
		{name: "missing equals", header: "a=1,broken", wantErr: true},
		{name: "missing key", header: "=value", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTags(tt.header)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("tag %q = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestTagsContext(t *testing.T) {
	ctx := context.Background()
	if TagsFromContext(ctx) != nil {
		t.Error("expected no tags on a bare context")
	}
	ctx = WithTags(ctx, Tags{"k": "v"})
	if TagsFromContext(ctx)["k"] != "v" {
		t.Error("tags not found on context")
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("GetRequestID() = %q", got)
	}
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() on empty context = %q", got)
	}
}

func TestCredentialsContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := CredentialsFromContext(ctx); ok {
		t.Fatal("expected no credentials")
	}
	if WithCredentials(ctx, nil) != ctx {
		t.Error("nil credentials should not wrap the context")
	}

	ctx = WithCredentials(ctx, APIKeyWithEndpointCredentials{APIKey: "sk-secret", Endpoint: "https://example.test/v1"})
	creds, ok := CredentialsFromContext(ctx)
	if !ok {
		t.Fatal("credentials not found")
	}
	if creds.Key() != "sk-secret" {
		t.Errorf("Key() = %q", creds.Key())
	}
	if CredentialsEndpoint(creds) != "https://example.test/v1" {
		t.Errorf("CredentialsEndpoint() = %q", CredentialsEndpoint(creds))
	}
	if CredentialsEndpoint(APIKeyCredentials{APIKey: "x"}) != "" {
		t.Error("bare API key has no endpoint")
	}
}

func TestCredentialsAreRedacted(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	creds := APIKeyCredentials{APIKey: "sk-very-secret"}
	logger.Info("request", "credentials", creds)

	if strings.Contains(buf.String(), "sk-very-secret") {
		t.Fatalf("log output leaked the key: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "[REDACTED]") {
		t.Errorf("expected redaction marker in %s", buf.String())
	}
	if strings.Contains(creds.String(), "sk-very-secret") {
		t.Errorf("String() leaked the key: %s", creds.String())
	}
}
