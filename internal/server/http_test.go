package server

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"llmgateway/internal/core"
)

func TestRequestIDMiddleware(t *testing.T) {
	exec := &recordingExecutor{}
	srv := New(exec, noModels{}, nil)

	t.Run("generates request id", func(t *testing.T) {
		rec := postJSON(srv, "/v1/chat/completions", chatBody, nil)

		id := rec.Header().Get("X-Request-ID")
		if len(id) != 36 {
			t.Fatalf("expected UUID request id, got %q", id)
		}
		if got := core.GetRequestID(exec.ctx); got != id {
			t.Errorf("request context carries %q, response header %q", got, id)
		}
	})

	t.Run("preserves client request id", func(t *testing.T) {
		rec := postJSON(srv, "/v1/chat/completions", chatBody, map[string]string{"X-Request-ID": "client-id-1"})

		if got := rec.Header().Get("X-Request-ID"); got != "client-id-1" {
			t.Errorf("expected client-id-1, got %q", got)
		}
		if got := core.GetRequestID(exec.ctx); got != "client-id-1" {
			t.Errorf("expected client-id-1 in context, got %q", got)
		}
	})
}

func TestCompressedBodies(t *testing.T) {
	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write([]byte(chatBody))
	_ = gw.Close()

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	_, _ = bw.Write([]byte(chatBody))
	_ = bw.Close()

	tests := []struct {
		name     string
		encoding string
		body     []byte
	}{
		{name: "gzip", encoding: "gzip", body: gz.Bytes()},
		{name: "brotli", encoding: "br", body: br.Bytes()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &recordingExecutor{}
			srv := New(exec, noModels{}, nil)

			req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Content-Encoding", tt.encoding)
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			if exec.model != "openai/gpt-4" {
				t.Errorf("body was not decoded, model %q", exec.model)
			}
		})
	}
}

func TestCredentialsMiddleware(t *testing.T) {
	t.Run("no headers", func(t *testing.T) {
		exec := &recordingExecutor{}
		srv := New(exec, noModels{}, nil)

		rec := postJSON(srv, "/v1/chat/completions", chatBody, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if _, ok := core.CredentialsFromContext(exec.ctx); ok {
			t.Error("expected no credentials")
		}
	})

	t.Run("api key", func(t *testing.T) {
		exec := &recordingExecutor{}
		srv := New(exec, noModels{}, nil)

		postJSON(srv, "/v1/chat/completions", chatBody, map[string]string{HeaderProviderAPIKey: "sk-caller"})
		creds, ok := core.CredentialsFromContext(exec.ctx)
		if !ok {
			t.Fatal("expected credentials")
		}
		if creds.Key() != "sk-caller" {
			t.Errorf("expected sk-caller, got %q", creds.Key())
		}
		if ep := core.CredentialsEndpoint(creds); ep != "" {
			t.Errorf("expected no endpoint, got %q", ep)
		}
	})

	t.Run("api key with endpoint", func(t *testing.T) {
		exec := &recordingExecutor{}
		srv := New(exec, noModels{}, nil)

		postJSON(srv, "/v1/chat/completions", chatBody, map[string]string{
			HeaderProviderAPIKey:   "sk-caller",
			HeaderProviderEndpoint: "https://llm.example.com/v1",
		})
		creds, ok := core.CredentialsFromContext(exec.ctx)
		if !ok {
			t.Fatal("expected credentials")
		}
		if ep := core.CredentialsEndpoint(creds); ep != "https://llm.example.com/v1" {
			t.Errorf("unexpected endpoint %q", ep)
		}
	})

	rejected := []struct {
		name    string
		headers map[string]string
	}{
		{name: "endpoint without key", headers: map[string]string{HeaderProviderEndpoint: "https://llm.example.com"}},
		{name: "relative endpoint", headers: map[string]string{HeaderProviderAPIKey: "k", HeaderProviderEndpoint: "/v1"}},
		{name: "non-http endpoint", headers: map[string]string{HeaderProviderAPIKey: "k", HeaderProviderEndpoint: "file:///etc/passwd"}},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			exec := &recordingExecutor{}
			srv := New(exec, noModels{}, nil)

			rec := postJSON(srv, "/v1/chat/completions", chatBody, tt.headers)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if exec.ctx != nil {
				t.Error("executor should not run")
			}
		})
	}
}

func TestTagsMiddleware(t *testing.T) {
	exec := &recordingExecutor{}
	srv := New(exec, noModels{}, nil)

	rec := postJSON(srv, "/v1/chat/completions", chatBody, map[string]string{HeaderTags: "team=search, env=prod"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	tags := core.TagsFromContext(exec.ctx)
	if tags["team"] != "search" || tags["env"] != "prod" {
		t.Errorf("unexpected tags %v", tags)
	}

	exec.ctx = nil
	rec = postJSON(srv, "/v1/chat/completions", chatBody, map[string]string{HeaderTags: "novalue"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed tags: expected 400, got %d", rec.Code)
	}
	if exec.ctx != nil {
		t.Error("executor should not run on malformed tags")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "llmgateway_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()
	metrics := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	tests := []struct {
		name     string
		cfg      *Config
		path     string
		wantCode int
	}{
		{name: "disabled", cfg: &Config{MetricsEnabled: false}, path: "/metrics", wantCode: http.StatusNotFound},
		{name: "default path", cfg: &Config{MetricsEnabled: true, MetricsHandler: metrics}, path: "/metrics", wantCode: http.StatusOK},
		{name: "custom path", cfg: &Config{MetricsEnabled: true, MetricsEndpoint: "/internal/prom", MetricsHandler: metrics}, path: "/internal/prom", wantCode: http.StatusOK},
		{name: "path without slash", cfg: &Config{MetricsEnabled: true, MetricsEndpoint: "stats", MetricsHandler: metrics}, path: "/stats", wantCode: http.StatusOK},
		{name: "traversal normalized", cfg: &Config{MetricsEnabled: true, MetricsEndpoint: "/foo/../admin", MetricsHandler: metrics}, path: "/admin", wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(&recordingExecutor{}, noModels{}, tt.cfg)

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if tt.wantCode == http.StatusOK && !strings.Contains(rec.Body.String(), "llmgateway_test_total 1") {
				t.Errorf("metrics body missing counter: %s", rec.Body.String())
			}
		})
	}
}

func TestBodyLimit(t *testing.T) {
	largeBody := strings.Repeat("x", 11*1024*1024)

	t.Run("default limit rejects 11MB", func(t *testing.T) {
		srv := New(&recordingExecutor{}, noModels{}, nil)
		rec := postJSON(srv, "/v1/chat/completions", largeBody, nil)
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected 413, got %d", rec.Code)
		}
	})

	t.Run("applies to all routes", func(t *testing.T) {
		srv := New(&recordingExecutor{}, noModels{}, nil)
		req := httptest.NewRequest(http.MethodPost, "/health", strings.NewReader(largeBody))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected 413, got %d", rec.Code)
		}
	})

	t.Run("configured limit", func(t *testing.T) {
		srv := New(&recordingExecutor{}, noModels{}, &Config{BodySizeLimit: "1K"})
		rec := postJSON(srv, "/v1/chat/completions", strings.Repeat("x", 2048), nil)
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected 413, got %d", rec.Code)
		}
	})

	t.Run("limit applies after decompression", func(t *testing.T) {
		var gz bytes.Buffer
		gw := gzip.NewWriter(&gz)
		_, _ = gw.Write([]byte(`{"model":"` + strings.Repeat("a", 4096) + `"}`))
		_ = gw.Close()

		exec := &recordingExecutor{}
		srv := New(exec, noModels{}, &Config{BodySizeLimit: "1K"})
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(gz.Bytes()))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Content-Encoding", "gzip")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected 413, got %d: %s", rec.Code, rec.Body.String())
		}
		if exec.ctx != nil {
			t.Error("executor should not run")
		}
	})
}
