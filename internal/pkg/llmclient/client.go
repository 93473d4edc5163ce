// Package llmclient is a small JSON-over-HTTP client for upstream LLM endpoints
// that the vendor SDKs do not cover. It retries with exponential backoff and
// jitter, parses upstream errors into core.GatewayError and trips a circuit
// breaker on repeated failures.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"llmgateway/config"
	"llmgateway/internal/core"
	"llmgateway/internal/httpclient"
)

// Config holds configuration for the client
type Config struct {
	// ProviderName identifies the provider in errors
	ProviderName string
	BaseURL      string

	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	JitterFactor   float64

	CircuitBreaker *CircuitBreakerConfig
}

// CircuitBreakerConfig holds circuit breaker settings
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// DefaultConfig returns default client configuration
func DefaultConfig(providerName, baseURL string) Config {
	return ConfigFromResilience(providerName, baseURL, config.Defaults().Resilience)
}

// ConfigFromResilience builds a Config from the resilience section of the gateway config.
func ConfigFromResilience(providerName, baseURL string, r config.ResilienceConfig) Config {
	cfg := Config{
		ProviderName:   providerName,
		BaseURL:        baseURL,
		MaxRetries:     r.Retry.MaxRetries,
		InitialBackoff: r.Retry.InitialBackoff,
		MaxBackoff:     r.Retry.MaxBackoff,
		BackoffFactor:  r.Retry.BackoffFactor,
		JitterFactor:   r.Retry.JitterFactor,
	}
	if r.CircuitBreaker.FailureThreshold > 0 {
		cfg.CircuitBreaker = &CircuitBreakerConfig{
			FailureThreshold: r.CircuitBreaker.FailureThreshold,
			SuccessThreshold: r.CircuitBreaker.SuccessThreshold,
			Timeout:          r.CircuitBreaker.Timeout,
		}
	}
	return cfg
}

// HeaderSetter sets provider headers such as authorization on a request
type HeaderSetter func(req *http.Request)

// Client is a base HTTP client for LLM providers
type Client struct {
	httpClient   *http.Client
	config       Config
	headerSetter HeaderSetter
	breaker      *CircuitBreaker
}

// New creates a client on the shared default transport.
func New(cfg Config, headerSetter HeaderSetter) *Client {
	return NewWithHTTPClient(httpclient.NewDefaultHTTPClient(), cfg, headerSetter, nil)
}

// NewWithHTTPClient creates a client on httpClient. When breaker is nil one is
// built from cfg.CircuitBreaker, so callers can share a breaker with other
// clients talking to the same upstream.
func NewWithHTTPClient(httpClient *http.Client, cfg Config, headerSetter HeaderSetter, breaker *CircuitBreaker) *Client {
	if breaker == nil {
		breaker = NewCircuitBreaker(cfg.ProviderName, cfg.CircuitBreaker)
	}
	return &Client{
		httpClient:   httpClient,
		config:       cfg,
		headerSetter: headerSetter,
		breaker:      breaker,
	}
}

// BaseURL returns the configured base URL
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Breaker returns the client's circuit breaker, possibly nil.
func (c *Client) Breaker() *CircuitBreaker {
	return c.breaker
}

// Request represents an HTTP request to be made
type Request struct {
	Method   string
	Endpoint string
	// Body is JSON encoded when not nil
	Body    any
	Headers map[string]string
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Body       []byte
}

// Do executes a request with retries and circuit breaking, then decodes the body into result
func (c *Client) Do(ctx context.Context, req Request, result any) error {
	resp, err := c.DoRaw(ctx, req)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, result); err != nil {
		return core.NewProviderError(c.config.ProviderName, http.StatusBadGateway, "failed to decode response: "+err.Error(), err)
	}
	return nil
}

// DoRaw executes a request with retries and circuit breaking, returning the raw response
func (c *Client) DoRaw(ctx context.Context, req Request) (*Response, error) {
	if !c.breaker.Allow() {
		return nil, c.breaker.OpenError()
	}

	var lastErr error
	attempts := max(c.config.MaxRetries+1, 1)

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff(attempt)):
			}
		}

		resp, err := c.doRequest(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.breaker.RecordFailure()
			lastErr = err
			continue
		}

		if isRetryable(resp.StatusCode) {
			c.breaker.RecordFailure()
			lastErr = core.ParseProviderError(c.config.ProviderName, resp.StatusCode, resp.Body, nil)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			if resp.StatusCode >= 500 {
				c.breaker.RecordFailure()
			}
			return nil, core.ParseProviderError(c.config.ProviderName, resp.StatusCode, resp.Body, nil)
		}

		c.breaker.RecordSuccess()
		return resp, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, core.NewProviderError(c.config.ProviderName, http.StatusBadGateway, "request failed after retries", nil)
}

func (c *Client) doRequest(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewProviderError(c.config.ProviderName, http.StatusBadGateway, "failed to send request: "+err.Error(), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewProviderError(c.config.ProviderName, http.StatusBadGateway, "failed to read response: "+err.Error(), err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	url := strings.TrimSuffix(c.config.BaseURL, "/") + req.Endpoint

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, core.NewInvalidRequestError("failed to marshal request", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to create request", err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if id := core.GetRequestID(ctx); id != "" {
		httpReq.Header.Set("X-Request-Id", id)
	}
	if c.headerSetter != nil {
		c.headerSetter(httpReq)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	return httpReq, nil
}

// backoff returns the wait before retry number attempt (1-based), with jitter.
func (c *Client) backoff(attempt int) time.Duration {
	d := float64(c.config.InitialBackoff) * math.Pow(c.config.BackoffFactor, float64(attempt-1))
	if maxBackoff := float64(c.config.MaxBackoff); maxBackoff > 0 && d > maxBackoff {
		d = maxBackoff
	}
	if c.config.JitterFactor > 0 {
		d += d * c.config.JitterFactor * (2*rand.Float64() - 1)
	}
	return time.Duration(max(d, 0))
}

func isRetryable(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusGatewayTimeout
}
