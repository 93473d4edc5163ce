package llmclient

import (
	"net/http"
	"sync"
	"time"

	"llmgateway/internal/core"
)

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// CircuitBreaker stops calling an upstream that keeps failing. After Timeout it
// lets traffic through again (half-open) and closes once SuccessThreshold calls
// have succeeded.
type CircuitBreaker struct {
	mu               sync.Mutex
	provider         string
	state            circuitState
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	lastFailure      time.Time
}

// NewCircuitBreaker creates a closed breaker. A nil config returns nil, and a
// nil *CircuitBreaker allows everything.
func NewCircuitBreaker(provider string, cfg *CircuitBreakerConfig) *CircuitBreaker {
	if cfg == nil || cfg.FailureThreshold <= 0 {
		return nil
	}
	successThreshold := cfg.SuccessThreshold
	if successThreshold <= 0 {
		successThreshold = 1
	}
	return &CircuitBreaker{
		provider:         provider,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: successThreshold,
		timeout:          cfg.Timeout,
	}
}

// Allow reports whether a request may be sent.
func (cb *CircuitBreaker) Allow() bool {
	if cb == nil {
		return true
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == circuitOpen {
		if time.Since(cb.lastFailure) <= cb.timeout {
			return false
		}
		cb.state = circuitHalfOpen
		cb.successes = 0
	}
	return true
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = circuitClosed
			cb.failures = 0
		}
	case circuitClosed:
		cb.failures = 0
	}
}

// RecordFailure records a failed request.
func (cb *CircuitBreaker) RecordFailure() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	switch cb.state {
	case circuitClosed:
		if cb.failures >= cb.failureThreshold {
			cb.state = circuitOpen
		}
	case circuitHalfOpen:
		cb.state = circuitOpen
		cb.successes = 0
	}
}

// State returns closed, open or half-open.
func (cb *CircuitBreaker) State() string {
	if cb == nil {
		return "closed"
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// OpenError is returned while the breaker rejects requests.
func (cb *CircuitBreaker) OpenError() *core.GatewayError {
	provider := ""
	if cb != nil {
		provider = cb.provider
	}
	return core.NewProviderError(provider, http.StatusServiceUnavailable,
		"circuit breaker is open - provider temporarily unavailable", nil)
}

// Guard runs next under the breaker. It has the shape of an SDK HTTP middleware.
// Server errors, rate limits and transport failures count as failures.
func (cb *CircuitBreaker) Guard(req *http.Request, next func(*http.Request) (*http.Response, error)) (*http.Response, error) {
	if !cb.Allow() {
		return nil, cb.OpenError()
	}
	resp, err := next(req)
	switch {
	case err != nil:
		cb.RecordFailure()
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		cb.RecordFailure()
	default:
		cb.RecordSuccess()
	}
	return resp, err
}
