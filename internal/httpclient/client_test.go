package httpclient

import (
	"testing"
	"time"

	"llmgateway/config"
)

func TestConfigFromHTTP(t *testing.T) {
	cfg := ConfigFromHTTP(config.HTTPConfig{Timeout: 30, ResponseHeaderTimeout: 5})
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v", cfg.Timeout)
	}
	if cfg.ResponseHeaderTimeout != 5*time.Second {
		t.Errorf("ResponseHeaderTimeout = %v", cfg.ResponseHeaderTimeout)
	}

	def := ConfigFromHTTP(config.HTTPConfig{})
	if def.Timeout != DefaultConfig().Timeout {
		t.Errorf("zero values should keep defaults, got %v", def.Timeout)
	}
}

func TestNewHTTPClient(t *testing.T) {
	c := NewHTTPClient(&ClientConfig{Timeout: 7 * time.Second})
	if c.Timeout != 7*time.Second {
		t.Errorf("Timeout = %v", c.Timeout)
	}
	if NewDefaultHTTPClient().Timeout != 600*time.Second {
		t.Error("default client should use the ten minute timeout")
	}
}
