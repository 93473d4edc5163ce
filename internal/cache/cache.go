// Package cache stores catalogue snapshots so that a starting gateway can serve
// the last known model list immediately and so that several instances can share
// one list. Local (file) and Redis backends are provided.
package cache

import (
	"context"
	"time"
)

// SnapshotVersion is bumped whenever CachedModel changes shape.
const SnapshotVersion = 2

// Snapshot is the cached catalogue.
type Snapshot struct {
	Version   int           `json:"version"`
	UpdatedAt time.Time     `json:"updated_at"`
	Models    []CachedModel `json:"models"`
}

// CachedModel is one catalogue entry in cached form.
type CachedModel struct {
	Model         string         `json:"model"`
	ModelProvider string         `json:"model_provider"`
	Type          string         `json:"type"`
	Description   string         `json:"description,omitempty"`
	Provider      string         `json:"provider"`
	UpstreamModel string         `json:"upstream_model"`
	Endpoint      string         `json:"endpoint,omitempty"`
	Pricing       *CachedPricing `json:"pricing,omitempty"`
}

// CachedPricing holds USD prices per million tokens.
type CachedPricing struct {
	Input       float64 `json:"input"`
	CachedInput float64 `json:"cached_input,omitempty"`
	Output      float64 `json:"output"`
}

// Cache defines the interface for catalogue snapshot storage.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves the snapshot. Returns nil, nil if nothing is cached yet.
	Get(ctx context.Context) (*Snapshot, error)

	// Set stores the snapshot.
	Set(ctx context.Context, snapshot *Snapshot) error

	// Close releases any resources held by the cache.
	Close() error
}
