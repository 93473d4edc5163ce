package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		Version:   SnapshotVersion,
		UpdatedAt: time.Now().UTC(),
		Models: []CachedModel{
			{
				Model:         "gpt-4o",
				ModelProvider: "openai",
				Type:          "completions",
				Provider:      "openai",
				UpstreamModel: "gpt-4o-2024-08-06",
				Pricing:       &CachedPricing{Input: 2.5, Output: 10},
			},
		},
	}
}

func TestLocalCache(t *testing.T) {
	ctx := context.Background()

	t.Run("GetSetRoundTrip", func(t *testing.T) {
		c := NewLocalCache(filepath.Join(t.TempDir(), "catalog.json"))

		got, err := c.Get(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != nil {
			t.Fatalf("expected nil for empty cache, got %v", got)
		}

		if err := c.Set(ctx, sampleSnapshot()); err != nil {
			t.Fatalf("unexpected error on set: %v", err)
		}

		got, err = c.Get(ctx)
		if err != nil {
			t.Fatalf("unexpected error on get: %v", err)
		}
		if got == nil || len(got.Models) != 1 {
			t.Fatalf("expected one model, got %+v", got)
		}
		if got.Models[0].UpstreamModel != "gpt-4o-2024-08-06" {
			t.Errorf("UpstreamModel = %q", got.Models[0].UpstreamModel)
		}
		if got.Models[0].Pricing == nil || got.Models[0].Pricing.Output != 10 {
			t.Errorf("Pricing = %+v", got.Models[0].Pricing)
		}
	})

	t.Run("CreatesDirectory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "dir", "catalog.json")
		c := NewLocalCache(path)
		if err := c.Set(ctx, sampleSnapshot()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("cache file not created: %v", err)
		}
		entries, _ := os.ReadDir(filepath.Dir(path))
		if len(entries) != 1 {
			t.Errorf("temp files left behind: %v", entries)
		}
	})

	t.Run("StaleVersionIgnored", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "catalog.json")
		if err := os.WriteFile(path, []byte(`{"version":1,"models":[]}`), 0o644); err != nil {
			t.Fatal(err)
		}
		got, err := NewLocalCache(path).Get(ctx)
		if err != nil || got != nil {
			t.Errorf("expected nil, nil for an old snapshot, got %v, %v", got, err)
		}
	})

	t.Run("CorruptFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "catalog.json")
		if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := NewLocalCache(path).Get(ctx); err == nil {
			t.Error("expected parse error")
		}
	})

	t.Run("EmptyPathDisabled", func(t *testing.T) {
		c := NewLocalCache("")
		if err := c.Set(ctx, sampleSnapshot()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if got, err := c.Get(ctx); got != nil || err != nil {
			t.Errorf("expected nil, nil, got %v, %v", got, err)
		}
	})
}

func TestNewRedisCache_InvalidURL(t *testing.T) {
	if _, err := NewRedisCache(context.Background(), RedisConfig{URL: "://nope"}); err == nil {
		t.Error("expected error for invalid URL")
	}
}

func TestNewRedisCache_Defaults(t *testing.T) {
	c := newRedisCache(nil, "", 0)
	if c.key != DefaultRedisKey {
		t.Errorf("key = %q", c.key)
	}
	if c.ttl != DefaultRedisTTL {
		t.Errorf("ttl = %v", c.ttl)
	}
}
