// Package cache provides the key/value cache used for derived data such as
// per-scope equipment statistics. Backends are constructed explicitly and
// injected; there is no package-level instance.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aed-compliance/platform/internal/shared/config"
	"github.com/aed-compliance/platform/internal/shared/metrics"
)

// ErrNotFound is returned by Get for a missing or expired key.
var ErrNotFound = errors.New("cache: key not found")

// Cache is a byte-valued cache with per-entry TTL. A zero TTL uses the
// backend default. Implementations are safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Flush removes every key owned by this cache.
	Flush(ctx context.Context) error
	Close() error
}

// New builds the backend selected by cfg.Driver.
func New(ctx context.Context, cfg config.CacheConfig) (Cache, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedis(ctx, cfg)
	case "memory", "":
		return NewMemory(cfg.TTL), nil
	default:
		return nil, fmt.Errorf("cache: unknown driver %q", cfg.Driver)
	}
}

// GetJSON decodes the cached value of key into a T. name labels the lookup
// in metrics.
func GetJSON[T any](ctx context.Context, c Cache, name, key string) (T, bool) {
	var v T
	raw, err := c.Get(ctx, key)
	if err != nil {
		metrics.RecordCacheLookup(name, false)
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		metrics.RecordCacheLookup(name, false)
		return v, false
	}
	metrics.RecordCacheLookup(name, true)
	return v, true
}

// SetJSON stores v as JSON under key.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	return c.Set(ctx, key, raw, ttl)
}
