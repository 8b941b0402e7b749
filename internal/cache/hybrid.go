package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"llmgate/internal/utils"
)

// HybridCache is a two-tier cache: a fast in-process LRU backed by an
// optional shared Redis tier. Values are stored JSON-encoded in both tiers so
// a remote hit and a local hit decode identically.
//
// The remote tier is never a hard dependency: remote errors are treated as a
// cache miss and the caller falls through to the durable store.
type HybridCache struct {
	local  *LRUCache
	remote *redis.Client // nil when no shared cache is configured
	ttl    time.Duration
	logger *utils.Logger
	opened bool
}

// NewHybridCache creates a hybrid cache. remote may be nil.
func NewHybridCache(capacity int, ttl time.Duration, remote *redis.Client) *HybridCache {
	return &HybridCache{
		local:  NewLRUCache(capacity, ttl),
		remote: remote,
		ttl:    ttl,
		logger: utils.NewLogger("hybrid-cache"),
	}
}

// Open verifies the remote tier is reachable. Called once at startup; a
// failing remote is logged and the cache degrades to local-only.
func (c *HybridCache) Open(ctx context.Context) error {
	if c.remote != nil {
		if err := c.remote.Ping(ctx).Err(); err != nil {
			c.logger.Warn("remote cache unreachable, running local-only", "error", err)
		}
	}
	c.opened = true
	return nil
}

// Close tears down the cache resource.
func (c *HybridCache) Close() error {
	c.local.Clear()
	c.opened = false
	return nil
}

// Get looks up key, local tier first, and decodes the value into dest.
// Returns false when neither tier has it. A remote hit is written back to
// the local tier.
func (c *HybridCache) Get(ctx context.Context, key string, dest any) bool {
	if raw, found := c.local.Get(key); found {
		if b, ok := raw.([]byte); ok {
			if err := json.Unmarshal(b, dest); err == nil {
				return true
			}
			c.local.Delete(key)
		}
		return false
	}

	if c.remote == nil {
		return false
	}

	b, err := c.remote.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("remote cache read failed, treating as miss", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(b, dest); err != nil {
		return false
	}
	c.local.SetWithTTL(key, b, c.ttl)
	return true
}

// Set writes the value to both tiers with the given TTL (cache default when
// ttl <= 0). Remote write failures are logged, never propagated.
func (c *HybridCache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	b, err := json.Marshal(value)
	if err != nil {
		c.logger.Error("failed to encode cache value", "key", key, "error", err)
		return
	}

	c.local.SetWithTTL(key, b, ttl)

	if c.remote != nil {
		if err := c.remote.Set(ctx, key, b, ttl).Err(); err != nil {
			c.logger.Debug("remote cache write failed", "key", key, "error", err)
		}
	}
}

// Delete removes key from both tiers. Used on explicit mutation so stale
// authorization decisions are never served.
func (c *HybridCache) Delete(ctx context.Context, key string) {
	c.local.Delete(key)

	if c.remote != nil {
		if err := c.remote.Del(ctx, key).Err(); err != nil {
			c.logger.Debug("remote cache delete failed", "key", key, "error", err)
		}
	}
}
