// Package thoughtcache backs the Google multi-turn thought-signature cache
// (C15): some client SDKs drop vendor-specific extra_content, so every
// signature the Gemini adapter observes is cached by tool-call id with a
// 24h TTL and re-injected on a follow-up request.
//
// Grounded on the one Redis client pattern found in the retrieval pack
// (go-redis/v9 usage for simple key-value caching). The log queue (C9)
// opens its own client to the same Redis DSN for its FIFO; the two do not
// share a client.
package thoughtcache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL matches spec.md §9's 24h thought-signature cache window.
const TTL = 24 * time.Hour

const keyPrefix = "thought_signature:"

// Cache wraps a redis client for thought-signature storage.
type Cache struct {
	rdb *redis.Client
}

// New builds a Cache from a redis:// DSN.
func New(dsn string) (*Cache, error) {
	opt, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	return &Cache{rdb: redis.NewClient(opt)}, nil
}

// NewFromClient wraps an already-constructed client (tests, shared pools).
func NewFromClient(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// Put stores signature under toolCallID with a 24h TTL. Redis errors are
// swallowed with a warning log, per spec.md §7's explicit propagation
// policy for this cache.
func (c *Cache) Put(ctx context.Context, toolCallID, signature string) {
	if c == nil || c.rdb == nil || toolCallID == "" {
		return
	}
	if err := c.rdb.SetEx(ctx, keyPrefix+toolCallID, signature, TTL).Err(); err != nil {
		slog.WarnContext(ctx, "thoughtcache: SETEX failed", "tool_call_id", toolCallID, "error", err)
	}
}

// Get looks up a previously cached signature. Any Redis error (including a
// miss) is swallowed; ok reports whether a signature was found.
func (c *Cache) Get(ctx context.Context, toolCallID string) (signature string, ok bool) {
	if c == nil || c.rdb == nil || toolCallID == "" {
		return "", false
	}
	val, err := c.rdb.Get(ctx, keyPrefix+toolCallID).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		slog.WarnContext(ctx, "thoughtcache: GET failed", "tool_call_id", toolCallID, "error", err)
		return "", false
	}
	return val, true
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
