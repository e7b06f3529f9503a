package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// Metadata is the per-key side metadata stored alongside a value.
type Metadata struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// entry is the stored envelope: the serialized value plus side
// metadata, as one JSON blob per key.
type entry struct {
	Value    json.RawMessage `json:"value"`
	Metadata *Metadata       `json:"metadata,omitempty"`
}

// Cache is the KV layer shared by tree and non-tree keyspaces. It is
// advisory: reads that fail behave as misses, writes are fire-and-
// forget. A nil Cache (or one without a client) disables caching.
type Cache struct {
	rdb        *redis.Client
	log        *slog.Logger
	defaultTTL time.Duration
}

func New(rdb *redis.Client, log *slog.Logger, defaultTTL time.Duration) *Cache {
	if log == nil {
		log = slog.Default()
	}
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	return &Cache{rdb: rdb, log: log, defaultTTL: defaultTTL}
}

// Enabled reports whether the cache has a backing store.
func (c *Cache) Enabled() bool {
	return c != nil && c.rdb != nil
}

// GetWithMetadata fetches a key. Misses and read failures both return
// ok=false; a read failure is logged, never surfaced.
func (c *Cache) GetWithMetadata(ctx context.Context, key string) (json.RawMessage, *Metadata, bool) {
	if !c.Enabled() {
		return nil, nil, false
	}

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("cache read failed", "key", key, "error", err)
		}
		return nil, nil, false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.log.Warn("cache entry corrupt", "key", key, "error", err)
		return nil, nil, false
	}
	return e.Value, e.Metadata, true
}

// PutWithRetry serializes value and writes it in the background with
// at-most-once retry on a jittered backoff. The caller never awaits
// the write, and caller cancellation is deliberately not honored: a
// write in flight after the caller disconnects still warms the cache
// for the next request.
func (c *Cache) PutWithRetry(key string, value any, ttl time.Duration, meta *Metadata) {
	if !c.Enabled() {
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	raw, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("cache value marshal failed", "key", key, "error", err)
		return
	}
	blob, err := json.Marshal(entry{Value: raw, Metadata: meta})
	if err != nil {
		c.log.Warn("cache envelope marshal failed", "key", key, "error", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		backoff := retry.WithJitter(200*time.Millisecond, retry.NewConstant(500*time.Millisecond))
		backoff = retry.WithMaxRetries(1, backoff)

		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := c.rdb.Set(ctx, key, blob, ttl).Err(); err != nil {
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			c.log.Warn("cache write failed", "key", key, "error", err)
		}
	}()
}
