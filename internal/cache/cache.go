// Package cache keeps recent room history in Redis in front of the message store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"chatrelay/internal/models"
	"chatrelay/internal/ws"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Stats tracks cache statistics.
type Stats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Sets          uint64 `json:"sets"`
	Invalidations uint64 `json:"invalidations"`
	Errors        uint64 `json:"errors"`
}

// HistoryCache wraps a ws.MessageStore with cache-aside reads of List.
// Cached entries are versioned per room; see key.
// Redis failures are logged and served from the inner store.
type HistoryCache struct {
	inner  ws.MessageStore
	client *redis.Client
	prefix string
	ttl    time.Duration
	stats  Stats
}

func NewHistoryCache(inner ws.MessageStore, client *redis.Client, prefix string, ttl time.Duration) *HistoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &HistoryCache{inner: inner, client: client, prefix: prefix, ttl: ttl}
}

// key versions history by (room, generation). Append bumps the generation
// after the write commits, so a List that read the store earlier can only
// fill a key nobody reads any more. Generation keys never expire: a counter
// that restarted at zero could land on an old entry still inside its TTL.
func (c *HistoryCache) key(roomID string, gen int64) string {
	return fmt.Sprintf("%shistory:%s:%d", c.prefix, roomID, gen)
}

func (c *HistoryCache) genKey(roomID string) string {
	return c.prefix + "history-gen:" + roomID
}

// Append writes through and advances the room's generation.
func (c *HistoryCache) Append(ctx context.Context, roomID, author, text string, kind models.Kind, image string) (models.Message, error) {
	msg, err := c.inner.Append(ctx, roomID, author, text, kind, image)
	if err != nil {
		return msg, err
	}
	if err := c.client.Incr(ctx, c.genKey(roomID)).Err(); err != nil {
		atomic.AddUint64(&c.stats.Errors, 1)
		log.Warn().Err(err).Str("room", roomID).Msg("history cache invalidate")
	} else {
		atomic.AddUint64(&c.stats.Invalidations, 1)
	}
	return msg, nil
}

func (c *HistoryCache) List(ctx context.Context, roomID string) ([]models.Message, error) {
	gen, err := c.generation(ctx, roomID)
	if err != nil {
		// Without a generation there is no safe key to read or fill.
		atomic.AddUint64(&c.stats.Errors, 1)
		log.Warn().Err(err).Str("room", roomID).Msg("history cache generation")
		atomic.AddUint64(&c.stats.Misses, 1)
		return c.inner.List(ctx, roomID)
	}

	msgs, hit, err := c.lookup(ctx, c.key(roomID, gen))
	if err != nil {
		atomic.AddUint64(&c.stats.Errors, 1)
		log.Warn().Err(err).Str("room", roomID).Msg("history cache get")
	}
	if hit {
		atomic.AddUint64(&c.stats.Hits, 1)
		return msgs, nil
	}
	atomic.AddUint64(&c.stats.Misses, 1)

	msgs, err = c.inner.List(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := c.store(ctx, c.key(roomID, gen), msgs); err != nil {
		atomic.AddUint64(&c.stats.Errors, 1)
		log.Warn().Err(err).Str("room", roomID).Msg("history cache set")
	} else {
		atomic.AddUint64(&c.stats.Sets, 1)
	}
	return msgs, nil
}

func (c *HistoryCache) generation(ctx context.Context, roomID string) (int64, error) {
	gen, err := c.client.Get(ctx, c.genKey(roomID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache generation: %w", err)
	}
	return gen, nil
}

// Get is never cached; reactions need the authoritative room of a message.
func (c *HistoryCache) Get(ctx context.Context, id int64) (models.Message, error) {
	return c.inner.Get(ctx, id)
}

func (c *HistoryCache) lookup(ctx context.Context, key string) ([]models.Message, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	var msgs []models.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, false, fmt.Errorf("cache unmarshal: %w", err)
	}
	return msgs, true, nil
}

func (c *HistoryCache) store(ctx context.Context, key string, msgs []models.Message) error {
	if msgs == nil {
		msgs = []models.Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the counters.
func (c *HistoryCache) Snapshot() Stats {
	return Stats{
		Hits:          atomic.LoadUint64(&c.stats.Hits),
		Misses:        atomic.LoadUint64(&c.stats.Misses),
		Sets:          atomic.LoadUint64(&c.stats.Sets),
		Invalidations: atomic.LoadUint64(&c.stats.Invalidations),
		Errors:        atomic.LoadUint64(&c.stats.Errors),
	}
}

// Ping checks if the Redis connection is healthy.
func (c *HistoryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
