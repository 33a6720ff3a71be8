package redis

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"chanlun-engine/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// BarSource is the read side CachedBarSource decorates.
type BarSource interface {
	ReadBars(symbol string, after time.Time) ([]model.Bar, error)
	Symbols() ([]string, error)
}

// CachedBarSource caches historical bar reads in Redis under
// bars:{symbol}:{after unix ms}. Cache failures fall through to the source.
type CachedBarSource struct {
	src    BarSource
	client *goredis.Client
	ttl    time.Duration

	Hits   int
	Misses int
}

// NewCachedBarSource wraps src. ttl must be positive.
func NewCachedBarSource(src BarSource, client *goredis.Client, ttl time.Duration) *CachedBarSource {
	return &CachedBarSource{src: src, client: client, ttl: ttl}
}

func barCacheKey(symbol string, after time.Time) string {
	ms := int64(0)
	if !after.IsZero() {
		ms = after.UnixMilli()
	}
	return "bars:" + symbol + ":" + strconv.FormatInt(ms, 10)
}

// ReadBars returns cached bars when present, else reads the source and caches
// non-empty results.
func (c *CachedBarSource) ReadBars(symbol string, after time.Time) ([]model.Bar, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	key := barCacheKey(symbol, after)

	if data, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var bars []model.Bar
		if err := json.Unmarshal(data, &bars); err == nil {
			c.Hits++
			return bars, nil
		}
		log.Printf("[redis] bar cache %s corrupt, refetching", key)
	} else if err != goredis.Nil {
		log.Printf("[redis] bar cache get %s: %v", key, err)
	}

	c.Misses++
	bars, err := c.src.ReadBars(symbol, after)
	if err != nil || len(bars) == 0 {
		return bars, err
	}
	data, err := json.Marshal(bars)
	if err != nil {
		return bars, nil
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.Printf("[redis] bar cache set %s: %v", key, err)
	}
	return bars, nil
}

// Symbols is not cached.
func (c *CachedBarSource) Symbols() ([]string, error) {
	return c.src.Symbols()
}
