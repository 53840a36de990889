package broker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"fno-desk/internal/models"
)

// SpotCache is a spot-price store shared beyond this process.
type SpotCache interface {
	Get(ctx context.Context, underlying models.Underlying) (float64, bool)
	Set(ctx context.Context, underlying models.Underlying, spot float64, ttl time.Duration)
}

type spotEntry struct {
	value   float64
	fetched time.Time
}

// CachedSpot wraps a broker so repeated spot lookups within ttl reuse one
// fetch. Concurrent misses for the same underlying share a single request.
// Every other call goes straight to the wrapped broker.
type CachedSpot struct {
	Broker

	ttl    time.Duration
	shared SpotCache
	group  singleflight.Group
	now    func() time.Time

	mu      sync.Mutex
	entries map[models.Underlying]spotEntry
}

// NewCachedSpot wraps b. A non-positive ttl disables caching; shared may be
// nil.
func NewCachedSpot(b Broker, ttl time.Duration, shared SpotCache) *CachedSpot {
	return &CachedSpot{
		Broker:  b,
		ttl:     ttl,
		shared:  shared,
		now:     time.Now,
		entries: make(map[models.Underlying]spotEntry),
	}
}

// Unwrap returns the wrapped broker.
func (c *CachedSpot) Unwrap() Broker {
	return c.Broker
}

// GetSpotPrice returns a cached spot when fresh, else fetches it.
func (c *CachedSpot) GetSpotPrice(ctx context.Context, underlying models.Underlying) (float64, error) {
	if c.ttl <= 0 {
		return c.Broker.GetSpotPrice(ctx, underlying)
	}

	c.mu.Lock()
	e, ok := c.entries[underlying]
	c.mu.Unlock()
	if ok && c.now().Sub(e.fetched) < c.ttl {
		return e.value, nil
	}

	v, err, _ := c.group.Do(string(underlying), func() (interface{}, error) {
		if c.shared != nil {
			if spot, ok := c.shared.Get(ctx, underlying); ok {
				c.remember(underlying, spot)
				return spot, nil
			}
		}

		spot, err := c.Broker.GetSpotPrice(ctx, underlying)
		if err != nil {
			return 0.0, err
		}
		c.remember(underlying, spot)
		if c.shared != nil {
			c.shared.Set(ctx, underlying, spot, c.ttl)
		}
		return spot, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func (c *CachedSpot) remember(underlying models.Underlying, spot float64) {
	c.mu.Lock()
	c.entries[underlying] = spotEntry{value: spot, fetched: c.now()}
	c.mu.Unlock()
}

// RedisSpotCache shares spot prices through Redis with per-key expiry.
type RedisSpotCache struct {
	client *redis.Client
	prefix string
}

// NewRedisSpotCache creates a cache writing keys as prefix+UNDERLYING.
func NewRedisSpotCache(client *redis.Client, prefix string) *RedisSpotCache {
	return &RedisSpotCache{client: client, prefix: prefix}
}

// Get returns the shared spot. Any Redis failure is a miss.
func (r *RedisSpotCache) Get(ctx context.Context, underlying models.Underlying) (float64, bool) {
	v, err := r.client.Get(ctx, r.prefix+string(underlying)).Float64()
	if err != nil {
		return 0, false
	}
	return v, true
}

// Set stores the spot with the given expiry; failures are ignored.
func (r *RedisSpotCache) Set(ctx context.Context, underlying models.Underlying, spot float64, ttl time.Duration) {
	_ = r.client.Set(ctx, r.prefix+string(underlying), strconv.FormatFloat(spot, 'f', -1, 64), ttl).Err()
}
