package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/tenant"
)

const initialGeneration = "0"

// Results stores simulate-mode pricing results in Redis. Entries live under a
// per-tenant generation token; invalidation swaps the token so every older
// entry becomes unreachable and ages out with its TTL.
type Results struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewResults constructs a Redis result cache.
func NewResults(client redis.Cmdable, prefix string, ttl time.Duration) *Results {
	if prefix == "" {
		prefix = "pricing"
	}
	return &Results{client: client, prefix: prefix, ttl: ttl}
}

// Get implements pricing.ResultCache.
func (c *Results) Get(ctx context.Context, key pricing.CacheKey) (pricing.Result, bool, error) {
	if c == nil || c.client == nil {
		return pricing.Result{}, false, nil
	}
	gen, err := c.generation(ctx)
	if err != nil {
		return pricing.Result{}, false, err
	}
	data, err := c.client.Get(ctx, c.resultKey(ctx, gen, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return pricing.Result{}, false, nil
		}
		return pricing.Result{}, false, err
	}
	var res pricing.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return pricing.Result{}, false, err
	}
	return res, true, nil
}

// Set implements pricing.ResultCache.
func (c *Results) Set(ctx context.Context, key pricing.CacheKey, res pricing.Result) error {
	if c == nil || c.client == nil || c.ttl <= 0 {
		return nil
	}
	gen, err := c.generation(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.resultKey(ctx, gen, key), data, c.ttl).Err()
}

// Invalidate implements pricing.ResultCache.
func (c *Results) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Set(ctx, c.generationKey(ctx), uuid.NewString(), 0).Err()
}

func (c *Results) generation(ctx context.Context) (string, error) {
	gen, err := c.client.Get(ctx, c.generationKey(ctx)).Result()
	if errors.Is(err, redis.Nil) {
		return initialGeneration, nil
	}
	return gen, err
}

func (c *Results) generationKey(ctx context.Context) string {
	return tenant.Key(ctx, c.prefix, "gen")
}

func (c *Results) resultKey(ctx context.Context, gen string, key pricing.CacheKey) string {
	return tenant.Key(ctx, c.prefix, "result", gen, key.String())
}
