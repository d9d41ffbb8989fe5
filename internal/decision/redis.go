package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/go-redis/redis/v8"

	"github.com/sellerpulse/repricer/internal/errs"
)

const decisionKeyPrefix = "decision:"

type redisCache struct {
	r   *redis.Client
	ttl time.Duration
}

// NewRedisCache returns a Redis-backed cache. SETNX gives at-most-one write
// per digest; concurrent misses may race to compute but only the first store
// lands. A zero ttl means decisions never expire.
func NewRedisCache(client *redis.Client, ttl time.Duration) Cache {
	return &redisCache{r: client, ttl: ttl}
}

func (c *redisCache) Lookup(ctx context.Context, digest string) (Decision, bool, error) {
	b, err := c.r.Get(ctx, decisionKeyPrefix+digest).Bytes()
	if err == redis.Nil {
		return Decision{}, false, nil
	}
	if err != nil {
		return Decision{}, false, fmt.Errorf("cache lookup %s: %w", digest, errs.ErrTransient)
	}
	var d Decision
	if err := json.Unmarshal(b, &d); err != nil {
		return Decision{}, false, fmt.Errorf("cache payload corrupt for %s: %w", digest, errs.ErrTransient)
	}
	return d, true, nil
}

func (c *redisCache) Store(ctx context.Context, digest string, d Decision) error {
	d.Source = ""
	d.Digest = ""
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}

	set, err := c.r.SetNX(ctx, decisionKeyPrefix+digest, string(b), c.ttl).Result()
	if err != nil {
		return fmt.Errorf("cache store %s: %w", digest, errs.ErrTransient)
	}
	if set {
		return nil
	}

	// Key already present. Idempotent re-store of the same payload is fine;
	// a different payload under the same digest is rejected.
	existing, ok, err := c.Lookup(ctx, digest)
	if err != nil {
		return err
	}
	if ok && !payloadEqual(existing, d) {
		return ErrDigestConflict
	}
	return nil
}
