package decision

import (
	"context"
	"errors"
	"sync"
)

// ErrDigestConflict is returned when a store call tries to bind an existing
// digest to a different payload. Scenarios are pure functions of their
// content, so this indicates a bug in the producing side.
var ErrDigestConflict = errors.New("digest already bound to a different decision")

// Cache is the content-addressed decision store. Absence of a hit is not an
// error, only a signal to compute. Once written, a digest's payload is
// immutable; re-storing the identical payload is a no-op.
type Cache interface {
	Lookup(ctx context.Context, digest string) (Decision, bool, error)
	Store(ctx context.Context, digest string, d Decision) error
}

type memoryCache struct {
	mu sync.RWMutex
	m  map[string]Decision
}

// NewMemoryCache returns the in-process cache backend used when no Redis
// address is configured.
func NewMemoryCache() Cache {
	return &memoryCache{m: make(map[string]Decision)}
}

func (c *memoryCache) Lookup(_ context.Context, digest string) (Decision, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.m[digest]
	return d, ok, nil
}

func (c *memoryCache) Store(_ context.Context, digest string, d Decision) error {
	d.Source = ""
	d.Digest = ""

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.m[digest]; ok {
		if !payloadEqual(existing, d) {
			return ErrDigestConflict
		}
		return nil
	}
	c.m[digest] = d
	return nil
}
