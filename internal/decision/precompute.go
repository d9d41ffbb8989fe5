package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Precomputer is the offline path that populates the decision cache. Keeping
// cache writes here, and only here, preserves the read-only contract of the
// decision service.
type Precomputer struct {
	cache   Cache
	pricing Pricing
	timeout time.Duration
	log     zerolog.Logger
}

func NewPrecomputer(cache Cache, pricing Pricing, timeout time.Duration, log zerolog.Logger) *Precomputer {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Precomputer{
		cache:   cache,
		pricing: pricing,
		timeout: timeout,
		log:     log.With().Str("component", "precompute").Logger(),
	}
}

// Warm computes and stores decisions for the given scenarios. Individual
// failures are logged and skipped; the count of stored decisions is returned.
// A digest conflict means an offline job raced a differing payload in — that
// is logged loudly since it breaks scenario purity.
func (p *Precomputer) Warm(ctx context.Context, scenarios []Scenario) (int, error) {
	stored := 0
	for _, sc := range scenarios {
		if err := ctx.Err(); err != nil {
			return stored, err
		}
		if err := p.warmOne(ctx, sc); err != nil {
			p.log.Warn().Err(err).Str("entity", sc.EntityKey).Msg("precompute skipped")
			continue
		}
		stored++
	}
	return stored, nil
}

func (p *Precomputer) warmOne(ctx context.Context, sc Scenario) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	digest, err := sc.Digest()
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	d, err := p.pricing(cctx, sc)
	if err != nil {
		return fmt.Errorf("compute: %w", err)
	}
	d.CreatedAt = time.Now().UTC()

	if err := p.cache.Store(ctx, digest, d); err != nil {
		if errors.Is(err, ErrDigestConflict) {
			p.log.Error().Str("digest", digest).Str("entity", sc.EntityKey).
				Msg("conflicting payload for existing digest, store rejected")
		}
		return err
	}
	return nil
}
