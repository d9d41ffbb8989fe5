package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sellerpulse/repricer/internal/errs"
	"github.com/sellerpulse/repricer/internal/gate"
	"github.com/sellerpulse/repricer/internal/persistence"
)

// GateKeeper is the slice of the safety gate the service needs.
type GateKeeper interface {
	Check(entityKey string) gate.State
	RecordOutcome(entityKey string, success bool)
}

// Hooks are optional observation points wired to metrics by the caller.
type Hooks struct {
	OnCacheHit  func()
	OnCacheMiss func()
	OnDecision  func(source Source, elapsed time.Duration)
}

// Service is the instant-decision orchestration entry point: safety gate,
// then cache, then a bounded realtime computation. The service never writes
// the cache; population is the precomputer's job.
type Service struct {
	gates   GateKeeper
	cache   Cache
	pricing Pricing
	audit   persistence.DecisionAuditRepo
	timeout time.Duration
	hooks   Hooks
	log     zerolog.Logger
}

// NewService wires the orchestrator. audit may be nil; hooks fields may be nil.
func NewService(gates GateKeeper, cache Cache, pricing Pricing, audit persistence.DecisionAuditRepo, timeout time.Duration, hooks Hooks, log zerolog.Logger) *Service {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Service{
		gates:   gates,
		cache:   cache,
		pricing: pricing,
		audit:   audit,
		timeout: timeout,
		hooks:   hooks,
		log:     log.With().Str("component", "decision").Logger(),
	}
}

// Decide resolves a scenario to a decision.
//
// An open gate fails fast with errs.ErrGated before any computation or side
// effect. A cache hit is returned annotated precomputed and counts as a gate
// success. A miss computes synchronously under the configured deadline; an
// expired deadline or a pricing error counts as a gate failure.
func (s *Service) Decide(ctx context.Context, sc Scenario) (Decision, error) {
	start := time.Now()

	if err := sc.Validate(); err != nil {
		return Decision{}, err
	}
	digest, err := sc.Digest()
	if err != nil {
		return Decision{}, err
	}

	if state := s.gates.Check(sc.EntityKey); state == gate.Open {
		return Decision{}, fmt.Errorf("entity %q: %w", sc.EntityKey, errs.ErrGated)
	}

	if d, ok := s.cacheLookup(ctx, digest); ok {
		s.gates.RecordOutcome(sc.EntityKey, true)
		d.Source = SourcePrecomputed
		d.Digest = digest
		s.finish(ctx, sc.EntityKey, d, start)
		return d, nil
	}

	d, err := s.computeBounded(ctx, sc)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.gates.RecordOutcome(sc.EntityKey, false)
		}
		return Decision{}, err
	}

	s.gates.RecordOutcome(sc.EntityKey, true)
	d.Source = SourceRealtime
	d.Digest = digest
	d.CreatedAt = time.Now().UTC()
	s.finish(ctx, sc.EntityKey, d, start)
	return d, nil
}

// cacheLookup treats backend errors as misses; a flaky cache must not block
// decisions.
func (s *Service) cacheLookup(ctx context.Context, digest string) (Decision, bool) {
	d, ok, err := s.cache.Lookup(ctx, digest)
	if err != nil {
		s.log.Warn().Err(err).Str("digest", digest).Msg("cache lookup failed, treating as miss")
		ok = false
	}
	if ok {
		if s.hooks.OnCacheHit != nil {
			s.hooks.OnCacheHit()
		}
		return d, true
	}
	if s.hooks.OnCacheMiss != nil {
		s.hooks.OnCacheMiss()
	}
	return Decision{}, false
}

// computeBounded runs the pricing function under the service deadline. The
// computation goroutine is abandoned on expiry; its buffered channel lets it
// finish and be collected without leaking.
func (s *Service) computeBounded(ctx context.Context, sc Scenario) (Decision, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		d   Decision
		err error
	}
	ch := make(chan result, 1)
	go func() {
		d, err := s.pricing(cctx, sc)
		ch <- result{d, err}
	}()

	select {
	case <-cctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return Decision{}, ctx.Err()
		}
		return Decision{}, fmt.Errorf("entity %q after %s: %w", sc.EntityKey, s.timeout, errs.ErrComputationTimeout)
	case r := <-ch:
		if r.err != nil {
			return Decision{}, fmt.Errorf("compute decision for %q: %w", sc.EntityKey, r.err)
		}
		return r.d, nil
	}
}

func (s *Service) finish(ctx context.Context, entityKey string, d Decision, start time.Time) {
	if s.hooks.OnDecision != nil {
		s.hooks.OnDecision(d.Source, time.Since(start))
	}
	if s.audit == nil {
		return
	}
	rec := persistence.DecisionRecord{
		Digest:     d.Digest,
		EntityKey:  entityKey,
		Action:     d.Action,
		NewPrice:   d.NewPrice,
		Confidence: d.Confidence,
		Source:     string(d.Source),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.audit.Append(ctx, rec); err != nil {
		s.log.Warn().Err(err).Str("entity", entityKey).Msg("decision audit append failed")
	}
}
