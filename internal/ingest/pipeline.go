package ingest

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sellerpulse/repricer/internal/errs"
	"github.com/sellerpulse/repricer/internal/opportunity"
	"github.com/sellerpulse/repricer/internal/regime"
	"github.com/sellerpulse/repricer/internal/window"
)

// Config sizes the pipeline.
type Config struct {
	Shards     int `yaml:"shards" env:"INGEST_SHARDS"`
	QueueDepth int `yaml:"queue_depth" env:"INGEST_QUEUE_DEPTH"`
	DedupeSize int `yaml:"dedupe_size" env:"INGEST_DEDUPE_SIZE"`
}

func DefaultConfig() Config {
	return Config{Shards: 8, QueueDepth: 256, DedupeSize: 4096}
}

// Hooks are optional observation points wired to metrics.
type Hooks struct {
	OnIngested  func()
	OnDuplicate func()
	OnDetected  func(n int)
}

// Pipeline fans events out to shard workers keyed by entity, so events for
// one entity are applied strictly in arrival order while entities proceed
// independently. Each event flows aggregator -> detector -> regime signals;
// a detector failure never rolls back the aggregate update.
type Pipeline struct {
	cfg    Config
	shards []chan Event

	agg     *window.Aggregator
	det     *opportunity.Detector
	opps    *opportunity.Store
	regimes *regime.Machine

	hooks Hooks
	log   zerolog.Logger

	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

func NewPipeline(cfg Config, agg *window.Aggregator, det *opportunity.Detector, opps *opportunity.Store, regimes *regime.Machine, hooks Hooks, log zerolog.Logger) *Pipeline {
	def := DefaultConfig()
	if cfg.Shards <= 0 {
		cfg.Shards = def.Shards
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}
	if cfg.DedupeSize <= 0 {
		cfg.DedupeSize = def.DedupeSize
	}

	p := &Pipeline{
		cfg:     cfg,
		shards:  make([]chan Event, cfg.Shards),
		agg:     agg,
		det:     det,
		opps:    opps,
		regimes: regimes,
		hooks:   hooks,
		log:     log.With().Str("component", "ingest").Logger(),
	}
	for i := range p.shards {
		p.shards[i] = make(chan Event, cfg.QueueDepth)
	}
	return p
}

// Start launches the shard workers. Call Stop to drain and join them.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	for i := range p.shards {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop closes the shard queues, drains remaining events, and joins workers.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	for _, ch := range p.shards {
		close(ch)
	}
	p.wg.Wait()
}

// Submit validates the event and queues it on the entity's shard. Blocks
// only while the shard queue is full; ctx bounds the wait.
func (p *Pipeline) Submit(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}

	shard := p.shards[shardFor(ev.EntityKey, len(p.shards))]
	select {
	case shard <- ev:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ingest queue full for %q: %w", ev.EntityKey, errs.ErrTransient)
	}
}

func (p *Pipeline) worker(n int) {
	defer p.wg.Done()
	seen := newDedupe(p.cfg.DedupeSize)
	for ev := range p.shards[n] {
		if seen.observed(ev.ID) {
			p.log.Debug().Str("event_id", ev.ID).Str("entity", ev.EntityKey).Msg("duplicate event dropped")
			if p.hooks.OnDuplicate != nil {
				p.hooks.OnDuplicate()
			}
			continue
		}
		p.process(ev)
	}
}

func (p *Pipeline) process(ev Event) {
	if err := p.agg.Apply(ev.EntityKey, ev.Type, ev.Payload); err != nil {
		p.log.Warn().Err(err).Str("entity", ev.EntityKey).Msg("aggregate update failed")
		return
	}
	if p.hooks.OnIngested != nil {
		p.hooks.OnIngested()
	}

	snap := p.agg.Snapshot(ev.EntityKey)

	// Detection runs after, and independently of, the aggregate update.
	detected := p.det.Detect(opportunity.Event{
		Type:      ev.Type,
		EntityKey: ev.EntityKey,
		Payload:   ev.Payload,
	}, snap)
	if len(detected) > 0 {
		p.opps.Add(detected...)
		if p.hooks.OnDetected != nil {
			p.hooks.OnDetected(len(detected))
		}
	}

	p.regimes.Evaluate(ev.EntityKey, deriveContext(ev, snap))
}

// deriveContext turns the entity's current aggregates into regime signals.
// Volatility is normalized against the event's price level so the 0.3
// threshold reads as a fraction of price; aggression scales with the size of
// a competitor price drop.
func deriveContext(ev Event, snap window.Snapshot) regime.Context {
	var ctx regime.Context

	price, _ := numberField(ev.Payload, "price")
	if ev.Type == window.EventPriceChanged {
		price, _ = numberField(ev.Payload, "newPrice")
	}
	if price > 0 && !snap.Volatility.Stale {
		ctx.MarketVolatility = snap.Volatility.Value / price
	}

	if ev.Type == window.EventPriceChanged {
		oldPrice, _ := numberField(ev.Payload, "oldPrice")
		newPrice, _ := numberField(ev.Payload, "newPrice")
		if oldPrice > 0 && newPrice < oldPrice {
			drop := (oldPrice - newPrice) / oldPrice
			ctx.CompetitorAggression = math.Min(1, drop*10)
		}
	}
	return ctx
}

func shardFor(entityKey string, shards int) int {
	h := fnv.New32a()
	h.Write([]byte(entityKey))
	return int(h.Sum32() % uint32(shards))
}
