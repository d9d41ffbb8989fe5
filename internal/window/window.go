// Package window maintains rolling per-entity market aggregates from the
// inbound event stream: a trailing sales-velocity accumulator and a price
// volatility EMA. True time-boxed sums are approximated with horizon-reset
// accumulators; the reset cadence matches the declared horizon.
package window

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sellerpulse/repricer/internal/numeric"
)

// Event types the aggregator understands.
const (
	EventSaleCompleted = "sale_completed"
	EventPriceChanged  = "price_changed"
)

// Metric names carried on snapshot values.
const (
	MetricVelocity   = "velocity"
	MetricVolatility = "volatility"
)

// Config declares the trailing horizons for each metric.
type Config struct {
	VelocityHorizon   time.Duration `yaml:"velocity_horizon" env:"WINDOW_VELOCITY_HORIZON"`
	VolatilityHorizon time.Duration `yaml:"volatility_horizon" env:"WINDOW_VOLATILITY_HORIZON"`
}

func DefaultConfig() Config {
	return Config{
		VelocityHorizon:   5 * time.Minute,
		VolatilityHorizon: time.Hour,
	}
}

// Value is one aggregate read. Stale means the value is older than its
// horizon and must not be trusted as current.
type Value struct {
	Metric      string    `json:"metric"`
	Value       float64   `json:"value"`
	LastUpdated time.Time `json:"last_updated"`
	Stale       bool      `json:"stale"`
}

// Snapshot is a consistent read of one entity's aggregates plus the rolling
// velocity baseline the opportunity detector keys on.
type Snapshot struct {
	EntityKey    string
	Velocity     Value
	Volatility   Value
	BaselineMean float64
	BaselineStd  float64
	Samples      int
}

// entityState holds one entity's accumulators. Guarded by its own mutex so
// entities never contend with each other.
type entityState struct {
	mu sync.Mutex

	velocity   float64
	velocityAt time.Time

	volatility    float64
	volatilityAt  time.Time
	hasVolatility bool

	// Welford accumulator over velocity observations.
	samples int
	mean    float64
	m2      float64
}

// Aggregator owns all per-entity window state. Entities are created lazily
// and never deleted.
type Aggregator struct {
	mu       sync.RWMutex
	entities map[string]*entityState
	cfg      Config
	now      func() time.Time
}

func NewAggregator(cfg Config) *Aggregator {
	if cfg.VelocityHorizon <= 0 {
		cfg.VelocityHorizon = DefaultConfig().VelocityHorizon
	}
	if cfg.VolatilityHorizon <= 0 {
		cfg.VolatilityHorizon = DefaultConfig().VolatilityHorizon
	}
	return &Aggregator{
		entities: make(map[string]*entityState),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Apply folds one event into the entity's aggregates. Events for the same
// entity must arrive in order; the ingest pipeline guarantees that by
// sharding on entity key.
func (a *Aggregator) Apply(entityKey, eventType string, payload map[string]any) error {
	st := a.entity(entityKey)

	switch eventType {
	case EventSaleCompleted:
		qty, ok := numeric.Float(payload["quantity"])
		if !ok || qty <= 0 {
			qty = 1
		}
		st.mu.Lock()
		now := a.now()
		if !st.velocityAt.IsZero() && now.Sub(st.velocityAt) > a.cfg.VelocityHorizon {
			st.velocity = 0
		}
		st.velocity += qty
		st.velocityAt = now
		st.observeVelocity(st.velocity)
		st.mu.Unlock()
		return nil

	case EventPriceChanged:
		oldPrice, ok1 := numeric.Float(payload["oldPrice"])
		newPrice, ok2 := numeric.Float(payload["newPrice"])
		if !ok1 || !ok2 {
			return fmt.Errorf("price_changed for %q missing oldPrice/newPrice", entityKey)
		}
		delta := math.Abs(newPrice - oldPrice)
		st.mu.Lock()
		if st.hasVolatility {
			st.volatility = (st.volatility + delta) / 2
		} else {
			st.volatility = delta
			st.hasVolatility = true
		}
		st.volatilityAt = a.now()
		st.mu.Unlock()
		return nil

	default:
		return fmt.Errorf("unknown event type %q", eventType)
	}
}

// Snapshot reads the entity's aggregates. Unknown entities return a zero
// snapshot with both values stale.
func (a *Aggregator) Snapshot(entityKey string) Snapshot {
	a.mu.RLock()
	st, ok := a.entities[entityKey]
	a.mu.RUnlock()

	snap := Snapshot{EntityKey: entityKey}
	now := a.now()
	if !ok {
		snap.Velocity = Value{Metric: MetricVelocity, Stale: true}
		snap.Volatility = Value{Metric: MetricVolatility, Stale: true}
		return snap
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	snap.Velocity = Value{
		Metric:      MetricVelocity,
		Value:       st.velocity,
		LastUpdated: st.velocityAt,
		Stale:       st.velocityAt.IsZero() || now.Sub(st.velocityAt) > a.cfg.VelocityHorizon,
	}
	snap.Volatility = Value{
		Metric:      MetricVolatility,
		Value:       st.volatility,
		LastUpdated: st.volatilityAt,
		Stale:       st.volatilityAt.IsZero() || now.Sub(st.volatilityAt) > a.cfg.VolatilityHorizon,
	}
	snap.Samples = st.samples
	snap.BaselineMean = st.mean
	if st.samples > 1 {
		snap.BaselineStd = math.Sqrt(st.m2 / float64(st.samples-1))
	}
	return snap
}

func (a *Aggregator) entity(key string) *entityState {
	a.mu.RLock()
	st, ok := a.entities[key]
	a.mu.RUnlock()
	if ok {
		return st
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.entities[key]; ok {
		return st
	}
	st = &entityState{}
	a.entities[key] = st
	return st
}

// observeVelocity folds the current velocity level into the Welford baseline.
// Caller holds st.mu.
func (st *entityState) observeVelocity(v float64) {
	st.samples++
	d := v - st.mean
	st.mean += d / float64(st.samples)
	st.m2 += d * (v - st.mean)
}

