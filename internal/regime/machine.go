// Package regime classifies each entity's market condition and selects the
// active repricing strategy for it. Exactly one regime is active per entity
// at any time.
package regime

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sellerpulse/repricer/internal/errs"
)

// Regime is the market-condition classification of an entity.
type Regime int

const (
	Stable Regime = iota
	Volatile
	PriceWar
)

func (r Regime) String() string {
	switch r {
	case Volatile:
		return "volatile"
	case PriceWar:
		return "price_war"
	default:
		return "stable"
	}
}

// ParseRegime maps a stored regime name back to its enum; unknown names
// default to Stable.
func ParseRegime(s string) Regime {
	switch s {
	case "volatile":
		return Volatile
	case "price_war":
		return PriceWar
	default:
		return Stable
	}
}

// Context carries the signals a transition decision is a pure function of.
type Context struct {
	MarketVolatility     float64 `json:"marketVolatility"`
	CompetitorAggression float64 `json:"competitorAggression"`
}

// Policy maps a regime to the strategy identifier activated on entering it.
// The mapping is data so deployments can swap strategies without code
// changes.
type Policy map[Regime]string

// DefaultPolicy returns the stock strategy mapping.
func DefaultPolicy() Policy {
	return Policy{
		Stable:   "profit_maximization",
		Volatile: "dynamic_demand",
		PriceWar: "competitive_matching",
	}
}

// PolicyFromNames builds a Policy from a regime-name keyed map, filling
// missing regimes from the default mapping.
func PolicyFromNames(names map[string]string) Policy {
	p := DefaultPolicy()
	for name, strategy := range names {
		if strategy != "" {
			p[ParseRegime(name)] = strategy
		}
	}
	return p
}

// Record is one entity's regime state. LastTransitionAt refreshes on every
// evaluation, whether or not the regime changed.
type Record struct {
	EntityKey        string    `json:"entity_key"`
	Current          Regime    `json:"-"`
	CurrentName      string    `json:"current_regime"`
	ActiveStrategyID string    `json:"active_strategy_id"`
	LastTransitionAt time.Time `json:"last_transition_at"`
}

// Change is one audit entry in an entity's transition history.
type Change struct {
	From       Regime    `json:"-"`
	To         Regime    `json:"-"`
	FromName   string    `json:"from"`
	ToName     string    `json:"to"`
	StrategyID string    `json:"strategy_id"`
	At         time.Time `json:"at"`
}

const historyCap = 32

// entityRegime holds one entity's state. Guarded by its own mutex so
// entities never contend with each other; regime and strategy always change
// together.
type entityRegime struct {
	mu         sync.Mutex
	current    Regime
	strategyID string
	lastEval   time.Time
	history    []Change
}

// Machine holds the per-entity regime state machines. The machine-level
// RWMutex guards only the entity map; each entity carries its own lock.
type Machine struct {
	mu       sync.RWMutex
	entities map[string]*entityRegime
	policy   Policy
	now      func() time.Time
	log      zerolog.Logger

	// OnSwitch, when set, observes every regime transition. It runs under
	// the entity's lock, so one entity's transitions are observed in the
	// order they happened; it must not call back into the Machine.
	OnSwitch func(entityKey string, from, to Regime)
}

func NewMachine(policy Policy, log zerolog.Logger) *Machine {
	if len(policy) == 0 {
		policy = DefaultPolicy()
	}
	return &Machine{
		entities: make(map[string]*entityRegime),
		policy:   policy,
		now:      time.Now,
		log:      log.With().Str("component", "regime").Logger(),
	}
}

// Evaluate applies the context to the entity's machine and returns the
// resulting record plus whether a transition occurred. Unknown entities are
// created in stable first, then evaluated.
//
// Order matters: volatility is checked before aggression. Neither clause can
// transition the machine into its own current state.
func (m *Machine) Evaluate(entityKey string, ctx Context) (Record, bool) {
	st := m.entity(entityKey)

	st.mu.Lock()
	from := st.current
	next := nextRegime(st.current, ctx)
	changed := next != st.current
	now := m.now()
	if changed {
		st.current = next
		st.strategyID = m.strategyFor(next)
		st.history = append(st.history, Change{
			From: from, To: next,
			FromName: from.String(), ToName: next.String(),
			StrategyID: st.strategyID, At: now,
		})
		if len(st.history) > historyCap {
			st.history = st.history[len(st.history)-historyCap:]
		}
		if m.OnSwitch != nil {
			m.OnSwitch(entityKey, from, next)
		}
	}
	st.lastEval = now
	rec := record(entityKey, st)
	st.mu.Unlock()

	if changed {
		m.log.Info().Str("entity", entityKey).
			Str("from", from.String()).Str("to", next.String()).
			Str("strategy", rec.ActiveStrategyID).Msg("regime transition")
	}
	return rec, changed
}

// Status returns the entity's current record, or errs.ErrNotFound when the
// entity has never been evaluated.
func (m *Machine) Status(entityKey string) (Record, error) {
	m.mu.RLock()
	st, ok := m.entities[entityKey]
	m.mu.RUnlock()
	if !ok {
		return Record{}, errs.ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return record(entityKey, st), nil
}

// AllRecords returns every tracked entity's record, sorted by entity key.
func (m *Machine) AllRecords() []Record {
	m.mu.RLock()
	keys := make([]string, 0, len(m.entities))
	for key := range m.entities {
		keys = append(keys, key)
	}
	m.mu.RUnlock()
	sort.Strings(keys)

	out := make([]Record, 0, len(keys))
	for _, key := range keys {
		if rec, err := m.Status(key); err == nil {
			out = append(out, rec)
		}
	}
	return out
}

// History returns the entity's recent transitions, oldest first.
func (m *Machine) History(entityKey string) []Change {
	m.mu.RLock()
	st, ok := m.entities[entityKey]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Change, len(st.history))
	copy(out, st.history)
	return out
}

// entity returns the entity's state, creating it in stable on first
// reference.
func (m *Machine) entity(key string) *entityRegime {
	m.mu.RLock()
	st, ok := m.entities[key]
	m.mu.RUnlock()
	if ok {
		return st
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.entities[key]; ok {
		return st
	}
	st = &entityRegime{current: Stable, strategyID: m.strategyFor(Stable)}
	m.entities[key] = st
	return st
}

// record snapshots the entity's state. Caller holds st.mu.
func record(entityKey string, st *entityRegime) Record {
	return Record{
		EntityKey:        entityKey,
		Current:          st.current,
		CurrentName:      st.current.String(),
		ActiveStrategyID: st.strategyID,
		LastTransitionAt: st.lastEval,
	}
}

func (m *Machine) strategyFor(r Regime) string {
	if s, ok := m.policy[r]; ok {
		return s
	}
	return DefaultPolicy()[r]
}

// nextRegime is the pure transition function. Volatility is evaluated before
// aggression; a clause only fires when it would actually change the state.
func nextRegime(current Regime, ctx Context) Regime {
	if ctx.MarketVolatility > 0.3 && current != Volatile {
		return Volatile
	}
	if ctx.CompetitorAggression > 0.7 && current != PriceWar {
		return PriceWar
	}
	return Stable
}
