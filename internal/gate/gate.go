// Package gate implements the per-entity safety gate that suspends automated
// price actions after repeated failures. Each entity gets its own circuit
// breaker; breakers are created lazily and retained for audit.
package gate

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// State is the gate state exposed to callers.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config holds the trip policy shared by all entity breakers.
type Config struct {
	FailureThreshold uint32        `yaml:"failure_threshold" env:"GATE_FAILURE_THRESHOLD"`
	Cooldown         time.Duration `yaml:"cooldown" env:"GATE_COOLDOWN"`
}

// DefaultConfig returns the standard trip policy: five consecutive failures
// open the gate for five minutes, then a single half-open probe is admitted.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         5 * time.Minute,
	}
}

// Status is a read-only snapshot of one entity's gate record.
type Status struct {
	EntityKey            string     `json:"entity_key"`
	State                string     `json:"state"`
	ConsecutiveFailures  uint32     `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32     `json:"consecutive_successes"`
	ReopenAt             *time.Time `json:"reopen_at,omitempty"`
}

// Keeper tracks one circuit breaker per entity key.
type Keeper struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.TwoStepCircuitBreaker
	openedAt map[string]time.Time

	cfg Config
	log zerolog.Logger

	// OnTransition, when set, is invoked for every breaker state change.
	// Used by the serve wiring to feed metrics.
	OnTransition func(entityKey string, from, to State)
}

// NewKeeper creates an empty keeper. Entity records appear on first use.
func NewKeeper(cfg Config, log zerolog.Logger) *Keeper {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	return &Keeper{
		breakers: make(map[string]*gobreaker.TwoStepCircuitBreaker),
		openedAt: make(map[string]time.Time),
		cfg:      cfg,
		log:      log.With().Str("component", "gate").Logger(),
	}
}

// Cooldown returns the configured open-gate cooldown.
func (k *Keeper) Cooldown() time.Duration {
	return k.cfg.Cooldown
}

// Check reports the gate state for the entity, creating a closed record if
// absent. Reading the state of an open breaker past its cooldown moves it to
// half_open as a side effect.
func (k *Keeper) Check(entityKey string) State {
	return fromBreakerState(k.breaker(entityKey).State())
}

// RecordOutcome feeds an action outcome back into the entity's breaker.
// A success resets the failure counter and closes the gate; a failure
// increments it and opens the gate once the threshold is reached. Outcomes
// reported while the gate is open are dropped: the caller should not have
// acted, and the refusal itself is not a failure.
func (k *Keeper) RecordOutcome(entityKey string, success bool) {
	b := k.breaker(entityKey)
	done, err := b.Allow()
	if err != nil {
		k.log.Debug().Str("entity", entityKey).Bool("success", success).
			Msg("outcome dropped, gate open")
		return
	}
	done(success)
}

// Status returns the audit snapshot for one entity. The second return is
// false when the entity has never been referenced.
func (k *Keeper) Status(entityKey string) (Status, bool) {
	k.mu.RLock()
	b, ok := k.breakers[entityKey]
	openedAt := k.openedAt[entityKey]
	k.mu.RUnlock()
	if !ok {
		return Status{}, false
	}
	return k.snapshot(entityKey, b, openedAt), true
}

// AllStatuses returns snapshots for every entity ever referenced, ordered by
// entity key. Records are never deleted, so this is the full audit view.
func (k *Keeper) AllStatuses() []Status {
	k.mu.RLock()
	keys := make([]string, 0, len(k.breakers))
	for key := range k.breakers {
		keys = append(keys, key)
	}
	k.mu.RUnlock()
	sort.Strings(keys)

	statuses := make([]Status, 0, len(keys))
	for _, key := range keys {
		if st, ok := k.Status(key); ok {
			statuses = append(statuses, st)
		}
	}
	return statuses
}

func (k *Keeper) snapshot(entityKey string, b *gobreaker.TwoStepCircuitBreaker, openedAt time.Time) Status {
	state := fromBreakerState(b.State())
	counts := b.Counts()
	st := Status{
		EntityKey:            entityKey,
		State:                state.String(),
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
	}
	if state == Open && !openedAt.IsZero() {
		reopen := openedAt.Add(k.cfg.Cooldown)
		st.ReopenAt = &reopen
	}
	return st
}

// breaker returns the entity's breaker, creating it on first reference.
func (k *Keeper) breaker(entityKey string) *gobreaker.TwoStepCircuitBreaker {
	k.mu.RLock()
	b, ok := k.breakers[entityKey]
	k.mu.RUnlock()
	if ok {
		return b
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if b, ok := k.breakers[entityKey]; ok {
		return b
	}

	settings := gobreaker.Settings{
		Name:        entityKey,
		MaxRequests: 1, // exactly one half-open probe
		Timeout:     k.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= k.cfg.FailureThreshold
		},
		OnStateChange: k.stateChangeHandler(entityKey),
	}
	b = gobreaker.NewTwoStepCircuitBreaker(settings)
	k.breakers[entityKey] = b
	return b
}

func (k *Keeper) stateChangeHandler(entityKey string) func(string, gobreaker.State, gobreaker.State) {
	return func(_ string, from, to gobreaker.State) {
		if to == gobreaker.StateOpen {
			k.mu.Lock()
			k.openedAt[entityKey] = time.Now()
			k.mu.Unlock()
		}
		k.log.Info().
			Str("entity", entityKey).
			Str("from", fromBreakerState(from).String()).
			Str("to", fromBreakerState(to).String()).
			Msg("gate state changed")
		if k.OnTransition != nil {
			k.OnTransition(entityKey, fromBreakerState(from), fromBreakerState(to))
		}
	}
}

func fromBreakerState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return Open
	case gobreaker.StateHalfOpen:
		return HalfOpen
	default:
		return Closed
	}
}
