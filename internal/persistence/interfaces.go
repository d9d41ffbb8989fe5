// Package persistence defines the narrow store interfaces the adaptive core
// consumes. The backing store is external; the core only needs per-key read,
// append, and atomic compare-and-update for regime transitions.
package persistence

import (
	"context"
	"time"
)

// DecisionRecord is one row in the append-only decision audit log.
type DecisionRecord struct {
	ID         int64     `json:"id" db:"id"`
	Digest     string    `json:"digest" db:"digest"`
	EntityKey  string    `json:"entity_key" db:"entity_key"`
	Action     string    `json:"action" db:"action"`
	NewPrice   float64   `json:"new_price" db:"new_price"`
	Confidence float64   `json:"confidence" db:"confidence"`
	Source     string    `json:"source" db:"source"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// RegimeRecord is the persisted regime state for one entity.
type RegimeRecord struct {
	EntityKey      string    `json:"entity_key" db:"entity_key"`
	Regime         string    `json:"regime" db:"regime"`
	StrategyID     string    `json:"strategy_id" db:"strategy_id"`
	TransitionedAt time.Time `json:"transitioned_at" db:"transitioned_at"`
}

// DecisionAuditRepo appends and reads decision audit rows.
type DecisionAuditRepo interface {
	Append(ctx context.Context, rec DecisionRecord) error
	RecentByEntity(ctx context.Context, entityKey string, limit int) ([]DecisionRecord, error)
}

// RegimeRepo persists per-entity regime state.
type RegimeRepo interface {
	// Upsert writes the record unconditionally.
	Upsert(ctx context.Context, rec RegimeRecord) error

	// Get returns the entity's record, or errs.ErrNotFound.
	Get(ctx context.Context, entityKey string) (RegimeRecord, error)

	// CompareAndSwap writes next only if the stored regime still equals
	// fromRegime (or the row is absent and fromRegime is empty). Returns
	// whether the swap applied.
	CompareAndSwap(ctx context.Context, entityKey, fromRegime string, next RegimeRecord) (bool, error)
}
