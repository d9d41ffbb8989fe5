package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sellerpulse/repricer/internal/errs"
	"github.com/sellerpulse/repricer/internal/persistence"
)

type regimeRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRegimeRepo creates the PostgreSQL regime state repository.
func NewRegimeRepo(db *sqlx.DB, timeout time.Duration) persistence.RegimeRepo {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &regimeRepo{db: db, timeout: timeout}
}

func (r *regimeRepo) Upsert(ctx context.Context, rec persistence.RegimeRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO regime_state (entity_key, regime, strategy_id, transitioned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (entity_key) DO UPDATE SET
			regime = EXCLUDED.regime,
			strategy_id = EXCLUDED.strategy_id,
			transitioned_at = EXCLUDED.transitioned_at`
	if _, err := r.db.ExecContext(ctx, query,
		rec.EntityKey, rec.Regime, rec.StrategyID, rec.TransitionedAt,
	); err != nil {
		return fmt.Errorf("upsert regime: %v: %w", err, errs.ErrTransient)
	}
	return nil
}

func (r *regimeRepo) Get(ctx context.Context, entityKey string) (persistence.RegimeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT entity_key, regime, strategy_id, transitioned_at
		FROM regime_state
		WHERE entity_key = $1`
	var rec persistence.RegimeRecord
	if err := r.db.GetContext(ctx, &rec, query, entityKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.RegimeRecord{}, fmt.Errorf("regime for %q: %w", entityKey, errs.ErrNotFound)
		}
		return persistence.RegimeRecord{}, fmt.Errorf("read regime: %v: %w", err, errs.ErrTransient)
	}
	return rec, nil
}

// CompareAndSwap applies the transition atomically: the update only lands
// when the stored regime still matches fromRegime. An empty fromRegime means
// "row must not exist yet" and inserts instead.
func (r *regimeRepo) CompareAndSwap(ctx context.Context, entityKey, fromRegime string, next persistence.RegimeRecord) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if fromRegime == "" {
		query := `
			INSERT INTO regime_state (entity_key, regime, strategy_id, transitioned_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (entity_key) DO NOTHING`
		res, err := r.db.ExecContext(ctx, query,
			next.EntityKey, next.Regime, next.StrategyID, next.TransitionedAt)
		if err != nil {
			return false, fmt.Errorf("insert regime: %v: %w", err, errs.ErrTransient)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("insert regime: %v: %w", err, errs.ErrTransient)
		}
		return n == 1, nil
	}

	query := `
		UPDATE regime_state
		SET regime = $1, strategy_id = $2, transitioned_at = $3
		WHERE entity_key = $4 AND regime = $5`
	res, err := r.db.ExecContext(ctx, query,
		next.Regime, next.StrategyID, next.TransitionedAt, entityKey, fromRegime)
	if err != nil {
		return false, fmt.Errorf("swap regime: %v: %w", err, errs.ErrTransient)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("swap regime: %v: %w", err, errs.ErrTransient)
	}
	return n == 1, nil
}
