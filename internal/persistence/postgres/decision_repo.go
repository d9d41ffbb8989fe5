// Package postgres implements the persistence interfaces on PostgreSQL via
// sqlx. Every call carries its own timeout so a slow database cannot stall
// the decision path.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sellerpulse/repricer/internal/errs"
	"github.com/sellerpulse/repricer/internal/persistence"
)

const schema = `
CREATE TABLE IF NOT EXISTS decision_audit (
	id          BIGSERIAL PRIMARY KEY,
	digest      TEXT NOT NULL,
	entity_key  TEXT NOT NULL,
	action      TEXT NOT NULL,
	new_price   DOUBLE PRECISION NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL,
	source      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_decision_audit_entity ON decision_audit (entity_key, created_at DESC);

CREATE TABLE IF NOT EXISTS regime_state (
	entity_key      TEXT PRIMARY KEY,
	regime          TEXT NOT NULL,
	strategy_id     TEXT NOT NULL,
	transitioned_at TIMESTAMPTZ NOT NULL
);
`

// Connect opens the pool and ensures the schema exists.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

type decisionAuditRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewDecisionAuditRepo creates the PostgreSQL decision audit repository.
func NewDecisionAuditRepo(db *sqlx.DB, timeout time.Duration) persistence.DecisionAuditRepo {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &decisionAuditRepo{db: db, timeout: timeout}
}

func (r *decisionAuditRepo) Append(ctx context.Context, rec persistence.DecisionRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO decision_audit (digest, entity_key, action, new_price, confidence, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.db.ExecContext(ctx, query,
		rec.Digest, rec.EntityKey, rec.Action, rec.NewPrice, rec.Confidence, rec.Source, rec.CreatedAt,
	); err != nil {
		return fmt.Errorf("append decision audit: %v: %w", err, errs.ErrTransient)
	}
	return nil
}

func (r *decisionAuditRepo) RecentByEntity(ctx context.Context, entityKey string, limit int) ([]persistence.DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, digest, entity_key, action, new_price, confidence, source, created_at
		FROM decision_audit
		WHERE entity_key = $1
		ORDER BY created_at DESC
		LIMIT $2`
	var rows []persistence.DecisionRecord
	if err := r.db.SelectContext(ctx, &rows, query, entityKey, limit); err != nil {
		return nil, fmt.Errorf("read decision audit: %v: %w", err, errs.ErrTransient)
	}
	return rows, nil
}
