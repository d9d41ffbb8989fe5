package persistence

import (
	"context"
	"fmt"
	"sync"

	"github.com/sellerpulse/repricer/internal/errs"
)

// MemoryDecisionAuditRepo is the in-process audit log used when no database
// is configured, and in tests.
type MemoryDecisionAuditRepo struct {
	mu   sync.RWMutex
	rows []DecisionRecord
}

func NewMemoryDecisionAuditRepo() *MemoryDecisionAuditRepo {
	return &MemoryDecisionAuditRepo{}
}

func (r *MemoryDecisionAuditRepo) Append(_ context.Context, rec DecisionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.ID = int64(len(r.rows) + 1)
	r.rows = append(r.rows, rec)
	return nil
}

func (r *MemoryDecisionAuditRepo) RecentByEntity(_ context.Context, entityKey string, limit int) ([]DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DecisionRecord, 0, limit)
	for i := len(r.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if r.rows[i].EntityKey == entityKey {
			out = append(out, r.rows[i])
		}
	}
	return out, nil
}

// MemoryRegimeRepo is the in-process regime store counterpart.
type MemoryRegimeRepo struct {
	mu   sync.RWMutex
	rows map[string]RegimeRecord
}

func NewMemoryRegimeRepo() *MemoryRegimeRepo {
	return &MemoryRegimeRepo{rows: make(map[string]RegimeRecord)}
}

func (r *MemoryRegimeRepo) Upsert(_ context.Context, rec RegimeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[rec.EntityKey] = rec
	return nil
}

func (r *MemoryRegimeRepo) Get(_ context.Context, entityKey string) (RegimeRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.rows[entityKey]
	if !ok {
		return RegimeRecord{}, fmt.Errorf("regime for %q: %w", entityKey, errs.ErrNotFound)
	}
	return rec, nil
}

func (r *MemoryRegimeRepo) CompareAndSwap(_ context.Context, entityKey, fromRegime string, next RegimeRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.rows[entityKey]
	if !ok {
		if fromRegime != "" {
			return false, nil
		}
		r.rows[entityKey] = next
		return true, nil
	}
	if cur.Regime != fromRegime {
		return false, nil
	}
	r.rows[entityKey] = next
	return true, nil
}
