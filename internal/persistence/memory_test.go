package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellerpulse/repricer/internal/errs"
)

func TestAuditRecentByEntityNewestFirst(t *testing.T) {
	repo := NewMemoryDecisionAuditRepo()
	ctx := context.Background()

	for i, action := range []string{"hold", "adjust_price", "hold"} {
		require.NoError(t, repo.Append(ctx, DecisionRecord{
			Digest:    "d",
			EntityKey: "sku-1",
			Action:    action,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, repo.Append(ctx, DecisionRecord{EntityKey: "sku-other", Action: "hold"}))

	rows, err := repo.RecentByEntity(ctx, "sku-1", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "hold", rows[0].Action)
	assert.Equal(t, "adjust_price", rows[1].Action)
	assert.Equal(t, int64(3), rows[0].ID)
}

func TestRegimeRepoCompareAndSwap(t *testing.T) {
	repo := NewMemoryRegimeRepo()
	ctx := context.Background()
	rec := RegimeRecord{EntityKey: "sku-1", Regime: "volatile", StrategyID: "dynamic_demand"}

	// Insert-if-absent only applies with an empty fromRegime.
	ok, err := repo.CompareAndSwap(ctx, "sku-1", "stable", rec)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.CompareAndSwap(ctx, "sku-1", "", rec)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second insert attempt loses.
	ok, err = repo.CompareAndSwap(ctx, "sku-1", "", rec)
	require.NoError(t, err)
	assert.False(t, ok)

	next := RegimeRecord{EntityKey: "sku-1", Regime: "price_war", StrategyID: "competitive_matching"}
	ok, err = repo.CompareAndSwap(ctx, "sku-1", "volatile", next)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.Get(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, "price_war", got.Regime)
}

func TestRegimeRepoGetUnknown(t *testing.T) {
	repo := NewMemoryRegimeRepo()
	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
