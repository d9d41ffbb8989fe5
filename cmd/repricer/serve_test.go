package main

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellerpulse/repricer/internal/persistence"
	"github.com/sellerpulse/repricer/internal/regime"
)

func newMirroredMachine(repo persistence.RegimeRepo) *regime.Machine {
	policy := regime.DefaultPolicy()
	m := regime.NewMachine(policy, zerolog.Nop())
	m.OnSwitch = func(entityKey string, from, to regime.Regime) {
		persistTransition(repo, policy, entityKey, from, to)
	}
	return m
}

func TestPersistTransitionMirrorsInOrder(t *testing.T) {
	repo := persistence.NewMemoryRegimeRepo()
	m := newMirroredMachine(repo)

	// Two back-to-back transitions; the store must end on the later one.
	_, changed := m.Evaluate("sku-1", regime.Context{MarketVolatility: 0.5})
	require.True(t, changed)
	_, changed = m.Evaluate("sku-1", regime.Context{})
	require.True(t, changed)

	stored, err := repo.Get(context.Background(), "sku-1")
	require.NoError(t, err)
	assert.Equal(t, "stable", stored.Regime)
	assert.Equal(t, regime.DefaultPolicy()[regime.Stable], stored.StrategyID)
}

func TestPersistTransitionMatchesMachineUnderContention(t *testing.T) {
	repo := persistence.NewMemoryRegimeRepo()
	m := newMirroredMachine(repo)

	contexts := []regime.Context{
		{MarketVolatility: 0.5},
		{},
		{CompetitorAggression: 0.9},
	}
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(ctx regime.Context) {
			defer wg.Done()
			m.Evaluate("sku-1", ctx)
		}(contexts[i%len(contexts)])
	}
	wg.Wait()

	// Whatever interleaving happened, the mirror must agree with the
	// machine's final regime.
	rec, err := m.Status("sku-1")
	require.NoError(t, err)
	stored, err := repo.Get(context.Background(), "sku-1")
	require.NoError(t, err)
	assert.Equal(t, rec.CurrentName, stored.Regime)
	assert.Equal(t, rec.ActiveStrategyID, stored.StrategyID)
}
