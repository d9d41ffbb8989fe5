package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellerpulse/repricer/internal/errs"
	"github.com/sellerpulse/repricer/internal/gate"
	"github.com/sellerpulse/repricer/internal/persistence"
)

func newTestService(t *testing.T, pricing Pricing, timeout time.Duration) (*Service, *gate.Keeper, Cache) {
	t.Helper()
	gates := gate.NewKeeper(gate.DefaultConfig(), zerolog.Nop())
	cache := NewMemoryCache()
	audit := persistence.NewMemoryDecisionAuditRepo()
	svc := NewService(gates, cache, pricing, audit, timeout, Hooks{}, zerolog.Nop())
	return svc, gates, cache
}

func testScenario() Scenario {
	return Scenario{EntityKey: "sku-X", Payload: map[string]any{
		"currentPrice":    100.0,
		"competitorPrice": 95.0,
	}}
}

func TestDecideRealtimeOnColdCache(t *testing.T) {
	svc, _, _ := newTestService(t, ReferencePricing(), time.Second)

	d, err := svc.Decide(context.Background(), testScenario())
	require.NoError(t, err)
	assert.Equal(t, SourceRealtime, d.Source)
	assert.Equal(t, "adjust_price", d.Action)
	assert.InDelta(t, 94.05, d.NewPrice, 0.001, "1% under competitor")
	assert.NotEmpty(t, d.Digest)
}

func TestDecidePrecomputedAfterWarm(t *testing.T) {
	svc, _, cache := newTestService(t, ReferencePricing(), time.Second)
	sc := testScenario()

	first, err := svc.Decide(context.Background(), sc)
	require.NoError(t, err)
	require.Equal(t, SourceRealtime, first.Source)

	// The offline path populates the cache; the service never does.
	pre := NewPrecomputer(cache, ReferencePricing(), time.Second, zerolog.Nop())
	stored, err := pre.Warm(context.Background(), []Scenario{sc})
	require.NoError(t, err)
	require.Equal(t, 1, stored)

	second, err := svc.Decide(context.Background(), sc)
	require.NoError(t, err)
	assert.Equal(t, SourcePrecomputed, second.Source)
	assert.Equal(t, first.NewPrice, second.NewPrice, "precomputed answer must match the realtime one")
}

func TestDecideNeverWritesCache(t *testing.T) {
	svc, _, cache := newTestService(t, ReferencePricing(), time.Second)
	sc := testScenario()

	d, err := svc.Decide(context.Background(), sc)
	require.NoError(t, err)
	require.Equal(t, SourceRealtime, d.Source)

	digest, err := sc.Digest()
	require.NoError(t, err)
	_, ok, err := cache.Lookup(context.Background(), digest)
	require.NoError(t, err)
	assert.False(t, ok, "the decide path must leave the cache cold")
}

func TestDecideFailsFastWhenGated(t *testing.T) {
	calls := 0
	pricing := func(ctx context.Context, s Scenario) (Decision, error) {
		calls++
		return ReferencePricing()(ctx, s)
	}
	svc, gates, _ := newTestService(t, pricing, time.Second)

	for i := 0; i < 5; i++ {
		gates.RecordOutcome("sku-X", false)
	}

	_, err := svc.Decide(context.Background(), testScenario())
	assert.ErrorIs(t, err, errs.ErrGated)
	assert.Zero(t, calls, "gated requests must not compute")
}

func TestDecideTimeoutCountsAsGateFailure(t *testing.T) {
	slow := func(ctx context.Context, _ Scenario) (Decision, error) {
		select {
		case <-time.After(500 * time.Millisecond):
			return Decision{Action: "hold"}, nil
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		}
	}
	svc, gates, _ := newTestService(t, slow, 20*time.Millisecond)

	_, err := svc.Decide(context.Background(), testScenario())
	assert.ErrorIs(t, err, errs.ErrComputationTimeout)

	st, ok := gates.Status("sku-X")
	require.True(t, ok)
	assert.Equal(t, uint32(1), st.ConsecutiveFailures)
}

func TestDecidePricingErrorCountsAsGateFailure(t *testing.T) {
	failing := func(context.Context, Scenario) (Decision, error) {
		return Decision{}, errors.New("marketplace adapter unavailable")
	}
	svc, gates, _ := newTestService(t, failing, time.Second)

	_, err := svc.Decide(context.Background(), testScenario())
	require.Error(t, err)
	assert.NotErrorIs(t, err, errs.ErrGated)

	st, ok := gates.Status("sku-X")
	require.True(t, ok)
	assert.Equal(t, uint32(1), st.ConsecutiveFailures)
}

func TestDecideRejectsInvalidScenarioBeforeStateChanges(t *testing.T) {
	svc, gates, _ := newTestService(t, ReferencePricing(), time.Second)

	_, err := svc.Decide(context.Background(), Scenario{EntityKey: "", Payload: map[string]any{"x": 1.0}})
	assert.ErrorIs(t, err, errs.ErrInvalidScenario)
	_, ok := gates.Status("")
	assert.False(t, ok, "invalid input must not create gate state")
}

func TestCacheHitRecordsGateSuccess(t *testing.T) {
	svc, gates, cache := newTestService(t, ReferencePricing(), time.Second)
	sc := testScenario()
	digest, err := sc.Digest()
	require.NoError(t, err)

	require.NoError(t, cache.Store(context.Background(), digest, Decision{Action: "hold", NewPrice: 100, Confidence: 0.6}))

	// Four failures leave the gate one short of tripping; the hit resets it.
	for i := 0; i < 4; i++ {
		gates.RecordOutcome("sku-X", false)
	}
	_, err = svc.Decide(context.Background(), sc)
	require.NoError(t, err)

	st, ok := gates.Status("sku-X")
	require.True(t, ok)
	assert.Equal(t, uint32(0), st.ConsecutiveFailures)
}

func TestReferencePricingHoldsWithoutCompetitor(t *testing.T) {
	d, err := ReferencePricing()(context.Background(), Scenario{
		EntityKey: "sku-1",
		Payload:   map[string]any{"currentPrice": 50.0},
	})
	require.NoError(t, err)
	assert.Equal(t, "hold", d.Action)
	assert.Equal(t, 50.0, d.NewPrice)
}

func TestReferencePricingRespectsFloor(t *testing.T) {
	d, err := ReferencePricing()(context.Background(), Scenario{
		EntityKey: "sku-1",
		Payload:   map[string]any{"currentPrice": 100.0, "competitorPrice": 10.0},
	})
	require.NoError(t, err)
	assert.Equal(t, 80.0, d.NewPrice, "undercut must stop at 80% of current price")
}
