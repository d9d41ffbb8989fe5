package window

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVelocityAccumulatesWithinHorizon(t *testing.T) {
	a := NewAggregator(DefaultConfig())

	for _, qty := range []float64{3, 5, 2} {
		require.NoError(t, a.Apply("sku-1", EventSaleCompleted, map[string]any{"quantity": qty, "price": 20.0}))
	}

	snap := a.Snapshot("sku-1")
	assert.Equal(t, 10.0, snap.Velocity.Value)
	assert.False(t, snap.Velocity.Stale)
}

func TestVelocityResetsBeyondHorizon(t *testing.T) {
	a := NewAggregator(Config{VelocityHorizon: 5 * time.Minute, VolatilityHorizon: time.Hour})
	now := time.Unix(1700000000, 0)
	a.now = func() time.Time { return now }

	require.NoError(t, a.Apply("sku-1", EventSaleCompleted, map[string]any{"quantity": 4.0}))

	// Past the horizon the stale accumulation is dropped before adding.
	now = now.Add(6 * time.Minute)
	require.NoError(t, a.Apply("sku-1", EventSaleCompleted, map[string]any{"quantity": 2.0}))

	snap := a.Snapshot("sku-1")
	assert.Equal(t, 2.0, snap.Velocity.Value)
}

func TestSnapshotMarksStaleValues(t *testing.T) {
	a := NewAggregator(DefaultConfig())
	now := time.Unix(1700000000, 0)
	a.now = func() time.Time { return now }

	require.NoError(t, a.Apply("sku-1", EventSaleCompleted, map[string]any{"quantity": 1.0}))
	require.NoError(t, a.Apply("sku-1", EventPriceChanged, map[string]any{"oldPrice": 100.0, "newPrice": 90.0}))

	now = now.Add(10 * time.Minute)
	snap := a.Snapshot("sku-1")
	assert.True(t, snap.Velocity.Stale, "velocity horizon is 5m")
	assert.False(t, snap.Volatility.Stale, "volatility horizon is 1h")
}

func TestVolatilityEMA(t *testing.T) {
	a := NewAggregator(DefaultConfig())

	require.NoError(t, a.Apply("sku-1", EventPriceChanged, map[string]any{"oldPrice": 100.0, "newPrice": 90.0}))
	snap := a.Snapshot("sku-1")
	assert.Equal(t, 10.0, snap.Volatility.Value, "first delta seeds the average")

	require.NoError(t, a.Apply("sku-1", EventPriceChanged, map[string]any{"oldPrice": 90.0, "newPrice": 94.0}))
	snap = a.Snapshot("sku-1")
	assert.Equal(t, 7.0, snap.Volatility.Value, "(10+|4|)/2")
}

func TestUnknownEventTypeRejected(t *testing.T) {
	a := NewAggregator(DefaultConfig())
	assert.Error(t, a.Apply("sku-1", "listing_viewed", map[string]any{}))
}

func TestUnknownEntitySnapshotIsStale(t *testing.T) {
	a := NewAggregator(DefaultConfig())
	snap := a.Snapshot("never-seen")
	assert.True(t, snap.Velocity.Stale)
	assert.True(t, snap.Volatility.Stale)
	assert.Zero(t, snap.Samples)
}

func TestBaselineTracksVelocityObservations(t *testing.T) {
	a := NewAggregator(DefaultConfig())
	for i := 0; i < 6; i++ {
		require.NoError(t, a.Apply("sku-1", EventSaleCompleted, map[string]any{"quantity": 1.0}))
	}

	snap := a.Snapshot("sku-1")
	assert.Equal(t, 6, snap.Samples)
	assert.InDelta(t, 3.5, snap.BaselineMean, 0.001, "levels were 1..6")
	assert.Greater(t, snap.BaselineStd, 0.0)
}

func TestMetricsAreIndependentPerEntity(t *testing.T) {
	a := NewAggregator(DefaultConfig())
	require.NoError(t, a.Apply("sku-1", EventSaleCompleted, map[string]any{"quantity": 3.0}))
	require.NoError(t, a.Apply("sku-2", EventPriceChanged, map[string]any{"oldPrice": 10.0, "newPrice": 8.0}))

	assert.Equal(t, 3.0, a.Snapshot("sku-1").Velocity.Value)
	assert.Zero(t, a.Snapshot("sku-1").Volatility.Value)
	assert.Equal(t, 2.0, a.Snapshot("sku-2").Volatility.Value)
	assert.Zero(t, a.Snapshot("sku-2").Velocity.Value)
}

func TestConcurrentUpdatesLoseNothing(t *testing.T) {
	a := NewAggregator(DefaultConfig())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = a.Apply("sku-1", EventSaleCompleted, map[string]any{"quantity": 1.0})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800.0, a.Snapshot("sku-1").Velocity.Value)
}
