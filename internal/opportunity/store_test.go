package opportunity

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func opp(id string, confidence float64, expiresIn time.Duration) MicroOpportunity {
	now := time.Now()
	return MicroOpportunity{
		ID:         id,
		Type:       VelocitySpike,
		EntityKey:  "sku-" + id,
		Confidence: confidence,
		DetectedAt: now,
		ExpiresAt:  now.Add(expiresIn),
	}
}

func TestListActiveExcludesExpired(t *testing.T) {
	s := NewStore()
	s.Add(opp("live", 0.9, time.Minute))
	s.Add(opp("dead", 0.99, -time.Second))

	active := s.ListActive(0)
	require.Len(t, active, 1)
	assert.Equal(t, "live", active[0].ID, "expired records are invisible even before compaction")
}

func TestListActiveOrdering(t *testing.T) {
	s := NewStore()
	s.Add(
		opp("low", 0.3, time.Minute),
		opp("high", 0.9, time.Minute),
		opp("mid-late", 0.5, 2*time.Minute),
		opp("mid-soon", 0.5, 30*time.Second),
	)

	active := s.ListActive(0)
	require.Len(t, active, 4)
	assert.Equal(t, "high", active[0].ID)
	assert.Equal(t, "mid-soon", active[1].ID, "equal confidence ties break to the earliest expiry")
	assert.Equal(t, "mid-late", active[2].ID)
	assert.Equal(t, "low", active[3].ID)
}

func TestListActiveAppliesLimit(t *testing.T) {
	s := NewStore()
	for i := 0; i < 30; i++ {
		s.Add(opp(fmt.Sprintf("op-%d", i), 0.5, time.Minute))
	}

	assert.Len(t, s.ListActive(0), DefaultListLimit)
	assert.Len(t, s.ListActive(5), 5)
}

func TestCompactReclaimsExpired(t *testing.T) {
	s := NewStore()
	s.Add(opp("live", 0.9, time.Minute))
	s.Add(opp("dead-1", 0.5, -time.Second))
	s.Add(opp("dead-2", 0.5, -time.Minute))

	assert.Equal(t, 2, s.Compact())
	assert.Equal(t, 1, s.ActiveCount())
}
