package alerts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellerpulse/repricer/internal/opportunity"
)

func TestEmitAlertsJSONPriorities(t *testing.T) {
	now := time.Now()
	opps := []opportunity.MicroOpportunity{
		{ID: "hot", Type: opportunity.VelocitySpike, EntityKey: "sku-1", Confidence: 0.85, DetectedAt: now, ExpiresAt: now.Add(time.Minute)},
		{ID: "warm", Type: opportunity.UndercutWindow, EntityKey: "sku-2", Confidence: 0.65, DetectedAt: now, ExpiresAt: now.Add(time.Minute)},
		{ID: "cold", Type: opportunity.VolatilityBreakout, EntityKey: "sku-3", Confidence: 0.55, DetectedAt: now, ExpiresAt: now.Add(time.Minute)},
	}

	path := filepath.Join(t.TempDir(), "alerts.json")
	require.NoError(t, NewEmitter().EmitAlertsJSON(path, opps))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var out struct {
		Summary struct {
			Total  int `json:"total_alerts"`
			High   int `json:"high_priority"`
			Medium int `json:"medium_priority"`
			Low    int `json:"low_priority"`
		} `json:"alert_summary"`
		Alerts []struct {
			ID       string `json:"id"`
			Priority string `json:"priority"`
			Action   string `json:"action"`
		} `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(b, &out))

	assert.Equal(t, 3, out.Summary.Total)
	assert.Equal(t, 1, out.Summary.High)
	assert.Equal(t, 1, out.Summary.Medium)
	assert.Equal(t, 1, out.Summary.Low)

	require.Len(t, out.Alerts, 3)
	assert.Equal(t, "hot", out.Alerts[0].ID)
	assert.Equal(t, "HIGH", out.Alerts[0].Priority)
	assert.Equal(t, "IMMEDIATE_REVIEW", out.Alerts[0].Action)
	assert.Equal(t, "MONITOR", out.Alerts[2].Action)
}

func TestEmitAlertsJSONEmptySet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	require.NoError(t, NewEmitter().EmitAlertsJSON(path, nil))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	assert.NotNil(t, out["alert_summary"])
}
