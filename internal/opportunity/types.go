// Package opportunity detects and stores short-lived, confidence-scored
// signals that a favorable action window exists for an entity.
package opportunity

import "time"

// Type identifies the rule that produced an opportunity.
type Type string

const (
	VelocitySpike      Type = "velocity_spike"
	VolatilityBreakout Type = "volatility_breakout"
	UndercutWindow     Type = "undercut_window"
)

// MicroOpportunity is a time-bounded signal. It is visible to readers only
// while now < ExpiresAt; expired records are excluded from queries and
// reclaimed lazily.
type MicroOpportunity struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	EntityKey   string    `json:"entity_key"`
	Description string    `json:"description"`
	Confidence  float64   `json:"confidence"`
	DetectedAt  time.Time `json:"detected_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}
