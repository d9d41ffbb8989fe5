package decision

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/sellerpulse/repricer/internal/errs"
	"github.com/sellerpulse/repricer/internal/numeric"
)

// Scenario is the normalized input describing a situation for which a
// decision is requested. Payload carries the live pricing inputs
// (currentPrice, competitorPrice, ...) as decoded JSON.
type Scenario struct {
	EntityKey string         `json:"entityKey"`
	Payload   map[string]any `json:"eventPayload"`
}

// Validate rejects malformed scenarios before any state is touched.
func (s Scenario) Validate() error {
	if s.EntityKey == "" {
		return fmt.Errorf("missing entity key: %w", errs.ErrInvalidScenario)
	}
	if len(s.Payload) == 0 {
		return fmt.Errorf("missing event payload: %w", errs.ErrInvalidScenario)
	}
	return nil
}

// Canonical serializes the scenario into its canonical form: fixed top-level
// shape, object keys sorted at every depth. encoding/json marshals map keys
// in sorted order, so two scenarios that differ only in input field order
// produce identical bytes.
func (s Scenario) Canonical() ([]byte, error) {
	b, err := json.Marshal(map[string]any{
		"entityKey":    s.EntityKey,
		"eventPayload": s.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("scenario not serializable: %w", errs.ErrInvalidScenario)
	}
	return b, nil
}

// Digest returns the hex SHA-256 fingerprint of the canonical form. Identical
// normalized scenarios always hash identically.
func (s Scenario) Digest() (string, error) {
	b, err := s.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Number extracts a numeric payload field, tolerating the integer and float
// shapes JSON decoding produces.
func (s Scenario) Number(key string) (float64, bool) {
	return numeric.Float(s.Payload[key])
}
