// Package ingest consumes the at-least-once domain event feed and drives the
// window aggregator, opportunity detector, and regime machine. Events for one
// entity are applied in arrival order; entities are independent.
package ingest

import (
	"fmt"
	"time"

	"github.com/sellerpulse/repricer/internal/errs"
	"github.com/sellerpulse/repricer/internal/numeric"
	"github.com/sellerpulse/repricer/internal/window"
)

// Event is one inbound domain event. ID is optional; when the feed supplies
// one it is used for duplicate suppression.
type Event struct {
	ID         string         `json:"eventId,omitempty"`
	Type       string         `json:"eventType"`
	EntityKey  string         `json:"entityKey"`
	Payload    map[string]any `json:"payload"`
	ReceivedAt time.Time      `json:"-"`
}

// Validate rejects malformed events before any state mutation.
func (e Event) Validate() error {
	if e.EntityKey == "" {
		return fmt.Errorf("event missing entityKey: %w", errs.ErrInvalidScenario)
	}
	switch e.Type {
	case window.EventSaleCompleted:
		if _, ok := numberField(e.Payload, "quantity"); !ok {
			return fmt.Errorf("sale_completed missing numeric quantity: %w", errs.ErrInvalidScenario)
		}
	case window.EventPriceChanged:
		if _, ok := numberField(e.Payload, "oldPrice"); !ok {
			return fmt.Errorf("price_changed missing numeric oldPrice: %w", errs.ErrInvalidScenario)
		}
		if _, ok := numberField(e.Payload, "newPrice"); !ok {
			return fmt.Errorf("price_changed missing numeric newPrice: %w", errs.ErrInvalidScenario)
		}
	default:
		return fmt.Errorf("unknown event type %q: %w", e.Type, errs.ErrInvalidScenario)
	}
	return nil
}

func numberField(payload map[string]any, key string) (float64, bool) {
	return numeric.Float(payload[key])
}
