// Package alerts exports the currently actionable opportunities as a
// priority-bucketed JSON file for downstream alerting tooling.
package alerts

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sellerpulse/repricer/internal/opportunity"
)

type Emitter struct{}

func NewEmitter() *Emitter {
	return &Emitter{}
}

// EmitAlertsJSON writes the active opportunity set bucketed by priority.
// Priority is a confidence cut: >=0.8 high, >=0.6 medium, else low.
func (e *Emitter) EmitAlertsJSON(filePath string, opps []opportunity.MicroOpportunity) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("create alerts JSON: %w", err)
	}
	defer file.Close()

	alertsData := map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"alert_summary": map[string]interface{}{
			"total_alerts":    len(opps),
			"high_priority":   countByPriority(opps, "HIGH"),
			"medium_priority": countByPriority(opps, "MEDIUM"),
			"low_priority":    countByPriority(opps, "LOW"),
		},
		"alerts": enrich(opps),
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(alertsData); err != nil {
		return fmt.Errorf("encode alerts JSON: %w", err)
	}

	return nil
}

func enrich(opps []opportunity.MicroOpportunity) []map[string]interface{} {
	enriched := make([]map[string]interface{}, len(opps))
	for i, op := range opps {
		priority := calculatePriority(op)
		enriched[i] = map[string]interface{}{
			"id":          op.ID,
			"type":        op.Type,
			"entity_key":  op.EntityKey,
			"confidence":  op.Confidence,
			"priority":    priority,
			"action":      determineAction(priority),
			"description": op.Description,
			"detected_at": op.DetectedAt.UTC(),
			"expires_at":  op.ExpiresAt.UTC(),
		}
	}
	return enriched
}

func calculatePriority(op opportunity.MicroOpportunity) string {
	switch {
	case op.Confidence >= 0.8:
		return "HIGH"
	case op.Confidence >= 0.6:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

func countByPriority(opps []opportunity.MicroOpportunity, priority string) int {
	count := 0
	for _, op := range opps {
		if calculatePriority(op) == priority {
			count++
		}
	}
	return count
}

func determineAction(priority string) string {
	switch priority {
	case "HIGH":
		return "IMMEDIATE_REVIEW"
	case "MEDIUM":
		return "WATCHLIST"
	default:
		return "MONITOR"
	}
}
