// Package output writes operator snapshot files: the active opportunity set
// as CSV and the per-entity regime table as JSON. Snapshots are taken
// periodically by the serve loop so operators can inspect state without
// touching the API.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sellerpulse/repricer/internal/opportunity"
	"github.com/sellerpulse/repricer/internal/regime"
)

type Emitter struct{}

func NewEmitter() *Emitter {
	return &Emitter{}
}

// EmitOpportunitiesCSV writes the active opportunities ordered as given
// (the store already sorts by confidence).
func (e *Emitter) EmitOpportunitiesCSV(filePath string, opps []opportunity.MicroOpportunity) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("create opportunities CSV: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"ID", "Type", "EntityKey", "Confidence", "DetectedAt", "ExpiresAt", "TTLRemaining", "Description"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}

	now := time.Now().UTC()
	for _, op := range opps {
		record := []string{
			op.ID,
			string(op.Type),
			op.EntityKey,
			fmt.Sprintf("%.2f", op.Confidence),
			op.DetectedAt.UTC().Format(time.RFC3339),
			op.ExpiresAt.UTC().Format(time.RFC3339),
			strconv.FormatInt(int64(op.ExpiresAt.Sub(now).Seconds()), 10),
			op.Description,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write CSV record: %w", err)
		}
	}

	return nil
}

// EmitRegimesJSON writes the per-entity regime table with a summary count
// per regime name.
func (e *Emitter) EmitRegimesJSON(filePath string, records []regime.Record) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("create regimes JSON: %w", err)
	}
	defer file.Close()

	counts := map[string]int{}
	for _, rec := range records {
		counts[rec.CurrentName]++
	}

	snapshot := map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"summary": map[string]interface{}{
			"entities":   len(records),
			"per_regime": counts,
		},
		"entities": records,
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snapshot); err != nil {
		return fmt.Errorf("encode regimes JSON: %w", err)
	}

	return nil
}
