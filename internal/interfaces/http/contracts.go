package http

import (
	"time"

	"github.com/sellerpulse/repricer/internal/opportunity"
	"github.com/sellerpulse/repricer/internal/regime"
)

// DecideRequest is the POST /decide body. EventPayload carries live pricing
// inputs keyed exactly as supplied; field order never affects the digest.
type DecideRequest struct {
	EntityKey    string         `json:"entityKey"`
	EventPayload map[string]any `json:"eventPayload"`
}

// DecideResponse is the decision returned to the caller.
type DecideResponse struct {
	Action     string  `json:"action"`
	NewPrice   float64 `json:"newPrice,omitempty"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	Digest     string  `json:"digest"`
}

// OpportunitiesResponse is the GET /opportunities body.
type OpportunitiesResponse struct {
	Opportunities []opportunity.MicroOpportunity `json:"opportunities"`
	Count         int                            `json:"count"`
	AsOf          time.Time                      `json:"as_of"`
}

// SwitchRegimeRequest is the POST /regime/switch body.
type SwitchRegimeRequest struct {
	EntityKey string         `json:"entityKey"`
	Context   regime.Context `json:"context"`
}

// SwitchRegimeResponse reports the machine's answer.
type SwitchRegimeResponse struct {
	EntityKey     string `json:"entityKey"`
	Regime        string `json:"regime"`
	NewStrategyID string `json:"newStrategyId"`
	Changed       bool   `json:"changed"`
}

// IngestResponse acknowledges an accepted event.
type IngestResponse struct {
	Accepted bool `json:"accepted"`
}

// ErrorResponse is the uniform error body. Gated responses carry a
// user-readable message and a retry hint; everything else is generic.
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}
