package http

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/sellerpulse/repricer/internal/decision"
	"github.com/sellerpulse/repricer/internal/errs"
	"github.com/sellerpulse/repricer/internal/gate"
	"github.com/sellerpulse/repricer/internal/ingest"
	"github.com/sellerpulse/repricer/internal/opportunity"
	"github.com/sellerpulse/repricer/internal/regime"
)

// Handlers carries the core components the HTTP surface fronts.
type Handlers struct {
	decisions     *decision.Service
	opportunities *opportunity.Store
	regimes       *regime.Machine
	gates         *gate.Keeper
	pipeline      *ingest.Pipeline
	version       string
	log           zerolog.Logger
}

func NewHandlers(decisions *decision.Service, opportunities *opportunity.Store, regimes *regime.Machine, gates *gate.Keeper, pipeline *ingest.Pipeline, version string, log zerolog.Logger) *Handlers {
	return &Handlers{
		decisions:     decisions,
		opportunities: opportunities,
		regimes:       regimes,
		gates:         gates,
		pipeline:      pipeline,
		version:       version,
		log:           log.With().Str("component", "http").Logger(),
	}
}

// Decide handles POST /decide.
func (h *Handlers) Decide(w http.ResponseWriter, r *http.Request) {
	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errs.ErrInvalidScenario)
		return
	}

	d, err := h.decisions.Decide(r.Context(), decision.Scenario{
		EntityKey: req.EntityKey,
		Payload:   req.EventPayload,
	})
	if err != nil {
		if errors.Is(err, errs.ErrGated) {
			h.writeGated(w, req.EntityKey)
			return
		}
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, DecideResponse{
		Action:     d.Action,
		NewPrice:   d.NewPrice,
		Confidence: d.Confidence,
		Source:     string(d.Source),
		Digest:     d.Digest,
	})
}

// Opportunities handles GET /opportunities.
func (h *Handlers) Opportunities(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, errs.ErrInvalidScenario)
			return
		}
		limit = n
	}

	active := h.opportunities.ListActive(limit)
	h.writeJSON(w, http.StatusOK, OpportunitiesResponse{
		Opportunities: active,
		Count:         len(active),
		AsOf:          time.Now().UTC(),
	})
}

// SwitchRegime handles POST /regime/switch. Changed transitions reach the
// external store through the machine's OnSwitch hook.
func (h *Handlers) SwitchRegime(w http.ResponseWriter, r *http.Request) {
	var req SwitchRegimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EntityKey == "" {
		h.writeError(w, errs.ErrInvalidScenario)
		return
	}

	rec, changed := h.regimes.Evaluate(req.EntityKey, req.Context)

	h.writeJSON(w, http.StatusOK, SwitchRegimeResponse{
		EntityKey:     rec.EntityKey,
		Regime:        rec.CurrentName,
		NewStrategyID: rec.ActiveStrategyID,
		Changed:       changed,
	})
}

// RegimeStatus handles GET /regime/{entityKey}.
func (h *Handlers) RegimeStatus(w http.ResponseWriter, r *http.Request) {
	entityKey := mux.Vars(r)["entityKey"]
	rec, err := h.regimes.Status(entityKey)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// IngestEvent handles POST /events. The event is queued for ordered
// application; acceptance does not mean the aggregates have updated yet.
func (h *Handlers) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var ev ingest.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		h.writeError(w, errs.ErrInvalidScenario)
		return
	}

	if err := h.pipeline.Submit(r.Context(), ev); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, IngestResponse{Accepted: true})
}

// Gates handles GET /gates: the audit view of every entity's safety gate.
func (h *Handlers) Gates(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.gates.AllStatuses())
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   h.version,
		Timestamp: time.Now().UTC(),
	})
}

// NotFound is the JSON 404 handler.
func (h *Handlers) NotFound(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no such endpoint", Code: "not_found"})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("response encode failed")
	}
}

// writeGated answers 503 with a Retry-After tracking the entity's actual
// reopen time; the configured cooldown is the fallback when the gate record
// carries no reopen timestamp.
func (h *Handlers) writeGated(w http.ResponseWriter, entityKey string) {
	retry := int(math.Ceil(h.gates.Cooldown().Seconds()))
	if st, ok := h.gates.Status(entityKey); ok && st.ReopenAt != nil {
		if rem := time.Until(*st.ReopenAt); rem > 0 {
			retry = int(math.Ceil(rem.Seconds()))
		}
	}
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	h.writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
		Error:      "automated repricing temporarily suspended for this entity",
		Code:       "gated",
		RetryAfter: retry,
	})
}

// writeError maps the failure taxonomy onto HTTP statuses. A gated entity
// gets a readable suspension notice; internal failures stay generic.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrGated):
		h.writeGated(w, "")
	case errors.Is(err, errs.ErrInvalidScenario):
		h.writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: "request is malformed", Code: "invalid_scenario",
		})
	case errors.Is(err, errs.ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error: "unknown entity", Code: "not_found",
		})
	case errors.Is(err, errs.ErrComputationTimeout):
		h.writeJSON(w, http.StatusGatewayTimeout, ErrorResponse{
			Error: "decision did not complete in time, retry shortly", Code: "computation_timeout",
		})
	default:
		h.log.Error().Err(err).Msg("request failed")
		h.writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "temporary failure, retry with backoff", Code: "transient",
		})
	}
}
