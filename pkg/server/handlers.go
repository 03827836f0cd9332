package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"tollgate-hq/meridian/pkg/ledger"
	"tollgate-hq/meridian/pkg/meter"
	"tollgate-hq/meridian/pkg/pricing"
)

// envelope is the uniform response shape: status plus either data or an
// error message.
type envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Status: "success", Data: data})
}

func writeError(w http.ResponseWriter, statusCode int, msg string) {
	writeJSON(w, statusCode, envelope{Status: "error", Message: msg})
}

// errorStatus maps ledger and pricing failures to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrQuotaExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrBudgetSuspended):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrNoBudget):
		return http.StatusNotFound
	case errors.Is(err, pricing.ErrInvalidUnitCount):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

// handleGetBudget returns the full budget record for a principal.
// Unconfigured principals get a synthesized unlimited record.
func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	principalID := r.PathValue("principal")

	rec, err := s.deps.Ledger.Get(r.Context(), principalID)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeData(w, rec)
}

// setBudgetRequest is the body of PUT /v1/budgets/{principal}.
type setBudgetRequest struct {
	TotalBudget float64 `json:"total_budget"`
	Duration    string  `json:"duration"`
}

// handleSetBudget creates or replaces a principal's budget. The record is
// stored active and the accumulated cost restarts at zero; use Ensure via
// the charge path for create-without-overwrite semantics.
func (s *Server) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	principalID := r.PathValue("principal")

	var req setBudgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	rec := &ledger.Record{
		PrincipalID: principalID,
		TotalBudget: req.TotalBudget,
		Duration:    ledger.DurationClass(req.Duration),
	}
	if err := s.deps.Ledger.Set(r.Context(), rec); err != nil {
		status := errorStatus(err)
		if status == http.StatusInternalServerError {
			// Set only fails on validation or store errors, and store
			// errors map to 503 above.
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	stored, err := s.deps.Ledger.Get(r.Context(), principalID)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeData(w, stored)
}

// handleGetSpend returns the accumulated cost snapshot for a principal.
func (s *Server) handleGetSpend(w http.ResponseWriter, r *http.Request) {
	principalID := r.PathValue("principal")

	cost, err := s.deps.Ledger.Read(r.Context(), principalID)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeData(w, map[string]any{
		"principal_id": principalID,
		"current_cost": cost,
	})
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	s.setStatus(w, r, s.deps.Ledger.Suspend, ledger.StatusSuspended)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.setStatus(w, r, s.deps.Ledger.Resume, ledger.StatusActive)
}

func (s *Server) setStatus(w http.ResponseWriter, r *http.Request, transition func(ctx context.Context, principalID string) error, status ledger.Status) {
	principalID := r.PathValue("principal")

	if err := transition(r.Context(), principalID); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeData(w, map[string]any{
		"principal_id": principalID,
		"status":       string(status),
	})
}

// chargeRequest is the body of POST /v1/charges. Unit counts are only
// read when reported is true; otherwise the prompt and content are
// counted locally.
type chargeRequest struct {
	PrincipalID string `json:"principal_id"`
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	Content     string `json:"content"`
	InputUnits  int    `json:"input_units"`
	OutputUnits int    `json:"output_units"`
	Reported    bool   `json:"reported"`
}

// chargeResponse reports the settled charge.
type chargeResponse struct {
	PrincipalID string  `json:"principal_id"`
	Model       string  `json:"model"`
	Accepted    bool    `json:"accepted"`
	Cost        float64 `json:"cost"`
	NewTotal    float64 `json:"new_total"`
	WindowReset bool    `json:"window_reset,omitempty"`
}

// handleCharge settles one completed unit of work against the ledger.
// The principal is admitted first so first-time principals get a record
// and suspended ones are rejected before pricing.
func (s *Server) handleCharge(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}

	work := meter.Work{
		PrincipalID: req.PrincipalID,
		Model:       req.Model,
		Prompt:      req.Prompt,
	}
	if err := s.deps.Meter.Begin(r.Context(), work); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	result, err := s.deps.Meter.RecordCompletion(r.Context(), work, meter.Completion{
		Content:     req.Content,
		InputUnits:  req.InputUnits,
		OutputUnits: req.OutputUnits,
		Reported:    req.Reported,
	})
	if err != nil {
		var quotaErr *ledger.QuotaExceededError
		if errors.As(err, &quotaErr) {
			// Rejection carries a populated result; surface it so the
			// caller sees the would-be cost alongside the 402.
			writeJSON(w, http.StatusPaymentRequired, envelope{
				Status:  "error",
				Message: err.Error(),
				Data: chargeResponse{
					PrincipalID: quotaErr.PrincipalID,
					Model:       req.Model,
					Accepted:    false,
					Cost:        result.Amount,
					NewTotal:    result.NewTotal,
				},
			})
			return
		}
		writeError(w, errorStatus(err), err.Error())
		return
	}

	principalID := req.PrincipalID
	if principalID == "" {
		principalID = meter.DefaultPrincipal
	}
	writeData(w, chargeResponse{
		PrincipalID: principalID,
		Model:       req.Model,
		Accepted:    true,
		Cost:        result.Amount,
		NewTotal:    result.NewTotal,
		WindowReset: result.WindowReset,
	})
}

// handleUsage queries the usage journal. Query parameters: principal
// (empty matches all), since (RFC 3339), limit.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sink == nil {
		writeError(w, http.StatusNotImplemented, "usage journal is disabled")
		return
	}

	q := r.URL.Query()
	principalID := q.Get("principal")

	var since time.Time
	if raw := q.Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since, want RFC 3339: "+err.Error())
			return
		}
		since = parsed
	}

	limit := 100
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	events, err := s.deps.Sink.Query(r.Context(), principalID, since, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, map[string]any{
		"events": events,
		"count":  len(events),
	})
}
