package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/harun/llmsession/internal/tracing"
	"github.com/harun/llmsession/pkg/ledger"
	"github.com/harun/llmsession/pkg/orchestrator"
	"github.com/harun/llmsession/pkg/provider"
)

type healthResponse struct {
	Status    string   `json:"status"`
	Providers []string `json:"providers"`
}

type generateRequest struct {
	Provider string          `json:"provider"`
	Prompt   json.RawMessage `json:"prompt"`
}

type generateResponse struct {
	Status    string `json:"status"`
	Provider  string `json:"provider"`
	Mode      string `json:"mode"`
	Result    any    `json:"result"`
	JobID     string `json:"job_id"`
	SessionID string `json:"session_id"`
}

type generateFailure struct {
	Detail     string   `json:"detail"`
	JobID      string   `json:"job_id,omitempty"`
	ErrorKind  string   `json:"error_kind,omitempty"`
	FailedStep *int     `json:"failed_step,omitempty"`
	Partial    []string `json:"partial,omitempty"`
}

type resetResponse struct {
	Message string `json:"message"`
}

func (s *Server) health() healthResponse {
	ready := s.cfg.Orchestrator.Health()
	names := make([]string, len(ready))
	for i, p := range ready {
		names[i] = p.String()
	}
	return healthResponse{Status: "ok", Providers: names}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.health())
}

// handleReady answers 503 until every enabled provider has come up once.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	resp := s.health()
	if !s.cfg.Orchestrator.Ready() {
		resp.Status = "starting"
		respondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	logger := tracing.LoggerFromContext(r.Context(), s.logger)

	var req generateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if _, err := provider.Parse(req.Provider); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid provider: %s", req.Provider))
		return
	}

	payload, err := decodePrompt(req.Prompt)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	outcome, err := s.cfg.Orchestrator.Generate(r.Context(), req.Provider, payload)
	if err != nil {
		s.respondGenerateError(w, r, outcome, err)
		return
	}

	logger.Debug().
		Str("job_id", outcome.JobID).
		Str("provider", outcome.Provider.String()).
		Dur("duration", outcome.Duration()).
		Msg("Generate completed")

	resp := generateResponse{
		Status:    "success",
		Provider:  outcome.Provider.String(),
		Mode:      string(outcome.Mode),
		JobID:     outcome.JobID,
		SessionID: outcome.SessionID,
	}
	if outcome.Mode == orchestrator.ModeChain {
		resp.Result = outcome.Results
	} else {
		resp.Result = outcome.Result()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondGenerateError(w http.ResponseWriter, r *http.Request, outcome orchestrator.Outcome, err error) {
	logger := tracing.LoggerFromContext(r.Context(), s.logger)

	switch {
	case errors.Is(err, orchestrator.ErrInvalidProvider):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, orchestrator.ErrValidation):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, orchestrator.ErrClosed), errors.Is(err, orchestrator.ErrNotStarted):
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	case r.Context().Err() != nil:
		// Client went away; the job keeps running and lands in the ledger.
		logger.Info().Str("job_id", outcome.JobID).Msg("Client disconnected before job finished")
		return
	}

	logger.Error().
		Err(err).
		Str("job_id", outcome.JobID).
		Str("error_kind", orchestrator.ErrorKind(err)).
		Msg("Generate failed")

	resp := generateFailure{
		Detail:    fmt.Sprintf("Automation failed: %v", err),
		JobID:     outcome.JobID,
		ErrorKind: orchestrator.ErrorKind(err),
	}
	var stepErr *orchestrator.StepError
	if errors.As(err, &stepErr) {
		idx := stepErr.Index
		resp.FailedStep = &idx
		resp.Partial = stepErr.Partial
	}
	respondJSON(w, http.StatusInternalServerError, resp)
}

// decodePrompt accepts a string (single mode) or an array of strings (chain mode).
func decodePrompt(raw json.RawMessage) (orchestrator.Payload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return orchestrator.Payload{}, errors.New("prompt is required")
	}

	var payload orchestrator.Payload
	switch raw[0] {
	case '"':
		var prompt string
		if err := json.Unmarshal(raw, &prompt); err != nil {
			return orchestrator.Payload{}, fmt.Errorf("invalid prompt: %w", err)
		}
		payload = orchestrator.Single(prompt)
	case '[':
		var prompts []string
		if err := json.Unmarshal(raw, &prompts); err != nil {
			return orchestrator.Payload{}, errors.New("prompt array must contain only strings")
		}
		payload = orchestrator.Chain(prompts...)
	default:
		return orchestrator.Payload{}, errors.New("prompt must be a string or an array of strings")
	}

	if err := payload.Validate(); err != nil {
		return orchestrator.Payload{}, err
	}
	return payload, nil
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "provider")
	p, err := provider.Parse(raw)
	if err != nil || strings.TrimSpace(raw) == "" {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid provider: %s", raw))
		return
	}

	if err := s.cfg.Orchestrator.Reset(r.Context(), p.String()); err != nil {
		if errors.Is(err, orchestrator.ErrInvalidProvider) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to close %s browser: %v", p, err))
		return
	}

	respondJSON(w, http.StatusOK, resetResponse{Message: fmt.Sprintf("%s browser closed.", p)})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Jobs == nil {
		respondError(w, http.StatusNotFound, "job ledger is disabled")
		return
	}

	entry, err := s.cfg.Jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		respondError(w, http.StatusNotFound, "job not found")
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		respondJSON(w, http.StatusOK, entry)
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Jobs == nil {
		respondError(w, http.StatusNotFound, "job ledger is disabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusUnprocessableEntity, "limit must be a positive integer")
			return
		}
		limit = min(n, 500)
	}

	providerID := r.URL.Query().Get("provider")
	if providerID != "" {
		p, err := provider.Parse(providerID)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid provider: %s", providerID))
			return
		}
		providerID = p.String()
	}

	entries, err := s.cfg.Jobs.Recent(r.Context(), providerID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"jobs": entries})
}
