package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/dyluth/rubricwatch/internal/judge"
	"github.com/dyluth/rubricwatch/internal/reconcile"
	"github.com/dyluth/rubricwatch/pkg/checklist"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// ReplaceCriteriaRequest is the body of PUT /sessions/{session}/criteria.
type ReplaceCriteriaRequest struct {
	Criteria []reconcile.CriterionInput `json:"criteria"`
}

// ReplaceCriteriaResponse echoes the stored criteria.
type ReplaceCriteriaResponse struct {
	Criteria []checklist.Criterion `json:"criteria"`
}

// TranscriptRequest is the body of POST .../transcripts.
type TranscriptRequest struct {
	Transcript string `json:"transcript"`
	Scenario   string `json:"scenario,omitempty"`
	Strictness string `json:"strictness,omitempty"`
}

// AcceptedResponse acknowledges a fire-and-forget evaluation.
type AcceptedResponse struct {
	Status      string `json:"status"`
	SessionID   string `json:"sessionId"`
	GroupNumber int    `json:"groupNumber"`
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status string `json:"status"`
	Redis  string `json:"redis,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleReplaceCriteria(w http.ResponseWriter, r *http.Request) {
	var req ReplaceCriteriaRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	criteria, err := s.engine.ReplaceCriteria(r.Context(), r.PathValue("session"), req.Criteria)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReplaceCriteriaResponse{Criteria: criteria})
}

func (s *Server) handleTeardown(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.TeardownSession(r.Context(), r.PathValue("session")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvaluate accepts a transcript chunk and evaluates it in the background.
// The caller gets 202 immediately; results arrive as broadcasts.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	sessionID, group, err := groupPath(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req TranscriptRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	var strictness judge.Strictness
	if req.Strictness != "" {
		if strictness, err = judge.ParseStrictness(req.Strictness); err != nil {
			writeError(w, fmt.Errorf("%w: %w", reconcile.ErrInvalidRequest, err))
			return
		}
	}

	evalReq := reconcile.EvaluateRequest{
		SessionID:   sessionID,
		GroupNumber: group,
		Transcript:  req.Transcript,
		Scenario:    req.Scenario,
		Strictness:  strictness,
	}

	if !s.startRound() {
		writeError(w, ErrShuttingDown)
		return
	}
	go func() {
		defer s.rounds.Done()
		ctx, cancel := context.WithTimeout(s.roundsCtx, s.evaluationTimeout)
		defer cancel()

		if _, err := s.engine.Evaluate(ctx, evalReq); err != nil {
			log.Printf("[Server] Evaluation for %s-%d failed: %v", sessionID, group, err)
		}
	}()

	writeJSON(w, http.StatusAccepted, AcceptedResponse{Status: "accepted", SessionID: sessionID, GroupNumber: group})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	sessionID, group, err := groupPath(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var payload reconcile.OptimisticPayload
	if err := decodeBody(w, r, &payload, true); err != nil {
		writeError(w, err)
		return
	}

	snapshot, err := s.engine.Release(r.Context(), sessionID, group, payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	sessionID, group, err := groupPath(r)
	if err != nil {
		writeError(w, err)
		return
	}

	snapshot, err := s.engine.GetSnapshot(r.Context(), sessionID, group)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handleHealth returns 200 OK if Redis is accessible, 503 Service Unavailable otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.subs.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "unhealthy",
			Redis:  "disconnected",
			Error:  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Redis: "connected"})
}

// groupPath extracts and validates the session and group path values.
func groupPath(r *http.Request) (string, int, error) {
	sessionID := r.PathValue("session")
	group, err := strconv.Atoi(r.PathValue("group"))
	if err != nil || group < 0 {
		return "", 0, fmt.Errorf("%w: invalid group number %q", reconcile.ErrInvalidRequest, r.PathValue("group"))
	}
	return sessionID, group, nil
}

// decodeBody decodes a JSON request body into v. When allowEmpty is set an
// empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: malformed JSON body: %w", reconcile.ErrInvalidRequest, err)
	}
	return nil
}

// writeError maps engine errors to HTTP status codes: invalid input is 400,
// store failures are 503 and retryable, anything else is 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, reconcile.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, ErrShuttingDown):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Retryable: true})
		return
	case reconcile.IsRetryable(err):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Retryable: reconcile.IsRetryable(err)})
}

// startRound registers a round with the drain group unless shutdown has begun.
func (s *Server) startRound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.rounds.Add(1)
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] Failed to write response: %v", err)
	}
}
