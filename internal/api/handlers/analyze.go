package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wonny/aegis-analytics/internal/contracts"
	"github.com/wonny/aegis-analytics/internal/guardrail"
	"github.com/wonny/aegis-analytics/internal/pipeline"
	"github.com/wonny/aegis-analytics/internal/store"
	"github.com/wonny/aegis-analytics/pkg/logger"
)

// CallerHeader identifies the rate-limit identity of an API caller
const CallerHeader = "X-Caller-ID"

// maxBodyBytes bounds the request body
const maxBodyBytes = 64 << 10

// Runner executes one pipeline run
type Runner interface {
	Run(ctx context.Context, req contracts.Request) (*pipeline.RunRecord, error)
}

// AnalyzeHandler serves pipeline runs over HTTP
// ⭐ SSOT: 분석 API 핸들러는 이 구조체에서만
type AnalyzeHandler struct {
	runner Runner
	index  *store.RecentIndex
	logger *logger.Logger
}

// NewAnalyzeHandler creates a new analyze handler
func NewAnalyzeHandler(runner Runner, index *store.RecentIndex, log *logger.Logger) *AnalyzeHandler {
	return &AnalyzeHandler{
		runner: runner,
		index:  index,
		logger: log,
	}
}

// StageView is a stage result without its payload
type StageView struct {
	Stage     contracts.StageName `json:"stage"`
	Group     contracts.GroupName `json:"group"`
	Outcome   contracts.Outcome   `json:"outcome"`
	ErrorKind contracts.ErrorKind `json:"error_kind,omitempty"`
	Message   string              `json:"message,omitempty"`
	ElapsedMS float64             `json:"elapsed_ms"`
}

// RunResponse is the API view of a RunRecord. Stage payloads are internal
// and never returned; only the filtered output is.
type RunResponse struct {
	store.Summary
	Output  contracts.Payload     `json:"output,omitempty"`
	Stages  []StageView           `json:"stages"`
	Skipped []contracts.StageName `json:"skipped,omitempty"`
	Error   *pipeline.RunError    `json:"error,omitempty"`
	Denial  *guardrail.Decision   `json:"denial,omitempty"`
}

func newRunResponse(rec *pipeline.RunRecord) RunResponse {
	stages := make([]StageView, 0, len(rec.Results))
	for _, r := range rec.Results {
		stages = append(stages, StageView{
			Stage:     r.Stage,
			Group:     r.Group,
			Outcome:   r.Outcome,
			ErrorKind: r.ErrorKind,
			Message:   r.Message,
			ElapsedMS: float64(r.Elapsed.Microseconds()) / 1000,
		})
	}
	return RunResponse{
		Summary: store.Summarize(rec),
		Output:  rec.Output,
		Stages:  stages,
		Skipped: rec.Skipped,
		Error:   rec.Error,
		Denial:  rec.Denial,
	}
}

// Analyze runs the pipeline for one ticker
// POST /api/analyze
func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req contracts.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if caller := r.Header.Get(CallerHeader); caller != "" {
		req.CallerID = caller
	}

	rec, err := h.runner.Run(r.Context(), req)
	if rec == nil {
		h.logger.WithError(err).Error("Pipeline returned no record")
		RespondError(w, http.StatusInternalServerError, "Pipeline error")
		return
	}
	if err != nil {
		// 저장 실패는 응답을 막지 않음
		h.logger.WithRun(rec.RunID, rec.Ticker).WithError(err).Warn("Run record not persisted")
	}

	RespondJSON(w, statusFor(rec), newRunResponse(rec))
}

// statusFor maps a terminal run state to an HTTP status
func statusFor(rec *pipeline.RunRecord) int {
	switch rec.Status {
	case pipeline.StateCompleted:
		return http.StatusOK
	case pipeline.StateDenied:
		if rec.Denial == nil {
			return http.StatusForbidden
		}
		switch rec.Denial.Kind {
		case contracts.ErrKindValidation:
			return http.StatusUnprocessableEntity
		case contracts.ErrKindRateLimited:
			if rec.Denial.Reason == guardrail.ReasonLimiterUnavailable {
				return http.StatusServiceUnavailable
			}
			return http.StatusTooManyRequests
		default:
			return http.StatusForbidden
		}
	default:
		return http.StatusInternalServerError
	}
}

// GetRun returns a recent run by id
// GET /api/runs/{id}
func (h *AnalyzeHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := h.index.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		RespondError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to get run")
		RespondError(w, http.StatusInternalServerError, "Failed to retrieve run")
		return
	}

	RespondJSON(w, http.StatusOK, newRunResponse(rec))
}

// ListRuns returns summaries of recent runs, newest first
// GET /api/runs
func (h *AnalyzeHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.index.List()
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}
