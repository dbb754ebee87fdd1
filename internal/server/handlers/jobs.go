package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/dxrunner/internal/errors"
)

// JobSnapshot is the read-only job view served by the API.
type JobSnapshot struct {
	Provider      string     `json:"provider"`
	Task          string     `json:"task"`
	State         string     `json:"state"`
	PID           int        `json:"pid,omitempty"`
	Alive         bool       `json:"alive"`
	Model         string     `json:"model,omitempty"`
	RetryCount    int        `json:"retry_count"`
	MutationCount int        `json:"mutation_count"`
	ReasonCode    string     `json:"reason_code,omitempty"`
	ExitCode      *int       `json:"exit_code,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// JobSource supplies job snapshots. The supervisor satisfies it via an
// adapter; tests supply fakes.
type JobSource interface {
	Jobs(ctx context.Context) ([]JobSnapshot, error)
	Job(ctx context.Context, provider, task string) (*JobSnapshot, error)
}

// JobListResponse is the body of GET /api/v1/jobs.
type JobListResponse struct {
	Jobs  []JobSnapshot `json:"jobs"`
	Count int           `json:"count"`
}

// JobsHandler serves the read-only jobs API.
type JobsHandler struct {
	source JobSource
}

// NewJobsHandler builds the handler over a snapshot source.
func NewJobsHandler(source JobSource) *JobsHandler {
	return &JobsHandler{source: source}
}

// List serves GET /api/v1/jobs.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.source.Jobs(r.Context())
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "list jobs"))
		return
	}
	if jobs == nil {
		jobs = []JobSnapshot{}
	}
	writeJSON(w, http.StatusOK, JobListResponse{Jobs: jobs, Count: len(jobs)})
}

// Get serves GET /api/v1/jobs/{provider}/{task}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	task := chi.URLParam(r, "task")

	job, err := h.source.Job(r.Context(), providerName, task)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "read job"))
		return
	}
	if job == nil {
		respondWithError(w, r, apperrors.NewNotFoundError("no such job: "+providerName+"/"+task))
		return
	}
	writeJSON(w, http.StatusOK, job)
}
