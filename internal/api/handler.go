package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/podushkina/taskflow/internal/task"
)

type JobService interface {
	Enqueue(ctx context.Context) (string, error)
	Status(ctx context.Context, id string) (task.Job, error)
	Metrics(ctx context.Context) (int64, error)
	MetricsCacheTTL() time.Duration
	MarkProcessing(ctx context.Context, id string) (task.Job, error)
	MarkDone(ctx context.Context, id string, result task.Result) (task.Job, error)
}

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the server process: the caller-facing job API and the
// worker callbacks.
type Handler struct {
	svc     JobService
	store   Pinger
	verbose bool
	log     logrus.FieldLogger
}

// NewHandler builds the server handler. verbose adds error detail to
// responses and must be off in production.
func NewHandler(svc JobService, store Pinger, verbose bool, log logrus.FieldLogger) *Handler {
	return &Handler{svc: svc, store: store, verbose: verbose, log: log.WithField("mod", "tasks")}
}

type EnqueueResponse struct {
	JobID string `json:"jobId"`
}

type StatusResponse struct {
	ID     string       `json:"id"`
	Status task.Status  `json:"status"`
	Result *task.Result `json:"result,omitempty"`
}

type MetricsResponse struct {
	TotalDone int64 `json:"totalDone"`
}

type TransitionResponse struct {
	ID     string      `json:"id"`
	Status task.Status `json:"status"`
}

type ProcessingRequest struct {
	JobID string `json:"jobId" validate:"required,max=36"`
}

type DoneRequest struct {
	JobID      string    `json:"jobId" validate:"required,max=36"`
	Message    string    `json:"message" validate:"required"`
	FinishedAt time.Time `json:"finishedAt"`
}

func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	id, err := h.svc.Enqueue(r.Context())
	if err != nil {
		h.log.WithField("evt", "enqueue_error").Errorf("failed to enqueue task: %v", err)
		respondErr(w, err, h.verbose)
		return
	}
	respondJSON(w, http.StatusCreated, EnqueueResponse{JobID: id})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	id := chi.URLParam(r, "id")
	if id == "" || len(id) > task.MaxIDLength {
		respondErr(w, fmt.Errorf("%w: id must be 1-%d characters", task.ErrInvalid, task.MaxIDLength), h.verbose)
		return
	}

	job, err := h.svc.Status(r.Context(), id)
	if err != nil {
		respondErr(w, err, h.verbose)
		return
	}
	respondJSON(w, http.StatusOK, StatusResponse{ID: job.ID, Status: job.Status, Result: job.Result})
}

func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Metrics(r.Context())
	if err != nil {
		w.Header().Set("Cache-Control", "no-store")
		respondErr(w, err, h.verbose)
		return
	}

	if ttl := h.svc.MetricsCacheTTL(); ttl > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(ttl.Seconds())))
	} else {
		w.Header().Set("Cache-Control", "no-store")
	}
	respondJSON(w, http.StatusOK, MetricsResponse{TotalDone: n})
}

func (h *Handler) CallbackProcessing(w http.ResponseWriter, r *http.Request) {
	var req ProcessingRequest
	if err := decodeStrict(r, &req); err != nil {
		respondErr(w, err, h.verbose)
		return
	}

	job, err := h.svc.MarkProcessing(r.Context(), req.JobID)
	if err != nil {
		respondErr(w, err, h.verbose)
		return
	}
	respondJSON(w, http.StatusOK, TransitionResponse{ID: job.ID, Status: job.Status})
}

func (h *Handler) CallbackDone(w http.ResponseWriter, r *http.Request) {
	var req DoneRequest
	if err := decodeStrict(r, &req); err != nil {
		respondErr(w, err, h.verbose)
		return
	}
	if req.FinishedAt.IsZero() {
		respondErr(w, fmt.Errorf("%w: finishedAt is required", task.ErrInvalid), h.verbose)
		return
	}

	job, err := h.svc.MarkDone(r.Context(), req.JobID, task.Result{
		Message:    req.Message,
		FinishedAt: req.FinishedAt,
	})
	if err != nil {
		respondErr(w, err, h.verbose)
		return
	}
	respondJSON(w, http.StatusOK, TransitionResponse{ID: job.ID, Status: job.Status})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			h.log.WithField("evt", "health_store_error").Warnf("store ping failed: %v", err)
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
