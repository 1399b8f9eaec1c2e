package api

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/podushkina/taskflow/internal/task"
)

// Submitter runs a validated payload in the background.
type Submitter interface {
	Submit(ctx context.Context, payload task.EnqueuePayload)
}

// WorkerHandler serves the worker process's inbound endpoint.
type WorkerHandler struct {
	runner   Submitter
	validate func(task.EnqueuePayload) error
	verbose  bool
	log      logrus.FieldLogger
}

func NewWorkerHandler(runner Submitter, validate func(task.EnqueuePayload) error, verbose bool, log logrus.FieldLogger) *WorkerHandler {
	return &WorkerHandler{runner: runner, validate: validate, verbose: verbose, log: log.WithField("mod", "tasks")}
}

type AcceptedResponse struct {
	Accepted bool `json:"accepted"`
}

// Enqueue acknowledges the payload with 202 and processes it after the
// response is written.
func (h *WorkerHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var payload task.EnqueuePayload
	if err := decodeStrict(r, &payload); err != nil {
		h.log.WithField("evt", "enqueue_invalid").Warnf("rejected payload: %v", err)
		respondErr(w, err, h.verbose)
		return
	}
	if err := h.validate(payload); err != nil {
		respondErr(w, err, h.verbose)
		return
	}

	h.runner.Submit(r.Context(), payload)
	h.log.WithFields(logrus.Fields{
		"evt":    "enqueue_accepted",
		"job_id": payload.JobID,
	}).Info("job accepted")
	respondJSON(w, http.StatusAccepted, AcceptedResponse{Accepted: true})
}

func (h *WorkerHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
