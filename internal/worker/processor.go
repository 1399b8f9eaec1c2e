// Package worker runs jobs handed over by the server. It never touches the
// job store: all progress is reported through the server's callbacks.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/podushkina/taskflow/internal/handlers"
	"github.com/podushkina/taskflow/internal/metrics"
	"github.com/podushkina/taskflow/internal/task"
)

type Notifier interface {
	NotifyProcessing(ctx context.Context, callbackURL, jobID string) error
	NotifyDone(ctx context.Context, callbackURL, jobID string, result task.Result) error
}

// Processor is the execution pipeline for a single enqueue payload.
type Processor struct {
	notifier Notifier
	work     handlers.Work
	metrics  metrics.Sink
	now      func() time.Time
	log      logrus.FieldLogger
}

func NewProcessor(notifier Notifier, work handlers.Work, log logrus.FieldLogger) *Processor {
	return &Processor{
		notifier: notifier,
		work:     work,
		metrics:  metrics.NewNoopSink(),
		now:      time.Now,
		log:      log.WithField("mod", "worker"),
	}
}

func (p *Processor) WithMetrics(sink metrics.Sink) *Processor {
	p.metrics = sink
	return p
}

// Validate checks the payload shape and the domain rules.
func Validate(payload task.EnqueuePayload) error {
	if err := task.ValidatePayload(payload); err != nil {
		return fmt.Errorf("%w: %v", task.ErrInvalid, err)
	}
	if err := task.ValidateInvariants(payload.JobID, payload.CallbackURL); err != nil {
		return fmt.Errorf("%w: %v", task.ErrInvalid, err)
	}
	return nil
}

// Process validates payload, reports processing, runs the work and reports
// the result. A failed processing notification is logged and ignored.
func (p *Processor) Process(ctx context.Context, payload task.EnqueuePayload) error {
	log := p.log.WithField("job_id", payload.JobID)

	if err := Validate(payload); err != nil {
		p.metrics.WorkerJobFinished(metrics.WorkerInvalid)
		log.WithField("evt", "process_invalid").Warnf("rejected payload: %v", err)
		return err
	}

	if err := p.notifier.NotifyProcessing(ctx, payload.CallbackURL, payload.JobID); err != nil {
		log.WithField("evt", "notify_processing_error").Warnf("processing callback failed: %v", err)
	}

	message, err := p.work(ctx, payload)
	if err != nil {
		p.metrics.WorkerJobFinished(metrics.WorkerFailed)
		log.WithField("evt", "work_error").Errorf("work failed: %v", err)
		return fmt.Errorf("%w: run job %s: %v", task.ErrUnexpected, payload.JobID, err)
	}

	result := task.Result{Message: message, FinishedAt: p.now().UTC()}
	if err := p.notifier.NotifyDone(ctx, payload.CallbackURL, payload.JobID, result); err != nil {
		p.metrics.WorkerJobFinished(metrics.WorkerFailed)
		return fmt.Errorf("%w: notify done for job %s: %v", task.ErrUnexpected, payload.JobID, err)
	}

	p.metrics.WorkerJobFinished(metrics.WorkerSucceeded)
	log.WithField("evt", "process_done").Info("job finished")
	return nil
}
