// Package service holds the server-side job pipelines: enqueue, status,
// metrics and the worker callbacks. It is the only writer of job records.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/podushkina/taskflow/internal/events"
	"github.com/podushkina/taskflow/internal/metrics"
	"github.com/podushkina/taskflow/internal/task"
)

// CallbackPath is appended to the server's internal base URL to build the
// callbackUrl carried by every enqueue command.
const CallbackPath = "/tasks/callback"

type Store interface {
	CreateJob(ctx context.Context) (task.Job, error)
	GetJob(ctx context.Context, id string) (task.Job, error)
	MarkProcessing(ctx context.Context, id string) (task.Job, error)
	MarkDone(ctx context.Context, id string, result task.Result) (task.Job, error)
	CountDone(ctx context.Context) (int64, error)
}

type Dispatcher interface {
	Enqueue(ctx context.Context, cmd task.EnqueueCommand) error
}

type Service struct {
	store       Store
	dispatcher  Dispatcher
	callbackURL string
	events      events.Publisher
	metrics     metrics.Sink
	counter     *doneCounter
	now         func() time.Time
	log         logrus.FieldLogger
}

func New(store Store, dispatcher Dispatcher, callbackBaseURL string, log logrus.FieldLogger) *Service {
	log = log.WithField("mod", "service")
	return &Service{
		store:       store,
		dispatcher:  dispatcher,
		callbackURL: strings.TrimRight(callbackBaseURL, "/") + CallbackPath,
		events:      events.NewLogPublisher(log),
		metrics:     metrics.NewNoopSink(),
		counter:     newDoneCounter(store, 5*time.Second),
		now:         time.Now,
		log:         log,
	}
}

func (s *Service) WithPublisher(p events.Publisher) *Service {
	s.events = p
	return s
}

func (s *Service) WithMetrics(sink metrics.Sink) *Service {
	s.metrics = sink
	return s
}

// WithMetricsCacheTTL sets how long a done count is served before the store
// is asked again. Zero disables caching.
func (s *Service) WithMetricsCacheTTL(ttl time.Duration) *Service {
	s.counter = newDoneCounter(s.store, ttl)
	s.counter.now = s.now
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.counter.now = now
	return s
}

// MetricsCacheTTL reports the freshness window of Metrics.
func (s *Service) MetricsCacheTTL() time.Duration {
	return s.counter.ttl
}

// CallbackURL is the callbackUrl handed to workers.
func (s *Service) CallbackURL() string {
	return s.callbackURL
}

// Enqueue creates a queued job and hands it to the dispatcher. If dispatch
// fails the job stays queued and the error wraps task.ErrUnexpected.
func (s *Service) Enqueue(ctx context.Context) (string, error) {
	job, err := s.store.CreateJob(ctx)
	if err != nil {
		s.metrics.JobEnqueued(metrics.EnqueueStoreFailed)
		s.log.WithField("evt", "enqueue_store_error").Errorf("create job: %v", err)
		return "", unexpected("create job", err)
	}

	cmd, err := task.NewEnqueueCommand(job.ID, s.callbackURL, s.now())
	if err != nil {
		s.metrics.JobEnqueued(metrics.EnqueueInvalid)
		s.log.WithFields(logrus.Fields{
			"evt":    "enqueue_invalid_command",
			"job_id": job.ID,
		}).Errorf("build command: %v", err)
		return "", fmt.Errorf("%w: %w", task.ErrInvalid, err)
	}

	if err := s.dispatch(ctx, cmd); err != nil {
		s.metrics.JobEnqueued(metrics.EnqueueDispatchFailed)
		return "", err
	}

	s.metrics.JobEnqueued(metrics.EnqueueSuccess)
	s.log.WithFields(logrus.Fields{
		"evt":    "enqueued",
		"job_id": job.ID,
	}).Info("job enqueued")
	return job.ID, nil
}

// Redispatch sends a fresh command for a job that is still queued.
func (s *Service) Redispatch(ctx context.Context, job task.Job) error {
	if job.Status != task.StatusQueued {
		return fmt.Errorf("%w: job %s is %s", task.ErrConflict, job.ID, job.Status)
	}
	cmd, err := task.NewEnqueueCommand(job.ID, s.callbackURL, s.now())
	if err != nil {
		return fmt.Errorf("%w: %w", task.ErrInvalid, err)
	}
	return s.dispatch(ctx, cmd)
}

func (s *Service) dispatch(ctx context.Context, cmd task.EnqueueCommand) error {
	if err := s.dispatcher.Enqueue(ctx, cmd); err != nil {
		s.log.WithFields(logrus.Fields{
			"evt":    "enqueue_dispatch_error",
			"job_id": cmd.Payload.JobID,
		}).Errorf("dispatch: %v", err)
		if errors.Is(err, task.ErrUnexpected) {
			return err
		}
		return unexpected("dispatch", err)
	}
	return nil
}

func (s *Service) Status(ctx context.Context, id string) (task.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return task.Job{}, fmt.Errorf("%w: job %s", task.ErrNotFound, id)
		}
		return task.Job{}, unexpected("get job", err)
	}
	return job, nil
}

// Metrics returns the number of done jobs. The value may lag behind recent
// completions by up to the cache TTL.
func (s *Service) Metrics(ctx context.Context) (int64, error) {
	n, err := s.counter.get(ctx)
	if err != nil {
		return 0, unexpected("count done", err)
	}
	return n, nil
}

// MarkProcessing records the worker's processing notification. A repeat for
// a job already processing is a no-op success; one for a done job is a
// conflict.
func (s *Service) MarkProcessing(ctx context.Context, id string) (task.Job, error) {
	log := s.log.WithFields(logrus.Fields{"job_id": id, "target": task.StatusProcessing})

	job, err := s.store.MarkProcessing(ctx, id)
	if err != nil {
		return s.denied(log, id, string(task.StatusProcessing), job, err)
	}

	tr, err := task.ToProcessingTransition(job, s.now())
	if err != nil {
		s.metrics.TransitionRecorded(string(task.StatusProcessing), metrics.TransitionError)
		log.WithField("evt", "transition_mismatch").Errorf("validate transition: %v", err)
		return task.Job{}, unexpected("mark processing", err)
	}

	s.metrics.TransitionRecorded(string(task.StatusProcessing), metrics.TransitionApplied)
	s.events.Publish(ctx, tr.Event)
	return tr.Job, nil
}

// MarkDone records the worker's completion. The store accepts it from queued
// as well as processing; a repeat for a done job is a no-op success that
// leaves the first result in place.
func (s *Service) MarkDone(ctx context.Context, id string, result task.Result) (task.Job, error) {
	log := s.log.WithFields(logrus.Fields{"job_id": id, "target": task.StatusDone})

	job, err := s.store.MarkDone(ctx, id, result)
	if err != nil {
		return s.denied(log, id, string(task.StatusDone), job, err)
	}

	tr, err := task.ToCompletedTransition(job, s.now())
	if err != nil {
		s.metrics.TransitionRecorded(string(task.StatusDone), metrics.TransitionError)
		log.WithField("evt", "transition_mismatch").Errorf("validate transition: %v", err)
		return task.Job{}, unexpected("mark done", err)
	}

	s.metrics.TransitionRecorded(string(task.StatusDone), metrics.TransitionApplied)
	s.counter.invalidate()
	s.events.Publish(ctx, tr.Event)
	return tr.Job, nil
}

// denied classifies a failed store transition.
func (s *Service) denied(log logrus.FieldLogger, id, target string, current task.Job, err error) (task.Job, error) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		s.metrics.TransitionRecorded(target, metrics.TransitionNotFound)
		log.WithField("evt", "callback_not_found").Warn("callback for unknown job")
		return task.Job{}, fmt.Errorf("%w: job %s", task.ErrNotFound, id)

	case errors.Is(err, task.ErrTransitionDenied) && string(current.Status) == target:
		s.metrics.TransitionRecorded(target, metrics.TransitionDuplicate)
		log.WithField("evt", "callback_duplicate").Info("duplicate callback ignored")
		return current, nil

	case errors.Is(err, task.ErrTransitionDenied):
		s.metrics.TransitionRecorded(target, metrics.TransitionConflict)
		log.WithFields(logrus.Fields{
			"evt":     "callback_conflict",
			"current": current.Status,
		}).Warn("callback would move job backwards")
		return task.Job{}, fmt.Errorf("%w: job %s is already %s", task.ErrConflict, id, current.Status)
	}

	s.metrics.TransitionRecorded(target, metrics.TransitionError)
	log.WithField("evt", "callback_store_error").Errorf("store transition: %v", err)
	return task.Job{}, unexpected("mark "+target, err)
}

func unexpected(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", task.ErrUnexpected, op, err)
}
