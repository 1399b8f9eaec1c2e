// Package reconciler re-dispatches orphaned jobs: jobs still queued long
// after creation because their first dispatch failed or was lost.
// Re-dispatching a job the worker already has is harmless since the
// callbacks are idempotent.
package reconciler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/podushkina/taskflow/internal/metrics"
	"github.com/podushkina/taskflow/internal/task"
)

type Store interface {
	ListQueued(ctx context.Context, olderThan time.Time, limit int) ([]task.Job, error)
}

type Redispatcher interface {
	Redispatch(ctx context.Context, job task.Job) error
}

type Config struct {
	// Interval is how often a sweep runs.
	Interval time.Duration
	// Threshold is the age after which a queued job counts as orphaned.
	Threshold time.Duration
	// BatchSize caps the jobs re-dispatched per sweep.
	BatchSize int
}

func DefaultConfig() Config {
	return Config{
		Interval:  time.Minute,
		Threshold: 5 * time.Minute,
		BatchSize: 100,
	}
}

type Reconciler struct {
	config     Config
	store      Store
	dispatcher Redispatcher
	metrics    metrics.Sink
	clock      func() time.Time
	log        logrus.FieldLogger
}

func New(config Config, store Store, dispatcher Redispatcher, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{
		config:     config,
		store:      store,
		dispatcher: dispatcher,
		metrics:    metrics.NewNoopSink(),
		clock:      time.Now,
		log:        log.WithField("mod", "reconciler"),
	}
}

func (r *Reconciler) WithMetrics(sink metrics.Sink) *Reconciler {
	r.metrics = sink
	return r
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.log.WithFields(logrus.Fields{
		"evt":       "reconciler_started",
		"interval":  r.config.Interval.String(),
		"threshold": r.config.Threshold.String(),
		"batch":     r.config.BatchSize,
	}).Info("reconciler started")

	r.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			r.log.WithField("evt", "reconciler_stopped").Info("reconciler stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one cycle and returns how many jobs were re-dispatched.
func (r *Reconciler) Sweep(ctx context.Context) int {
	now := r.clock().UTC()

	orphans, err := r.store.ListQueued(ctx, now.Add(-r.config.Threshold), r.config.BatchSize)
	if err != nil {
		r.log.WithField("evt", "reconcile_list_error").Errorf("list orphans: %v", err)
		return 0
	}
	if len(orphans) == 0 {
		return 0
	}

	sent, failed := 0, 0
	for _, job := range orphans {
		if ctx.Err() != nil {
			break
		}

		log := r.log.WithField("job_id", job.ID)
		if err := r.dispatcher.Redispatch(ctx, job); err != nil {
			log.WithField("evt", "reconcile_dispatch_error").Warnf("re-dispatch failed: %v", err)
			failed++
			continue
		}

		log.WithFields(logrus.Fields{
			"evt": "reconcile_redispatched",
			"age": now.Sub(job.CreatedAt).Round(time.Second).String(),
		}).Info("orphan re-dispatched")
		sent++
	}

	r.metrics.OrphansRedispatched(sent)
	r.log.WithFields(logrus.Fields{
		"evt":    "reconcile_cycle",
		"sent":   sent,
		"failed": failed,
	}).Info("reconcile cycle complete")
	return sent
}
