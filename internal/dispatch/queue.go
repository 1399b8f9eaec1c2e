package dispatch

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/podushkina/taskflow/internal/metrics"
	"github.com/podushkina/taskflow/internal/task"
)

// CommandQueue is the subset of queue.Queue the dispatcher needs.
type CommandQueue interface {
	Push(ctx context.Context, cmd task.EnqueueCommand) error
}

// QueueDispatcher pushes commands onto the Redis command queue consumed by
// worker.Pool. Delivery is at-least-once.
type QueueDispatcher struct {
	queue   CommandQueue
	metrics metrics.Sink
	log     logrus.FieldLogger
}

func NewQueueDispatcher(q CommandQueue, log logrus.FieldLogger) *QueueDispatcher {
	return &QueueDispatcher{
		queue:   q,
		metrics: metrics.NewNoopSink(),
		log:     log.WithField("mod", "dispatch"),
	}
}

func (d *QueueDispatcher) WithMetrics(sink metrics.Sink) *QueueDispatcher {
	d.metrics = sink
	return d
}

func (d *QueueDispatcher) Enqueue(ctx context.Context, cmd task.EnqueueCommand) error {
	start := time.Now()
	err := d.queue.Push(ctx, cmd)
	d.metrics.DispatchCompleted(TransportQueue, err, time.Since(start))

	if err != nil {
		d.log.WithFields(logrus.Fields{
			"evt":    "enqueue_queue_error",
			"job_id": cmd.Payload.JobID,
		}).Errorf("failed to push command: %v", err)
		return unexpected(cmd.Payload.JobID, err)
	}
	return nil
}
