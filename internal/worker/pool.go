package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/podushkina/taskflow/internal/queue"
)

const popTimeout = 2 * time.Second

// Pool consumes enqueue commands from the Redis command queue. A command is
// acked once Process returns, whatever the outcome; a consumer crash leaves
// it in flight for Requeue when a pool with the same queue owner starts.
type Pool struct {
	queue *queue.Queue
	proc  *Processor
	count int
	wg    sync.WaitGroup
	log   logrus.FieldLogger
}

func NewPool(q *queue.Queue, proc *Processor, count int, log logrus.FieldLogger) *Pool {
	if count < 1 {
		count = 1
	}
	return &Pool{
		queue: q,
		proc:  proc,
		count: count,
		log:   log.WithField("mod", "pool"),
	}
}

func (p *Pool) Start(ctx context.Context) {
	moved, err := p.queue.Requeue(ctx)
	if err != nil {
		p.log.WithField("evt", "requeue_error").Errorf("requeue in-flight commands: %v", err)
	} else if moved > 0 {
		p.log.WithFields(logrus.Fields{"evt": "requeued", "count": moved}).Info("recovered in-flight commands")
	}

	for i := 0; i < p.count; i++ {
		p.wg.Add(1)
		go p.consume(ctx, i)
	}
	p.log.WithField("evt", "pool_started").Infof("started %d consumers", p.count)
}

// Stop waits for every consumer to exit. Cancel the Start context first.
func (p *Pool) Stop() {
	p.wg.Wait()
	p.log.WithField("evt", "pool_stopped").Info("all consumers stopped")
}

func (p *Pool) consume(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.WithField("consumer", id)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		d, err := p.queue.Pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithField("evt", "pop_error").Errorf("pop: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if d == nil {
			continue
		}

		p.process(context.WithoutCancel(ctx), log, d)
	}
}

func (p *Pool) process(ctx context.Context, log logrus.FieldLogger, d *queue.Delivery) {
	jobID := d.Command.Payload.JobID
	if err := p.proc.Process(ctx, d.Command.Payload); err != nil {
		log.WithFields(logrus.Fields{
			"evt":    "process_task_error",
			"job_id": jobID,
		}).Errorf("processing failed: %v", err)
	}

	if err := p.queue.Ack(ctx, d); err != nil {
		log.WithFields(logrus.Fields{
			"evt":    "ack_error",
			"job_id": jobID,
		}).Errorf("ack: %v", err)
	}
}
