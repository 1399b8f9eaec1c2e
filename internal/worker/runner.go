package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/podushkina/taskflow/internal/task"
)

// Runner executes payloads in the background after the inbound request has
// been acknowledged. Jobs are not cancelled when the request ends.
type Runner struct {
	proc *Processor
	wg   sync.WaitGroup
	log  logrus.FieldLogger
}

func NewRunner(proc *Processor, log logrus.FieldLogger) *Runner {
	return &Runner{proc: proc, log: log.WithField("mod", "runner")}
}

// Submit starts processing payload and returns immediately.
func (r *Runner) Submit(ctx context.Context, payload task.EnqueuePayload) {
	ctx = context.WithoutCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.proc.Process(ctx, payload); err != nil {
			r.log.WithFields(logrus.Fields{
				"evt":    "process_task_error",
				"job_id": payload.JobID,
			}).Errorf("background processing failed: %v", err)
		}
	}()
}

// Wait blocks until every submitted job has finished or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("background jobs still running"), ctx.Err())
	}
}
