// Package handlers holds the units of work a worker can run for a job.
package handlers

import (
	"context"
	"time"

	"github.com/podushkina/taskflow/internal/task"
)

// CompletedMessage is the result message reported by Simulate.
const CompletedMessage = "Task completed"

// Work performs the job described by p and returns the result message.
type Work func(ctx context.Context, p task.EnqueuePayload) (string, error)

// Simulate stands in for real business logic: it waits for d and reports a
// fixed message. It returns early with ctx's error if ctx is cancelled.
func Simulate(d time.Duration) Work {
	return func(ctx context.Context, p task.EnqueuePayload) (string, error) {
		select {
		case <-time.After(d):
			return CompletedMessage, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Instant completes immediately. Useful for local runs and tests.
func Instant(ctx context.Context, p task.EnqueuePayload) (string, error) {
	return CompletedMessage, nil
}
