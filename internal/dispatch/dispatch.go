// Package dispatch hands enqueue commands to the worker. Every transport
// folds all of its failure modes (network error, non-2xx, timeout, open
// breaker) into task.ErrUnexpected: a dispatch either logically succeeded
// or definitively failed.
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/podushkina/taskflow/internal/task"
)

// Transport names used in logs and metrics.
const (
	TransportHTTP       = "http"
	TransportQueue      = "queue"
	TransportCloudTasks = "cloudtasks"
)

// EnqueuePath is the worker's inbound route for new work.
const EnqueuePath = "/tasks/enqueue"

// TokenProvider mints bearer tokens for service-to-service calls.
type TokenProvider interface {
	Token(ctx context.Context, audience string) (string, error)
}

func unexpected(jobID string, err error) error {
	return fmt.Errorf("%w: dispatch job %s: %v", task.ErrUnexpected, jobID, err)
}

func workerURL(base string) string {
	return strings.TrimRight(base, "/") + EnqueuePath
}
