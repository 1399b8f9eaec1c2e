package metrics

import (
	"strings"
	"time"
)

// Sink records lifecycle metrics for both processes.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Server side
	JobEnqueued(outcome string)
	TransitionRecorded(target, outcome string)
	DispatchCompleted(transport string, err error, duration time.Duration)
	OrphansRedispatched(count int)

	// Worker side
	CallbackAttempt(kind, statusClass string)
	WorkerJobFinished(outcome string)
}

// Outcome constants for JobEnqueued.
const (
	EnqueueSuccess        = "success"
	EnqueueInvalid        = "invalid"
	EnqueueStoreFailed    = "store_failed"
	EnqueueDispatchFailed = "dispatch_failed"
)

// Outcome constants for TransitionRecorded.
const (
	TransitionApplied   = "applied"
	TransitionDuplicate = "duplicate"
	TransitionConflict  = "conflict"
	TransitionNotFound  = "not_found"
	TransitionError     = "error"
)

// Outcome constants for WorkerJobFinished.
const (
	WorkerSucceeded = "succeeded"
	WorkerInvalid   = "invalid"
	WorkerFailed    = "failed"
)

const (
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a status code and error to a bounded status class.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
			return StatusClassTimeout
		case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
			strings.Contains(msg, "network is unreachable") || strings.Contains(msg, "dial"):
			return StatusClassConnectionError
		}
		return StatusClassOtherError
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}
