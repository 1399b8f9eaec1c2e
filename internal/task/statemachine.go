package task

import (
	"fmt"
	"time"
)

// Transition pairs the post-write job with the event it produced.
type Transition[E Event] struct {
	Job   Job
	Event E
}

// NewEnqueueCommand builds the command handed to a dispatcher. A zero
// issuedAt defaults to the current time.
func NewEnqueueCommand(jobID, callbackURL string, issuedAt time.Time) (EnqueueCommand, error) {
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}
	cmd := EnqueueCommand{
		Type: TypeEnqueue,
		Payload: EnqueuePayload{
			JobID:       jobID,
			CallbackURL: callbackURL,
		},
		IssuedAt: issuedAt.UTC(),
	}
	if err := validate.Struct(cmd); err != nil {
		return EnqueueCommand{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	return cmd, nil
}

// ToProcessingTransition confirms a store write that moved job into
// StatusProcessing. It never mutates anything.
func ToProcessingTransition(job Job, occurredAt time.Time) (Transition[ProcessingEvent], error) {
	if job.Status != StatusProcessing {
		return Transition[ProcessingEvent]{}, fmt.Errorf("%w: job %s is %s, want %s",
			ErrInvalidTransition, job.ID, job.Status, StatusProcessing)
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	event := ProcessingEvent{
		Type: TypeProcessing,
		Payload: ProcessingPayload{
			JobID:      job.ID,
			OccurredAt: occurredAt.UTC(),
		},
	}
	if err := validate.Struct(event); err != nil {
		return Transition[ProcessingEvent]{}, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	return Transition[ProcessingEvent]{Job: job, Event: event}, nil
}

// ToCompletedTransition confirms a store write that moved job into
// StatusDone. A done job without a result is rejected.
func ToCompletedTransition(job Job, occurredAt time.Time) (Transition[CompletedEvent], error) {
	if job.Status != StatusDone || job.Result == nil {
		return Transition[CompletedEvent]{}, fmt.Errorf("%w: job %s is %s (result set: %t), want %s with result",
			ErrInvalidTransition, job.ID, job.Status, job.Result != nil, StatusDone)
	}
	if job.Result.FinishedAt.IsZero() {
		return Transition[CompletedEvent]{}, fmt.Errorf("%w: job %s result has no finish time",
			ErrInvalidTransition, job.ID)
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	event := CompletedEvent{
		Type: TypeCompleted,
		Payload: CompletedPayload{
			JobID:      job.ID,
			Message:    job.Result.Message,
			FinishedAt: job.Result.FinishedAt.UTC(),
			OccurredAt: occurredAt.UTC(),
		},
	}
	if err := validate.Struct(event); err != nil {
		return Transition[CompletedEvent]{}, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	return Transition[CompletedEvent]{Job: job, Event: event}, nil
}
