package task

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	TypeEnqueue    = "tasks/enqueue"
	TypeProcessing = "tasks/processing"
	TypeCompleted  = "tasks/completed"
)

var validate = validator.New()

// EnqueuePayload is what a dispatcher hands to the worker.
type EnqueuePayload struct {
	JobID       string `json:"jobId" validate:"required,max=36"`
	CallbackURL string `json:"callbackUrl" validate:"required,http_url"`
}

// EnqueueCommand is built once per job and never mutated.
type EnqueueCommand struct {
	Type     string         `json:"type" validate:"eq=tasks/enqueue"`
	Payload  EnqueuePayload `json:"payload"`
	IssuedAt time.Time      `json:"issuedAt"`
}

type ProcessingPayload struct {
	JobID      string    `json:"jobId" validate:"required,max=36"`
	OccurredAt time.Time `json:"occurredAt"`
}

type ProcessingEvent struct {
	Type    string            `json:"type" validate:"eq=tasks/processing"`
	Payload ProcessingPayload `json:"payload"`
}

type CompletedPayload struct {
	JobID      string    `json:"jobId" validate:"required,max=36"`
	Message    string    `json:"message" validate:"required"`
	FinishedAt time.Time `json:"finishedAt"`
	OccurredAt time.Time `json:"occurredAt"`
}

type CompletedEvent struct {
	Type    string           `json:"type" validate:"eq=tasks/completed"`
	Payload CompletedPayload `json:"payload"`
}

// Event is a read-only projection of a successful transition.
type Event interface {
	EventType() string
	EventJobID() string
}

func (e ProcessingEvent) EventType() string  { return e.Type }
func (e ProcessingEvent) EventJobID() string { return e.Payload.JobID }
func (e CompletedEvent) EventType() string   { return e.Type }
func (e CompletedEvent) EventJobID() string  { return e.Payload.JobID }

// ValidatePayload checks the wire shape of an enqueue payload.
func ValidatePayload(p EnqueuePayload) error {
	return validate.Struct(p)
}

// ValidateInvariants checks business rules on a payload that already passed
// ValidatePayload. There are none yet.
func ValidateInvariants(jobID, callbackURL string) error {
	return nil
}
