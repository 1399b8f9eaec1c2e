package task

import "errors"

// Error kinds shared by the pipelines and mapped to HTTP statuses at the edge.
var (
	ErrInvalid           = errors.New("invalid")
	ErrInvalidCommand    = errors.New("invalid command")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrUnexpected        = errors.New("unexpected")
)

// ErrTransitionDenied is returned by job stores when the job is already at or
// past the requested status. The store performs no write and returns the
// current record alongside the error.
var ErrTransitionDenied = errors.New("transition denied: job already at or past target status")
