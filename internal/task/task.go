package task

import (
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
)

// Valid reports whether s is one of the known job statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusDone:
		return true
	}
	return false
}

// Rank orders statuses along the lifecycle. Unknown statuses rank -1.
func (s Status) Rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusProcessing:
		return 1
	case StatusDone:
		return 2
	}
	return -1
}

// Result is set exactly once, when a job enters StatusDone.
type Result struct {
	Message    string    `json:"message"`
	FinishedAt time.Time `json:"finishedAt"`
}

type Job struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Result    *Result   `json:"result,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MaxIDLength bounds job ids on every boundary that accepts one.
const MaxIDLength = 36
