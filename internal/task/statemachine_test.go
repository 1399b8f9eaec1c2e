package task

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnqueueCommand(t *testing.T) {
	issued := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	cmd, err := NewEnqueueCommand("job-1", "https://example.com/tasks/callback", issued)
	require.NoError(t, err)

	assert.Equal(t, TypeEnqueue, cmd.Type)
	assert.Equal(t, "job-1", cmd.Payload.JobID)
	assert.Equal(t, "https://example.com/tasks/callback", cmd.Payload.CallbackURL)
	assert.Equal(t, issued, cmd.IssuedAt)

	again, err := NewEnqueueCommand("job-1", "https://example.com/tasks/callback", issued)
	require.NoError(t, err)
	assert.Equal(t, cmd, again)
}

func TestNewEnqueueCommand_DefaultsIssuedAt(t *testing.T) {
	before := time.Now().UTC()
	cmd, err := NewEnqueueCommand("job-1", "https://example.com/cb", time.Time{})
	require.NoError(t, err)

	assert.False(t, cmd.IssuedAt.IsZero())
	assert.WithinDuration(t, before, cmd.IssuedAt, 5*time.Second)
	assert.Equal(t, time.UTC, cmd.IssuedAt.Location())
}

func TestNewEnqueueCommand_Invalid(t *testing.T) {
	cases := map[string]struct {
		jobID       string
		callbackURL string
	}{
		"empty job id":       {"", "https://example.com/cb"},
		"job id too long":    {strings.Repeat("x", MaxIDLength+1), "https://example.com/cb"},
		"empty callback url": {"job-1", ""},
		"relative url":       {"job-1", "/tasks/callback"},
		"not a url":          {"job-1", "not a url"},
		"mailto scheme":      {"job-1", "mailto:ops@example.com"},
		"urn":                {"job-1", "urn:isbn:123"},
		"ftp scheme":         {"job-1", "ftp://example.com/cb"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewEnqueueCommand(tc.jobID, tc.callbackURL, time.Time{})
			assert.ErrorIs(t, err, ErrInvalidCommand)
		})
	}
}

func TestToProcessingTransition(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	job := Job{ID: "job-1", Status: StatusProcessing}

	tr, err := ToProcessingTransition(job, at)
	require.NoError(t, err)
	assert.Equal(t, job, tr.Job)
	assert.Equal(t, TypeProcessing, tr.Event.Type)
	assert.Equal(t, "job-1", tr.Event.Payload.JobID)
	assert.Equal(t, at, tr.Event.Payload.OccurredAt)

	for _, s := range []Status{StatusQueued, StatusDone} {
		_, err := ToProcessingTransition(Job{ID: "job-1", Status: s}, at)
		assert.ErrorIs(t, err, ErrInvalidTransition, "status %s", s)
	}
}

func TestToCompletedTransition(t *testing.T) {
	finished := time.Date(2024, 1, 1, 0, 0, 3, 0, time.UTC)
	job := Job{
		ID:     "job-1",
		Status: StatusDone,
		Result: &Result{Message: "x", FinishedAt: finished},
	}

	tr, err := ToCompletedTransition(job, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, TypeCompleted, tr.Event.Type)
	assert.Equal(t, "x", tr.Event.Payload.Message)
	assert.Equal(t, finished, tr.Event.Payload.FinishedAt)
	assert.False(t, tr.Event.Payload.OccurredAt.IsZero())
}

func TestToCompletedTransition_Rejects(t *testing.T) {
	finished := time.Now()
	cases := map[string]Job{
		"queued":            {ID: "j", Status: StatusQueued},
		"processing":        {ID: "j", Status: StatusProcessing},
		"done no result":    {ID: "j", Status: StatusDone},
		"done empty msg":    {ID: "j", Status: StatusDone, Result: &Result{FinishedAt: finished}},
		"done no finish":    {ID: "j", Status: StatusDone, Result: &Result{Message: "x"}},
		"processing result": {ID: "j", Status: StatusProcessing, Result: &Result{Message: "x", FinishedAt: finished}},
	}
	for name, job := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ToCompletedTransition(job, time.Time{})
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestStatusRank(t *testing.T) {
	assert.Less(t, StatusQueued.Rank(), StatusProcessing.Rank())
	assert.Less(t, StatusProcessing.Rank(), StatusDone.Rank())
	assert.Equal(t, -1, Status("failed").Rank())
	assert.False(t, Status("failed").Valid())
}

func TestValidatePayload(t *testing.T) {
	assert.NoError(t, ValidatePayload(EnqueuePayload{JobID: "a", CallbackURL: "http://localhost:8080/tasks/callback"}))
	assert.Error(t, ValidatePayload(EnqueuePayload{JobID: "a"}))
	assert.Error(t, ValidatePayload(EnqueuePayload{CallbackURL: "http://localhost/cb"}))
}
