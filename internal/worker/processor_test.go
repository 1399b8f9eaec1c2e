package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podushkina/taskflow/internal/handlers"
	"github.com/podushkina/taskflow/internal/task"
)

type fakeNotifier struct {
	mu            sync.Mutex
	calls         []string
	results       []task.Result
	processingErr error
	doneErr       error
}

func (f *fakeNotifier) NotifyProcessing(_ context.Context, _, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "processing:"+jobID)
	return f.processingErr
}

func (f *fakeNotifier) NotifyDone(_ context.Context, _, jobID string, result task.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "done:"+jobID)
	f.results = append(f.results, result)
	return f.doneErr
}

func (f *fakeNotifier) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

var validPayload = task.EnqueuePayload{JobID: "job-1", CallbackURL: "https://example.com/tasks/callback"}

func TestProcess_Success(t *testing.T) {
	logger, _ := test.NewNullLogger()
	n := &fakeNotifier{}
	p := NewProcessor(n, handlers.Instant, logger)

	require.NoError(t, p.Process(context.Background(), validPayload))
	assert.Equal(t, []string{"processing:job-1", "done:job-1"}, n.snapshot())
	require.Len(t, n.results, 1)
	assert.Equal(t, handlers.CompletedMessage, n.results[0].Message)
	assert.False(t, n.results[0].FinishedAt.IsZero())
}

func TestProcess_Invalid(t *testing.T) {
	logger, _ := test.NewNullLogger()
	n := &fakeNotifier{}
	p := NewProcessor(n, handlers.Instant, logger)

	for _, payload := range []task.EnqueuePayload{
		{},
		{JobID: "job-1", CallbackURL: "not-a-url"},
		{JobID: "0123456789012345678901234567890123456789", CallbackURL: "https://example.com"},
	} {
		err := p.Process(context.Background(), payload)
		assert.ErrorIs(t, err, task.ErrInvalid)
	}
	assert.Empty(t, n.snapshot())
}

func TestProcess_ProcessingFailureIgnored(t *testing.T) {
	logger, hook := test.NewNullLogger()
	n := &fakeNotifier{processingErr: errors.New("connection refused")}
	p := NewProcessor(n, handlers.Instant, logger)

	require.NoError(t, p.Process(context.Background(), validPayload))
	assert.Equal(t, []string{"processing:job-1", "done:job-1"}, n.snapshot())

	var found bool
	for _, e := range hook.AllEntries() {
		if e.Data["evt"] == "notify_processing_error" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestProcess_DoneFailure(t *testing.T) {
	logger, _ := test.NewNullLogger()
	n := &fakeNotifier{doneErr: errors.New("gave up")}
	p := NewProcessor(n, handlers.Instant, logger)

	err := p.Process(context.Background(), validPayload)
	assert.ErrorIs(t, err, task.ErrUnexpected)
}

func TestProcess_WorkFailure(t *testing.T) {
	logger, _ := test.NewNullLogger()
	n := &fakeNotifier{}
	work := func(context.Context, task.EnqueuePayload) (string, error) {
		return "", errors.New("boom")
	}
	p := NewProcessor(n, work, logger)

	err := p.Process(context.Background(), validPayload)
	assert.ErrorIs(t, err, task.ErrUnexpected)
	assert.Equal(t, []string{"processing:job-1"}, n.snapshot())
}

func TestRunner_SubmitOutlivesRequest(t *testing.T) {
	logger, _ := test.NewNullLogger()
	n := &fakeNotifier{}
	p := NewProcessor(n, handlers.Simulate(50*time.Millisecond), logger)
	r := NewRunner(p, logger)

	ctx, cancel := context.WithCancel(context.Background())
	r.Submit(ctx, validPayload)
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, r.Wait(waitCtx))
	assert.Equal(t, []string{"processing:job-1", "done:job-1"}, n.snapshot())
}

func TestRunner_WaitTimeout(t *testing.T) {
	logger, _ := test.NewNullLogger()
	p := NewProcessor(&fakeNotifier{}, handlers.Simulate(time.Second), logger)
	r := NewRunner(p, logger)

	r.Submit(context.Background(), validPayload)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)
}
