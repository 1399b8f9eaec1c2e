package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podushkina/taskflow/internal/store/memory"
	"github.com/podushkina/taskflow/internal/task"
)

type fakeDispatcher struct {
	mu   sync.Mutex
	cmds []task.EnqueueCommand
	err  error
}

func (d *fakeDispatcher) Enqueue(_ context.Context, cmd task.EnqueueCommand) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cmds = append(d.cmds, cmd)
	return d.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []task.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e task.Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func newTestService(t *testing.T, d *fakeDispatcher) (*Service, *memory.Store, *recordingPublisher) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := memory.New()
	pub := &recordingPublisher{}
	svc := New(store, d, "https://example.com", logger).
		WithPublisher(pub).
		WithMetricsCacheTTL(time.Minute)
	return svc, store, pub
}

func TestEnqueue_Success(t *testing.T) {
	d := &fakeDispatcher{}
	svc, _, _ := newTestService(t, d)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Len(t, d.cmds, 1)
	assert.Equal(t, task.TypeEnqueue, d.cmds[0].Type)
	assert.Equal(t, id, d.cmds[0].Payload.JobID)
	assert.Equal(t, "https://example.com/tasks/callback", d.cmds[0].Payload.CallbackURL)

	job, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, job.Status)
}

func TestEnqueue_DispatchFailureLeavesOrphan(t *testing.T) {
	d := &fakeDispatcher{err: errors.New("worker down")}
	svc, store, _ := newTestService(t, d)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx)
	assert.ErrorIs(t, err, task.ErrUnexpected)
	assert.Empty(t, id)

	require.Len(t, d.cmds, 1)
	orphan, err := svc.Status(ctx, d.cmds[0].Payload.JobID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, orphan.Status)

	queued, err := store.ListQueued(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	assert.Len(t, queued, 1)
}

func TestStatus_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeDispatcher{})

	_, err := svc.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestLifecycle(t *testing.T) {
	svc, _, pub := newTestService(t, &fakeDispatcher{})
	ctx := context.Background()

	before, err := svc.Metrics(ctx)
	require.NoError(t, err)

	id, err := svc.Enqueue(ctx)
	require.NoError(t, err)

	job, err := svc.MarkProcessing(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusProcessing, job.Status)

	mid, err := svc.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, mid)

	finished := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	job, err = svc.MarkDone(ctx, id, task.Result{Message: "x", FinishedAt: finished})
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, job.Status)

	status, err := svc.Status(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, status.Result)
	assert.Equal(t, "x", status.Result.Message)

	after, err := svc.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, after)

	require.Len(t, pub.events, 2)
	assert.Equal(t, task.TypeProcessing, pub.events[0].EventType())
	assert.Equal(t, task.TypeCompleted, pub.events[1].EventType())
}

func TestMarkDone_FromQueued(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeDispatcher{})
	ctx := context.Background()

	id, err := svc.Enqueue(ctx)
	require.NoError(t, err)

	job, err := svc.MarkDone(ctx, id, task.Result{Message: "x", FinishedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, job.Status)
	require.NotNil(t, job.Result)
}

func TestCallbacks_Duplicates(t *testing.T) {
	svc, _, pub := newTestService(t, &fakeDispatcher{})
	ctx := context.Background()

	id, err := svc.Enqueue(ctx)
	require.NoError(t, err)

	_, err = svc.MarkProcessing(ctx, id)
	require.NoError(t, err)
	job, err := svc.MarkProcessing(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusProcessing, job.Status)

	_, err = svc.MarkDone(ctx, id, task.Result{Message: "first", FinishedAt: time.Now()})
	require.NoError(t, err)
	job, err = svc.MarkDone(ctx, id, task.Result{Message: "second", FinishedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, "first", job.Result.Message)

	n, err := svc.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Len(t, pub.events, 2)
}

func TestMarkProcessing_AfterDone(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeDispatcher{})
	ctx := context.Background()

	id, err := svc.Enqueue(ctx)
	require.NoError(t, err)
	_, err = svc.MarkDone(ctx, id, task.Result{Message: "x", FinishedAt: time.Now()})
	require.NoError(t, err)

	_, err = svc.MarkProcessing(ctx, id)
	assert.ErrorIs(t, err, task.ErrConflict)

	job, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, job.Status)
}

func TestCallbacks_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeDispatcher{})
	ctx := context.Background()

	_, err := svc.MarkProcessing(ctx, "missing")
	assert.ErrorIs(t, err, task.ErrNotFound)

	_, err = svc.MarkDone(ctx, "missing", task.Result{Message: "x", FinishedAt: time.Now()})
	assert.ErrorIs(t, err, task.ErrNotFound)
}

type brokenStore struct {
	*memory.Store
	job task.Job
}

func (s brokenStore) MarkDone(context.Context, string, task.Result) (task.Job, error) {
	return s.job, nil
}

func TestMarkDone_StoreMismatch(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := brokenStore{Store: memory.New(), job: task.Job{ID: "j1", Status: task.StatusDone}}
	svc := New(store, &fakeDispatcher{}, "https://example.com", logger)

	_, err := svc.MarkDone(context.Background(), "j1", task.Result{Message: "x", FinishedAt: time.Now()})
	assert.ErrorIs(t, err, task.ErrUnexpected)
}

func TestRedispatch(t *testing.T) {
	d := &fakeDispatcher{}
	svc, store, _ := newTestService(t, d)
	ctx := context.Background()

	job, err := store.CreateJob(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.Redispatch(ctx, job))
	require.Len(t, d.cmds, 1)
	assert.Equal(t, job.ID, d.cmds[0].Payload.JobID)

	job.Status = task.StatusProcessing
	assert.ErrorIs(t, svc.Redispatch(ctx, job), task.ErrConflict)
}

type countingStore struct {
	*memory.Store
	calls atomic.Int32
}

func (s *countingStore) CountDone(ctx context.Context) (int64, error) {
	s.calls.Add(1)
	return s.Store.CountDone(ctx)
}

func TestMetrics_Cached(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := &countingStore{Store: memory.New()}
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := New(store, &fakeDispatcher{}, "https://example.com", logger).
		WithMetricsCacheTTL(5 * time.Second).
		WithClock(func() time.Time { return clock })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Metrics(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), store.calls.Load())

	clock = clock.Add(6 * time.Second)
	_, err := svc.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), store.calls.Load())
}

// stallingStore reads the count, then holds it until release is closed.
type stallingStore struct {
	*memory.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *stallingStore) CountDone(ctx context.Context) (int64, error) {
	n, err := s.Store.CountDone(ctx)
	stall := false
	s.once.Do(func() { stall = true })
	if stall {
		close(s.entered)
		<-s.release
	}
	return n, err
}

func TestMetrics_CompletionDuringSlowRead(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := &stallingStore{
		Store:   memory.New(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	svc := New(store, &fakeDispatcher{}, "https://example.com", logger).
		WithMetricsCacheTTL(time.Minute)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx)
	require.NoError(t, err)

	stale := make(chan int64, 1)
	go func() {
		n, err := svc.Metrics(ctx)
		assert.NoError(t, err)
		stale <- n
	}()
	<-store.entered

	_, err = svc.MarkDone(ctx, id, task.Result{Message: "x", FinishedAt: time.Now()})
	require.NoError(t, err)

	close(store.release)
	assert.Equal(t, int64(0), <-stale)

	n, err := svc.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
