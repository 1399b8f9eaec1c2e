package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podushkina/taskflow/internal/store/memory"
	"github.com/podushkina/taskflow/internal/task"
)

type fakeRedispatcher struct {
	jobs []string
	fail map[string]bool
}

func (f *fakeRedispatcher) Redispatch(_ context.Context, job task.Job) error {
	if f.fail[job.ID] {
		return errors.New("worker down")
	}
	f.jobs = append(f.jobs, job.ID)
	return nil
}

func TestSweep(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	store := memory.New().WithClock(func() time.Time { return clock })
	ctx := context.Background()

	orphan, err := store.CreateJob(ctx)
	require.NoError(t, err)

	started, err := store.CreateJob(ctx)
	require.NoError(t, err)
	_, err = store.MarkProcessing(ctx, started.ID)
	require.NoError(t, err)

	clock = base.Add(9 * time.Minute)
	_, err = store.CreateJob(ctx)
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	d := &fakeRedispatcher{}
	r := New(Config{Interval: time.Minute, Threshold: 5 * time.Minute, BatchSize: 10}, store, d, logger)
	r.clock = func() time.Time { return base.Add(10 * time.Minute) }

	assert.Equal(t, 1, r.Sweep(ctx))
	assert.Equal(t, []string{orphan.ID}, d.jobs)
}

func TestSweep_ContinuesAfterFailure(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := memory.New().WithClock(func() time.Time { return base })
	ctx := context.Background()

	first, _ := store.CreateJob(ctx)
	second, _ := store.CreateJob(ctx)

	logger, _ := test.NewNullLogger()
	d := &fakeRedispatcher{fail: map[string]bool{first.ID: true}}
	r := New(DefaultConfig(), store, d, logger)
	r.clock = func() time.Time { return base.Add(time.Hour) }

	assert.Equal(t, 1, r.Sweep(ctx))
	assert.Equal(t, []string{second.ID}, d.jobs)
}

type failingStore struct{}

func (failingStore) ListQueued(context.Context, time.Time, int) ([]task.Job, error) {
	return nil, errors.New("redis down")
}

func TestSweep_ListError(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := New(DefaultConfig(), failingStore{}, &fakeRedispatcher{}, logger)

	assert.Equal(t, 0, r.Sweep(context.Background()))
	assert.Equal(t, "reconcile_list_error", hook.LastEntry().Data["evt"])
}

func TestRun_StopsOnCancel(t *testing.T) {
	logger, _ := test.NewNullLogger()
	r := New(Config{Interval: 10 * time.Millisecond, Threshold: time.Minute, BatchSize: 1},
		memory.New(), &fakeRedispatcher{}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
