package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podushkina/taskflow/internal/handlers"
	"github.com/podushkina/taskflow/internal/queue"
	"github.com/podushkina/taskflow/internal/task"
)

func setupPool(t *testing.T, n *fakeNotifier) (*Pool, *queue.Queue, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger, _ := test.NewNullLogger()
	q := queue.New(client)
	pool := NewPool(q, NewProcessor(n, handlers.Instant, logger), 1, logger)
	return pool, q, mr
}

func command(t *testing.T, jobID string) task.EnqueueCommand {
	t.Helper()
	cmd, err := task.NewEnqueueCommand(jobID, "https://example.com/tasks/callback", time.Time{})
	require.NoError(t, err)
	return cmd
}

func TestPool_ProcessAndAck(t *testing.T) {
	n := &fakeNotifier{}
	pool, q, mr := setupPool(t, n)
	defer mr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Push(ctx, command(t, "job-1")))

	pool.Start(ctx)

	assert.Eventually(t, func() bool {
		return len(n.snapshot()) == 2
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	pool.Stop()

	assert.Equal(t, []string{"processing:job-1", "done:job-1"}, n.snapshot())
	inflight, err := mr.List("taskflow:commands:inflight")
	if err == nil {
		assert.Empty(t, inflight)
	}
}

func TestPool_RequeuesOnStart(t *testing.T) {
	n := &fakeNotifier{}
	pool, q, mr := setupPool(t, n)
	defer mr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Push(ctx, command(t, "job-1")))
	d, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)

	pool.Start(ctx)

	assert.Eventually(t, func() bool {
		return len(n.snapshot()) == 2
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	pool.Stop()
}
