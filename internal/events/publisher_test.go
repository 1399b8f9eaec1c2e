package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podushkina/taskflow/internal/task"
)

func processingEvent(t *testing.T) task.ProcessingEvent {
	tr, err := task.ToProcessingTransition(task.Job{ID: "job-1", Status: task.StatusProcessing}, time.Time{})
	require.NoError(t, err)
	return tr.Event
}

func TestLogPublisher(t *testing.T) {
	logger, hook := test.NewNullLogger()
	p := NewLogPublisher(logger)

	p.Publish(context.Background(), processingEvent(t))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, task.TypeProcessing, entry.Data["evt"])
	assert.Equal(t, "job-1", entry.Data["job_id"])
}

func TestRedisPublisher(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "taskflow:events")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()
	Multi{NewRedisPublisher(client, "taskflow:events", logger)}.Publish(ctx, processingEvent(t))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got task.ProcessingEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, "job-1", got.Payload.JobID)
	assert.Empty(t, hook.AllEntries())
}
