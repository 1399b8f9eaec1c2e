package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/podushkina/taskflow/internal/task"
)

const (
	pendingKey  = "taskflow:commands:pending"
	inflightKey = "taskflow:commands:inflight"
)

// Queue hands enqueue commands from the server to worker consumers through
// Redis lists. A popped command stays in the in-flight list until acked, so
// a consumer crash leaves it recoverable with Requeue.
type Queue struct {
	client   *redis.Client
	inflight string
}

// Delivery is a popped command awaiting Ack.
type Delivery struct {
	Command task.EnqueueCommand
	raw     string
}

func New(client *redis.Client) *Queue {
	return &Queue{client: client, inflight: inflightKey}
}

// WithOwner gives this queue its own in-flight list, so Requeue only
// reclaims commands popped under the same owner. Owners must be unique per
// replica and stable across its restarts.
func (q *Queue) WithOwner(owner string) *Queue {
	if owner != "" {
		q.inflight = inflightKey + ":" + owner
	}
	return q
}

func (q *Queue) Push(ctx context.Context, cmd task.EnqueueCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	if err := q.client.RPush(ctx, pendingKey, data).Err(); err != nil {
		return fmt.Errorf("push command: %w", err)
	}

	return nil
}

// Pop blocks up to timeout for the next command. It returns (nil, nil) when
// nothing arrived in time.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	raw, err := q.client.BLMove(ctx, pendingKey, q.inflight, "LEFT", "RIGHT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("pop command: %w", err)
	}

	var cmd task.EnqueueCommand
	if err := sonic.UnmarshalString(raw, &cmd); err != nil {
		// Undecodable entries would be redelivered forever.
		q.client.LRem(ctx, q.inflight, 1, raw)
		return nil, fmt.Errorf("unmarshal command: %w", err)
	}

	return &Delivery{Command: cmd, raw: raw}, nil
}

func (q *Queue) Ack(ctx context.Context, d *Delivery) error {
	if err := q.client.LRem(ctx, q.inflight, 1, d.raw).Err(); err != nil {
		return fmt.Errorf("ack command: %w", err)
	}
	return nil
}

// Requeue moves every command in this owner's in-flight list back to the
// head of the pending list. Call it before this owner's consumers start.
func (q *Queue) Requeue(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.inflight, pendingKey, "RIGHT", "LEFT").Err()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return moved, nil
			}
			return moved, fmt.Errorf("requeue command: %w", err)
		}
		moved++
	}
}
