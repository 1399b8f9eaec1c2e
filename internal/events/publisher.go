// Package events publishes domain events produced by successful transitions.
// Events are projections, never the source of truth: publish failures are
// logged and dropped.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/podushkina/taskflow/internal/task"
)

type Publisher interface {
	Publish(ctx context.Context, event task.Event)
}

// LogPublisher writes every event to the log.
type LogPublisher struct {
	log logrus.FieldLogger
}

func NewLogPublisher(log logrus.FieldLogger) *LogPublisher {
	return &LogPublisher{log: log.WithField("mod", "events")}
}

func (p *LogPublisher) Publish(_ context.Context, event task.Event) {
	p.log.WithFields(logrus.Fields{
		"evt":    event.EventType(),
		"job_id": event.EventJobID(),
		"event":  event,
	}).Info("domain event")
}

// RedisPublisher sends events as JSON on a pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	log     logrus.FieldLogger
}

func NewRedisPublisher(client *redis.Client, channel string, log logrus.FieldLogger) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, log: log.WithField("mod", "events")}
}

func (p *RedisPublisher) Publish(ctx context.Context, event task.Event) {
	if err := p.publish(ctx, event); err != nil {
		p.log.WithFields(logrus.Fields{
			"evt":    "publish_error",
			"job_id": event.EventJobID(),
			"type":   event.EventType(),
		}).Warnf("event dropped: %v", err)
	}
}

func (p *RedisPublisher) publish(ctx context.Context, event task.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

// Multi fans an event out to every publisher in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event task.Event) {
	for _, p := range m {
		p.Publish(ctx, event)
	}
}
