package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/textlane/dispatchd/models"
)

// StatusEvent describes one queue entry status change
type StatusEvent struct {
	EntryUUID string             `json:"entry_uuid"`
	From      models.QueueStatus `json:"from"`
	To        models.QueueStatus `json:"to"`
	At        time.Time          `json:"at"`
}

// StatusPublisher emits status change events for downstream consumers.
// Publishing is best-effort; a failed publish never fails the transition.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, ev StatusEvent)
}

// NoopPublisher discards all events
type NoopPublisher struct{}

func (NoopPublisher) PublishStatus(context.Context, StatusEvent) {}

// RedisPublisher fans status events out over a redis pub/sub channel
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  *log.Logger
}

func NewRedisPublisher(client *redis.Client, prefix string, logger *log.Logger) *RedisPublisher {
	if logger == nil {
		logger = log.Default()
	}
	return &RedisPublisher{
		client:  client,
		channel: fmt.Sprintf("%s:queue:status", prefix),
		logger:  logger,
	}
}

func (p *RedisPublisher) PublishStatus(ctx context.Context, ev StatusEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Printf("events: marshal status event failed: %v", err)
		return
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.logger.Printf("events: publish status event for entry=%s failed: %v", ev.EntryUUID, err)
	}
}
