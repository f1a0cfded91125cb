package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// OutboxKey is the Redis list downstream delivery workers consume.
	OutboxKey        = "notifications:outbox"
	defaultOutboxCap = 10_000
)

type outboxEntry struct {
	Kind        string    `json:"kind"`
	Destination string    `json:"destination"`
	Body        string    `json:"body"`
	QueuedAt    time.Time `json:"queued_at"`
}

// RedisOutbox queues messages on a capped Redis list.
type RedisOutbox struct {
	client *redis.Client
	cap    int64
}

// NewRedisOutbox returns an outbox on client. A non-positive capacity uses the default.
func NewRedisOutbox(client *redis.Client, capacity int64) *RedisOutbox {
	if capacity <= 0 {
		capacity = defaultOutboxCap
	}
	return &RedisOutbox{client: client, cap: capacity}
}

// Send pushes the message and trims the list to its capacity, dropping the oldest entries.
func (o *RedisOutbox) Send(ctx context.Context, message Message) error {
	payload, err := json.Marshal(outboxEntry{
		Kind:        message.Kind,
		Destination: message.Destination,
		Body:        message.Body,
		QueuedAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	pipe := o.client.TxPipeline()
	pipe.RPush(ctx, OutboxKey, payload)
	pipe.LTrim(ctx, OutboxKey, -o.cap, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue notification: %w", err)
	}
	return nil
}
