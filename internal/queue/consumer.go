package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message represents a message read from the activity stream.
type Message struct {
	ID    string        // Redis message ID (e.g., "1702000000000-0")
	Event ActivityEvent // Parsed event data
}

// Consumer reads activity events off the shared stream on behalf of a
// named stream consumer. There is exactly one stream and one group in
// this system, so both are fixed at construction rather than passed
// per call.
type Consumer interface {
	// EnsureGroup creates the consumer group if it doesn't exist.
	// Called once at worker startup.
	EnsureGroup(ctx context.Context) error

	// Read blocks up to the given duration for new messages addressed
	// to this consumer (XREADGROUP with ">").
	Read(ctx context.Context, consumer string, count int64, block time.Duration) ([]Message, error)

	// ReadPending returns messages this consumer read earlier but never
	// acknowledged, for crash recovery.
	ReadPending(ctx context.Context, consumer string, count int64) ([]Message, error)

	// Ack removes messages from the consumer's pending list.
	Ack(ctx context.Context, messageIDs ...string) error
}

// RedisConsumer implements Consumer using Redis Streams.
type RedisConsumer struct {
	client *redis.Client
	stream string
	group  string
}

// NewConsumer creates a Consumer bound to the activity stream.
func NewConsumer(client *redis.Client) Consumer {
	return &RedisConsumer{
		client: client,
		stream: StreamActivity,
		group:  ConsumerGroupActivity,
	}
}

// EnsureGroup creates the consumer group with MKSTREAM so the stream
// comes into existence with it. The "0" start ID makes the group pick
// up any events published before the first worker came up.
func (c *RedisConsumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil {
		// "BUSYGROUP" means group already exists - that's fine
		if err.Error() == "BUSYGROUP Consumer Group name already exists" {
			return nil
		}
		return fmt.Errorf("create consumer group: %w", err)
	}

	log.Printf("[Consumer] EnsureGroup OK: stream=%s group=%s (created)", c.stream, c.group)
	return nil
}

func (c *RedisConsumer) Read(ctx context.Context, consumer string, count int64, block time.Duration) ([]Message, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: consumer,
		Streams:  []string{c.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()

	if err == redis.Nil {
		// Timeout - no new messages
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	return c.parseMessages(streams), nil
}

// ReadPending uses "0" instead of ">" so XREADGROUP replays this
// consumer's own unacknowledged backlog.
func (c *RedisConsumer) ReadPending(ctx context.Context, consumer string, count int64) ([]Message, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: consumer,
		Streams:  []string{c.stream, "0"},
		Count:    count,
	}).Result()

	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup pending: %w", err)
	}

	return c.parseMessages(streams), nil
}

func (c *RedisConsumer) Ack(ctx context.Context, messageIDs ...string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	if _, err := c.client.XAck(ctx, c.stream, c.group, messageIDs...).Result(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

func (c *RedisConsumer) parseMessages(streams []redis.XStream) []Message {
	var messages []Message
	for _, s := range streams {
		for _, msg := range s.Messages {
			event, err := ParseActivityEvent(msg.Values)
			if err != nil {
				log.Printf("[Consumer] parse error: msgID=%s err=%v", msg.ID, err)
				continue // Skip malformed messages
			}
			messages = append(messages, Message{
				ID:    msg.ID,
				Event: event,
			})
		}
	}
	return messages
}
