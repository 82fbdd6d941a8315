package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisStreamSink mirrors events into one Redis stream per session so other
// processes can replay a session.
type RedisStreamSink struct {
	client *redis.Client
	prefix string
	maxLen int64
}

// NewRedisStreamSink connects to redisURL.
func NewRedisStreamSink(ctx context.Context, redisURL string) (*RedisStreamSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewRedisStreamSinkFromClient(client), nil
}

// NewRedisStreamSinkFromClient wraps an existing client.
func NewRedisStreamSinkFromClient(client *redis.Client) *RedisStreamSink {
	return &RedisStreamSink{
		client: client,
		prefix: "agora:session:",
		maxLen: 1000,
	}
}

func (s *RedisStreamSink) Name() string {
	return "redis-stream"
}

// StreamKey returns the stream holding a session's events.
func (s *RedisStreamSink) StreamKey(sessionID string) string {
	return s.prefix + sessionID
}

func (s *RedisStreamSink) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.StreamKey(ev.SessionID),
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":      ev.ID,
			"seq":     strconv.FormatUint(ev.Seq, 10),
			"type":    string(ev.Type),
			"time":    ev.Time.UnixMilli(),
			"payload": string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append to redis stream: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStreamSink) Close() error {
	return s.client.Close()
}
