package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// streamClient is the subset of *redis.Client used by the stream submitter.
type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

type redisSubmitter struct {
	client streamClient
	stream string
}

// NewRedisSubmitter appends jobs to a Redis stream with XADD.
func NewRedisSubmitter(client streamClient, stream string) Submitter {
	return &redisSubmitter{client: client, stream: stream}
}

func (s *redisSubmitter) Submit(ctx context.Context, job Job) error {
	fields := map[string]any{
		"job_id":      job.ID,
		"job_type":    job.Type,
		"payload":     string(job.Payload),
		"enqueued_at": job.EnqueuedAt.Format(time.RFC3339Nano),
	}
	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (s *redisSubmitter) Close() error {
	return s.client.Close()
}

// setNXClient is the subset of *redis.Client used by RedisCooldown.
type setNXClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// RedisCooldown implements Cooldown with SET key 1 EX ttl NX, so the window
// is shared by every replica.
type RedisCooldown struct {
	client setNXClient
	prefix string
	ttl    time.Duration
}

// NewRedisCooldown returns a cooldown whose keys are prefix+key.
func NewRedisCooldown(client setNXClient, prefix string, ttl time.Duration) *RedisCooldown {
	return &RedisCooldown{client: client, prefix: prefix, ttl: ttl}
}

// Acquire reports whether key was free and is now held for the window.
func (c *RedisCooldown) Acquire(ctx context.Context, key string) (bool, error) {
	if c.ttl <= 0 {
		return true, nil
	}
	ok, err := c.client.SetNX(ctx, c.prefix+key, 1, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown %s: %w", key, err)
	}
	return ok, nil
}
