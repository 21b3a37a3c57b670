package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/wamcp-ingest/internal/config"
)

// Key prefix and bucket used by the debug echo cooldown.
const (
	EchoCooldownPrefix = "rate_limit:echo:"
	EchoCooldownBucket = "wamcp_echo_cooldown"
)

// Backend bundles the Submitter and the Cooldown of one broker so they share
// a connection.
type Backend struct {
	Submitter Submitter
	Cooldown  Cooldown
}

// Open connects the backend selected by cfg.Backend. cooldown is the debug
// echo window per recipient.
func Open(ctx context.Context, cfg config.QueueConfig, cooldown time.Duration) (*Backend, error) {
	switch cfg.Backend {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return &Backend{
			Submitter: NewRedisSubmitter(client, cfg.RedisStream),
			Cooldown:  NewRedisCooldown(client, EchoCooldownPrefix, cooldown),
		}, nil

	case "nats":
		nc, js, err := ConnectNATS(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		sub, err := NewNATSSubmitter(ctx, nc, js, cfg.NATSSubject)
		if err != nil {
			nc.Close()
			return nil, err
		}
		var cd Cooldown = NewMemoryCooldown(cooldown)
		if cooldown > 0 {
			ncd, err := NewNATSCooldown(ctx, js, EchoCooldownBucket, cooldown)
			if err != nil {
				nc.Close()
				return nil, err
			}
			cd = ncd
		}
		return &Backend{Submitter: sub, Cooldown: cd}, nil

	case "log", "":
		return &Backend{
			Submitter: NewLogSubmitter(log.Logger),
			Cooldown:  NewMemoryCooldown(cooldown),
		}, nil
	}
	return nil, fmt.Errorf("unsupported QUEUE_BACKEND %q", cfg.Backend)
}

// Close releases the broker connection.
func (b *Backend) Close() error {
	if b == nil || b.Submitter == nil {
		return nil
	}
	return b.Submitter.Close()
}
