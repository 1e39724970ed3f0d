// Package dedup implements the webhook deduplication gate on top of Redis.
// The claim is a single SET NX EX so that concurrent deliveries of the same
// message id can never both pass; a split read-then-write would race.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis client methods used by the gate.
// Keeping it as an interface enables swapping the client in tests.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Close() error
}

// Gate claims message ids with a retention TTL.
type Gate struct {
	client RedisClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

type GateConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
	Logger   *slog.Logger
}

// NewGate connects to Redis and verifies the connection with PING.
func NewGate(ctx context.Context, cfg GateConfig) (*Gate, error) {
	opts := &redis.Options{
		Addr: cfg.Address,
		DB:   cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("dedup gate: redis ping failed: %w", err)
	}

	return NewGateWithClient(client, cfg), nil
}

// NewGateWithClient builds a Gate on a pre-built client (used by tests).
func NewGateWithClient(client RedisClient, cfg GateConfig) *Gate {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "dedup"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Gate{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: cfg.Logger,
	}
}

// Claim atomically records the message id. Returns first=true for exactly one
// caller per id within the retention window. A returned error means the
// backing store is unreachable and the caller must apply its fail policy.
func (g *Gate) Claim(ctx context.Context, messageID string) (bool, error) {
	first, err := g.client.SetNX(ctx, g.prefix+":"+messageID, 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup claim %s: %w", messageID, err)
	}
	if !first {
		g.logger.Info("duplicate delivery suppressed", "message_id", messageID)
	}
	return first, nil
}

func (g *Gate) Close() error {
	return g.client.Close()
}
