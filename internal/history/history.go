// Package history keeps the per-sender rolling conversation window in Redis.
// The window is bounded (oldest turns evicted) and expires after a period of
// inactivity; losing it only degrades LLM context, so every operation here
// fails soft.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"mamabot/internal/domain"
)

// RedisClient is the subset of go-redis methods used by the store.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Close() error
}

type Store struct {
	client   RedisClient
	maxTurns int
	ttl      time.Duration
	logger   *slog.Logger
}

type StoreConfig struct {
	Address  string
	Password string
	DB       int
	MaxTurns int
	TTL      time.Duration
	Logger   *slog.Logger
}

func New(ctx context.Context, cfg StoreConfig) (*Store, error) {
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
		return nil, fmt.Errorf("history store: redis ping failed: %w", err)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient builds a Store on a pre-built client (used by tests).
func NewWithClient(client RedisClient, cfg StoreConfig) *Store {
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 6
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{
		client:   client,
		maxTurns: maxTurns,
		ttl:      ttl,
		logger:   cfg.Logger,
	}
}

func key(senderID string) string {
	return "history:" + senderID
}

// AppendTurn records one exchange, evicts beyond the window, and refreshes
// the inactivity TTL.
func (s *Store) AppendTurn(ctx context.Context, senderID, userText, replyText string) error {
	data, err := json.Marshal(domain.Turn{User: userText, Assistant: replyText})
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	k := key(senderID)
	if err := s.client.LPush(ctx, k, string(data)).Err(); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	if err := s.client.LTrim(ctx, k, 0, int64(s.maxTurns-1)).Err(); err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	if err := s.client.Expire(ctx, k, s.ttl).Err(); err != nil {
		return fmt.Errorf("set history expiry: %w", err)
	}
	return nil
}

// RecentTurns returns up to maxTurns exchanges, oldest first. An unreachable
// store yields an empty history and the error for the caller to log.
func (s *Store) RecentTurns(ctx context.Context, senderID string) ([]domain.Turn, error) {
	raw, err := s.client.LRange(ctx, key(senderID), 0, int64(s.maxTurns-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	turns := make([]domain.Turn, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- { // stored newest-first
		var t domain.Turn
		if err := json.Unmarshal([]byte(raw[i]), &t); err != nil {
			s.logger.Warn("skipping malformed history entry", "sender", senderID, "err", err)
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
