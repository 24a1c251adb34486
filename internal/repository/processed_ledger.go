package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// ProcessedLedger remembers inbound mailbox messages that were already handled,
// keyed by their Message-ID.
type ProcessedLedger interface {
	Seen(ctx context.Context, key string) (bool, error)
	Remember(ctx context.Context, key string) error
	Forget(ctx context.Context, key string) error
}

type ledgerClient interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type redisLedger struct {
	client ledgerClient
	prefix string
	ttl    time.Duration
}

// NewProcessedLedger returns a Redis-backed ledger. Entries expire after ttl.
func NewProcessedLedger(client ledgerClient, prefix string, ttl time.Duration) ProcessedLedger {
	if prefix == "" {
		prefix = "consultd"
	}
	return &redisLedger{client: client, prefix: prefix, ttl: ttl}
}

func (l *redisLedger) key(messageID string) string {
	return l.prefix + ":processed:" + messageID
}

func (l *redisLedger) Seen(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	n, err := l.client.Exists(ctx, l.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *redisLedger) Remember(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return l.client.SetNX(ctx, l.key(key), time.Now().UTC().Format(time.RFC3339), l.ttl).Err()
}

func (l *redisLedger) Forget(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return l.client.Del(ctx, l.key(key)).Err()
}
