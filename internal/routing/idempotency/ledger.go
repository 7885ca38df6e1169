// Package idempotency remembers which inbound deliveries were already
// processed, so a webhook retry returns the first result instead of
// creating or merging again.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"leadrouting_backend/internal/routing/domain"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "routing:delivery:"

// RedisLedger stores one key per delivery id with a TTL.
type RedisLedger struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisLedger creates a ledger. An empty prefix uses "routing:delivery:".
func NewRedisLedger(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisLedger {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisLedger{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (l *RedisLedger) Lookup(ctx context.Context, deliveryID string) (*domain.MergeResult, error) {
	raw, err := l.rdb.Get(ctx, l.prefix+deliveryID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup delivery %s: %w", deliveryID, err)
	}

	var result domain.MergeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode delivery %s: %w", deliveryID, err)
	}
	return &result, nil
}

// Record keeps the first result written for a delivery.
func (l *RedisLedger) Record(ctx context.Context, deliveryID string, result domain.MergeResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if err := l.rdb.SetNX(ctx, l.prefix+deliveryID, raw, l.ttl).Err(); err != nil {
		return fmt.Errorf("record delivery %s: %w", deliveryID, err)
	}
	return nil
}
