package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/expoarte/registrar/internal/domain"
)

// RedisSink counts stage submissions in daily Redis buckets so the
// registration funnel can be inspected without touching the ledger.
type RedisSink struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisSink(client *redis.Client, retention time.Duration) *RedisSink {
	return &RedisSink{client: client, retention: retention}
}

func (s *RedisSink) Record(ctx context.Context, stage domain.Stage, at time.Time) error {
	key := buildKey(stage, at)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}

	return nil
}

func buildKey(stage domain.Stage, t time.Time) string {
	return fmt.Sprintf("reg:%s:%s", stage, t.UTC().Format("20060102"))
}
