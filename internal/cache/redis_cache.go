package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func runKey(promptID string) string {
	return fmt.Sprintf("prompt:%s:last-run", promptID)
}

func (c *RedisCache) StoreRun(ctx context.Context, rec RunRecord) error {
	if rec.PromptID == "" {
		return errors.New("prompt id required")
	}
	rec.ProcessedAt = rec.ProcessedAt.UTC()

	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, runKey(rec.PromptID), b, c.ttl).Err()
}

func (c *RedisCache) LastRun(ctx context.Context, promptID string) (RunRecord, bool, error) {
	raw, err := c.rdb.Get(ctx, runKey(promptID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return RunRecord{}, false, nil
	}
	if err != nil {
		return RunRecord{}, false, err
	}

	var rec RunRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return RunRecord{}, false, fmt.Errorf("decode run record: %w", err)
	}
	return rec, true, nil
}
