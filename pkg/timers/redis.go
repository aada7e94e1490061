package timers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const DefaultRedisKey = "crmflow:timers"

// RedisStore keeps timers in a sorted set scored by unix milliseconds.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}

	return &RedisStore{client: client, key: key}
}

// OpenRedisStore connects using a redis:// URL and checks the connection.
func OpenRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStore(client, DefaultRedisKey), nil
}

func (s *RedisStore) Schedule(ctx context.Context, executionID string, at time.Time) error {
	err := s.client.ZAdd(ctx, s.key, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: executionID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule timer for %s: %w", executionID, err)
	}

	return nil
}

func (s *RedisStore) Due(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due timers: %w", err)
	}

	return ids, nil
}

func (s *RedisStore) Remove(ctx context.Context, executionIDs ...string) error {
	if len(executionIDs) == 0 {
		return nil
	}

	members := make([]any, len(executionIDs))
	for i, id := range executionIDs {
		members[i] = id
	}

	if err := s.client.ZRem(ctx, s.key, members...).Err(); err != nil {
		return fmt.Errorf("failed to remove timers: %w", err)
	}

	return nil
}

func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
