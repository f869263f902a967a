package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/logger"
)

// PredictionsChannel carries every served prediction for the dashboard.
const PredictionsChannel = "taxi:predictions"

// CacheService wraps an optional redis connection. With no REDIS_URL the
// service runs with a nil client and every operation is a no-op, so the
// prediction path never depends on redis being up.
type CacheService struct {
	client *redis.Client
}

func NewCacheService(url string) (*CacheService, error) {
	if url == "" {
		return &CacheService{}, nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	var lastErr error
	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		lastErr = client.Ping(ctx).Err()
		cancel()
		if lastErr == nil {
			slog.Info("redis connected", "url", url)
			return &CacheService{client: client}, nil
		}
		slog.Warn("redis ping failed, retrying", "attempt", i+1, logger.Err(lastErr))
		time.Sleep(time.Second)
	}
	return nil, fmt.Errorf("redis ping failed after 3 attempts: %w", lastErr)
}

func (s *CacheService) Available() bool { return s != nil && s.client != nil }

func (s *CacheService) Get(ctx context.Context, key string, dest any) error {
	if !s.Available() {
		return redis.Nil
	}
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(val), dest)
}

func (s *CacheService) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !s.Available() {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *CacheService) Publish(ctx context.Context, channel string, message any) error {
	if !s.Available() {
		return nil
	}
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, channel, data).Err()
}

func (s *CacheService) Close() error {
	if !s.Available() {
		return nil
	}
	return s.client.Close()
}
