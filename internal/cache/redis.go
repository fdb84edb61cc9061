package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/config"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

// RedisClient handles Redis caching operations
type RedisClient struct {
	client *redis.Client
	logger *logrus.Entry
	cfg    *config.RedisConfig
	ttl    time.Duration
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,

		PoolTimeout:        4 * time.Second,
		IdleTimeout:        5 * time.Minute,
		MaxRetries:         2,
		IdleCheckFrequency: time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisClient{
		client: client,
		logger: logger.WithField("component", "redis"),
		cfg:    cfg,
		ttl:    5 * time.Minute,
	}, nil
}

// Close closes the Redis connection
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

// Health checks Redis health
func (rc *RedisClient) Health(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Signal operations

// SetLatestSignal stores the most recent signal for a symbol.
func (rc *RedisClient) SetLatestSignal(ctx context.Context, sig *models.Signal) error {
	key := fmt.Sprintf("signal:%s", sig.Symbol)

	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}

	return rc.client.Set(ctx, key, data, 24*time.Hour).Err()
}

// GetLatestSignal returns the most recent signal for a symbol, or nil
// when none is cached.
func (rc *RedisClient) GetLatestSignal(ctx context.Context, symbol string) (*models.Signal, error) {
	key := fmt.Sprintf("signal:%s", symbol)

	data, err := rc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get signal: %w", err)
	}

	var sig models.Signal
	if err := json.Unmarshal([]byte(data), &sig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal signal: %w", err)
	}

	return &sig, nil
}

// IncrSignalCount increments the per-day signal counter for a symbol.
func (rc *RedisClient) IncrSignalCount(ctx context.Context, symbol string) (int64, error) {
	key := fmt.Sprintf("signalcount:%s:%s", symbol, time.Now().UTC().Format("2006-01-02"))

	count, err := rc.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment signal count: %w", err)
	}
	rc.client.Expire(ctx, key, 48*time.Hour)

	return count, nil
}

// Status operations

// SetMonitorStatus stores the monitor status snapshot.
func (rc *RedisClient) SetMonitorStatus(ctx context.Context, status *models.MonitorStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal monitor status: %w", err)
	}

	return rc.client.Set(ctx, "monitor:status", data, rc.ttl).Err()
}

// Utility operations

// SetJSON stores a JSON-encoded value
func (rc *RedisClient) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return rc.client.Set(ctx, key, data, expiration).Err()
}

// GetJSON retrieves and decodes a JSON value
func (rc *RedisClient) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := rc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal value: %w", err)
	}

	return true, nil
}

// Delete removes a key
func (rc *RedisClient) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return rc.client.Del(ctx, keys...).Err()
}
