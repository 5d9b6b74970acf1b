package database

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/ruralpay/offline-wallet/internal/config"
	"github.com/sirupsen/logrus"
)

// InitRedis connects to the Redis instance backing the local store.
// Unlike a cache, the queue cannot run without it, so a failed ping is an error.
func InitRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logrus.WithField("addr", cfg.Addr()).Info("Redis connection established")
	return rdb, nil
}
