package database

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/signportal/pkg/config"
	"github.com/ekaya-inc/signportal/pkg/retry"
)

// redisClientName tags SignPortal connections in CLIENT LIST.
const redisClientName = "signportal"

// NewRedisClient connects to the Redis instance holding the tracking-number
// counters. It returns nil when no host is configured. The first ping is
// retried like the database connection, since both usually start together.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	if cfg.Host == "" {
		return nil, nil
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		ClientName: redisClientName,
	})

	if err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		return client.Ping(ctx).Err()
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to Redis at %s: %w", addr, err)
	}

	logger.Info("Connected to Redis", zap.String("addr", addr), zap.Int("db", cfg.DB))
	return client, nil
}

// RedisPinger reports Redis reachability to the health endpoint.
type RedisPinger struct {
	Client redis.Cmdable
}

func (p RedisPinger) Ping(ctx context.Context) error {
	return p.Client.Ping(ctx).Err()
}
