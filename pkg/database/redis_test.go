package database

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/signportal/pkg/config"
)

// pingOnlyRedis answers PING and nothing else.
type pingOnlyRedis struct {
	redis.Cmdable
	err error
}

func (r pingOnlyRedis) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx, "ping")
	if r.err != nil {
		cmd.SetErr(r.err)
	} else {
		cmd.SetVal("PONG")
	}
	return cmd
}

func TestNewRedisClient_NotConfigured(t *testing.T) {
	client, err := NewRedisClient(context.Background(), &config.RedisConfig{Port: 6379}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestRedisPinger(t *testing.T) {
	assert.NoError(t, RedisPinger{Client: pingOnlyRedis{}}.Ping(context.Background()))

	down := errors.New("dial tcp 10.0.0.5:6379: connection refused")
	err := RedisPinger{Client: pingOnlyRedis{err: down}}.Ping(context.Background())
	assert.ErrorIs(t, err, down)
}
