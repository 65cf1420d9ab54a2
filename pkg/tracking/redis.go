package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// counterTTL keeps a year's counters around well past the end of that year.
const counterTTL = 400 * 24 * time.Hour

// redisCounter is the part of *redis.Client used by RedisSequence.
type redisCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// advanceScript sets KEYS[1] to ARGV[1] unless it already holds a larger value.
const advanceScript = `
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local floor = tonumber(ARGV[1])
if current < floor then
	redis.call('SET', KEYS[1], floor, 'EX', ARGV[2])
	return floor
end
return current`

// RedisSequence keeps tracking counters in Redis using atomic INCR.
type RedisSequence struct {
	client redisCounter
	prefix string
}

var _ Sequence = (*RedisSequence)(nil)

// NewRedisSequence creates a Redis-backed Sequence.
func NewRedisSequence(client *redis.Client) *RedisSequence {
	return &RedisSequence{client: client, prefix: "signportal:tracking"}
}

func (s *RedisSequence) key(year int, categoryCode string) string {
	return fmt.Sprintf("%s:%d:%s", s.prefix, year, categoryCode)
}

// Next increments and returns the counter for (year, categoryCode).
func (s *RedisSequence) Next(ctx context.Context, year int, categoryCode string) (int, error) {
	key := s.key(year, categoryCode)
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	if n == 1 {
		if err := s.client.Expire(ctx, key, counterTTL).Err(); err != nil {
			return 0, fmt.Errorf("redis expire %s: %w", key, err)
		}
	}
	return int(n), nil
}

// Advance raises the counter for (year, categoryCode) to at least floor.
func (s *RedisSequence) Advance(ctx context.Context, year int, categoryCode string, floor int) error {
	key := s.key(year, categoryCode)
	if err := s.client.Eval(ctx, advanceScript, []string{key}, floor, int64(counterTTL/time.Second)).Err(); err != nil {
		return fmt.Errorf("redis advance %s: %w", key, err)
	}
	return nil
}
