package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingLogScript evicts stale admissions, counts the rest and records the
// current one only when it fits. Returns {allowed, remaining, retry_ms}.
var slidingLogScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window)
  return {1, limit - count - 1, 0}
end

local retry = window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
  retry = tonumber(oldest[2]) + window - now
end
return {0, 0, retry}
`)

// RedisLimiter keeps one sorted set per (bucket, key) in Redis.
type RedisLimiter struct {
	redis    redis.UniversalClient
	prefix   string
	policies Policies
	now      func() time.Time
}

// NewRedis builds a RedisLimiter. now may be nil.
func NewRedis(client redis.UniversalClient, prefix string, policies Policies, now func() time.Time) *RedisLimiter {
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{
		redis:    client,
		prefix:   prefix,
		policies: policies,
		now:      now,
	}
}

// Admit implements Limiter.
func (l *RedisLimiter) Admit(ctx context.Context, bucket, key string) (Decision, error) {
	policy, err := l.policies.lookup(bucket)
	if err != nil {
		return Decision{}, err
	}
	if policy.Max <= 0 {
		return unlimited(), nil
	}

	now := l.now().UnixMilli()
	res, err := slidingLogScript.Run(ctx, l.redis,
		[]string{l.redisKey(bucket, key)},
		now, policy.Window.Milliseconds(), policy.Max, fmt.Sprintf("%d-%s", now, uuid.NewString()),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrRedisUnavailable)
	}

	return Decision{
		Allowed:    res[0] == 1,
		Limit:      policy.Max,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

func (l *RedisLimiter) redisKey(bucket, key string) string {
	return l.prefix + bucket + ":" + key
}
