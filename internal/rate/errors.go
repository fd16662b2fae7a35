package rate

import "errors"

var (
	// ErrRedisUnavailable wraps transport failures from the Redis limiter.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrUnknownBucket is returned when no policy is registered for a bucket.
	ErrUnknownBucket = errors.New("unknown rate limit bucket")
)
