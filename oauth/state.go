package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neaweb/authcore/internal"
	"github.com/redis/go-redis/v9"
)

// DefaultStateTTL bounds how long a user may sit on the consent page.
const DefaultStateTTL = 10 * time.Minute

// ErrStateUnavailable wraps Redis failures.
var ErrStateUnavailable = errors.New("oauth state store unavailable")

// StateStore issues and consumes single-use state values.
type StateStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewStateStore builds a StateStore. Zero ttl means DefaultStateTTL.
func NewStateStore(client redis.UniversalClient, prefix string, ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if prefix == "" {
		prefix = "oauth:state:"
	}
	return &StateStore{redis: client, prefix: prefix, ttl: ttl}
}

// Issue creates and records a new state value.
func (s *StateStore) Issue(ctx context.Context) (string, error) {
	state, err := internal.NewState()
	if err != nil {
		return "", err
	}
	if err := s.redis.Set(ctx, s.prefix+state, 1, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStateUnavailable, err)
	}
	return state, nil
}

// Consume reports whether state was issued and not yet used, and burns it.
func (s *StateStore) Consume(ctx context.Context, state string) (bool, error) {
	if state == "" {
		return false, nil
	}
	err := s.redis.GetDel(ctx, s.prefix+state).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStateUnavailable, err)
	}
	return true, nil
}
