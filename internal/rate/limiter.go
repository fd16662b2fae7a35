package rate

import (
	"context"
	"fmt"
	"time"
)

// Policy is the admission budget of one bucket. Max <= 0 disables the bucket.
type Policy struct {
	Max    int
	Window time.Duration
}

// Policies maps bucket names to budgets.
type Policies map[string]Policy

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits or rejects requests per bucket and client key.
type Limiter interface {
	Admit(ctx context.Context, bucket, key string) (Decision, error)
}

func (p Policies) lookup(bucket string) (Policy, error) {
	policy, ok := p[bucket]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownBucket, bucket)
	}
	return policy, nil
}

func unlimited() Decision {
	return Decision{Allowed: true, Remaining: -1}
}
