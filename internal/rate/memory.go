package rate

import (
	"context"
	"strings"
	"sync"
	"time"
)

const sweepEvery = 1024

// MemoryLimiter is the in-process counterpart of RedisLimiter.
type MemoryLimiter struct {
	policies Policies
	now      func() time.Time

	mu      sync.Mutex
	windows map[string][]time.Time
	checks  int
}

// NewMemory builds a MemoryLimiter. now may be nil.
func NewMemory(policies Policies, now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{
		policies: policies,
		now:      now,
		windows:  make(map[string][]time.Time),
	}
}

// Admit implements Limiter.
func (l *MemoryLimiter) Admit(_ context.Context, bucket, key string) (Decision, error) {
	policy, err := l.policies.lookup(bucket)
	if err != nil {
		return Decision{}, err
	}
	if policy.Max <= 0 {
		return unlimited(), nil
	}

	now := l.now()
	id := bucket + ":" + key

	l.mu.Lock()
	defer l.mu.Unlock()

	l.checks++
	if l.checks%sweepEvery == 0 {
		l.sweepLocked(now)
	}

	log := evict(l.windows[id], now.Add(-policy.Window))
	if len(log) >= policy.Max {
		l.windows[id] = log
		return Decision{
			Allowed:    false,
			Limit:      policy.Max,
			RetryAfter: log[0].Add(policy.Window).Sub(now),
		}, nil
	}

	log = append(log, now)
	l.windows[id] = log
	return Decision{
		Allowed:   true,
		Limit:     policy.Max,
		Remaining: policy.Max - len(log),
	}, nil
}

// Sweep drops windows whose admissions have all aged out.
func (l *MemoryLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked(l.now())
}

// Len reports the number of live windows.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func (l *MemoryLimiter) sweepLocked(now time.Time) {
	for id, log := range l.windows {
		bucket, _, _ := strings.Cut(id, ":")
		window := l.policies[bucket].Window
		if len(log) == 0 || !log[len(log)-1].After(now.Add(-window)) {
			delete(l.windows, id)
		}
	}
}

// evict drops instants at or before cutoff. log is sorted ascending.
func evict(log []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return log
	}
	return append(log[:0], log[i:]...)
}
