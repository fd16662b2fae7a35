package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/neaweb/authcore/internal"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when a session id is unknown or expired.
	ErrNotFound = errors.New("session not found")
	// ErrRedisUnavailable wraps Redis transport failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrCorrupt is returned when a stored record cannot be decoded.
	ErrCorrupt = errors.New("session record corrupt")
)

// DefaultTTL is the lifetime of a web session.
const DefaultTTL = 24 * time.Hour

const deleteSessionScript = `
local existed = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Record is the stored form of a session.
type Record struct {
	UserID    string `json:"uid"`
	CreatedAt int64  `json:"iat"`
}

// Store persists sessions in Redis.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewStore builds a Store. Zero ttl means DefaultTTL.
func NewStore(client redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = "sess"
	}
	return &Store{
		redis:  client,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL returns the session lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Create starts a session for userID and returns its id.
func (s *Store) Create(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", errors.New("empty user id")
	}

	sid, err := internal.NewSessionID()
	if err != nil {
		return "", err
	}

	blob, err := json.Marshal(Record{UserID: userID, CreatedAt: s.now().Unix()})
	if err != nil {
		return "", err
	}

	userKey := s.userKey(userID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(sid), blob, s.ttl)
		pipe.SAdd(ctx, userKey, sid)
		pipe.Expire(ctx, userKey, s.ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return sid, nil
}

// Lookup returns the user id bound to sid.
func (s *Store) Lookup(ctx context.Context, sid string) (string, error) {
	if sid == "" {
		return "", ErrNotFound
	}

	blob, err := s.redis.Get(ctx, s.sessionKey(sid)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var rec Record
	if err := json.Unmarshal(blob, &rec); err != nil || rec.UserID == "" {
		return "", ErrCorrupt
	}
	return rec.UserID, nil
}

// Destroy removes sid. Removing an unknown id is not an error.
func (s *Store) Destroy(ctx context.Context, sid string) error {
	if sid == "" {
		return nil
	}

	userID, err := s.Lookup(ctx, sid)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if !errors.Is(err, ErrCorrupt) {
			return err
		}
	}

	if err := deleteSessionLua.Run(ctx, s.redis, []string{s.sessionKey(sid), s.userKey(userID)}, sid).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DestroyAll removes every session of userID and returns how many were live.
func (s *Store) DestroyAll(ctx context.Context, userID string) (int, error) {
	userKey := s.userKey(userID)
	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.sessionKey(id))
	}

	var removed *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.Del(ctx, keys...)
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return int(removed.Val()), nil
}

func (s *Store) sessionKey(sid string) string {
	return s.prefix + ":s:" + sid
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}
