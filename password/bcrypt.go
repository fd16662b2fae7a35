package password

import (
	"context"
	"errors"
	"runtime"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultCost is the bcrypt work factor used when Config.Cost is zero.
	DefaultCost = 12
	// DefaultMinLength is the minimum number of characters a password must have.
	DefaultMinLength = 8
	// MaxBytes is the largest input bcrypt consumes without truncation.
	MaxBytes = 72
)

var (
	// ErrWeakCredential is returned when the plaintext fails the length policy.
	ErrWeakCredential = errors.New("password too short")
	// ErrTooLong is returned for inputs bcrypt would truncate.
	ErrTooLong = errors.New("password exceeds 72 bytes")
	// ErrMalformedDigest is returned by Verify when the stored digest is not bcrypt.
	ErrMalformedDigest = errors.New("malformed password digest")
)

// Config tunes a Hasher.
type Config struct {
	Cost      int
	MinLength int
	// MaxConcurrent bounds simultaneous bcrypt computations. Zero means GOMAXPROCS.
	MaxConcurrent int
}

// Hasher hashes and verifies passwords. It is safe for concurrent use.
type Hasher struct {
	cost      int
	minLength int
	slots     *semaphore.Weighted
}

// New validates cfg and returns a Hasher.
func New(cfg Config) (*Hasher, error) {
	if cfg.Cost == 0 {
		cfg.Cost = DefaultCost
	}
	if cfg.Cost < bcrypt.MinCost || cfg.Cost > bcrypt.MaxCost {
		return nil, errors.New("password cost out of bcrypt range")
	}
	if cfg.MinLength == 0 {
		cfg.MinLength = DefaultMinLength
	}
	if cfg.MinLength < 1 {
		return nil, errors.New("password min length must be >= 1")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = runtime.GOMAXPROCS(0)
	}

	return &Hasher{
		cost:      cfg.Cost,
		minLength: cfg.MinLength,
		slots:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}, nil
}

// CheckPolicy applies the length rules without hashing.
func (h *Hasher) CheckPolicy(plaintext string) error {
	if utf8.RuneCountInString(plaintext) < h.minLength {
		return ErrWeakCredential
	}
	if len(plaintext) > MaxBytes {
		return ErrTooLong
	}
	return nil
}

// Hash returns the bcrypt digest of plaintext. Policy violations are reported
// before a hashing slot is requested.
func (h *Hasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if err := h.CheckPolicy(plaintext); err != nil {
		return "", err
	}

	if err := h.slots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.slots.Release(1)

	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches digest. A mismatch is (false, nil);
// an unreadable digest is an error.
func (h *Hasher) Verify(ctx context.Context, plaintext, digest string) (bool, error) {
	if _, err := bcrypt.Cost([]byte(digest)); err != nil {
		return false, ErrMalformedDigest
	}
	if len(plaintext) > MaxBytes {
		return false, nil
	}

	if err := h.slots.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer h.slots.Release(1)

	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}

// NeedsRehash reports whether digest was produced with a lower cost than the
// hasher's current one.
func (h *Hasher) NeedsRehash(digest string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(digest))
	if err != nil {
		return false, ErrMalformedDigest
	}
	return cost < h.cost, nil
}

// Cost returns the configured work factor.
func (h *Hasher) Cost() int {
	return h.cost
}
