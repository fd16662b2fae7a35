package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

const (
	resetSecretSize = 32
	sessionIDSize   = 32
	stateSize       = 24
)

// NewResetSecret returns 32 random bytes, hex encoded. Only the digest is
// persisted; the plaintext travels in the recovery link.
func NewResetSecret() (string, error) {
	var secret [resetSecretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(secret[:]), nil
}

// DigestSecret returns the hex SHA-256 of a secret as stored by the credential
// store.
func DigestSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// NewSessionID returns an opaque, URL-safe session identifier.
func NewSessionID() (string, error) {
	var sid [sessionIDSize]byte
	if _, err := rand.Read(sid[:]); err != nil {
		return "", err
	}
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(sid[:]), nil
}

// NewState returns a random OAuth state value.
func NewState() (string, error) {
	var state [stateSize]byte
	if _, err := rand.Read(state[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(state[:]), nil
}
