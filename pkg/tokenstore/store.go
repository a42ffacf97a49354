// Package tokenstore caches short-lived credentials until they expire.
package tokenstore

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")
)

// Well-known cache keys.
const (
	KeyAnalytics   = "analytics"
	KeyAttestation = "attestation"
)

// Token is a cached credential with its expiry.
type Token struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
	// Validated is set once the backend accepted the credential.
	Validated bool `json:"validated"`
}

// IsExpired reports whether the current time is past ExpiresAt.
func (t *Token) IsExpired() bool {
	return t.IsExpiredAt(time.Now())
}

// IsExpiredAt reports whether now is past ExpiresAt.
func (t *Token) IsExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Store defines the token cache interface.
type Store interface {
	// Put stores tok under tok.Key, replacing any previous value.
	Put(ctx context.Context, tok Token) error
	// Get returns ErrTokenNotFound or ErrTokenExpired when no usable token exists.
	Get(ctx context.Context, key string) (*Token, error)
	Delete(ctx context.Context, key string) error
	// Cleanup removes all expired tokens and returns how many were dropped.
	Cleanup(ctx context.Context) (int, error)
}
