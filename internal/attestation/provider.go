// Package attestation obtains device attestation tokens from the platform.
//
// The attestation mechanism itself is opaque here: a Minter produces raw token
// bytes and the CachingProvider reuses them until their TTL runs out.
package attestation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/exposure-reporter/internal/errors"
	"github.com/p-blackswan/exposure-reporter/pkg/tokenstore"
)

// Token is an opaque device attestation token.
type Token struct {
	Data []byte
	// IsCached is true when the token was reused instead of freshly minted.
	IsCached bool
}

// Provider hands out device attestation tokens.
type Provider interface {
	GenerateToken(ctx context.Context) (Token, error)
	ClearCachedToken(ctx context.Context) error
}

// Minter produces a fresh attestation token. Errors should wrap one of
// ErrAttestationNotSupported, ErrAttestationFailed or ErrAttestationUnknown.
type Minter interface {
	Mint(ctx context.Context) ([]byte, error)
}

// MinterFunc adapts a function to the Minter interface.
type MinterFunc func(ctx context.Context) ([]byte, error)

// Mint implements Minter.
func (f MinterFunc) Mint(ctx context.Context) ([]byte, error) { return f(ctx) }

// CachingProvider mints tokens and caches them for a fixed TTL.
type CachingProvider struct {
	minter Minter
	cache  tokenstore.Store
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// NewCachingProvider creates a provider. A zero ttl disables caching.
func NewCachingProvider(minter Minter, cache tokenstore.Store, ttl time.Duration, logger zerolog.Logger) *CachingProvider {
	return &CachingProvider{
		minter: minter,
		cache:  cache,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With().Str("component", "attestation").Logger(),
	}
}

// GenerateToken returns the cached token when still valid, else mints one.
func (p *CachingProvider) GenerateToken(ctx context.Context) (Token, error) {
	if p.ttl > 0 {
		cached, err := p.cache.Get(ctx, tokenstore.KeyAttestation)
		switch {
		case err == nil:
			data, derr := base64.StdEncoding.DecodeString(cached.Value)
			if derr == nil {
				p.logger.Debug().Time("expires_at", cached.ExpiresAt).Msg("reusing cached device token")
				return Token{Data: data, IsCached: true}, nil
			}
			p.logger.Warn().Err(derr).Msg("dropping undecodable cached device token")
			_ = p.cache.Delete(ctx, tokenstore.KeyAttestation)
		case errors.Is(err, tokenstore.ErrTokenNotFound), errors.Is(err, tokenstore.ErrTokenExpired):
		default:
			p.logger.Warn().Err(err).Msg("device token cache lookup failed")
		}
	}

	data, err := p.minter.Mint(ctx)
	if err != nil {
		return Token{}, classify(err)
	}
	if len(data) == 0 {
		return Token{}, fmt.Errorf("empty device token: %w", perrors.ErrAttestationUnknown)
	}

	if p.ttl > 0 {
		if err := p.cache.Put(ctx, tokenstore.Token{
			Key:       tokenstore.KeyAttestation,
			Value:     base64.StdEncoding.EncodeToString(data),
			ExpiresAt: p.now().Add(p.ttl),
		}); err != nil {
			p.logger.Warn().Err(err).Msg("failed to cache device token")
		}
	}

	p.logger.Debug().Int("bytes", len(data)).Msg("minted device token")
	return Token{Data: data}, nil
}

// ClearCachedToken forgets the cached token so the next call mints a new one.
func (p *CachingProvider) ClearCachedToken(ctx context.Context) error {
	if err := p.cache.Delete(ctx, tokenstore.KeyAttestation); err != nil {
		return fmt.Errorf("clearing cached device token: %w", err)
	}
	return nil
}

// classify makes sure every minter failure is one of the attestation sentinels.
func classify(err error) error {
	if errors.Is(err, perrors.ErrAttestationNotSupported) ||
		errors.Is(err, perrors.ErrAttestationFailed) ||
		errors.Is(err, perrors.ErrAttestationUnknown) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", perrors.ErrAttestationFailed, err)
}
