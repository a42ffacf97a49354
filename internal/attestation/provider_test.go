package attestation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/exposure-reporter/internal/errors"
	"github.com/p-blackswan/exposure-reporter/pkg/tokenstore"
)

func countingMinter(calls *int, data []byte) Minter {
	return MinterFunc(func(ctx context.Context) ([]byte, error) {
		*calls++
		return data, nil
	})
}

func TestCachingProvider_MintsThenReuses(t *testing.T) {
	ctx := context.Background()
	calls := 0
	p := NewCachingProvider(countingMinter(&calls, []byte("dev-token")), tokenstore.NewMemoryStore(), time.Hour, zerolog.Nop())

	tok, err := p.GenerateToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("dev-token"), tok.Data)
	assert.False(t, tok.IsCached)

	tok, err = p.GenerateToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("dev-token"), tok.Data)
	assert.True(t, tok.IsCached)
	assert.Equal(t, 1, calls)
}

func TestCachingProvider_ClearForcesMint(t *testing.T) {
	ctx := context.Background()
	calls := 0
	p := NewCachingProvider(countingMinter(&calls, []byte("x")), tokenstore.NewMemoryStore(), time.Hour, zerolog.Nop())

	_, err := p.GenerateToken(ctx)
	require.NoError(t, err)
	require.NoError(t, p.ClearCachedToken(ctx))

	tok, err := p.GenerateToken(ctx)
	require.NoError(t, err)
	assert.False(t, tok.IsCached)
	assert.Equal(t, 2, calls)
}

func TestCachingProvider_ZeroTTLNeverCaches(t *testing.T) {
	calls := 0
	p := NewCachingProvider(countingMinter(&calls, []byte("x")), tokenstore.NewMemoryStore(), 0, zerolog.Nop())
	for i := 0; i < 3; i++ {
		tok, err := p.GenerateToken(context.Background())
		require.NoError(t, err)
		assert.False(t, tok.IsCached)
	}
	assert.Equal(t, 3, calls)
}

func TestCachingProvider_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		data []byte
		want error
	}{
		{"not supported", perrors.ErrAttestationNotSupported, nil, perrors.ErrAttestationNotSupported},
		{"unclassified", errors.New("boom"), nil, perrors.ErrAttestationFailed},
		{"empty token", nil, []byte{}, perrors.ErrAttestationUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := MinterFunc(func(ctx context.Context) ([]byte, error) { return tt.data, tt.err })
			p := NewCachingProvider(m, tokenstore.NewMemoryStore(), time.Hour, zerolog.Nop())
			_, err := p.GenerateToken(context.Background())
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, perrors.IsTerminal(err))
		})
	}
}

func TestFileMinter(t *testing.T) {
	dir := t.TempDir()

	_, err := FileMinter{}.Mint(context.Background())
	assert.ErrorIs(t, err, perrors.ErrAttestationNotSupported)

	_, err = FileMinter{Path: filepath.Join(dir, "missing")}.Mint(context.Background())
	assert.ErrorIs(t, err, perrors.ErrAttestationNotSupported)

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))
	_, err = FileMinter{Path: empty}.Mint(context.Background())
	assert.ErrorIs(t, err, perrors.ErrAttestationUnknown)

	ok := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(ok, []byte("abc\n"), 0o600))
	data, err := FileMinter{Path: ok}.Mint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)
}
