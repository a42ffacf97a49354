package exchange

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/exposure-reporter/internal/errors"
	"github.com/p-blackswan/exposure-reporter/pkg/tokenstore"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, 5*time.Second, time.Hour, zerolog.Nop())
}

func TestVerify_Authorized(t *testing.T) {
	var got verifyRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"token":"tok"}`))
	})

	out, err := c.Verify(context.Background(), []byte("device"))
	require.NoError(t, err)
	assert.Equal(t, Authorized, out.Kind)
	assert.Equal(t, "tok", out.Token)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("device")), got.DeviceToken)
}

func TestVerify_InProgress(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	out, err := c.Verify(context.Background(), []byte("device"))
	require.NoError(t, err)
	assert.Equal(t, InProgress, out.Kind)
}

func TestVerify_Unauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Verify(context.Background(), []byte("device"))
	assert.ErrorIs(t, err, perrors.ErrTokenExpired)
	assert.False(t, perrors.IsRetryable(err))
}

func TestVerify_OtherFailuresAreTransient(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusForbidden, http.StatusInternalServerError, http.StatusServiceUnavailable} {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})
		_, err := c.Verify(context.Background(), []byte("device"))
		require.Error(t, err)
		assert.True(t, perrors.IsRetryable(err), "status %d", status)
	}
}

func TestVerify_BadBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})
	_, err := c.Verify(context.Background(), []byte("device"))
	assert.True(t, perrors.IsRetryable(err))

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":""}`))
	})
	_, err = c.Verify(context.Background(), []byte("device"))
	assert.True(t, perrors.IsRetryable(err))
}

func TestVerify_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := NewClient(url, time.Second, time.Hour, zerolog.Nop())
	_, err := c.Verify(context.Background(), []byte("device"))
	require.Error(t, err)
	assert.True(t, perrors.IsRetryable(err))
}

func TestExchange_InProgressIsRetryable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	_, err := c.Exchange(context.Background(), []byte("device"))
	assert.ErrorIs(t, err, perrors.ErrInProgress)
	assert.True(t, perrors.IsRetryable(err))
}

func TestExchange_TokenWithTTL(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":"opaque"}`))
	})
	c.now = func() time.Time { return now }

	tok, err := c.Exchange(context.Background(), []byte("device"))
	require.NoError(t, err)
	assert.Equal(t, tokenstore.KeyAnalytics, tok.Key)
	assert.Equal(t, "opaque", tok.Value)
	assert.True(t, tok.Validated)
	assert.Equal(t, now.Add(time.Hour), tok.ExpiresAt)
}

func TestExpiryOf_JWT(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	now := time.Date(2029, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, exp.Equal(ExpiryOf(signed, now, time.Minute)))
}

func TestExpiryOf_NoExpClaim(t *testing.T) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "device"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	now := time.Now()
	assert.Equal(t, now.Add(time.Minute), ExpiryOf(signed, now, time.Minute))
	assert.Equal(t, now.Add(time.Minute), ExpiryOf("opaque", now, time.Minute))
}

func TestOutcomeKind_String(t *testing.T) {
	assert.Equal(t, "authorized", Authorized.String())
	assert.Equal(t, "in_progress", InProgress.String())
	assert.Equal(t, "unknown", OutcomeKind(0).String())
}
