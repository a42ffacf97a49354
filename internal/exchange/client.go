// Package exchange trades a device attestation token for an analytics token.
package exchange

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/exposure-reporter/internal/errors"
	"github.com/p-blackswan/exposure-reporter/pkg/tokenstore"
)

const serviceName = "token-verify"

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// OutcomeKind tells how the backend answered a verification request.
type OutcomeKind int

const (
	Authorized OutcomeKind = iota + 1
	InProgress
)

func (k OutcomeKind) String() string {
	switch k {
	case Authorized:
		return "authorized"
	case InProgress:
		return "in_progress"
	default:
		return "unknown"
	}
}

// Outcome is the non-error result of a verification call. Terminal
// failures are returned as errors instead.
type Outcome struct {
	Kind  OutcomeKind
	Token string
}

type verifyRequest struct {
	DeviceToken string `json:"deviceToken"`
}

type verifyResponse struct {
	Token string `json:"token"`
}

// Client wraps the token verification endpoint.
type Client struct {
	url        string
	httpClient HTTPClient
	tokenTTL   time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

// NewClient creates a verification client. tokenTTL is the lifetime assumed
// for analytics tokens that carry no readable expiry.
func NewClient(url string, timeout, tokenTTL time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		tokenTTL:   tokenTTL,
		now:        time.Now,
		logger:     logger.With().Str("component", "exchange").Logger(),
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(hc HTTPClient) {
	c.httpClient = hc
}

// Verify submits the device token. 202 maps to InProgress, any other 2xx to
// Authorized. A 401 wraps ErrTokenExpired; every other failure is transient.
func (c *Client) Verify(ctx context.Context, deviceToken []byte) (Outcome, error) {
	body, err := json.Marshal(verifyRequest{DeviceToken: base64.StdEncoding.EncodeToString(deviceToken)})
	if err != nil {
		return Outcome{}, fmt.Errorf("marshaling verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, fmt.Errorf("creating verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		return Outcome{}, perrors.Transient(fmt.Errorf("executing verify request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusAccepted:
		c.logger.Debug().Msg("device token verification in progress")
		return Outcome{Kind: InProgress}, nil

	case resp.StatusCode == http.StatusUnauthorized:
		return Outcome{}, &perrors.APIError{
			Service:    serviceName,
			StatusCode: resp.StatusCode,
			Message:    "device token rejected",
			Err:        perrors.ErrTokenExpired,
		}

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Outcome{}, perrors.Transient(perrors.NewAPIError(serviceName, resp.StatusCode, string(respBody)))
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Outcome{}, perrors.Transient(fmt.Errorf("decoding verify response: %w", err))
	}
	if out.Token == "" {
		return Outcome{}, perrors.Transient(perrors.NewAPIError(serviceName, resp.StatusCode, "empty token in response"))
	}
	return Outcome{Kind: Authorized, Token: out.Token}, nil
}

// Exchange verifies the device token and turns an authorized outcome into a
// validated analytics token. InProgress comes back as ErrInProgress so that
// retry loops treat it as transient.
func (c *Client) Exchange(ctx context.Context, deviceToken []byte) (tokenstore.Token, error) {
	outcome, err := c.Verify(ctx, deviceToken)
	if err != nil {
		return tokenstore.Token{}, err
	}
	if outcome.Kind == InProgress {
		return tokenstore.Token{}, perrors.ErrInProgress
	}

	expiresAt := ExpiryOf(outcome.Token, c.now(), c.tokenTTL)
	c.logger.Info().Time("expires_at", expiresAt).Msg("analytics token authorized")
	return tokenstore.Token{
		Key:       tokenstore.KeyAnalytics,
		Value:     outcome.Token,
		ExpiresAt: expiresAt,
		Validated: true,
	}, nil
}

// ExpiryOf reads the exp claim of a JWT without verifying it. Tokens that are
// not JWTs, or carry no exp, expire ttl after now.
func ExpiryOf(token string, now time.Time, ttl time.Duration) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return now.Add(ttl)
}
