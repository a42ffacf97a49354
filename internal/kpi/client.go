package kpi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/exposure-reporter/internal/errors"
)

// AuthHeader carries the analytics token on submissions.
const AuthHeader = "x-sedia-authorization"

const serviceName = "kpi-submit"

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client posts KPI events to the submission endpoint.
type Client struct {
	url        string
	httpClient HTTPClient
	logger     zerolog.Logger
}

// NewClient creates a new KPI submission client.
func NewClient(url string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "kpi").Logger(),
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(hc HTTPClient) {
	c.httpClient = hc
}

// Submit posts events authorized by token. Transport failures, 408, 429 and
// 5xx answers are retryable; any other non-2xx status is not.
func (c *Client) Submit(ctx context.Context, token string, events []Event) error {
	body, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshaling kpi events: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating kpi request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(AuthHeader, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return perrors.Transient(fmt.Errorf("executing kpi request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return perrors.NewAPIError(serviceName, resp.StatusCode, string(respBody))
	}

	c.logger.Debug().Int("events", len(events)).Int("status_code", resp.StatusCode).Msg("kpi events submitted")
	return nil
}
