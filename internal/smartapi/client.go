// Package smartapi implements the broker API client used for session
// management and historical candle retrieval.
package smartapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/commoditydata/go-commodity-collector/internal/errors"
)

const (
	// DefaultBaseURL is the production API host.
	DefaultBaseURL = "https://apiconnect.angelone.in"

	loginPath      = "/rest/auth/angelbroking/user/v1/loginByPassword"
	logoutPath     = "/rest/secure/angelbroking/user/v1/logout"
	candleDataPath = "/rest/secure/angelbroking/historical/v1/getCandleData"

	// timeLayout is the timestamp format the candle endpoint expects
	// for fromdate and todate.
	timeLayout = "2006-01-02 15:04"

	// tokenExpiredMessage is the exact status message the API returns
	// once a session token has lapsed.
	tokenExpiredMessage = "Token Expired"
)

// envelope is the common response wrapper every endpoint returns.
type envelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	Data      json.RawMessage `json:"data"`
}

// Client issues authenticated requests against the broker API. It
// carries the static identity headers; per-session authorization is
// supplied by the caller.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API host, primarily for tests.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client keyed by the given API key.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// post sends a JSON POST to path and decodes the response envelope.
// authToken may be empty for unauthenticated endpoints. Transport and
// server-side failures come back classified as transient; a decoded
// envelope is returned even when its status is false so callers can
// inspect the message.
func (c *Client) post(ctx context.Context, path, authToken string, payload any) (*envelope, error) {
	op := "smartapi.post"

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.TypeValidation, op, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.TypeValidation, op, "build request", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-UserType", "USER")
	req.Header.Set("X-SourceID", "WEB")
	req.Header.Set("X-ClientLocalIP", "127.0.0.1")
	req.Header.Set("X-ClientPublicIP", "127.0.0.1")
	req.Header.Set("X-MACAddress", "00:00:00:00:00:00")
	req.Header.Set("X-PrivateKey", c.apiKey)
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.TypeTransient, op, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.TypeTransient, op, "read response", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperrors.New(apperrors.TypeRateLimit, op, "request rejected by upstream rate limit")
	case resp.StatusCode >= 500:
		return nil, apperrors.New(apperrors.TypeTransient, op,
			fmt.Sprintf("server error %d: %s", resp.StatusCode, truncate(raw, 200)))
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.New(apperrors.TypeTransient, op,
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, truncate(raw, 200)))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, apperrors.Wrap(apperrors.TypeTransient, op, "decode response", err)
	}
	return &env, nil
}

// isTokenExpired reports whether a failed envelope indicates a lapsed
// session token.
func isTokenExpired(env *envelope) bool {
	return env != nil && !env.Status && strings.EqualFold(strings.TrimSpace(env.Message), tokenExpiredMessage)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
