// Package toast talks to the Toast POS vendor API: short-lived machine
// authentication, paginated order fetches for one bounded date window, and
// normalization of raw vendor orders into the internal transaction shape.
package toast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/restolabs/possync/internal/ratelimit"
)

const (
	loginPath      = "/authentication/v1/authentication/login"
	ordersBulkPath = "/orders/v2/ordersBulk"

	// Machine-client access type expected by the vendor login endpoint.
	machineAccessType = "TOAST_MACHINE_CLIENT"

	restaurantHeader = "Toast-Restaurant-External-ID"
)

var (
	// ErrAuthenticationFailed means the vendor rejected the credentials.
	// Non-retryable: the job fails immediately.
	ErrAuthenticationFailed = errors.New("vendor authentication failed")

	// ErrInvalidRequest covers 4xx responses other than 401/403/429.
	// Non-retryable.
	ErrInvalidRequest = errors.New("vendor rejected request")
)

// Credentials are the decrypted per-tenant vendor credentials. They live
// only for the duration of one fetch cycle.
type Credentials struct {
	ClientID     string
	ClientSecret string
	LocationID   string
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.SlidingWindow

	pageSize   int
	pageDelay  time.Duration
	maxRetries int
	retryDelay time.Duration
}

type Option func(*Client)

func WithPageSize(n int) Option            { return func(c *Client) { c.pageSize = n } }
func WithPageDelay(d time.Duration) Option { return func(c *Client) { c.pageDelay = d } }
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.httpClient = h } }

func WithRetries(n int, d time.Duration) Option {
	return func(c *Client) { c.maxRetries, c.retryDelay = n, d }
}

// NewClient builds a vendor client. Every outbound request is gated by the
// given limiter; on rejection the client waits for the next slot instead of
// dropping the request.
func NewClient(baseURL string, limiter *ratelimit.SlidingWindow, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		limiter:    limiter,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		pageSize:   100,
		pageDelay:  200 * time.Millisecond,
		maxRetries: 3,
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type loginRequest struct {
	ClientID       string `json:"clientId"`
	ClientSecret   string `json:"clientSecret"`
	UserAccessType string `json:"userAccessType"`
}

type loginResponse struct {
	Token struct {
		TokenType   string `json:"tokenType"`
		AccessToken string `json:"accessToken"`
		ExpiresIn   int    `json:"expiresIn"`
	} `json:"token"`
}

// Authenticate exchanges credentials for a short-lived bearer token. Tokens
// are not cached; each fetch cycle re-authenticates because they expire.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (string, error) {
	body, err := json.Marshal(loginRequest{
		ClientID:       creds.ClientID,
		ClientSecret:   creds.ClientSecret,
		UserAccessType: machineAccessType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal login request: %w", err)
	}

	respBody, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPath, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", err
	}

	var resp loginResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("%w: malformed login response", ErrInvalidRequest)
	}
	if resp.Token.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrAuthenticationFailed)
	}
	return resp.Token.AccessToken, nil
}

// FetchWindow retrieves every order in [start, end) for one location,
// paging sequentially until a short page signals the end. A fixed delay
// separates page fetches to respect per-second limits independent of the
// hourly limiter.
func (c *Client) FetchWindow(ctx context.Context, token, locationID string, start, end time.Time) ([]RawOrder, error) {
	var orders []RawOrder

	for page := 1; ; page++ {
		if page > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.pageDelay):
			}
		}

		batch, err := c.fetchPage(ctx, token, locationID, start, end, page)
		if err != nil {
			return nil, err
		}
		orders = append(orders, batch...)

		log.Debug().
			Str("location_id", locationID).
			Int("page", page).
			Int("orders", len(batch)).
			Msg("fetched orders page")

		// A page shorter than the requested size is the last page.
		if len(batch) < c.pageSize {
			return orders, nil
		}
	}
}

func (c *Client) fetchPage(ctx context.Context, token, locationID string, start, end time.Time, page int) ([]RawOrder, error) {
	respBody, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		q := url.Values{}
		q.Set("startDate", start.UTC().Format(time.RFC3339))
		q.Set("endDate", end.UTC().Format(time.RFC3339))
		q.Set("page", strconv.Itoa(page))
		q.Set("pageSize", strconv.Itoa(c.pageSize))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+ordersBulkPath+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set(restaurantHeader, locationID)
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var orders []RawOrder
	if err := json.Unmarshal(respBody, &orders); err != nil {
		return nil, fmt.Errorf("%w: malformed orders payload", ErrInvalidRequest)
	}
	return orders, nil
}

// doWithRetry gates the request on the rate limiter, then retries transient
// failures (network errors, 5xx, 429) with increasing backoff. 401/403 and
// other 4xx propagate immediately.
func (c *Client) doWithRetry(ctx context.Context, build func() (*http.Request, error)) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(attempt-1) * c.retryDelay
			log.Warn().Err(lastErr).Int("attempt", attempt).Dur("backoff", backoff).Msg("retrying vendor request")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := c.waitForSlot(ctx); err != nil {
			return nil, err
		}

		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("vendor request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read vendor response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, fmt.Errorf("%w (status %d)", ErrAuthenticationFailed, resp.StatusCode)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("vendor returned status %d: %s", resp.StatusCode, truncate(body, 200))
			continue
		default:
			return nil, fmt.Errorf("%w (status %d): %s", ErrInvalidRequest, resp.StatusCode, truncate(body, 200))
		}
	}

	return nil, fmt.Errorf("vendor request failed after %d attempts: %w", c.maxRetries, lastErr)
}

// waitForSlot blocks until the hourly limiter admits one call.
func (c *Client) waitForSlot(ctx context.Context) error {
	for !c.limiter.TryAcquire() {
		wait := c.limiter.TimeUntilNextSlot()
		if wait <= 0 {
			continue
		}
		log.Warn().Dur("wait", wait).Msg("rate limit reached, waiting for next slot")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
