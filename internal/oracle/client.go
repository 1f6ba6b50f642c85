package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// =============================================================================
// Balance Client
// =============================================================================

// Fetcher returns the current balance of an address.
type Fetcher interface {
	Balance(ctx context.Context, address string) (uint64, error)
}

// Client fetches balances from a remote service exposing
// GET {base}/balances/{address} -> {"balance": n}.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	maxRetries int
}

// ClientConfig configures the balance client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

const maxResponseBytes = 64 << 10

// NewClient creates a balance client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		maxRetries: maxRetries,
	}
}

type balanceResponse struct {
	Balance *uint64 `json:"balance"`
}

// Balance implements Fetcher.
func (c *Client) Balance(ctx context.Context, address string) (uint64, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		bal, retry, err := c.fetch(ctx, address)
		if err == nil {
			return bal, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
	}
	return 0, lastErr
}

// fetch performs one request. retry reports whether the failure is transient.
func (c *Client) fetch(ctx context.Context, address string) (balance uint64, retry bool, err error) {
	endpoint := c.baseURL + "/balances/" + url.PathEscape(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, true, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(body))
		return 0, resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			fmt.Errorf("balance request for %s failed with status %d: %s", address, resp.StatusCode, msg)
	}

	var out balanceResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, false, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Balance == nil {
		return 0, false, fmt.Errorf("balance response for %s has no balance field", address)
	}
	return *out.Balance, false, nil
}
