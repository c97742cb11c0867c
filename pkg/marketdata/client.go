package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/irfndi/candlefeed-go/internal/config"
)

// Client is the HTTP client for the CCXT sidecar service. All venue calls
// funnel through the sidecar; the client only classifies failures.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	timeout    time.Duration
}

// NewClient creates a new sidecar client instance
func NewClient(cfg *config.MarketDataConfig) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		BaseURL: strings.TrimSuffix(cfg.ServiceURL, "/"),
		timeout: timeout,
	}
}

// HealthCheck checks if the sidecar service is healthy
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var response HealthResponse
	err := c.makeRequest(ctx, "GET", "/health", &response)
	if err != nil {
		return nil, err
	}
	return &response, nil
}

// GetExchanges retrieves all exchanges the sidecar can serve
func (c *Client) GetExchanges(ctx context.Context) (*ExchangesResponse, error) {
	var response ExchangesResponse
	err := c.makeRequest(ctx, "GET", "/api/exchanges", &response)
	return &response, err
}

// GetOHLCV retrieves OHLCV bars for a specific exchange and symbol. A nil
// since fetches the most recent bars; limit caps the page size.
func (c *Client) GetOHLCV(ctx context.Context, exchange, symbol, timeframe string, since *time.Time, limit int) (*OHLCVResponse, error) {
	path := fmt.Sprintf("/api/ohlcv/%s/%s", exchange, url.PathEscape(symbol))
	params := url.Values{}
	if timeframe != "" {
		params.Set("timeframe", timeframe)
	}
	if since != nil {
		params.Set("since", strconv.FormatInt(since.UnixMilli(), 10))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var response OHLCVResponse
	err := c.makeRequest(ctx, "GET", path, &response)
	return &response, err
}

// makeRequest is a helper method to make HTTP requests to the sidecar service
func (c *Client) makeRequest(ctx context.Context, method, path string, result interface{}) error {
	url := c.BaseURL + path

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Candlefeed-Go/1.0")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if kind := classifyTransport(err); kind != nil {
			return fmt.Errorf("%w: %v", kind, err)
		}
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response body: %v", ErrTransient, err)
	}

	if resp.StatusCode >= 400 {
		kind := classifyStatus(resp.StatusCode)
		var errorResp ErrorResponse
		if err := json.Unmarshal(respBody, &errorResp); err == nil && errorResp.Error != "" {
			return fmt.Errorf("%w: sidecar error (%d): %s", kind, resp.StatusCode, errorResp.Error)
		}
		return fmt.Errorf("%w: sidecar error (%d): %s", kind, resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

// Close closes the HTTP client (if needed for cleanup)
func (c *Client) Close() error {
	// HTTP client doesn't need explicit closing, but this method
	// is provided for interface compatibility
	return nil
}
