// Package client provides an HTTP client for the solwatch query API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/solwatch/solwatch/service/ledger"
)

// Client is the HTTP client for the solwatch query API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new query API client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// ListTransfers fetches the full current record set. The degraded flag is
// true when the server answered from a failing store (empty array with the
// X-Degraded header set) - the records are then not authoritative.
func (c *Client) ListTransfers(ctx context.Context) (records []ledger.TransferRecord, degraded bool, err error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/transactions", nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	degraded = resp.Header.Get("X-Degraded") == "true"

	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, degraded, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("listed transfers", "count", len(records), "degraded", degraded)
	return records, degraded, nil
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: %s", resp.Status)
	}
	return nil
}

// AwaitTransfer polls the query API until a record with the given signature
// appears, or ctx is cancelled. The poll interval is fixed; callers bound
// the wait through the context.
func (c *Client) AwaitTransfer(ctx context.Context, signature string, pollInterval time.Duration) (*ledger.TransferRecord, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		records, degraded, err := c.ListTransfers(ctx)
		if err != nil {
			c.logger.Debug("await poll failed, retrying", "error", err)
		} else if !degraded {
			for i := range records {
				if records[i].Signature == signature {
					return &records[i], nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
