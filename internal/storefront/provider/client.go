package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/25x8/digital-storefront/internal/storefront/metrics"
	"github.com/google/uuid"
)

// Client handles communication with the top-up provider API
type Client struct {
	baseURL     string
	apiKey      string
	lookupDelay time.Duration
	httpClient  *http.Client
	metrics     *metrics.Metrics
}

var _ Gateway = (*Client)(nil)

// NewClient creates a provider client. Every request is bounded by timeout.
// lookupDelay is the pause between registering a player lookup and reading its result.
func NewClient(baseURL, apiKey string, timeout, lookupDelay time.Duration, m *metrics.Metrics) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		lookupDelay: lookupDelay,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: m,
	}
}

// envelope is the common part of every provider response
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (c *Client) do(ctx context.Context, op, method, path string, payload, out any) error {
	start := time.Now()
	err := c.roundTrip(ctx, method, path, payload, out)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.metrics.ProviderCall(op, outcome, start)
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	// Handle rate limiting
	if resp.StatusCode == http.StatusTooManyRequests {
		if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			return fmt.Errorf("%w: rate limited, retry after %d seconds", ErrUnavailable, seconds)
		}
		return fmt.Errorf("%w: rate limited", ErrUnavailable)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s %s returned status %d", ErrUnavailable, method, path, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}

// GetPlayerInfo registers a lookup for the player, waits for the provider to
// resolve it and reads the result.
func (c *Client) GetPlayerInfo(ctx context.Context, playerID string) (*PlayerInfo, error) {
	var started envelope
	if err := c.do(ctx, "player_lookup", http.MethodPost, "/id", map[string]string{"playerID": playerID}, &started); err != nil {
		return nil, err
	}
	if !started.Success {
		return nil, nil
	}

	if c.lookupDelay > 0 {
		timer := time.NewTimer(c.lookupDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		case <-timer.C:
		}
	}

	var result struct {
		envelope
		PlayerName string `json:"player_name"`
		Region     string `json:"region"`
	}
	path := "/id?playerID=" + url.QueryEscape(playerID)
	if err := c.do(ctx, "player_info", http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	if !result.Success || result.PlayerName == "" {
		return nil, nil
	}
	if result.Region == "" {
		result.Region = "UNKNOWN"
	}
	return &PlayerInfo{PlayerName: result.PlayerName, Region: result.Region}, nil
}

// CreateTopUp starts a top-up under a fresh transaction id. The provider may
// answer with its own id, which takes precedence.
func (c *Client) CreateTopUp(ctx context.Context, playerID string, providerItemID int64) (string, error) {
	trxID := uuid.NewString()
	payload := struct {
		PlayerID string `json:"playerID"`
		Offer    int64  `json:"offer"`
		TrxID    string `json:"trx_id"`
	}{playerID, providerItemID, trxID}

	var result struct {
		envelope
		TrxID string `json:"trxID"`
	}
	if err := c.do(ctx, "create_topup", http.MethodPost, "/topup", payload, &result); err != nil {
		return "", err
	}
	if !result.Success {
		return "", nil
	}
	if result.TrxID != "" {
		return result.TrxID, nil
	}
	return trxID, nil
}

// GetTransactionStatus fetches the provider status of a top-up.
// It returns nil when the provider does not report the transaction.
func (c *Client) GetTransactionStatus(ctx context.Context, trxID string) (*TransactionStatus, error) {
	var result struct {
		envelope
		TransactionStatus
	}
	if err := c.do(ctx, "transaction_status", http.MethodPost, "/transaction", map[string]string{"trx_id": trxID}, &result); err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, nil
	}
	return &result.TransactionStatus, nil
}
