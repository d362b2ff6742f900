// Package client is the HTTP client for the caja settlement service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Transaction is one entry in a user's settlement history as the server
// presents it. Counterparties are display identifiers, never raw addresses.
type Transaction struct {
	ID            string     `json:"id"`
	Direction     string     `json:"direction"`
	Counterparty  string     `json:"counterparty"`
	Amount        int64      `json:"amount"`
	Token         string     `json:"token"`
	Status        string     `json:"status"`
	PaymentMethod string     `json:"payment_method"`
	TxHash        *string    `json:"tx_hash,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
}

// SubmitResult is the server's response to an accepted transfer.
type SubmitResult struct {
	TransactionID string  `json:"transaction_id"`
	Status        string  `json:"status"`
	Sponsored     bool    `json:"sponsored"`
	TopupTxHash   *string `json:"topup_tx_hash,omitempty"`
	TransferTx    *string `json:"transfer_tx_hash,omitempty"`
}

// RelayerStatus reports the relayer wallet's funding level.
type RelayerStatus struct {
	Address               string `json:"address"`
	BalanceWei            string `json:"balance_wei"`
	EstimatedSponsorships int64  `json:"estimated_sponsorships"`
	Level                 string `json:"level"`
}

// Client is the HTTP client for the caja settlement service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new settlement service client.
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

// Submit sends a transfer on behalf of userID. recipient may be a handle,
// a phone number, or a wallet address; the server resolves it.
func (c *Client) Submit(ctx context.Context, userID, recipient string, amount int64, token string) (*SubmitResult, error) {
	reqBody := map[string]interface{}{
		"recipient": recipient,
		"amount":    amount,
		"token":     token,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/transactions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, c.parseErrorResponse(resp)
	}

	var result SubmitResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("transaction submitted",
		"transaction_id", result.TransactionID,
		"status", result.Status,
		"sponsored", result.Sponsored,
	)
	return &result, nil
}

// ListTransactions retrieves one page of the user's settlement history.
// pageSize of 0 lets the server pick its default.
func (c *Client) ListTransactions(ctx context.Context, userID string, page, pageSize int) ([]*Transaction, error) {
	u, err := url.Parse(c.baseURL + "/api/v1/transactions")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-User-ID", userID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var response struct {
		Transactions []*Transaction `json:"transactions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return response.Transactions, nil
}

// GetTransaction retrieves a single transaction the user is a party to.
func (c *Client) GetTransaction(ctx context.Context, userID, txID string) (*Transaction, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/transactions/"+txID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-User-ID", userID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var txn Transaction
	if err := json.NewDecoder(resp.Body).Decode(&txn); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &txn, nil
}

// RelayerStatus retrieves the relayer wallet's live funding status.
func (c *Client) RelayerStatus(ctx context.Context) (*RelayerStatus, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/relayer/status", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var status RelayerStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &status, nil
}

// Health checks whether the server is up.
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
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
