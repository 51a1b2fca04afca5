package lightning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds the Lightning rail connection settings
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client is the request/response interface to the Lightning settlement
// rail. Channel and routing internals live behind it.
type Client struct {
	httpClient *http.Client
	config     Config
}

// NewClient creates new Lightning rail client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		config:     cfg,
	}
}

// Invoice is an encoded payment request with its lookup hash
type Invoice struct {
	PaymentRequest string `json:"payment_request"`
	PaymentHash    string `json:"payment_hash"`
	AmountSats     int64  `json:"amount_sats"`
	ExpiresAt      string `json:"expires_at"`
}

// Payment is the settled result of a send
type Payment struct {
	PaymentHash string `json:"payment_hash"`
	Preimage    string `json:"preimage"`
	AmountSats  int64  `json:"amount_sats"`
	FeeSats     int64  `json:"fee_sats"`
	Status      string `json:"status"`
}

// Balance reports the rail's spendable balance
type Balance struct {
	TotalSats     int64 `json:"total_sats"`
	SpendableSats int64 `json:"spendable_sats"`
}

// CreateInvoice asks the rail to issue an invoice for amountSats
func (c *Client) CreateInvoice(ctx context.Context, amountSats int64, memo string) (*Invoice, error) {
	if amountSats <= 0 {
		return nil, fmt.Errorf("lightning: invoice amount must be > 0")
	}
	payload := map[string]interface{}{
		"amount_sats": amountSats,
		"memo":        memo,
	}
	var out Invoice
	if err := c.post(ctx, "/v1/invoices", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendPayment pays sats to the given destination. Destination is an
// opaque invoice or node pubkey string; amountSats is required for
// destinations that do not encode an amount.
func (c *Client) SendPayment(ctx context.Context, destination string, amountSats int64) (*Payment, error) {
	if strings.TrimSpace(destination) == "" {
		return nil, fmt.Errorf("lightning: destination must be non-empty")
	}
	payload := map[string]interface{}{
		"destination": destination,
		"amount_sats": amountSats,
	}
	var out Payment
	if err := c.post(ctx, "/v1/payments", payload, &out); err != nil {
		return nil, err
	}
	if out.Status != "" && out.Status != "succeeded" && out.Status != "complete" {
		return nil, fmt.Errorf("lightning: payment not settled: %s", out.Status)
	}
	return &out, nil
}

// GetBalance queries the rail balance
func (c *Client) GetBalance(ctx context.Context) (*Balance, error) {
	var out Balance
	if err := c.get(ctx, "/v1/balance", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("lightning: failed to encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewBuffer(jsonData), out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	url := strings.TrimRight(c.config.BaseURL, "/") + path

	timeout := c.config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("lightning: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("lightning: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("lightning: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("lightning: rail returned %d: %s", resp.StatusCode, string(data))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("lightning: failed to parse response: %w", err)
	}
	return nil
}
