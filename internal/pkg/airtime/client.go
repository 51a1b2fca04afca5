package airtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pesasats/pesasats-api/internal/pkg/gateway"
)

const providerName = "airtime"

// Config holds airtime provider configuration
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client represents the airtime provider client
type Client struct {
	httpClient *http.Client
	config     Config
}

// NewClient creates new airtime provider client
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

// PurchaseRequest represents an airtime top-up order
type PurchaseRequest struct {
	Phone      string  `json:"phone"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	ClientRef  string  `json:"client_ref"`
	WebhookURL string  `json:"webhook_url,omitempty"`
}

// PurchaseResponse represents the provider acknowledgement
type PurchaseResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// Purchase submits an airtime top-up. Delivery is confirmed later via
// webhook keyed by RequestID.
func (c *Client) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResponse, error) {
	if req.Amount <= 0 {
		return nil, gateway.Permanent(providerName, "validation", fmt.Errorf("amount must be > 0"))
	}
	if strings.TrimSpace(req.Phone) == "" {
		return nil, gateway.Permanent(providerName, "validation", fmt.Errorf("phone must be non-empty"))
	}
	if strings.TrimSpace(c.config.BaseURL) == "" {
		return nil, gateway.Permanent(providerName, "config", fmt.Errorf("airtime base_url is empty"))
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, gateway.Permanent(providerName, "encode", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/v1/airtime/send"

	timeout := c.config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, gateway.Transient(providerName, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, gateway.Transient(providerName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gateway.Transient(providerName, err)
	}

	if err := gateway.ClassifyHTTPStatus(providerName, resp.StatusCode, string(body)); err != nil {
		return nil, err
	}

	var out PurchaseResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, gateway.Transient(providerName, fmt.Errorf("failed to parse airtime response: %w", err))
	}

	if out.Status == "rejected" {
		return nil, gateway.Permanent(providerName, "rejected", fmt.Errorf("airtime order rejected: %s", out.Message))
	}
	return &out, nil
}

// StatusRequest queries a previously submitted order
func (c *Client) OrderStatus(ctx context.Context, requestID string) (*PurchaseResponse, error) {
	url := strings.TrimRight(c.config.BaseURL, "/") + "/v1/airtime/status/" + requestID

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, gateway.Transient(providerName, err)
	}
	httpReq.Header.Set("X-API-Key", c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, gateway.Transient(providerName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gateway.Transient(providerName, err)
	}
	if err := gateway.ClassifyHTTPStatus(providerName, resp.StatusCode, string(body)); err != nil {
		return nil, err
	}

	var out PurchaseResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, gateway.Transient(providerName, fmt.Errorf("failed to parse airtime response: %w", err))
	}
	return &out, nil
}

// Adapter adapts the airtime client to the gateway contract.
type Adapter struct {
	client *Client
}

// NewAdapter creates the airtime adapter
func NewAdapter(client *Client) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) Name() string { return providerName }

func (a *Adapter) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	res, err := a.client.Purchase(ctx, PurchaseRequest{
		Phone:     req.Phone,
		Amount:    req.Amount,
		Currency:  req.Currency,
		ClientRef: req.TransactionID,
	})
	if err != nil {
		return nil, err
	}
	return &gateway.InitiateResult{ProviderRef: res.RequestID, RawStatus: res.Status}, nil
}

func (a *Adapter) Status(ctx context.Context, providerRef string) (*gateway.StatusResult, error) {
	res, err := a.client.OrderStatus(ctx, providerRef)
	if err != nil {
		return nil, err
	}
	return &gateway.StatusResult{ProviderRef: providerRef, State: res.Status, Description: res.Message}, nil
}

var _ gateway.Adapter = (*Adapter)(nil)
