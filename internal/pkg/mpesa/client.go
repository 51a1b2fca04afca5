package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pesasats/pesasats-api/internal/pkg/gateway"
)

const providerName = "mpesa"

// Config holds Daraja API configuration
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	InitiatorName  string
	InitiatorCred  string
	CallbackURL    string
	ResultURL      string
	Timeout        time.Duration
}

// Client represents the M-Pesa Daraja gateway client
type Client struct {
	httpClient *http.Client
	config     Config

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient creates new Daraja API client
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

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// token returns a cached OAuth access token, refreshing when expired.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", gateway.Transient(providerName, err)
	}

	basic := base64.StdEncoding.EncodeToString([]byte(c.config.ConsumerKey + ":" + c.config.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+basic)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", gateway.Transient(providerName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", gateway.Transient(providerName, err)
	}
	if err := gateway.ClassifyHTTPStatus(providerName, resp.StatusCode, string(body)); err != nil {
		return "", err
	}

	var out tokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", gateway.Transient(providerName, fmt.Errorf("failed to parse token response: %w", err))
	}

	c.accessToken = out.AccessToken
	// Daraja tokens last 3600s; refresh a minute early
	c.tokenExpiry = time.Now().Add(59 * time.Minute)
	return c.accessToken, nil
}

// StkPushRequest represents an STK push initiation
type StkPushRequest struct {
	Phone       string
	Amount      float64
	AccountRef  string
	Description string
}

// StkPushResponse represents the Daraja STK push acknowledgement
type StkPushResponse struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResponseCode      string `json:"ResponseCode"`
	ResponseDesc      string `json:"ResponseDescription"`
	CustomerMessage   string `json:"CustomerMessage"`
}

// StkPush prompts the customer's phone to authorize a payment.
// The CheckoutRequestID in the response is the reconciliation key for
// the asynchronous result callback.
func (c *Client) StkPush(ctx context.Context, req StkPushRequest) (*StkPushResponse, error) {
	if req.Amount <= 0 {
		return nil, gateway.Permanent(providerName, "validation", fmt.Errorf("amount must be > 0"))
	}
	if strings.TrimSpace(req.Phone) == "" {
		return nil, gateway.Permanent(providerName, "validation", fmt.Errorf("phone must be non-empty"))
	}

	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(c.config.ShortCode + c.config.Passkey + timestamp))

	payload := map[string]interface{}{
		"BusinessShortCode": c.config.ShortCode,
		"Password":          password,
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            int64(req.Amount),
		"PartyA":            req.Phone,
		"PartyB":            c.config.ShortCode,
		"PhoneNumber":       req.Phone,
		"CallBackURL":       c.config.CallbackURL,
		"AccountReference":  req.AccountRef,
		"TransactionDesc":   req.Description,
	}

	var out StkPushResponse
	if err := c.post(ctx, "/mpesa/stkpush/v1/processrequest", payload, &out); err != nil {
		return nil, err
	}

	if out.ResponseCode != "0" {
		return nil, gateway.Permanent(providerName, out.ResponseCode, fmt.Errorf("stk push rejected: %s", out.ResponseDesc))
	}
	return &out, nil
}

// B2CRequest represents a business-to-customer payout
type B2CRequest struct {
	Phone       string
	Amount      float64
	Description string
}

// B2CResponse represents the Daraja B2C acknowledgement
type B2CResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDesc             string `json:"ResponseDescription"`
}

// B2C disburses fiat to the customer's mobile-money account.
// The ConversationID is the reconciliation key for the result webhook.
func (c *Client) B2C(ctx context.Context, req B2CRequest) (*B2CResponse, error) {
	if req.Amount <= 0 {
		return nil, gateway.Permanent(providerName, "validation", fmt.Errorf("amount must be > 0"))
	}
	if strings.TrimSpace(req.Phone) == "" {
		return nil, gateway.Permanent(providerName, "validation", fmt.Errorf("phone must be non-empty"))
	}

	payload := map[string]interface{}{
		"InitiatorName":      c.config.InitiatorName,
		"SecurityCredential": c.config.InitiatorCred,
		"CommandID":          "BusinessPayment",
		"Amount":             int64(req.Amount),
		"PartyA":             c.config.ShortCode,
		"PartyB":             req.Phone,
		"Remarks":            req.Description,
		"QueueTimeOutURL":    c.config.ResultURL,
		"ResultURL":          c.config.ResultURL,
	}

	var out B2CResponse
	if err := c.post(ctx, "/mpesa/b2c/v1/paymentrequest", payload, &out); err != nil {
		return nil, err
	}

	if out.ResponseCode != "0" {
		return nil, gateway.Permanent(providerName, out.ResponseCode, fmt.Errorf("b2c rejected: %s", out.ResponseDesc))
	}
	return &out, nil
}

// QueryStkStatus queries the state of a previously initiated STK push
func (c *Client) QueryStkStatus(ctx context.Context, checkoutRequestID string) (*StkPushResponse, error) {
	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(c.config.ShortCode + c.config.Passkey + timestamp))

	payload := map[string]interface{}{
		"BusinessShortCode": c.config.ShortCode,
		"Password":          password,
		"Timestamp":         timestamp,
		"CheckoutRequestID": checkoutRequestID,
	}

	var out StkPushResponse
	if err := c.post(ctx, "/mpesa/stkpushquery/v1/query", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return gateway.Permanent(providerName, "encode", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + path

	timeout := c.config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return gateway.Transient(providerName, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return gateway.Transient(providerName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gateway.Transient(providerName, err)
	}

	if err := gateway.ClassifyHTTPStatus(providerName, resp.StatusCode, string(body)); err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return gateway.Transient(providerName, fmt.Errorf("failed to parse daraja response: %w", err))
	}
	return nil
}
