package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"philelect-bot/internal/domain"
)

// chargeRequest starts a headless M-Pesa STK push: the user gets the PIN
// prompt immediately.
type chargeRequest struct {
	Amount      int         `json:"amount"`
	Email       string      `json:"email"`
	Currency    string      `json:"currency"`
	MobileMoney mobileMoney `json:"mobile_money"`
	Reference   string      `json:"reference"`
}

type mobileMoney struct {
	Phone    string `json:"phone"`
	Provider string `json:"provider"`
}

// initializeRequest creates a hosted checkout session for card users.
type initializeRequest struct {
	Amount    int      `json:"amount"`
	Email     string   `json:"email"`
	Currency  string   `json:"currency"`
	Reference string   `json:"reference"`
	Channels  []string `json:"channels"`
}

// apiResponse is the Paystack envelope shared by both endpoints. Status is
// request acceptance; the transaction itself may still be pending or failed
// inside Data.
type apiResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status           string `json:"status"`
		Message          string `json:"message"`
		Reference        string `json:"reference"`
		AuthorizationURL string `json:"authorization_url"`
	} `json:"data"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx Paystack responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("paystack: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client initiates payments against the Paystack API. The secret key is
// fetched from SSM on first use and cached for the process lifetime.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	keyOnce   sync.Once
	secretKey string
	keyErr    error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("paystack: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("paystack: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     "https://api.paystack.co",
		httpClient:  &http.Client{Timeout: 20 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveSecretKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		c.secretKey, c.keyErr = c.getter.GetParameter(ctx, c.paramPrefix+"/paystack-secret-key")
	})
	return c.secretKey, c.keyErr
}

// ChargeMobileMoney triggers an STK push for amount whole KES and returns the
// provider reference.
func (c *Client) ChargeMobileMoney(ctx context.Context, phone string, amount int, reference string) (string, error) {
	normalized := domain.NormalizePhone(phone)
	body := chargeRequest{
		// Paystack wants minor units.
		Amount:   amount * 100,
		Email:    syntheticEmail(normalized),
		Currency: "KES",
		MobileMoney: mobileMoney{
			// The mobile_money API wants the + prefix back.
			Phone:    "+" + normalized,
			Provider: "mpesa",
		},
		Reference: reference,
	}

	parsed, err := c.post(ctx, "/charge", body)
	if err != nil {
		return "", err
	}
	if parsed.Data.Status == "failed" {
		msg := parsed.Data.Message
		if msg == "" {
			msg = "transaction failed"
		}
		return "", fmt.Errorf("paystack: payment failed: %s", msg)
	}
	if parsed.Data.Reference == "" {
		return "", errors.New("paystack: response missing reference")
	}
	return parsed.Data.Reference, nil
}

// CreateCheckout creates a hosted checkout session for amount whole KES and
// returns the authorization URL.
func (c *Client) CreateCheckout(ctx context.Context, phone string, amount int, reference string) (string, error) {
	normalized := domain.NormalizePhone(phone)
	body := initializeRequest{
		Amount:    amount * 100,
		Email:     syntheticEmail(normalized),
		Currency:  "KES",
		Reference: reference,
		Channels:  []string{"card", "mobile_money"},
	}

	parsed, err := c.post(ctx, "/transaction/initialize", body)
	if err != nil {
		return "", err
	}
	if parsed.Data.AuthorizationURL == "" {
		return "", errors.New("paystack: response missing authorization_url")
	}
	return parsed.Data.AuthorizationURL, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*apiResponse, error) {
	secretKey, err := c.resolveSecretKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("paystack: load secret key: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("paystack: marshal request: %w", err)
	}

	url := strings.TrimRight(c.baseURL, "/") + path
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if reqErr != nil {
		return nil, fmt.Errorf("paystack: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+secretKey)

	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, fmt.Errorf("paystack: request failed: %w", doErr)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("paystack: read response body: %w", err)
	}

	var parsed apiResponse
	if decErr := json.Unmarshal(raw, &parsed); decErr != nil {
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(raw)}
		}
		return nil, fmt.Errorf("paystack: decode response: %w", decErr)
	}

	// Prefer the provider's own message over a bare status code.
	if res.StatusCode < 200 || res.StatusCode >= 300 || !parsed.Status {
		msg := parsed.Data.Message
		if msg == "" {
			msg = parsed.Message
		}
		if msg == "" {
			return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(raw)}
		}
		return nil, fmt.Errorf("paystack: api error: %s", msg)
	}
	return &parsed, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 20 * time.Second}
}

func syntheticEmail(phone string) string {
	return phone + "@philelect.bot"
}
