package whatsapp

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

// sendRequest is the Meta Cloud API text message payload.
type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

// sendResponse is the minimal Meta response shape.
type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx Meta responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("whatsapp: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client sends text messages via the Meta Cloud API. The API token and phone
// number id are fetched from SSM on first use and cached for the process
// lifetime.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	credsOnce     sync.Once
	apiToken      string
	phoneNumberID string
	credsErr      error
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
		return nil, errors.New("whatsapp: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("whatsapp: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     "https://graph.facebook.com/v18.0",
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveCredentials(ctx context.Context) (token, phoneNumberID string, err error) {
	c.credsOnce.Do(func() {
		c.apiToken, c.credsErr = c.getter.GetParameter(ctx, c.paramPrefix+"/whatsapp-api-token")
		if c.credsErr != nil {
			return
		}
		c.phoneNumberID, c.credsErr = c.getter.GetParameter(ctx, c.paramPrefix+"/whatsapp-phone-number-id")
	})
	return c.apiToken, c.phoneNumberID, c.credsErr
}

// SendText delivers one text message. The recipient is normalized to
// international numeric form before sending.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	token, phoneNumberID, err := c.resolveCredentials(ctx)
	if err != nil {
		return fmt.Errorf("whatsapp: load credentials: %w", err)
	}

	payload, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               domain.NormalizePhone(to),
		Type:             "text",
		Text:             textBody{PreviewURL: false, Body: body},
	})
	if err != nil {
		return fmt.Errorf("whatsapp: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", strings.TrimRight(c.baseURL, "/"), phoneNumberID)
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if reqErr != nil {
		return fmt.Errorf("whatsapp: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return fmt.Errorf("whatsapp: request failed: %w", doErr)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("whatsapp: read response body: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(raw)}
	}

	var parsed sendResponse
	if decErr := json.Unmarshal(raw, &parsed); decErr != nil {
		return fmt.Errorf("whatsapp: decode response: %w", decErr)
	}
	if parsed.Error != nil {
		return fmt.Errorf("whatsapp: api error %d (%s): %s", parsed.Error.Code, parsed.Error.Type, parsed.Error.Message)
	}
	if len(parsed.Messages) == 0 {
		return errors.New("whatsapp: response carries no message id")
	}
	return nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}
