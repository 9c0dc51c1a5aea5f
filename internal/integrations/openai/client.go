package openai

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

const defaultModel = "gpt-4o-mini"

// chatMessage is the chat-completions message shape.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the minimal request shape for the Chat Completions endpoint.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string           `json:"type"`
	JSONSchema jsonSchemaConfig `json:"json_schema"`
}

type jsonSchemaConfig struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

// chatResponse is the minimal response shape for the Chat Completions endpoint.
type chatResponse struct {
	Choices []struct {
		Index   int         `json:"index"`
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// classifiedPayload is the model's output contract. Missing fields default:
// intent -> unclear, items -> empty, message -> "", qty -> 1.
type classifiedPayload struct {
	Intent     string `json:"intent"`
	Items      []struct {
		SKU  string `json:"sku"`
		Name string `json:"name"`
		Qty  int    `json:"qty"`
	} `json:"items"`
	SearchTerm string `json:"search_term"`
	Message    string `json:"message"`
}

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Classifier maps raw WhatsApp text to a structured intent via the Chat
// Completions API with a strict JSON-schema output.
type Classifier struct {
	baseURL     string
	model       string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	keyOnce sync.Once
	apiKey  string
	keyErr  error
}

type Option func(*Classifier)

func WithBaseURL(baseURL string) Option {
	return func(c *Classifier) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Classifier) {
		c.httpClient = httpClient
	}
}

func WithModel(model string) Option {
	return func(c *Classifier) {
		c.model = model
	}
}

// NewClassifier creates a Classifier backed by the given paramstore getter
// for API key retrieval. The key is fetched from SSM on the first Classify
// call and reused for the lifetime of the process.
func NewClassifier(ps Getter, paramPrefix string, opts ...Option) (*Classifier, error) {
	if ps == nil {
		return nil, errors.New("openai: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	c := &Classifier{
		baseURL:     "https://api.openai.com/v1",
		model:       defaultModel,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Classifier) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		c.apiKey, c.keyErr = fetchAPIKeyFromParamStore(ctx, c.getter, c.paramPrefix+"/openai-token")
	})
	return c.apiKey, c.keyErr
}

func (c *Classifier) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// Classify sends one message to the model and decodes the structured intent.
// Any transport, status or decode failure is returned as an error; the
// dispatcher degrades it to an error intent.
func (c *Classifier) Classify(ctx context.Context, text string) (domain.ClassifiedIntent, error) {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return domain.ClassifiedIntent{}, err
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt()},
			{Role: "user", Content: "User message: " + text},
		},
		Temperature:    0.3,
		MaxTokens:      200,
		ResponseFormat: intentResponseFormat(),
	})
	if err != nil {
		return domain.ClassifiedIntent{}, fmt.Errorf("openai: marshal request: %w", err)
	}

	url := chatURL(c.baseURL)
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return domain.ClassifiedIntent{}, fmt.Errorf("openai: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return domain.ClassifiedIntent{}, fmt.Errorf("openai: request failed: %w", err)
	}

	var payload chatResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return domain.ClassifiedIntent{}, fmt.Errorf("openai: decode response: %w", decErr)
	}
	if len(payload.Choices) == 0 {
		return domain.ClassifiedIntent{}, errors.New("openai: no choices in response")
	}

	return parseClassified(payload.Choices[0].Message.Content)
}

// parseClassified decodes the model output and applies the contract defaults.
func parseClassified(raw string) (domain.ClassifiedIntent, error) {
	content := strings.TrimSpace(raw)
	// Strip markdown fences the model occasionally wraps JSON in.
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}

	var payload classifiedPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return domain.ClassifiedIntent{}, fmt.Errorf("openai: decode classified intent: %w", err)
	}

	intent := domain.Intent(payload.Intent)
	if !intent.Valid() || intent == domain.IntentError {
		intent = domain.IntentUnclear
	}

	out := domain.ClassifiedIntent{
		Intent:     intent,
		Items:      []domain.RequestedItem{},
		SearchTerm: strings.TrimSpace(payload.SearchTerm),
		Message:    payload.Message,
	}
	for _, item := range payload.Items {
		qty := item.Qty
		if qty <= 0 {
			qty = 1
		}
		out.Items = append(out.Items, domain.RequestedItem{SKU: item.SKU, Name: item.Name, Qty: qty})
	}
	return out, nil
}

func intentResponseFormat() *responseFormat {
	return &responseFormat{
		Type: "json_schema",
		JSONSchema: jsonSchemaConfig{
			Name:   "classified_intent",
			Strict: true,
			Schema: json.RawMessage(`{
				"type":"object",
				"additionalProperties":false,
				"properties":{
					"intent":{"type":"string","enum":["order","search","greeting","reject","unclear"]},
					"items":{"type":"array","items":{
						"type":"object",
						"additionalProperties":false,
						"properties":{
							"sku":{"type":"string"},
							"name":{"type":"string"},
							"qty":{"type":"integer"}
						},
						"required":["sku","name","qty"]
					}},
					"search_term":{"type":"string"},
					"message":{"type":"string"}
				},
				"required":["intent","items","search_term","message"]
			}`),
		},
	}
}

func (c *Classifier) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: paramstore getter is nil")
	}
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("openai: API token is empty")
	}
	return tp.Token, nil
}
