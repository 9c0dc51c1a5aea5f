package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"philelect-bot/internal/domain"
)

type fakeGetter struct {
	val   string
	err   error
	calls int
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.val, f.err
}

func classifierResponse(content string) string {
	raw, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"index": 0, "message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return string(raw)
}

func TestNewClassifier_Validates(t *testing.T) {
	_, err := NewClassifier(nil, "/prefix")
	require.Error(t, err)
	_, err = NewClassifier(&fakeGetter{}, "  ")
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	var gotReq chatRequest
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(classifierResponse(`{"intent":"search","items":[],"search_term":"tv","message":""}`)))
	}))
	defer server.Close()

	getter := &fakeGetter{val: `{"token":"sk-test"}`}
	c, err := NewClassifier(getter, "/prefix", WithBaseURL(server.URL))
	require.NoError(t, err)

	got, err := c.Classify(context.Background(), "Show me TVs")
	require.NoError(t, err)
	require.Equal(t, domain.IntentSearch, got.Intent)
	require.Equal(t, "tv", got.SearchTerm)

	require.Equal(t, "Bearer sk-test", gotAuth)
	require.Equal(t, defaultModel, gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	require.Equal(t, "system", gotReq.Messages[0].Role)
	require.Equal(t, "User message: Show me TVs", gotReq.Messages[1].Content)
	require.NotNil(t, gotReq.ResponseFormat)
	require.Equal(t, "json_schema", gotReq.ResponseFormat.Type)
}

func TestClassify_KeyFetchedOnce(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(classifierResponse(`{"intent":"greeting","items":[],"search_term":"","message":"hi"}`)))
	}))
	defer server.Close()

	getter := &fakeGetter{val: `{"token":"sk-test"}`}
	c, err := NewClassifier(getter, "/prefix", WithBaseURL(server.URL))
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), "Hi")
	require.NoError(t, err)
	_, err = c.Classify(context.Background(), "Hello")
	require.NoError(t, err)
	require.Equal(t, 1, getter.calls)
}

func TestClassify_KeyErrors(t *testing.T) {
	c, err := NewClassifier(&fakeGetter{err: errors.New("ssm down")}, "/prefix")
	require.NoError(t, err)
	_, err = c.Classify(context.Background(), "Hi")
	require.ErrorContains(t, err, "ssm down")

	c, err = NewClassifier(&fakeGetter{val: "not-json"}, "/prefix")
	require.NoError(t, err)
	_, err = c.Classify(context.Background(), "Hi")
	require.ErrorContains(t, err, "unmarshal")

	c, err = NewClassifier(&fakeGetter{val: `{"token":""}`}, "/prefix")
	require.NoError(t, err)
	_, err = c.Classify(context.Background(), "Hi")
	require.ErrorContains(t, err, "empty")
}

func TestClassify_UpstreamStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	c, err := NewClassifier(&fakeGetter{val: `{"token":"sk-test"}`}, "/prefix", WithBaseURL(server.URL))
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), "Hi")
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
}

func TestClassify_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	c, err := NewClassifier(&fakeGetter{val: `{"token":"sk-test"}`}, "/prefix", WithBaseURL(server.URL))
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), "Hi")
	require.ErrorContains(t, err, "no choices")
}

func TestParseClassified_Defaults(t *testing.T) {
	got, err := parseClassified(`{"intent":"search","items":[],"search_term":" tv ","message":""}`)
	require.NoError(t, err)
	require.Equal(t, "tv", got.SearchTerm)
	require.NotNil(t, got.Items)
	require.Empty(t, got.Items)

	// Unknown intents and the reserved error intent both degrade to unclear.
	got, err = parseClassified(`{"intent":"purchase","items":[],"search_term":"","message":""}`)
	require.NoError(t, err)
	require.Equal(t, domain.IntentUnclear, got.Intent)

	got, err = parseClassified(`{"intent":"error","items":[],"search_term":"","message":""}`)
	require.NoError(t, err)
	require.Equal(t, domain.IntentUnclear, got.Intent)

	// Non-positive quantities default to one.
	got, err = parseClassified(`{"intent":"order","items":[{"sku":"VP-32-SMART","name":"TV","qty":0}],"search_term":"","message":""}`)
	require.NoError(t, err)
	require.Equal(t, 1, got.Items[0].Qty)
}

func TestParseClassified_StripsMarkdownFences(t *testing.T) {
	got, err := parseClassified("```json\n{\"intent\":\"greeting\",\"items\":[],\"search_term\":\"\",\"message\":\"hi\"}\n```")
	require.NoError(t, err)
	require.Equal(t, domain.IntentGreeting, got.Intent)
	require.Equal(t, "hi", got.Message)
}

func TestParseClassified_RejectsNonJSON(t *testing.T) {
	_, err := parseClassified("sorry, I can't help with that")
	require.Error(t, err)
}

func TestChatURL(t *testing.T) {
	require.Equal(t, "https://api.openai.com/v1/chat/completions", chatURL(""))
	require.Equal(t, "https://api.openai.com/v1/chat/completions", chatURL("https://api.openai.com/v1"))
	require.Equal(t, "http://127.0.0.1:8080/v1/chat/completions", chatURL("http://127.0.0.1:8080/"))
}
