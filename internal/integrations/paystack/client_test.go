package paystack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
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

func TestNewClient_Validates(t *testing.T) {
	_, err := NewClient(nil, "/prefix")
	require.Error(t, err)
	_, err = NewClient(&fakeGetter{}, " ")
	require.Error(t, err)
}

func TestChargeMobileMoney(t *testing.T) {
	var gotPath, gotAuth string
	var gotReq chargeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(`{"status":true,"message":"Charge attempted","data":{"status":"pay_offline","reference":"ORD-0f8fad5b"}}`))
	}))
	defer server.Close()

	c, err := NewClient(&fakeGetter{val: "sk_test"}, "/prefix", WithBaseURL(server.URL))
	require.NoError(t, err)

	ref, err := c.ChargeMobileMoney(context.Background(), "0712345678", 14000, "ORD-0f8fad5b")
	require.NoError(t, err)
	require.Equal(t, "ORD-0f8fad5b", ref)

	require.Equal(t, "/charge", gotPath)
	require.Equal(t, "Bearer sk_test", gotAuth)
	require.Equal(t, 1400000, gotReq.Amount)
	require.Equal(t, "254712345678@philelect.bot", gotReq.Email)
	require.Equal(t, "KES", gotReq.Currency)
	require.Equal(t, "+254712345678", gotReq.MobileMoney.Phone)
	require.Equal(t, "mpesa", gotReq.MobileMoney.Provider)
	require.Equal(t, "ORD-0f8fad5b", gotReq.Reference)
}

func TestChargeMobileMoney_FailedTransaction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":true,"data":{"status":"failed","message":"insufficient funds"}}`))
	}))
	defer server.Close()

	c, err := NewClient(&fakeGetter{val: "sk_test"}, "/prefix", WithBaseURL(server.URL))
	require.NoError(t, err)

	_, err = c.ChargeMobileMoney(context.Background(), "254712345678", 100, "ORD-x")
	require.ErrorContains(t, err, "insufficient funds")
}

func TestChargeMobileMoney_MissingReference(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":true,"data":{"status":"pay_offline"}}`))
	}))
	defer server.Close()

	c, err := NewClient(&fakeGetter{val: "sk_test"}, "/prefix", WithBaseURL(server.URL))
	require.NoError(t, err)

	_, err = c.ChargeMobileMoney(context.Background(), "254712345678", 100, "ORD-x")
	require.ErrorContains(t, err, "missing reference")
}

func TestCreateCheckout(t *testing.T) {
	var gotPath string
	var gotReq initializeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(`{"status":true,"data":{"authorization_url":"https://checkout.paystack.com/abc123","reference":"ORD-0f8fad5b-CARD"}}`))
	}))
	defer server.Close()

	c, err := NewClient(&fakeGetter{val: "sk_test"}, "/prefix", WithBaseURL(server.URL))
	require.NoError(t, err)

	url, err := c.CreateCheckout(context.Background(), "254712345678", 14000, "ORD-0f8fad5b-CARD")
	require.NoError(t, err)
	require.Equal(t, "https://checkout.paystack.com/abc123", url)

	require.Equal(t, "/transaction/initialize", gotPath)
	require.Equal(t, 1400000, gotReq.Amount)
	require.Equal(t, []string{"card", "mobile_money"}, gotReq.Channels)
}

func TestCreateCheckout_MissingURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":true,"data":{}}`))
	}))
	defer server.Close()

	c, err := NewClient(&fakeGetter{val: "sk_test"}, "/prefix", WithBaseURL(server.URL))
	require.NoError(t, err)

	_, err = c.CreateCheckout(context.Background(), "254712345678", 100, "ORD-x")
	require.ErrorContains(t, err, "missing authorization_url")
}

func TestPost_APIErrorPrefersProviderMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":false,"message":"Invalid amount"}`))
	}))
	defer server.Close()

	c, err := NewClient(&fakeGetter{val: "sk_test"}, "/prefix", WithBaseURL(server.URL))
	require.NoError(t, err)

	_, err = c.ChargeMobileMoney(context.Background(), "254712345678", 0, "ORD-x")
	require.ErrorContains(t, err, "Invalid amount")
}

func TestPost_NonJSONErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gateway timeout", http.StatusBadGateway)
	}))
	defer server.Close()

	c, err := NewClient(&fakeGetter{val: "sk_test"}, "/prefix", WithBaseURL(server.URL))
	require.NoError(t, err)

	_, err = c.ChargeMobileMoney(context.Background(), "254712345678", 100, "ORD-x")
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

func TestSecretKeyFetchedOnce(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":true,"data":{"status":"pay_offline","reference":"r"}}`))
	}))
	defer server.Close()

	getter := &fakeGetter{val: "sk_test"}
	c, err := NewClient(getter, "/prefix", WithBaseURL(server.URL))
	require.NoError(t, err)

	_, err = c.ChargeMobileMoney(context.Background(), "254712345678", 100, "ORD-a")
	require.NoError(t, err)
	_, err = c.ChargeMobileMoney(context.Background(), "254712345678", 100, "ORD-b")
	require.NoError(t, err)
	require.Equal(t, 1, getter.calls)
}

func TestSecretKeyLoadFailure(t *testing.T) {
	c, err := NewClient(&fakeGetter{err: errors.New("ssm down")}, "/prefix")
	require.NoError(t, err)

	_, err = c.ChargeMobileMoney(context.Background(), "254712345678", 100, "ORD-x")
	require.ErrorContains(t, err, "load secret key")
}
