package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"philelect-bot/internal/usecase"
)

// Dispatcher processes one inbound user message.
type Dispatcher interface {
	Dispatch(ctx context.Context, senderID, rawText string) (usecase.DispatchResult, error)
}

// Reconciler processes one payment-provider notification.
type Reconciler interface {
	Reconcile(ctx context.Context, rawBody []byte, signatureHeader string) (usecase.ReconcileResult, error)
}

// ParamGetter fetches the webhook verify token.
type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type webhookAck struct {
	Status string `json:"status"`
	Action string `json:"action,omitempty"`
	Intent string `json:"intent,omitempty"`
	Detail string `json:"detail,omitempty"`
}

type reconcileAck struct {
	Status  string `json:"status"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler routes API Gateway events: the Meta verification handshake, the
// WhatsApp message webhook and the Paystack payment webhook.
type Handler struct {
	dispatcher       Dispatcher
	reconciler       Reconciler
	params           ParamGetter
	verifyTokenParam string
	log              *slog.Logger

	tokenOnce   sync.Once
	verifyToken string
	tokenErr    error
}

func NewHandler(dispatcher Dispatcher, reconciler Reconciler, params ParamGetter, verifyTokenParam string, log *slog.Logger) (*Handler, error) {
	if dispatcher == nil {
		return nil, errors.New("handler: dispatcher must not be nil")
	}
	if reconciler == nil {
		return nil, errors.New("handler: reconciler must not be nil")
	}
	if params == nil {
		return nil, errors.New("handler: param getter must not be nil")
	}
	if verifyTokenParam == "" {
		return nil, errors.New("handler: verify token parameter name must not be empty")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		dispatcher:       dispatcher,
		reconciler:       reconciler,
		params:           params,
		verifyTokenParam: verifyTokenParam,
		log:              log,
	}, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := headerValue(req.Headers, "X-Correlation-Id")
	if corrID == "" {
		corrID = uuid.NewString()
	}

	switch req.HTTPMethod {
	case http.MethodGet:
		if _, ok := req.QueryStringParameters["hub.mode"]; ok {
			return h.handleVerification(ctx, req, corrID), nil
		}
		return jsonResponse(http.StatusOK, corrID, map[string]string{"status": "Bot is running"}), nil
	case http.MethodPost:
		if strings.Contains(req.Path, "paystack") {
			return h.handlePaymentWebhook(ctx, req, corrID), nil
		}
		return h.handleMessageWebhook(ctx, req, corrID), nil
	default:
		return jsonResponse(http.StatusMethodNotAllowed, corrID, errorResponse{Error: "method not allowed"}), nil
	}
}

// handleVerification answers Meta's challenge/response handshake with the
// literal challenge on token match.
func (h *Handler) handleVerification(ctx context.Context, req events.APIGatewayProxyRequest, corrID string) events.APIGatewayProxyResponse {
	token, err := h.resolveVerifyToken(ctx)
	if err != nil {
		h.log.Error("verify token load failed", "err", err)
		return jsonResponse(http.StatusInternalServerError, corrID, errorResponse{Error: string(usecase.ErrorInternal)})
	}

	mode := req.QueryStringParameters["hub.mode"]
	challenge := req.QueryStringParameters["hub.challenge"]
	if mode == "subscribe" && req.QueryStringParameters["hub.verify_token"] == token {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusOK,
			Headers:    map[string]string{"content-type": "text/plain", "X-Correlation-Id": corrID},
			Body:       challenge,
		}
	}
	return jsonResponse(http.StatusForbidden, corrID, errorResponse{Error: string(usecase.ErrorUnauthorized)})
}

// handleMessageWebhook dispatches the first text message in the delivery.
// Non-text deliveries are acknowledged untouched; dispatch failures are
// logged but still acknowledged so Meta does not redeliver.
func (h *Handler) handleMessageWebhook(ctx context.Context, req events.APIGatewayProxyRequest, corrID string) events.APIGatewayProxyResponse {
	body, err := rawBody(req)
	if err != nil {
		return jsonResponse(http.StatusBadRequest, corrID, errorResponse{Error: string(usecase.ErrorInvalidInput)})
	}

	var hook whatsappWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return jsonResponse(http.StatusBadRequest, corrID, errorResponse{Error: string(usecase.ErrorInvalidInput)})
	}

	msg := firstTextMessage(hook)
	if msg == nil {
		return jsonResponse(http.StatusOK, corrID, webhookAck{Status: "received", Detail: "no text messages found"})
	}

	result, err := h.dispatcher.Dispatch(ctx, msg.From, msg.Text.Body)
	ack := webhookAck{Status: "received", Action: string(result.Action), Intent: string(result.Intent)}
	if err != nil {
		h.log.Error("dispatch failed", "correlation_id", corrID, "sender", msg.From, "err", err)
		ack.Detail = errorCode(err)
	}
	return jsonResponse(http.StatusOK, corrID, ack)
}

// handlePaymentWebhook verifies and applies one Paystack notification. Only
// signature and parse failures surface as non-2xx; business failures are
// acknowledged to stop provider retries.
func (h *Handler) handlePaymentWebhook(ctx context.Context, req events.APIGatewayProxyRequest, corrID string) events.APIGatewayProxyResponse {
	body, err := rawBody(req)
	if err != nil {
		return jsonResponse(http.StatusBadRequest, corrID, errorResponse{Error: string(usecase.ErrorInvalidInput)})
	}

	result, err := h.reconciler.Reconcile(ctx, body, headerValue(req.Headers, "x-paystack-signature"))
	if err != nil {
		h.log.Error("reconcile failed", "correlation_id", corrID, "err", err)
		var uerr *usecase.Error
		status := http.StatusInternalServerError
		code := string(usecase.ErrorInternal)
		if errors.As(err, &uerr) {
			code = string(uerr.Code)
			switch uerr.Code {
			case usecase.ErrorUnauthorized:
				status = http.StatusUnauthorized
			case usecase.ErrorInvalidInput:
				status = http.StatusBadRequest
			}
		}
		return jsonResponse(status, corrID, errorResponse{Error: code})
	}
	return jsonResponse(http.StatusOK, corrID, reconcileAck{Status: "ok", Outcome: string(result.Outcome), Detail: result.Detail})
}

func (h *Handler) resolveVerifyToken(ctx context.Context) (string, error) {
	h.tokenOnce.Do(func() {
		h.verifyToken, h.tokenErr = h.params.GetParameter(ctx, h.verifyTokenParam)
	})
	return h.verifyToken, h.tokenErr
}

func rawBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if req.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(req.Body)
	}
	return []byte(req.Body), nil
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func errorCode(err error) string {
	var uerr *usecase.Error
	if errors.As(err, &uerr) {
		return string(uerr.Code)
	}
	return string(usecase.ErrorInternal)
}

func jsonResponse(status int, corrID string, payload any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
		status = http.StatusInternalServerError
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"content-type":     "application/json",
			"X-Correlation-Id": corrID,
		},
		Body: string(body),
	}
}
