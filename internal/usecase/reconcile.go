package usecase

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"philelect-bot/internal/domain"
)

// ParamGetter fetches a named secret from the parameter store.
type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Outcome describes what a reconciliation did. Everything except the
// signature and parse checks acknowledges successfully: the provider must
// never be told to retry over a business-logic failure.
type Outcome string

const (
	OutcomePaid    Outcome = "paid"
	OutcomeIgnored Outcome = "ignored"
	OutcomeNoMatch Outcome = "no_match"
	OutcomeError   Outcome = "error"
)

// ReconcileResult summarizes one webhook delivery for logging and testing.
type ReconcileResult struct {
	Outcome   Outcome
	Event     string
	OrderID   string
	Reference string
	Detail    string
}

// providerEvent is the Paystack event envelope, reduced to the fields the
// reconciler reads.
type providerEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Status    string `json:"status"`
	} `json:"data"`
}

// Reconciler matches inbound payment notifications to pending orders and
// performs the PENDING -> PAID transition.
type Reconciler struct {
	orders        OrderLedger
	sender        MessageSender
	secrets       ParamGetter
	secretParam   string
	operatorPhone string
	log           *slog.Logger

	secretOnce sync.Once
	secret     string
	secretErr  error
}

func NewReconciler(orders OrderLedger, sender MessageSender, secrets ParamGetter, secretParam, operatorPhone string, log *slog.Logger) (*Reconciler, error) {
	if orders == nil {
		return nil, errors.New("usecase: order ledger must not be nil")
	}
	if sender == nil {
		return nil, errors.New("usecase: message sender must not be nil")
	}
	if secrets == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if secretParam == "" {
		return nil, errors.New("usecase: secret parameter name must not be empty")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		orders:        orders,
		sender:        sender,
		secrets:       secrets,
		secretParam:   secretParam,
		operatorPhone: operatorPhone,
		log:           log,
	}, nil
}

// Reconcile verifies and applies one provider notification. Only signature
// and parse failures return an error; everything downstream acknowledges.
func (r *Reconciler) Reconcile(ctx context.Context, rawBody []byte, signatureHeader string) (ReconcileResult, error) {
	secret, err := r.resolveSecret(ctx)
	if err != nil {
		return ReconcileResult{}, newError(ErrorInternal, "secret_load_error", err)
	}
	if signatureHeader == "" || !validSignature(secret, rawBody, signatureHeader) {
		return ReconcileResult{}, newError(ErrorUnauthorized, "invalid_signature", nil)
	}

	var event providerEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return ReconcileResult{}, newError(ErrorInvalidInput, "malformed_body", err)
	}

	switch event.Event {
	case "charge.success", "transfer.success":
		return r.applySuccess(ctx, event), nil
	case "charge.failed", "transfer.failed":
		// Failed charges leave the order PENDING for an implicit retry; no
		// terminal failure state exists.
		r.log.Warn("payment failed event", "event", event.Event, "reference", event.Data.Reference)
		return ReconcileResult{Outcome: OutcomeIgnored, Event: event.Event, Reference: event.Data.Reference}, nil
	default:
		return ReconcileResult{Outcome: OutcomeIgnored, Event: event.Event}, nil
	}
}

func (r *Reconciler) applySuccess(ctx context.Context, event providerEvent) ReconcileResult {
	ref := event.Data.Reference
	result := ReconcileResult{Event: event.Event, Reference: ref}

	prefix := domain.ReferencePrefix(ref)
	if prefix == "" {
		result.Outcome = OutcomeError
		result.Detail = fmt.Sprintf("reference %q carries no order prefix", ref)
		r.log.Error("unusable payment reference", "event", event.Event, "reference", ref)
		return result
	}

	order, err := r.orders.FindPendingByPrefix(ctx, prefix)
	if err != nil {
		result.Outcome = OutcomeError
		result.Detail = fmt.Sprintf("pending order lookup: %v", err)
		r.log.Error("pending order lookup failed", "prefix", prefix, "err", err)
		return result
	}
	if order == nil {
		// Replayed or already-settled notification: acknowledge and move on.
		result.Outcome = OutcomeNoMatch
		return result
	}

	// Status guard, not a lock: a concurrent delivery that already flipped
	// the order no longer shows up as PENDING above, but the read and the
	// write below are not atomic. The narrow double-fire window is accepted.
	if order.Status != domain.OrderPending {
		result.Outcome = OutcomeNoMatch
		return result
	}

	if err := r.orders.MarkPaid(ctx, order.ID, ref); err != nil {
		result.Outcome = OutcomeError
		result.Detail = fmt.Sprintf("mark paid: %v", err)
		r.log.Error("mark paid failed", "order_id", order.ID, "err", err)
		return result
	}

	result.Outcome = OutcomePaid
	result.OrderID = order.ID

	if err := r.sender.SendText(ctx, order.UserPhone, paidConfirmationReply(order.ID)); err != nil {
		r.log.Error("buyer confirmation failed", "order_id", order.ID, "err", err)
	}
	if r.operatorPhone != "" {
		if err := r.sender.SendText(ctx, r.operatorPhone, operatorNotification(*order, ref)); err != nil {
			r.log.Error("operator notification failed", "order_id", order.ID, "err", err)
		}
	}
	return result
}

func (r *Reconciler) resolveSecret(ctx context.Context) (string, error) {
	r.secretOnce.Do(func() {
		r.secret, r.secretErr = r.secrets.GetParameter(ctx, r.secretParam)
	})
	return r.secret, r.secretErr
}

// validSignature compares the hex HMAC-SHA512 of the raw body against the
// provider header in constant time.
func validSignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature))
}
