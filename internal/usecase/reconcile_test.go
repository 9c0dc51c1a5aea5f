package usecase

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"philelect-bot/internal/domain"
)

const testSecret = "sk_test_secret"

type fakeSecrets struct {
	val string
	err error
}

func (f *fakeSecrets) GetParameter(_ context.Context, _ string) (string, error) {
	return f.val, f.err
}

// reconcileLedger holds one order and flips it in place, so a second
// reconciliation of the same event no longer finds it PENDING.
type reconcileLedger struct {
	order    *domain.Order
	findErr  error
	markErr  error
	paidID   string
	paidRef  string
	markHits int
}

func (l *reconcileLedger) Create(_ context.Context, _ domain.Order) error {
	return errors.New("not used")
}

func (l *reconcileLedger) FindPendingByPrefix(_ context.Context, prefix string) (*domain.Order, error) {
	if l.findErr != nil {
		return nil, l.findErr
	}
	if l.order == nil || l.order.Status != domain.OrderPending {
		return nil, nil
	}
	if !strings.HasPrefix(l.order.ID, prefix) {
		return nil, nil
	}
	copied := *l.order
	return &copied, nil
}

func (l *reconcileLedger) MarkPaid(_ context.Context, orderID, providerRef string) error {
	l.markHits++
	if l.markErr != nil {
		return l.markErr
	}
	l.paidID = orderID
	l.paidRef = providerRef
	l.order.Status = domain.OrderPaid
	l.order.PaymentReference = providerRef
	return nil
}

func sign(body []byte) string {
	mac := hmac.New(sha512.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func successEvent(reference string) []byte {
	return []byte(fmt.Sprintf(`{"event":"charge.success","data":{"reference":%q,"amount":1400000,"status":"success"}}`, reference))
}

func pendingOrder() *domain.Order {
	return &domain.Order{
		ID:          "0f8fad5b-d9cb-469f-a165-70867728950e",
		UserPhone:   "254712345678",
		Items:       []domain.LineItem{{SKU: "VP-32-SMART", Qty: 1, Price: 14000}},
		TotalAmount: 14000,
		Status:      domain.OrderPending,
	}
}

func newTestReconciler(t *testing.T, ledger *reconcileLedger, sender *mockSender, operator string) *Reconciler {
	t.Helper()
	r, err := NewReconciler(ledger, sender, &fakeSecrets{val: testSecret}, "/prefix/paystack-secret-key", operator, nil)
	require.NoError(t, err)
	return r
}

func TestNewReconciler_ValidatesDependencies(t *testing.T) {
	sender := &mockSender{}
	ledger := &reconcileLedger{}
	secrets := &fakeSecrets{val: testSecret}

	_, err := NewReconciler(nil, sender, secrets, "/p", "", nil)
	require.Error(t, err)
	_, err = NewReconciler(ledger, nil, secrets, "/p", "", nil)
	require.Error(t, err)
	_, err = NewReconciler(ledger, sender, nil, "/p", "", nil)
	require.Error(t, err)
	_, err = NewReconciler(ledger, sender, secrets, "", "", nil)
	require.Error(t, err)
}

func TestReconcile_RejectsBadSignature(t *testing.T) {
	r := newTestReconciler(t, &reconcileLedger{order: pendingOrder()}, &mockSender{}, "")
	body := successEvent("ORD-0f8fad5b")

	_, err := r.Reconcile(context.Background(), body, "")
	expectDispatchError(t, err, ErrorUnauthorized, "invalid_signature")

	_, err = r.Reconcile(context.Background(), body, "deadbeef")
	expectDispatchError(t, err, ErrorUnauthorized, "invalid_signature")
}

func TestReconcile_RejectsMalformedBody(t *testing.T) {
	r := newTestReconciler(t, &reconcileLedger{}, &mockSender{}, "")
	body := []byte("not-json")

	_, err := r.Reconcile(context.Background(), body, sign(body))
	expectDispatchError(t, err, ErrorInvalidInput, "malformed_body")
}

func TestReconcile_SecretLoadFailure(t *testing.T) {
	r, err := NewReconciler(&reconcileLedger{}, &mockSender{}, &fakeSecrets{err: errors.New("ssm down")}, "/p", "", nil)
	require.NoError(t, err)

	_, err = r.Reconcile(context.Background(), []byte("{}"), "sig")
	expectDispatchError(t, err, ErrorInternal, "secret_load_error")
}

func TestReconcile_IgnoresNonSuccessEvents(t *testing.T) {
	ledger := &reconcileLedger{order: pendingOrder()}
	sender := &mockSender{}
	r := newTestReconciler(t, ledger, sender, "")

	for _, event := range []string{"charge.failed", "transfer.failed", "subscription.create"} {
		body := []byte(fmt.Sprintf(`{"event":%q,"data":{"reference":"ORD-0f8fad5b"}}`, event))
		result, err := r.Reconcile(context.Background(), body, sign(body))
		require.NoError(t, err)
		require.Equal(t, OutcomeIgnored, result.Outcome)
	}
	// Failed charges leave the order PENDING.
	require.Equal(t, domain.OrderPending, ledger.order.Status)
	require.Empty(t, sender.sent)
}

func TestReconcile_Success_MarksPaidAndNotifies(t *testing.T) {
	ledger := &reconcileLedger{order: pendingOrder()}
	sender := &mockSender{}
	r := newTestReconciler(t, ledger, sender, "254700000001")

	body := successEvent("ORD-0f8fad5b")
	result, err := r.Reconcile(context.Background(), body, sign(body))
	require.NoError(t, err)
	require.Equal(t, OutcomePaid, result.Outcome)
	require.Equal(t, ledger.paidID, result.OrderID)
	require.Equal(t, "ORD-0f8fad5b", ledger.paidRef)
	require.Equal(t, domain.OrderPaid, ledger.order.Status)

	require.Len(t, sender.sent, 2)
	require.Equal(t, "254712345678", sender.sent[0].to)
	require.Contains(t, sender.sent[0].body, "#8950E")
	require.Equal(t, "254700000001", sender.sent[1].to)
	require.Contains(t, sender.sent[1].body, "KES 14,000")
}

func TestReconcile_CardReferenceMatchesSameOrder(t *testing.T) {
	ledger := &reconcileLedger{order: pendingOrder()}
	sender := &mockSender{}
	r := newTestReconciler(t, ledger, sender, "")

	body := successEvent("ORD-0f8fad5b-CARD")
	result, err := r.Reconcile(context.Background(), body, sign(body))
	require.NoError(t, err)
	require.Equal(t, OutcomePaid, result.Outcome)
}

func TestReconcile_DuplicateDelivery_SingleTransition(t *testing.T) {
	ledger := &reconcileLedger{order: pendingOrder()}
	sender := &mockSender{}
	r := newTestReconciler(t, ledger, sender, "")

	body := successEvent("ORD-0f8fad5b")
	first, err := r.Reconcile(context.Background(), body, sign(body))
	require.NoError(t, err)
	require.Equal(t, OutcomePaid, first.Outcome)

	second, err := r.Reconcile(context.Background(), body, sign(body))
	require.NoError(t, err)
	require.Equal(t, OutcomeNoMatch, second.Outcome)

	require.Equal(t, 1, ledger.markHits)
	require.Len(t, sender.sent, 1)
}

func TestReconcile_NoPendingMatch_Acknowledges(t *testing.T) {
	r := newTestReconciler(t, &reconcileLedger{}, &mockSender{}, "")

	body := successEvent("ORD-deadbeef")
	result, err := r.Reconcile(context.Background(), body, sign(body))
	require.NoError(t, err)
	require.Equal(t, OutcomeNoMatch, result.Outcome)
}

func TestReconcile_MalformedReference_AcknowledgedAsError(t *testing.T) {
	r := newTestReconciler(t, &reconcileLedger{order: pendingOrder()}, &mockSender{}, "")

	body := successEvent("TX-123")
	result, err := r.Reconcile(context.Background(), body, sign(body))
	require.NoError(t, err)
	require.Equal(t, OutcomeError, result.Outcome)
	require.NotEmpty(t, result.Detail)
}

func TestReconcile_LedgerFailure_AcknowledgedAsError(t *testing.T) {
	ledger := &reconcileLedger{findErr: errors.New("scan failed")}
	r := newTestReconciler(t, ledger, &mockSender{}, "")

	body := successEvent("ORD-0f8fad5b")
	result, err := r.Reconcile(context.Background(), body, sign(body))
	require.NoError(t, err)
	require.Equal(t, OutcomeError, result.Outcome)
	require.Contains(t, result.Detail, "scan failed")
}

func TestReconcile_MarkPaidFailure_AcknowledgedAsError(t *testing.T) {
	ledger := &reconcileLedger{order: pendingOrder(), markErr: errors.New("update failed")}
	sender := &mockSender{}
	r := newTestReconciler(t, ledger, sender, "")

	body := successEvent("ORD-0f8fad5b")
	result, err := r.Reconcile(context.Background(), body, sign(body))
	require.NoError(t, err)
	require.Equal(t, OutcomeError, result.Outcome)
	require.Empty(t, sender.sent)
}

func TestReconcile_NotificationFailuresAreSwallowed(t *testing.T) {
	ledger := &reconcileLedger{order: pendingOrder()}
	sender := &mockSender{err: errors.New("graph api down")}
	r := newTestReconciler(t, ledger, sender, "254700000001")

	body := successEvent("ORD-0f8fad5b")
	result, err := r.Reconcile(context.Background(), body, sign(body))
	require.NoError(t, err)
	require.Equal(t, OutcomePaid, result.Outcome)
}

func TestReconcile_NoOperatorConfigured_OnlyBuyerNotified(t *testing.T) {
	ledger := &reconcileLedger{order: pendingOrder()}
	sender := &mockSender{}
	r := newTestReconciler(t, ledger, sender, "")

	body := successEvent("ORD-0f8fad5b")
	_, err := r.Reconcile(context.Background(), body, sign(body))
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
}
