package usecase

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"philelect-bot/internal/domain"
)

const (
	defaultSearchLimit = 3
	// Spoken amounts may drift from the stored price (delivery, haggling).
	// Within this band the discrepancy is logged, never rejected.
	priceTolerance = 100
)

// Classifier maps raw message text to a structured intent.
type Classifier interface {
	Classify(ctx context.Context, text string) (domain.ClassifiedIntent, error)
}

// Catalog resolves SKUs and fuzzy name searches against the product table.
type Catalog interface {
	GetBySKU(ctx context.Context, sku string) (*domain.Product, error)
	SearchByName(ctx context.Context, term string, limit int) ([]domain.Product, error)
}

// StateStore holds the per-user conversation state driving the fast-paths.
type StateStore interface {
	Get(ctx context.Context, phone string) (domain.ConversationState, error)
	SaveSearchResults(ctx context.Context, phone string, results []domain.CatalogItem) error
	SaveSelected(ctx context.Context, phone string, item domain.CatalogItem) error
}

// OrderLedger creates orders and transitions them PENDING -> PAID.
type OrderLedger interface {
	Create(ctx context.Context, order domain.Order) error
	FindPendingByPrefix(ctx context.Context, prefix string) (*domain.Order, error)
	MarkPaid(ctx context.Context, orderID, providerRef string) error
}

// PaymentInitiator starts a mobile-money push or returns a hosted checkout URL.
type PaymentInitiator interface {
	ChargeMobileMoney(ctx context.Context, phone string, amount int, reference string) (string, error)
	CreateCheckout(ctx context.Context, phone string, amount int, reference string) (string, error)
}

// MessageSender delivers outbound text to a user.
type MessageSender interface {
	SendText(ctx context.Context, to, body string) error
}

// Action summarizes the single terminal action a dispatch took.
type Action string

const (
	ActionNone             Action = "none"
	ActionReply            Action = "reply"
	ActionSearchResults    Action = "search_results"
	ActionSelection        Action = "selection"
	ActionOrderSummary     Action = "order_summary"
	ActionPaymentInitiated Action = "payment_initiated"
	ActionPaymentFailed    Action = "payment_failed"
)

// DispatchResult is a summary for logging and testing; replies are sent as a
// side effect, not returned as a payload.
type DispatchResult struct {
	Action      Action
	Intent      domain.Intent
	Reply       string
	OrderID     string
	Method      domain.PaymentMethod
	ProviderRef string
	CheckoutURL string
	Matched     int
	Unmatched   int
}

// Dispatcher is the per-message decision engine. It inspects the raw text
// first (payment and numeric-selection fast-paths) and only falls back to the
// classifier when neither matches. Exactly one terminal action per message.
type Dispatcher struct {
	classifier  Classifier
	catalog     Catalog
	state       StateStore
	orders      OrderLedger
	payments    PaymentInitiator
	sender      MessageSender
	searchLimit int
	log         *slog.Logger
}

func NewDispatcher(classifier Classifier, catalog Catalog, state StateStore, orders OrderLedger, payments PaymentInitiator, sender MessageSender, searchLimit int, log *slog.Logger) (*Dispatcher, error) {
	if classifier == nil {
		return nil, errors.New("usecase: classifier must not be nil")
	}
	if catalog == nil {
		return nil, errors.New("usecase: catalog must not be nil")
	}
	if state == nil {
		return nil, errors.New("usecase: state store must not be nil")
	}
	if orders == nil {
		return nil, errors.New("usecase: order ledger must not be nil")
	}
	if payments == nil {
		return nil, errors.New("usecase: payment initiator must not be nil")
	}
	if sender == nil {
		return nil, errors.New("usecase: message sender must not be nil")
	}
	if searchLimit <= 0 {
		searchLimit = defaultSearchLimit
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		classifier:  classifier,
		catalog:     catalog,
		state:       state,
		orders:      orders,
		payments:    payments,
		sender:      sender,
		searchLimit: searchLimit,
		log:         log,
	}, nil
}

// Dispatch processes one inbound message for senderID. First match wins.
func (d *Dispatcher) Dispatch(ctx context.Context, senderID, rawText string) (DispatchResult, error) {
	phone := domain.NormalizePhone(senderID)
	text := strings.TrimSpace(rawText)

	// The payment fast-path runs before the classifier: a payment command
	// must never be reclassified (e.g. as "reject"), and skipping the
	// classifier saves a round trip.
	if isPaymentCommand(text) {
		return d.dispatchPayment(ctx, phone, text)
	}
	if isDigitsOnly(text) {
		return d.dispatchSelection(ctx, phone, text)
	}
	return d.dispatchClassified(ctx, phone, text)
}

var digitRun = regexp.MustCompile(`[0-9]+`)

func isPaymentCommand(text string) bool {
	return strings.Contains(strings.ToLower(text), "pay")
}

// paymentAmount extracts the first digit run; "pay" with no digits yields 0.
func paymentAmount(text string) int {
	m := digitRun.FindString(text)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

func wantsCard(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "card") ||
		strings.Contains(lower, "visa") ||
		strings.Contains(lower, "mastercard")
}

func isDigitsOnly(text string) bool {
	if text == "" {
		return false
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (d *Dispatcher) dispatchPayment(ctx context.Context, phone, text string) (DispatchResult, error) {
	amount := paymentAmount(text)
	method := domain.MethodMobileMoney
	if wantsCard(text) {
		method = domain.MethodCard
	}

	// Fail-open: payment proceeds even when no product was selected, or the
	// state store is unreachable, charging the spoken amount.
	product := domain.ManualPayment(amount)
	state, err := d.state.Get(ctx, phone)
	if err != nil {
		d.log.Error("state read failed on payment path, charging manual placeholder", "phone", phone, "err", err)
	} else if state.LastSelected != nil {
		product = *state.LastSelected
		if diff := product.Price - amount; diff > priceTolerance || diff < -priceTolerance {
			d.log.Warn("payment amount differs from selected price",
				"phone", phone, "sku", product.SKU, "price", product.Price, "amount", amount)
		}
	}

	order := domain.Order{
		ID:          newUUID(),
		UserPhone:   phone,
		Items:       []domain.LineItem{{SKU: product.SKU, Qty: 1, Price: amount}},
		TotalAmount: amount,
		Status:      domain.OrderPending,
	}
	// The order is persisted before the payment channel is invoked so a
	// reconciliation target always exists.
	if err := d.orders.Create(ctx, order); err != nil {
		d.send(ctx, phone, replyTryAgainLater)
		return DispatchResult{Action: ActionReply, Reply: replyTryAgainLater},
			newError(ErrorInternal, "order_create_error", err)
	}

	reference := domain.PaymentReference(order.ID, method)
	result := DispatchResult{OrderID: order.ID, Method: method}

	switch method {
	case domain.MethodCard:
		url, err := d.payments.CreateCheckout(ctx, phone, amount, reference)
		if err != nil {
			return d.paymentFailed(ctx, phone, result, err)
		}
		result.Action = ActionPaymentInitiated
		result.CheckoutURL = url
		result.Reply = cardCheckoutReply(product, url)
	default:
		ref, err := d.payments.ChargeMobileMoney(ctx, phone, amount, reference)
		if err != nil {
			return d.paymentFailed(ctx, phone, result, err)
		}
		result.Action = ActionPaymentInitiated
		result.ProviderRef = ref
		result.Reply = mpesaPendingReply(product, amount)
	}

	d.send(ctx, phone, result.Reply)
	return result, nil
}

// paymentFailed reports a payment-channel failure to the user. The order is
// left PENDING; the reconciler or an operator resolves it later.
func (d *Dispatcher) paymentFailed(ctx context.Context, phone string, result DispatchResult, err error) (DispatchResult, error) {
	result.Action = ActionPaymentFailed
	result.Reply = paymentFailedReply(err)
	d.send(ctx, phone, result.Reply)
	return result, newError(ErrorUpstream, "payment_error", err)
}

func (d *Dispatcher) dispatchSelection(ctx context.Context, phone, text string) (DispatchResult, error) {
	state, err := d.state.Get(ctx, phone)
	if err != nil {
		d.send(ctx, phone, replyTryAgainLater)
		return DispatchResult{Action: ActionReply, Reply: replyTryAgainLater},
			newError(ErrorInternal, "state_read_error", err)
	}
	results := state.LastSearchResults
	if len(results) == 0 {
		d.send(ctx, phone, replySearchFirst)
		return DispatchResult{Action: ActionReply, Reply: replySearchFirst}, nil
	}

	k, err := strconv.Atoi(text)
	if err != nil || k < 1 || k > len(results) {
		reply := selectionRangeReply(len(results))
		d.send(ctx, phone, reply)
		return DispatchResult{Action: ActionReply, Reply: reply}, nil
	}

	selected := results[k-1]
	// Best-effort cache: the user still gets the confirmation either way.
	if err := d.state.SaveSelected(ctx, phone, selected); err != nil {
		d.log.Error("persist selected product failed", "phone", phone, "sku", selected.SKU, "err", err)
	}
	reply := selectionReply(selected)
	d.send(ctx, phone, reply)
	return DispatchResult{Action: ActionSelection, Reply: reply}, nil
}

func (d *Dispatcher) dispatchClassified(ctx context.Context, phone, text string) (DispatchResult, error) {
	classified, err := d.classifier.Classify(ctx, text)
	if err != nil {
		d.log.Error("classifier failed", "phone", phone, "err", err)
		classified = domain.ErrorIntent(err.Error())
	}

	switch classified.Intent {
	case domain.IntentGreeting, domain.IntentUnclear:
		result := DispatchResult{Action: ActionNone, Intent: classified.Intent}
		if msg := strings.TrimSpace(classified.Message); msg != "" {
			d.send(ctx, phone, msg)
			result.Action = ActionReply
			result.Reply = msg
		}
		return result, nil

	case domain.IntentSearch:
		return d.dispatchSearch(ctx, phone, classified)

	case domain.IntentReject:
		msg := strings.TrimSpace(classified.Message)
		if msg == "" {
			msg = replyRejectDefault
		}
		d.send(ctx, phone, msg)
		return DispatchResult{Action: ActionReply, Intent: domain.IntentReject, Reply: msg}, nil

	case domain.IntentOrder:
		return d.dispatchOrder(ctx, phone, classified)

	default:
		// Classifier failure: the user deliberately receives silence; the
		// error result exists for observability.
		return DispatchResult{Action: ActionNone, Intent: domain.IntentError},
			newError(ErrorUpstream, "classifier_error", err)
	}
}

func (d *Dispatcher) dispatchSearch(ctx context.Context, phone string, classified domain.ClassifiedIntent) (DispatchResult, error) {
	term := strings.TrimSpace(classified.SearchTerm)
	if term == "" {
		// Contract violation by the classifier, not a user-facing error.
		return DispatchResult{Action: ActionNone, Intent: domain.IntentSearch},
			newError(ErrorUpstream, "missing_search_term", nil)
	}

	products, err := d.catalog.SearchByName(ctx, term, d.searchLimit)
	if err != nil {
		d.send(ctx, phone, replyMaintenance)
		return DispatchResult{Action: ActionReply, Intent: domain.IntentSearch, Reply: replyMaintenance},
			newError(ErrorInternal, "catalog_error", err)
	}
	if len(products) == 0 {
		d.send(ctx, phone, replyNotInStock)
		return DispatchResult{Action: ActionReply, Intent: domain.IntentSearch, Reply: replyNotInStock}, nil
	}

	items := make([]domain.CatalogItem, 0, len(products))
	for _, p := range products {
		items = append(items, p.Item())
	}
	if err := d.state.SaveSearchResults(ctx, phone, items); err != nil {
		d.log.Error("persist search results failed", "phone", phone, "term", term, "err", err)
	}

	reply := searchResultsReply(items)
	d.send(ctx, phone, reply)
	return DispatchResult{Action: ActionSearchResults, Intent: domain.IntentSearch, Reply: reply, Matched: len(items)}, nil
}

// dispatchOrder resolves the requested items against the catalog and replies
// with an informational summary. It never creates an order or starts a
// payment: that is exclusive to the payment fast-path. Known asymmetry in the
// business flow, kept until product says otherwise.
func (d *Dispatcher) dispatchOrder(ctx context.Context, phone string, classified domain.ClassifiedIntent) (DispatchResult, error) {
	var matched []domain.CatalogItem
	unmatched := 0

	for _, item := range classified.Items {
		product, err := d.resolveItem(ctx, item)
		if err != nil {
			d.send(ctx, phone, replyMaintenance)
			return DispatchResult{Action: ActionReply, Intent: domain.IntentOrder, Reply: replyMaintenance},
				newError(ErrorInternal, "catalog_error", err)
		}
		if product == nil {
			unmatched++
			d.log.Warn("no catalog match for requested item", "phone", phone, "sku", item.SKU, "name", item.Name)
			continue
		}
		matched = append(matched, product.Item())
	}

	reply := orderSummaryReply(matched, unmatched)
	d.send(ctx, phone, reply)
	return DispatchResult{
		Action:    ActionOrderSummary,
		Intent:    domain.IntentOrder,
		Reply:     reply,
		Matched:   len(matched),
		Unmatched: unmatched,
	}, nil
}

// resolveItem matches one requested line: SKU first, then the item's own
// name text. The full free-form message is never used as a search term; a
// partial SKU matched against the whole message produced false positives once
// and must stay excluded.
func (d *Dispatcher) resolveItem(ctx context.Context, item domain.RequestedItem) (*domain.Product, error) {
	if sku := strings.TrimSpace(item.SKU); sku != "" {
		product, err := d.catalog.GetBySKU(ctx, sku)
		if err != nil {
			return nil, err
		}
		if product != nil {
			return product, nil
		}
	}
	if name := strings.TrimSpace(item.Name); name != "" {
		products, err := d.catalog.SearchByName(ctx, name, 1)
		if err != nil {
			return nil, err
		}
		if len(products) > 0 {
			return &products[0], nil
		}
	}
	return nil, nil
}

func (d *Dispatcher) send(ctx context.Context, to, body string) {
	if err := d.sender.SendText(ctx, to, body); err != nil {
		d.log.Error("send reply failed", "to", to, "err", err)
	}
}

var newUUID = func() string {
	return uuid.NewString()
}
