package domain

import "strings"

// OrderStatus is the two-state order lifecycle. The transition is
// one-directional: PENDING -> PAID, written exactly once by the reconciler.
type OrderStatus string

const (
	OrderPending OrderStatus = "PENDING"
	OrderPaid    OrderStatus = "PAID"
)

// PaymentMethod selects the payment channel for an order.
type PaymentMethod string

const (
	MethodMobileMoney PaymentMethod = "mpesa"
	MethodCard        PaymentMethod = "card"
)

// LineItem is one order line. Price is the charged amount for the line, not
// necessarily the catalog price.
type LineItem struct {
	SKU   string
	Qty   int
	Price int
}

// Order is created by the dispatcher before the payment channel is invoked,
// so a reconciliation target exists even if the push never completes.
type Order struct {
	ID               string
	UserPhone        string
	Items            []LineItem
	TotalAmount      int
	Status           OrderStatus
	PaymentReference string
}

const referencePrefixLen = 8

// PaymentReference builds the provider reference for an order:
// ORD-{first 8 chars of id} for mobile money, with a -CARD suffix for
// hosted checkout.
func PaymentReference(orderID string, method PaymentMethod) string {
	id := orderID
	if len(id) > referencePrefixLen {
		id = id[:referencePrefixLen]
	}
	if method == MethodCard {
		return "ORD-" + id + "-CARD"
	}
	return "ORD-" + id
}

// ReferencePrefix extracts the 8-character order id prefix from a provider
// reference. It returns "" when ref does not carry one.
func ReferencePrefix(ref string) string {
	rest, ok := strings.CutPrefix(ref, "ORD-")
	if !ok {
		return ""
	}
	rest = strings.TrimSuffix(rest, "-CARD")
	if len(rest) < referencePrefixLen {
		return ""
	}
	return rest[:referencePrefixLen]
}

// ShortOrderID is the buyer-facing order id: the last 5 characters of the
// order id, uppercased.
func ShortOrderID(orderID string) string {
	if len(orderID) > 5 {
		orderID = orderID[len(orderID)-5:]
	}
	return strings.ToUpper(orderID)
}
