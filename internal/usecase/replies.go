package usecase

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"philelect-bot/internal/domain"
)

// User-facing reply texts. Kept together so the conversational surface can be
// reviewed in one place.

const (
	replyTryAgainLater = "Sorry, something went wrong on our side. Please try again later."
	replyMaintenance   = "We're doing a bit of maintenance right now. Please try again shortly."
	replySearchFirst   = "Please search for a product first (e.g. 'Show me TVs'), then pick a number from the list."
	replyNotInStock    = "Sorry, we don't have that in stock right now. Try TVs, Fridges, Microwaves, Cookers or Soundbars."
	replyRejectDefault = "No problem. Reply with a number from the list above to pick an item, or say Hi to start over."
	searchInstruction  = "Reply with the Number (e.g. 1) or Name of the item to select it."
)

var kesPrinter = message.NewPrinter(language.English)

// formatKES renders a whole-KES amount with thousands grouping, e.g. "14,000".
func formatKES(amount int) string {
	return kesPrinter.Sprintf("%d", amount)
}

func searchResultsReply(items []domain.CatalogItem) string {
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s - KES %s\n", i+1, item.Name, formatKES(item.Price))
	}
	b.WriteString("\n")
	b.WriteString(searchInstruction)
	return b.String()
}

func selectionRangeReply(n int) string {
	return fmt.Sprintf("Please pick a number between 1 and %d from the list.", n)
}

func selectionReply(item domain.CatalogItem) string {
	return fmt.Sprintf("Great choice! %s costs KES %s.\n\nTo order, reply with: Pay %d",
		item.Name, formatKES(item.Price), item.Price)
}

func mpesaPendingReply(item domain.CatalogItem, amount int) string {
	return fmt.Sprintf("We've sent an M-Pesa prompt for KES %s to your phone. Enter your PIN to complete the purchase of %s.",
		formatKES(amount), item.Name)
}

func cardCheckoutReply(item domain.CatalogItem, url string) string {
	return fmt.Sprintf("Complete your card payment for %s here: %s", item.Name, url)
}

func paymentFailedReply(err error) string {
	return fmt.Sprintf("Payment failed: %v. Please try again or reply with a different amount.", err)
}

func orderSummaryReply(matched []domain.CatalogItem, unmatched int) string {
	if len(matched) == 0 {
		return replyNotInStock
	}
	var b strings.Builder
	b.WriteString("Here's what we found:\n")
	for _, item := range matched {
		fmt.Fprintf(&b, "- %s - KES %s\n", item.Name, formatKES(item.Price))
	}
	if unmatched > 0 {
		fmt.Fprintf(&b, "\n%d item(s) we couldn't match.\n", unmatched)
	}
	fmt.Fprintf(&b, "\nTo order, reply with: Pay %d", matched[0].Price)
	return b.String()
}

func paidConfirmationReply(orderID string) string {
	return fmt.Sprintf("Payment received! Your order #%s is confirmed. We'll be in touch shortly to arrange delivery.",
		domain.ShortOrderID(orderID))
}

func operatorNotification(order domain.Order, providerRef string) string {
	return fmt.Sprintf("New paid order #%s from %s - KES %s (ref %s)",
		domain.ShortOrderID(order.ID), order.UserPhone, formatKES(order.TotalAmount), providerRef)
}
