package domain

// Product is a catalog record. Prices are whole KES; no minor units.
type Product struct {
	SKU   string
	Name  string
	Price int
	Stock int
}

// CatalogItem is the minimal product projection persisted into conversation
// state after a search and echoed back on selection.
type CatalogItem struct {
	SKU   string
	Name  string
	Price int
}

// Item returns the persistable projection of a product.
func (p Product) Item() CatalogItem {
	return CatalogItem{SKU: p.SKU, Name: p.Name, Price: p.Price}
}

// ManualSKU is the placeholder SKU used when a payment command arrives with
// no previously selected product. Payment proceeds anyway.
const ManualSKU = "MANUAL"

// ManualPayment builds the placeholder item charged at the spoken amount.
func ManualPayment(amount int) CatalogItem {
	return CatalogItem{SKU: ManualSKU, Name: "Manual Payment", Price: amount}
}
