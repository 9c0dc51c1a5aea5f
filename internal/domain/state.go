package domain

// ConversationState is the per-user record driving the dispatcher fast-paths.
// It is keyed by phone number, created implicitly on first write, and mutated
// with last-write-wins upserts. LastSelected, when set, is an element of a
// prior LastSearchResults or the manual-payment placeholder.
type ConversationState struct {
	Phone             string
	LastSearchResults []CatalogItem
	LastSelected      *CatalogItem
}
