package domain

// Intent is the classified purpose of an inbound message. The set is closed;
// a new intent requires a new dispatcher branch.
type Intent string

const (
	IntentOrder    Intent = "order"
	IntentSearch   Intent = "search"
	IntentGreeting Intent = "greeting"
	IntentReject   Intent = "reject"
	IntentUnclear  Intent = "unclear"
	IntentError    Intent = "error"
)

// Valid reports whether i is one of the known intents.
func (i Intent) Valid() bool {
	switch i {
	case IntentOrder, IntentSearch, IntentGreeting, IntentReject, IntentUnclear, IntentError:
		return true
	}
	return false
}

// RequestedItem is one line of a classified order request. Either SKU or Name
// may be empty; Qty defaults to 1 when the classifier omits it.
type RequestedItem struct {
	SKU  string
	Name string
	Qty  int
}

// ClassifiedIntent is the classifier's structured output for one message.
// It is produced fresh per inbound message and never persisted.
type ClassifiedIntent struct {
	Intent     Intent
	Items      []RequestedItem
	SearchTerm string
	Message    string
}

// ErrorIntent is the synthetic classification used when the classifier itself
// fails or times out.
func ErrorIntent(reason string) ClassifiedIntent {
	return ClassifiedIntent{Intent: IntentError, Items: []RequestedItem{}, Message: reason}
}
