package webhook

// Source classifies who an event came from.
type Source string

const (
	// SourceCustomer is a message sent by the customer.
	SourceCustomer Source = "customer"
	// SourceOperator is a human operator reply relayed through the channel.
	// The platform reports these as sent by the page itself.
	SourceOperator Source = "operator"
	// SourceUnrecognized matches no page this deployment owns.
	SourceUnrecognized Source = "unrecognized"
)

// Classifier resolves events against the set of page ids this deployment owns.
type Classifier struct {
	pages map[string]struct{}
}

// NewClassifier creates a classifier for the given page ids.
func NewClassifier(pageIDs []string) *Classifier {
	pages := make(map[string]struct{}, len(pageIDs))
	for _, id := range pageIDs {
		pages[id] = struct{}{}
	}
	return &Classifier{pages: pages}
}

// Classify determines the event source and the owning page id. When the
// sender is a known page the event is an operator reply from the native
// channel client and the customer is the recipient; otherwise the page is
// whichever id matches, and the other party is the customer.
func (c *Classifier) Classify(senderID, recipientID string) (source Source, pageID, customerID string) {
	if _, ok := c.pages[senderID]; ok {
		return SourceOperator, senderID, recipientID
	}
	if _, ok := c.pages[recipientID]; ok {
		return SourceCustomer, recipientID, senderID
	}
	return SourceUnrecognized, "", ""
}
