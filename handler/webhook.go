package handler

// Meta-standard WhatsApp webhook envelope, reduced to the fields the bot
// reads. Everything except text messages is acknowledged untouched.

type whatsappWebhook struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	ID      string          `json:"id"`
	Changes []webhookChange `json:"changes"`
}

type webhookChange struct {
	Field string       `json:"field"`
	Value webhookValue `json:"value"`
}

type webhookValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Messages         []inboundMessage `json:"messages,omitempty"`
	Contacts         []inboundContact `json:"contacts,omitempty"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
}

type inboundMessage struct {
	From      string       `json:"from"`
	ID        string       `json:"id"`
	Timestamp string       `json:"timestamp"`
	Type      string       `json:"type"`
	Text      *textContent `json:"text,omitempty"`
}

type textContent struct {
	Body string `json:"body"`
}

type inboundContact struct {
	WaID string `json:"wa_id"`
}

// firstTextMessage walks the envelope and returns the first text message, or
// nil when the delivery carries none.
func firstTextMessage(hook whatsappWebhook) *inboundMessage {
	for _, entry := range hook.Entry {
		for _, change := range entry.Changes {
			if change.Value.MessagingProduct != "whatsapp" {
				continue
			}
			for i := range change.Value.Messages {
				msg := &change.Value.Messages[i]
				if msg.Type == "text" && msg.Text != nil {
					return msg
				}
			}
		}
	}
	return nil
}
