// Package orchestrator defines the bot orchestrator boundary: the external
// collaborator that decides what the automated agent says once the gateway
// has decided it gets the turn.
package orchestrator

import (
	"context"
)

// Request identifies the customer turn handed to the bot.
type Request struct {
	PageID         string `json:"page_id"`
	CustomerID     string `json:"customer_id"`
	ConversationID string `json:"conversation_id"`
	MessageText    string `json:"message_text,omitempty"`
	ImageURL       string `json:"image_url,omitempty"`
}

// Orchestrator processes one granted automated turn.
type Orchestrator interface {
	Process(ctx context.Context, req *Request) error
}
