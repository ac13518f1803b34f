package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shoptalk-ai/webhook-gateway/internal/llm"
	"github.com/shoptalk-ai/webhook-gateway/internal/model"
	"github.com/shoptalk-ai/webhook-gateway/internal/store"
)

const shopAssistantPrompt = `You are a helpful shop assistant answering customer ` +
	`messages for a commerce page. Answer briefly and politely. If the customer ` +
	`sent a product photo, ask clarifying questions about what they are looking for.`

// LLMOrchestrator generates replies directly through an LLM client. It exists
// so single-binary deployments work without a separate bot service; it does
// not attempt the full order-collection flow.
type LLMOrchestrator struct {
	client llm.Client
	log    *store.MessageLog
}

// NewLLMOrchestrator creates an LLM-backed orchestrator.
func NewLLMOrchestrator(client llm.Client, log *store.MessageLog) *LLMOrchestrator {
	return &LLMOrchestrator{client: client, log: log}
}

// Process generates a reply for the turn and appends it to the message log.
func (o *LLMOrchestrator) Process(ctx context.Context, req *Request) error {
	content := req.MessageText
	if content == "" && req.ImageURL != "" {
		content = fmt.Sprintf("[customer sent an image: %s]", req.ImageURL)
	}

	resp, err := o.client.Complete(ctx, &llm.CompletionRequest{
		System: shopAssistantPrompt,
		Messages: []llm.ChatMessage{
			{Role: "user", Content: content},
		},
	})
	if err != nil {
		return fmt.Errorf("completion failed: %w", err)
	}

	reply := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: req.ConversationID,
		PageID:         req.PageID,
		CustomerID:     req.CustomerID,
		Role:           model.RoleAgent,
		Origin:         model.OriginChannel,
		Text:           resp.Content,
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := o.log.Append(ctx, reply); err != nil {
		return fmt.Errorf("failed to record agent reply: %w", err)
	}
	return nil
}
