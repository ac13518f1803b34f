package model

import (
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
	RoleOperator Role = "operator"
)

// Origin identifies the surface a message was sent from.
type Origin string

const (
	// OriginChannel marks messages delivered through the messaging platform.
	OriginChannel Origin = "channel"
	// OriginDashboard marks operator messages sent from the dashboard.
	OriginDashboard Origin = "dashboard"
)

// Message is one immutable utterance in a conversation, kept for audit and
// display. It is written as a side effect of ingestion; arbitration never
// reads it back.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	PageID         string `json:"page_id"`
	CustomerID     string `json:"customer_id,omitempty"`

	Role     Role   `json:"role"`
	Origin   Origin `json:"origin"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Postback string `json:"postback,omitempty"`

	// PlatformMessageID is the channel's own message id, when present.
	PlatformMessageID string `json:"platform_message_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Sequence is the stream sequence, populated on read.
	Sequence uint64 `json:"sequence,omitempty"`
}

// SendMessageRequest is the dashboard request to send an operator reply.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// ListMessagesResponse is the response for listing a conversation's messages.
type ListMessagesResponse struct {
	Messages     []Message `json:"messages"`
	HasMore      bool      `json:"has_more"`
	LastSequence uint64    `json:"last_sequence"`
}
