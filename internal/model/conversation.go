// Package model defines data structures for the webhook gateway.
package model

import (
	"time"
)

// ControlMode determines who owns the next reply in a conversation.
type ControlMode string

const (
	// ModeAutomated lets the agent reply autonomously.
	ModeAutomated ControlMode = "automated"
	// ModeHuman suppresses the agent until an operator releases control.
	ModeHuman ControlMode = "human"
	// ModeCooperative suppresses the agent for a bounded window after a
	// human reply, then resumes automatically.
	ModeCooperative ControlMode = "cooperative"
)

// Valid reports whether m is a known control mode.
func (m ControlMode) Valid() bool {
	switch m {
	case ModeAutomated, ModeHuman, ModeCooperative:
		return true
	}
	return false
}

// Conversation is one (page, customer) thread and its arbitration state.
type Conversation struct {
	ID         string `json:"id"`
	PageID     string `json:"page_id"`
	CustomerID string `json:"customer_id"`

	ControlMode      ControlMode `json:"control_mode"`
	LastHumanReplyAt *time.Time  `json:"last_human_reply_at,omitempty"`
	AutoPauseUntil   *time.Time  `json:"auto_pause_until,omitempty"`
	CurrentStep      string      `json:"current_step,omitempty"`
	HumanInterrupted bool        `json:"human_interrupted,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Revision is the store revision used for compare-and-update writes.
	// Populated on read, not serialized.
	Revision uint64 `json:"-"`
}

// ControlState is the control API's view of a conversation's arbitration state.
type ControlState struct {
	ConversationID       string      `json:"conversation_id"`
	ControlMode          ControlMode `json:"control_mode"`
	LastHumanReplyAt     *time.Time  `json:"last_human_reply_at,omitempty"`
	AutoPauseUntil       *time.Time  `json:"auto_pause_until,omitempty"`
	CurrentStep          string      `json:"current_step,omitempty"`
	HumanInterrupted     bool        `json:"human_interrupted"`
	CooperativeRemaining string      `json:"cooperative_remaining,omitempty"`
}

// SetControlModeRequest is the control API request to set a mode explicitly.
type SetControlModeRequest struct {
	ControlMode ControlMode `json:"control_mode"`
}

// SetPauseRequest is the control API request to mute the agent for a duration.
type SetPauseRequest struct {
	Duration string `json:"duration"`
}
