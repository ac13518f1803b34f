// Package arbiter implements the control-mode state machine that decides,
// per conversation, whether the automated agent or a human operator owns the
// next reply.
package arbiter

import (
	"time"

	"github.com/shoptalk-ai/webhook-gateway/internal/model"
)

// Decision is the outcome of evaluating a customer turn.
type Decision int

const (
	// Suppress withholds the automated turn; the message is still recorded.
	Suppress Decision = iota
	// Grant hands the turn to the automated agent.
	Grant
)

// Outcome carries the decision plus the transitions applied while computing
// it. The caller persists the mutated conversation atomically with the
// decision.
type Outcome struct {
	Decision Decision

	// ProtectedOverride is set when the turn was granted only because the
	// conversation is in a protected order-collection step.
	ProtectedOverride bool

	// ModeChanged reports a control-mode transition, with the prior mode.
	ModeChanged bool
	PriorMode   model.ControlMode

	// Changed reports whether the conversation was mutated at all and
	// therefore needs to be persisted with the decision.
	Changed bool
}

// Machine evaluates control-mode transitions and turn decisions. It holds
// policy only; all state lives on the conversation record.
type Machine struct {
	cooperativeWindow time.Duration
	protected         map[string]struct{}
}

// New creates a machine with the given cooperative window and protected
// step labels.
func New(cooperativeWindow time.Duration, protectedSteps []string) *Machine {
	protected := make(map[string]struct{}, len(protectedSteps))
	for _, s := range protectedSteps {
		protected[s] = struct{}{}
	}
	return &Machine{
		cooperativeWindow: cooperativeWindow,
		protected:         protected,
	}
}

// IsProtected reports whether a step label is in the protected set.
func (m *Machine) IsProtected(step string) bool {
	_, ok := m.protected[step]
	return ok
}

// RecordHumanReply applies the transition for an operator-originated message:
// any mode moves to cooperative except human, which is sticky and only exits
// through an explicit operator action. last_human_reply_at advances in every
// mode so the post-lock re-check sees the reply.
func (m *Machine) RecordHumanReply(conv *model.Conversation, now time.Time) Outcome {
	t := now.UTC()
	conv.LastHumanReplyAt = &t

	out := Outcome{Decision: Suppress, PriorMode: conv.ControlMode, Changed: true}
	if conv.ControlMode != model.ModeHuman && conv.ControlMode != model.ModeCooperative {
		conv.ControlMode = model.ModeCooperative
		out.ModeChanged = true
	}
	return out
}

// EvaluateCustomerTurn applies the lazy transitions due at now and decides
// whether the agent gets the turn. It mutates the conversation in place;
// persisting those mutations together with acting on the decision is the
// caller's responsibility.
func (m *Machine) EvaluateCustomerTurn(conv *model.Conversation, now time.Time) Outcome {
	out := Outcome{PriorMode: conv.ControlMode}

	// Lazy cooperative resumption. There is no background timer; expiry is
	// observed on the next inbound customer event.
	if conv.ControlMode == model.ModeCooperative && m.cooperativeExpired(conv, now) {
		conv.ControlMode = model.ModeAutomated
		out.ModeChanged = true
		out.Changed = true
	}

	// An expired operator pause clears itself the same way.
	if conv.AutoPauseUntil != nil && !now.Before(*conv.AutoPauseUntil) {
		conv.AutoPauseUntil = nil
		out.Changed = true
	}

	suppressed := conv.ControlMode == model.ModeHuman ||
		conv.ControlMode == model.ModeCooperative ||
		conv.AutoPauseUntil != nil

	// A customer mid-order is never abandoned: protected steps route to the
	// agent regardless of control mode, and the bypassed human control is
	// flagged so the agent can acknowledge it after the flow completes.
	if m.IsProtected(conv.CurrentStep) {
		if suppressed {
			if !conv.HumanInterrupted {
				conv.HumanInterrupted = true
				out.Changed = true
			}
			out.ProtectedOverride = true
		}
		out.Decision = Grant
		return out
	}

	if suppressed {
		out.Decision = Suppress
		return out
	}

	out.Decision = Grant
	return out
}

// CooperativeRemaining returns how long the agent stays suppressed before
// cooperative mode auto-resumes, or zero when not applicable.
func (m *Machine) CooperativeRemaining(conv *model.Conversation, now time.Time) time.Duration {
	if conv.ControlMode != model.ModeCooperative || conv.LastHumanReplyAt == nil {
		return 0
	}
	remaining := m.cooperativeWindow - now.Sub(*conv.LastHumanReplyAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// HumanRepliedSince reports whether a human reply was recorded at or after
// the given instant. Used to close the race between decision and execution
// after the processing lock is acquired.
func (m *Machine) HumanRepliedSince(conv *model.Conversation, since time.Time) bool {
	return conv.LastHumanReplyAt != nil && !conv.LastHumanReplyAt.Before(since)
}

func (m *Machine) cooperativeExpired(conv *model.Conversation, now time.Time) bool {
	// Cooperative mode with no recorded human reply violates the record's
	// invariant; treat it as expired rather than suppressing forever.
	if conv.LastHumanReplyAt == nil {
		return true
	}
	return now.Sub(*conv.LastHumanReplyAt) >= m.cooperativeWindow
}
