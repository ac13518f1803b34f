package arbiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoptalk-ai/webhook-gateway/internal/model"
)

var protectedSteps = []string{"selecting_variant", "collecting_address", "confirming_order"}

func newMachine() *Machine {
	return New(30*time.Minute, protectedSteps)
}

func automatedConv() *model.Conversation {
	return &model.Conversation{
		ID:          "conv-1",
		PageID:      "P1",
		CustomerID:  "C1",
		ControlMode: model.ModeAutomated,
	}
}

func TestHumanReplyMovesToCooperative(t *testing.T) {
	m := newMachine()
	conv := automatedConv()
	now := time.Now()

	out := m.RecordHumanReply(conv, now)

	assert.True(t, out.ModeChanged)
	assert.Equal(t, model.ModeAutomated, out.PriorMode)
	assert.Equal(t, model.ModeCooperative, conv.ControlMode)
	require.NotNil(t, conv.LastHumanReplyAt)
	assert.WithinDuration(t, now, *conv.LastHumanReplyAt, time.Second)
}

func TestHumanReplyDoesNotDemoteHumanMode(t *testing.T) {
	m := newMachine()
	conv := automatedConv()
	conv.ControlMode = model.ModeHuman

	out := m.RecordHumanReply(conv, time.Now())

	assert.False(t, out.ModeChanged)
	assert.Equal(t, model.ModeHuman, conv.ControlMode)
	assert.NotNil(t, conv.LastHumanReplyAt)
}

func TestCooperativeSuppressesWithinWindow(t *testing.T) {
	m := newMachine()
	conv := automatedConv()
	now := time.Now()
	replied := now.Add(-10 * time.Minute)
	conv.ControlMode = model.ModeCooperative
	conv.LastHumanReplyAt = &replied

	out := m.EvaluateCustomerTurn(conv, now)

	assert.Equal(t, Suppress, out.Decision)
	assert.Equal(t, model.ModeCooperative, conv.ControlMode)
}

func TestCooperativeResumesAfterWindow(t *testing.T) {
	m := newMachine()
	conv := automatedConv()
	now := time.Now()
	replied := now.Add(-31 * time.Minute)
	conv.ControlMode = model.ModeCooperative
	conv.LastHumanReplyAt = &replied

	out := m.EvaluateCustomerTurn(conv, now)

	assert.Equal(t, Grant, out.Decision)
	assert.True(t, out.ModeChanged)
	assert.Equal(t, model.ModeCooperative, out.PriorMode)
	assert.Equal(t, model.ModeAutomated, conv.ControlMode)
}

func TestCooperativeResumesExactlyAtWindow(t *testing.T) {
	m := newMachine()
	conv := automatedConv()
	now := time.Now()
	replied := now.Add(-30 * time.Minute)
	conv.ControlMode = model.ModeCooperative
	conv.LastHumanReplyAt = &replied

	out := m.EvaluateCustomerTurn(conv, now)

	assert.Equal(t, Grant, out.Decision)
	assert.Equal(t, model.ModeAutomated, conv.ControlMode)
}

func TestHumanModeSuppresses(t *testing.T) {
	m := newMachine()
	conv := automatedConv()
	conv.ControlMode = model.ModeHuman

	out := m.EvaluateCustomerTurn(conv, time.Now())

	assert.Equal(t, Suppress, out.Decision)
	assert.False(t, out.Changed)
}

func TestProtectedStepOverridesHumanMode(t *testing.T) {
	m := newMachine()
	conv := automatedConv()
	conv.ControlMode = model.ModeHuman
	conv.CurrentStep = "collecting_address"

	out := m.EvaluateCustomerTurn(conv, time.Now())

	assert.Equal(t, Grant, out.Decision)
	assert.True(t, out.ProtectedOverride)
	assert.True(t, conv.HumanInterrupted)
	// Mode itself is untouched; only the turn is overridden.
	assert.Equal(t, model.ModeHuman, conv.ControlMode)
}

func TestProtectedStepOverridesPause(t *testing.T) {
	m := newMachine()
	conv := automatedConv()
	now := time.Now()
	until := now.Add(15 * time.Minute)
	conv.AutoPauseUntil = &until
	conv.CurrentStep = "confirming_order"

	out := m.EvaluateCustomerTurn(conv, now)

	assert.Equal(t, Grant, out.Decision)
	assert.True(t, out.ProtectedOverride)
	assert.True(t, conv.HumanInterrupted)
}

func TestProtectedStepWithoutSuppressionIsPlainGrant(t *testing.T) {
	m := newMachine()
	conv := automatedConv()
	conv.CurrentStep = "selecting_variant"

	out := m.EvaluateCustomerTurn(conv, time.Now())

	assert.Equal(t, Grant, out.Decision)
	assert.False(t, out.ProtectedOverride)
	assert.False(t, conv.HumanInterrupted)
}

func TestUnprotectedStepDoesNotOverride(t *testing.T) {
	m := newMachine()
	conv := automatedConv()
	conv.ControlMode = model.ModeHuman
	conv.CurrentStep = "browsing"

	out := m.EvaluateCustomerTurn(conv, time.Now())

	assert.Equal(t, Suppress, out.Decision)
	assert.False(t, conv.HumanInterrupted)
}

func TestActivePauseSuppresses(t *testing.T) {
	m := newMachine()
	conv := automatedConv()
	now := time.Now()
	until := now.Add(10 * time.Minute)
	conv.AutoPauseUntil = &until

	out := m.EvaluateCustomerTurn(conv, now)

	assert.Equal(t, Suppress, out.Decision)
	assert.NotNil(t, conv.AutoPauseUntil)
}

func TestExpiredPauseClearsAndGrants(t *testing.T) {
	m := newMachine()
	conv := automatedConv()
	now := time.Now()
	until := now.Add(-time.Minute)
	conv.AutoPauseUntil = &until

	out := m.EvaluateCustomerTurn(conv, now)

	assert.Equal(t, Grant, out.Decision)
	assert.True(t, out.Changed)
	assert.Nil(t, conv.AutoPauseUntil)
}

func TestCooperativeWithoutReplyTimestampResumes(t *testing.T) {
	m := newMachine()
	conv := automatedConv()
	conv.ControlMode = model.ModeCooperative

	out := m.EvaluateCustomerTurn(conv, time.Now())

	assert.Equal(t, Grant, out.Decision)
	assert.Equal(t, model.ModeAutomated, conv.ControlMode)
}

func TestCooperativeRemaining(t *testing.T) {
	m := newMachine()
	conv := automatedConv()
	now := time.Now()
	replied := now.Add(-10 * time.Minute)
	conv.ControlMode = model.ModeCooperative
	conv.LastHumanReplyAt = &replied

	remaining := m.CooperativeRemaining(conv, now)
	assert.InDelta(t, (20 * time.Minute).Seconds(), remaining.Seconds(), 1)

	assert.Zero(t, m.CooperativeRemaining(automatedConv(), now))
}

func TestHumanRepliedSince(t *testing.T) {
	m := newMachine()
	conv := automatedConv()
	now := time.Now()
	replied := now.Add(-2 * time.Second)
	conv.LastHumanReplyAt = &replied

	assert.True(t, m.HumanRepliedSince(conv, now.Add(-5*time.Second)))
	assert.False(t, m.HumanRepliedSince(conv, now.Add(-time.Second)))
	assert.False(t, m.HumanRepliedSince(automatedConv(), now))
}
