package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoptalk-ai/webhook-gateway/internal/arbiter"
	"github.com/shoptalk-ai/webhook-gateway/internal/lock"
	"github.com/shoptalk-ai/webhook-gateway/internal/model"
	"github.com/shoptalk-ai/webhook-gateway/internal/store"
	"github.com/shoptalk-ai/webhook-gateway/pkg/logger"
)

type controlFixture struct {
	svc           *ControlService
	conversations *memConversations
	messages      *memMessages
	locks         *lock.Manager
	clock         time.Time
}

func newControlFixture(t *testing.T) *controlFixture {
	t.Helper()

	log, err := logger.New("error")
	require.NoError(t, err)

	f := &controlFixture{
		conversations: newMemConversations(),
		messages:      &memMessages{},
		locks:         lock.NewManager(),
		clock:         time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewControlService(
		f.conversations,
		f.messages,
		f.messages,
		arbiter.New(30*time.Minute, nil),
		f.locks,
		30*time.Second,
		200*time.Millisecond,
		log,
	)
	f.svc.now = func() time.Time { return f.clock }

	f.conversations.seed(&model.Conversation{
		ID:          "conv-1",
		PageID:      "P1",
		CustomerID:  "C1",
		ControlMode: model.ModeAutomated,
	})
	return f
}

func TestGetStateIncludesCooperativeCountdown(t *testing.T) {
	f := newControlFixture(t)
	replied := f.clock.Add(-10 * time.Minute)
	f.conversations.seed(&model.Conversation{
		ID:               "conv-coop",
		PageID:           "P1",
		CustomerID:       "C2",
		ControlMode:      model.ModeCooperative,
		LastHumanReplyAt: &replied,
	})

	state, err := f.svc.GetState(context.Background(), "conv-coop")
	require.NoError(t, err)
	assert.Equal(t, model.ModeCooperative, state.ControlMode)
	assert.Equal(t, "20m0s", state.CooperativeRemaining)
}

func TestGetStateUnknownConversation(t *testing.T) {
	f := newControlFixture(t)

	_, err := f.svc.GetState(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSetModeHuman(t *testing.T) {
	f := newControlFixture(t)

	conv, err := f.svc.SetMode(context.Background(), "conv-1", model.ModeHuman)
	require.NoError(t, err)
	assert.Equal(t, model.ModeHuman, conv.ControlMode)
	assert.Equal(t, model.ModeHuman, f.conversations.get("conv-1").ControlMode)
}

func TestSetModeAutomatedClearsInterruptedFlag(t *testing.T) {
	f := newControlFixture(t)
	f.conversations.seed(&model.Conversation{
		ID:               "conv-int",
		PageID:           "P1",
		CustomerID:       "C3",
		ControlMode:      model.ModeHuman,
		HumanInterrupted: true,
	})

	conv, err := f.svc.SetMode(context.Background(), "conv-int", model.ModeAutomated)
	require.NoError(t, err)
	assert.Equal(t, model.ModeAutomated, conv.ControlMode)
	assert.False(t, conv.HumanInterrupted)
}

func TestSetModeRejectsCooperative(t *testing.T) {
	f := newControlFixture(t)

	// Cooperative is entered by operator replies, never set directly.
	_, err := f.svc.SetMode(context.Background(), "conv-1", model.ModeCooperative)
	assert.Error(t, err)
}

func TestSetAndClearPause(t *testing.T) {
	f := newControlFixture(t)
	ctx := context.Background()

	conv, err := f.svc.SetPause(ctx, "conv-1", 15*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, conv.AutoPauseUntil)
	assert.Equal(t, f.clock.Add(15*time.Minute), *conv.AutoPauseUntil)

	conv, err = f.svc.ClearPause(ctx, "conv-1")
	require.NoError(t, err)
	assert.Nil(t, conv.AutoPauseUntil)
}

func TestSetPauseRejectsNonPositiveDuration(t *testing.T) {
	f := newControlFixture(t)

	_, err := f.svc.SetPause(context.Background(), "conv-1", 0)
	assert.Error(t, err)
}

func TestSendOperatorMessage(t *testing.T) {
	f := newControlFixture(t)

	msg, err := f.svc.SendOperatorMessage(context.Background(), "conv-1", "on my way")
	require.NoError(t, err)
	assert.Equal(t, model.RoleOperator, msg.Role)
	assert.Equal(t, model.OriginDashboard, msg.Origin)

	conv := f.conversations.get("conv-1")
	assert.Equal(t, model.ModeCooperative, conv.ControlMode)
	require.NotNil(t, conv.LastHumanReplyAt)

	// The lock is released after the send.
	_, held := f.locks.HolderOf("conv-1")
	assert.False(t, held)
}

func TestSendOperatorMessageBusyWhenAgentHoldsLock(t *testing.T) {
	f := newControlFixture(t)

	acquired, _ := f.locks.TryAcquire("conv-1", lock.HolderAgent, time.Minute)
	require.True(t, acquired)

	_, err := f.svc.SendOperatorMessage(context.Background(), "conv-1", "hold on")
	assert.ErrorIs(t, err, ErrConversationBusy)
	assert.Empty(t, f.messages.all())
}

func TestSendOperatorMessageWaitsOutAgentLock(t *testing.T) {
	f := newControlFixture(t)

	acquired, _ := f.locks.TryAcquire("conv-1", lock.HolderAgent, time.Minute)
	require.True(t, acquired)

	go func() {
		time.Sleep(20 * time.Millisecond)
		f.locks.Release("conv-1")
	}()

	msg, err := f.svc.SendOperatorMessage(context.Background(), "conv-1", "back now")
	require.NoError(t, err)
	assert.Equal(t, "back now", msg.Text)
}

func TestListMessages(t *testing.T) {
	f := newControlFixture(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		_, err := f.svc.SendOperatorMessage(ctx, "conv-1", text)
		require.NoError(t, err)
	}

	resp, err := f.svc.ListMessages(ctx, "conv-1", 0, 2)
	require.NoError(t, err)
	require.Len(t, resp.Messages, 2)
	assert.True(t, resp.HasMore)

	resp, err = f.svc.ListMessages(ctx, "conv-1", resp.LastSequence, 10)
	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "three", resp.Messages[0].Text)
}
