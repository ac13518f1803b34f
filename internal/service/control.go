package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shoptalk-ai/webhook-gateway/internal/arbiter"
	"github.com/shoptalk-ai/webhook-gateway/internal/lock"
	"github.com/shoptalk-ai/webhook-gateway/internal/model"
	"github.com/shoptalk-ai/webhook-gateway/internal/store"
	"github.com/shoptalk-ai/webhook-gateway/pkg/logger"
	"github.com/shoptalk-ai/webhook-gateway/pkg/metrics"
)

// ErrConversationBusy is returned when the agent holds the conversation lock
// and did not release it within the bounded wait.
var ErrConversationBusy = errors.New("conversation is busy")

// MessageLister reads back the message log for the audit endpoint.
type MessageLister interface {
	List(ctx context.Context, pageID, conversationID string, afterSequence uint64, limit int) ([]model.Message, uint64, bool, error)
}

// ControlService implements the dashboard-facing control API: explicit mode
// changes, pauses, state inspection, and operator sends.
type ControlService struct {
	conversations ConversationStore
	messages      MessageRecorder
	lister        MessageLister
	machine       *arbiter.Machine
	locks         *lock.Manager
	lockTTL       time.Duration
	lockWait      time.Duration
	logger        *logger.Logger

	now func() time.Time
}

// NewControlService creates the control service.
func NewControlService(
	conversations ConversationStore,
	messages MessageRecorder,
	lister MessageLister,
	machine *arbiter.Machine,
	locks *lock.Manager,
	lockTTL, lockWait time.Duration,
	log *logger.Logger,
) *ControlService {
	return &ControlService{
		conversations: conversations,
		messages:      messages,
		lister:        lister,
		machine:       machine,
		locks:         locks,
		lockTTL:       lockTTL,
		lockWait:      lockWait,
		logger:        log,
		now:           time.Now,
	}
}

// GetState returns a conversation's arbitration state, including the
// remaining cooperative countdown.
func (s *ControlService) GetState(ctx context.Context, conversationID string) (*model.ControlState, error) {
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	state := &model.ControlState{
		ConversationID:   conv.ID,
		ControlMode:      conv.ControlMode,
		LastHumanReplyAt: conv.LastHumanReplyAt,
		AutoPauseUntil:   conv.AutoPauseUntil,
		CurrentStep:      conv.CurrentStep,
		HumanInterrupted: conv.HumanInterrupted,
	}
	if remaining := s.machine.CooperativeRemaining(conv, s.now()); remaining > 0 {
		state.CooperativeRemaining = remaining.Round(time.Second).String()
	}
	return state, nil
}

// SetMode sets the control mode explicitly, independent of timers. Moving to
// automated also clears the human-interrupted flag: the operator has seen it.
func (s *ControlService) SetMode(ctx context.Context, conversationID string, mode model.ControlMode) (*model.Conversation, error) {
	if mode != model.ModeAutomated && mode != model.ModeHuman {
		return nil, fmt.Errorf("mode %q cannot be set explicitly", mode)
	}

	return s.mutate(ctx, conversationID, func(conv *model.Conversation) {
		if conv.ControlMode != mode {
			metrics.RecordModeTransition(string(conv.ControlMode), string(mode))
		}
		conv.ControlMode = mode
		if mode == model.ModeAutomated {
			conv.HumanInterrupted = false
		}
	})
}

// SetPause mutes the agent until now+d without declaring full human mode.
func (s *ControlService) SetPause(ctx context.Context, conversationID string, d time.Duration) (*model.Conversation, error) {
	if d <= 0 {
		return nil, errors.New("pause duration must be positive")
	}
	until := s.now().UTC().Add(d)
	return s.mutate(ctx, conversationID, func(conv *model.Conversation) {
		conv.AutoPauseUntil = &until
	})
}

// ClearPause removes an operator pause.
func (s *ControlService) ClearPause(ctx context.Context, conversationID string) (*model.Conversation, error) {
	return s.mutate(ctx, conversationID, func(conv *model.Conversation) {
		conv.AutoPauseUntil = nil
	})
}

// ListMessages returns the conversation's audit log.
func (s *ControlService) ListMessages(ctx context.Context, conversationID string, afterSequence uint64, limit int) (*model.ListMessagesResponse, error) {
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	messages, lastSeq, hasMore, err := s.lister.List(ctx, conv.PageID, conv.ID, afterSequence, limit)
	if err != nil {
		return nil, err
	}
	return &model.ListMessagesResponse{
		Messages:     messages,
		HasMore:      hasMore,
		LastSequence: lastSeq,
	}, nil
}

// SendOperatorMessage records a dashboard-originated operator reply. The
// operator takes the conversation lock so the agent cannot answer the same
// message concurrently, then the cooperative transition is applied.
func (s *ControlService) SendOperatorMessage(ctx context.Context, conversationID, text string) (*model.Message, error) {
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	acquired, holder := s.locks.TryAcquire(conv.ID, lock.HolderOperator, s.lockTTL)
	if !acquired && holder == lock.HolderAgent {
		if s.locks.WaitForRelease(ctx, conv.ID, s.lockWait) {
			acquired, _ = s.locks.TryAcquire(conv.ID, lock.HolderOperator, s.lockTTL)
		}
	}
	if !acquired {
		metrics.RecordLockAttempt(string(lock.HolderOperator), "skipped")
		return nil, ErrConversationBusy
	}
	metrics.RecordLockAttempt(string(lock.HolderOperator), "acquired")
	defer s.locks.Release(conv.ID)

	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		PageID:         conv.PageID,
		CustomerID:     conv.CustomerID,
		Role:           model.RoleOperator,
		Origin:         model.OriginDashboard,
		Text:           text,
		CreatedAt:      s.now().UTC(),
	}
	if _, err := s.messages.Append(ctx, msg); err != nil {
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues(string(model.RoleOperator), string(model.OriginDashboard)).Inc()

	for attempt := 0; ; attempt++ {
		out := s.machine.RecordHumanReply(conv, s.now())
		err := s.conversations.Update(ctx, conv)
		if err == nil {
			if out.ModeChanged {
				metrics.RecordModeTransition(string(out.PriorMode), string(conv.ControlMode))
			}
			break
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= casRetries {
			return nil, err
		}
		fresh, getErr := s.conversations.Get(ctx, conv.ID)
		if getErr != nil {
			return nil, getErr
		}
		*conv = *fresh
	}

	s.logger.WithConversation(conv.PageID, conv.CustomerID, conv.ID).
		Info("operator message sent", zap.String("origin", string(model.OriginDashboard)))
	return msg, nil
}

// mutate applies an explicit control mutation with revision-checked writes.
func (s *ControlService) mutate(ctx context.Context, conversationID string, apply func(*model.Conversation)) (*model.Conversation, error) {
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		apply(conv)
		err := s.conversations.Update(ctx, conv)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= casRetries {
			return nil, err
		}
		fresh, getErr := s.conversations.Get(ctx, conv.ID)
		if getErr != nil {
			return nil, getErr
		}
		conv = fresh
	}
}
