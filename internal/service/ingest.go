// Package service implements the gateway's business logic: the event
// ingestion pipeline and the control API operations.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shoptalk-ai/webhook-gateway/internal/arbiter"
	"github.com/shoptalk-ai/webhook-gateway/internal/lock"
	"github.com/shoptalk-ai/webhook-gateway/internal/model"
	"github.com/shoptalk-ai/webhook-gateway/internal/orchestrator"
	"github.com/shoptalk-ai/webhook-gateway/internal/store"
	"github.com/shoptalk-ai/webhook-gateway/internal/webhook"
	"github.com/shoptalk-ai/webhook-gateway/pkg/logger"
	"github.com/shoptalk-ai/webhook-gateway/pkg/metrics"
)

// ConversationStore is the conversation persistence contract.
type ConversationStore interface {
	FindOrCreate(ctx context.Context, pageID, customerID string) (*model.Conversation, error)
	Get(ctx context.Context, conversationID string) (*model.Conversation, error)
	Update(ctx context.Context, conv *model.Conversation) error
}

// MessageRecorder appends messages to the audit log.
type MessageRecorder interface {
	Append(ctx context.Context, msg *model.Message) (uint64, error)
}

// EventLedger records processed delivery keys.
type EventLedger interface {
	RecordIfNew(ctx context.Context, key string) (bool, error)
}

// Outcome is the terminal result of processing one webhook event.
type Outcome string

const (
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeUnrecognized Outcome = "unrecognized"
	OutcomeOperator     Outcome = "operator_recorded"
	OutcomeSuppressed   Outcome = "suppressed"
	OutcomeProcessed    Outcome = "processed"
	OutcomeSkipped      Outcome = "skipped_lock_held"
	OutcomeBotFailed    Outcome = "bot_failed"
)

// casRetries bounds re-reads when a concurrent worker wins a conversation
// write. Control fields are last-writer-wins, so a handful is plenty.
const casRetries = 3

// IngestConfig holds the tunables of the ingestion pipeline.
type IngestConfig struct {
	LockTTL             time.Duration
	LockWait            time.Duration
	HumanRecheckGrace   time.Duration
	OrchestratorTimeout time.Duration
}

// IngestService runs the ingestion pipeline for decoded webhook events:
// dedupe, classify, record, decide, lock, invoke.
type IngestService struct {
	conversations ConversationStore
	messages      MessageRecorder
	ledger        EventLedger
	classifier    *webhook.Classifier
	machine       *arbiter.Machine
	locks         *lock.Manager
	bot           orchestrator.Orchestrator
	cfg           IngestConfig
	logger        *logger.Logger

	now func() time.Time
}

// NewIngestService creates the ingestion service.
func NewIngestService(
	conversations ConversationStore,
	messages MessageRecorder,
	ledger EventLedger,
	classifier *webhook.Classifier,
	machine *arbiter.Machine,
	locks *lock.Manager,
	bot orchestrator.Orchestrator,
	cfg IngestConfig,
	log *logger.Logger,
) *IngestService {
	return &IngestService{
		conversations: conversations,
		messages:      messages,
		ledger:        ledger,
		classifier:    classifier,
		machine:       machine,
		locks:         locks,
		bot:           bot,
		cfg:           cfg,
		logger:        log,
		now:           time.Now,
	}
}

// HandleEvent processes one decoded event to its terminal outcome. Errors are
// returned only for infrastructure failures; every arbitration result,
// including suppression and duplicates, is a non-error outcome.
func (s *IngestService) HandleEvent(ctx context.Context, ev *webhook.Event) (Outcome, error) {
	fresh, err := s.ledger.RecordIfNew(ctx, ev.IdempotencyKey())
	if err != nil {
		return "", err
	}
	if !fresh {
		metrics.DuplicateEventsTotal.Inc()
		metrics.RecordEvent(string(OutcomeDuplicate))
		s.logger.Debug("duplicate event dropped", zap.String("key", ev.IdempotencyKey()))
		return OutcomeDuplicate, nil
	}

	source, pageID, customerID := s.classifier.Classify(ev.SenderID, ev.RecipientID)
	if source == webhook.SourceUnrecognized {
		metrics.RecordEvent(string(OutcomeUnrecognized))
		s.logger.Warn("event matches no known page",
			zap.String("sender_id", ev.SenderID),
			zap.String("recipient_id", ev.RecipientID),
		)
		return OutcomeUnrecognized, nil
	}

	conv, err := s.conversations.FindOrCreate(ctx, pageID, customerID)
	if err != nil {
		return "", err
	}
	log := s.logger.WithConversation(pageID, customerID, conv.ID)

	if source == webhook.SourceOperator {
		outcome, err := s.handleOperatorEvent(ctx, conv, ev, log)
		if err == nil {
			metrics.RecordEvent(string(outcome))
		}
		return outcome, err
	}

	outcome, err := s.handleCustomerEvent(ctx, conv, ev, log)
	if err == nil {
		metrics.RecordEvent(string(outcome))
	}
	return outcome, err
}

// handleOperatorEvent records a human reply relayed through the channel and
// applies the cooperative transition. It never invokes the orchestrator.
func (s *IngestService) handleOperatorEvent(ctx context.Context, conv *model.Conversation, ev *webhook.Event, log *logger.Logger) (Outcome, error) {
	if err := s.recordMessage(ctx, conv, ev, model.RoleOperator); err != nil {
		return "", err
	}

	err := s.applyWithRetry(ctx, conv, func(c *model.Conversation) arbiter.Outcome {
		return s.machine.RecordHumanReply(c, s.now())
	})
	if err != nil {
		return "", err
	}

	log.Info("operator reply recorded", zap.String("control_mode", string(conv.ControlMode)))
	return OutcomeOperator, nil
}

// handleCustomerEvent records the customer message, evaluates the turn, and
// drives the lock/orchestrator protocol when the agent is granted the turn.
func (s *IngestService) handleCustomerEvent(ctx context.Context, conv *model.Conversation, ev *webhook.Event, log *logger.Logger) (Outcome, error) {
	// The inbound message is recorded before any arbitration so a processing
	// failure can never lose it.
	if err := s.recordMessage(ctx, conv, ev, model.RoleCustomer); err != nil {
		return "", err
	}

	var out arbiter.Outcome
	err := s.applyWithRetry(ctx, conv, func(c *model.Conversation) arbiter.Outcome {
		out = s.machine.EvaluateCustomerTurn(c, s.now())
		return out
	})
	if err != nil {
		return "", err
	}

	if out.ProtectedOverride {
		metrics.ProtectedOverridesTotal.Inc()
		log.Info("protected step override", zap.String("step", conv.CurrentStep))
	}

	if out.Decision == arbiter.Suppress {
		log.Debug("automated turn suppressed", zap.String("control_mode", string(conv.ControlMode)))
		return OutcomeSuppressed, nil
	}

	return s.runAutomatedTurn(ctx, conv, ev, log)
}

// runAutomatedTurn serializes the granted turn against concurrent responders
// and invokes the orchestrator.
func (s *IngestService) runAutomatedTurn(ctx context.Context, conv *model.Conversation, ev *webhook.Event, log *logger.Logger) (Outcome, error) {
	acquired, holder := s.locks.TryAcquire(conv.ID, lock.HolderAgent, s.cfg.LockTTL)
	if !acquired && holder == lock.HolderOperator {
		// A human is composing a reply to the same message. Give them a
		// bounded head start; a stale lock self-expires inside the wait.
		waitStart := s.now()
		if s.locks.WaitForRelease(ctx, conv.ID, s.cfg.LockWait) {
			acquired, _ = s.locks.TryAcquire(conv.ID, lock.HolderAgent, s.cfg.LockTTL)
		}
		metrics.LockWaitDuration.Observe(s.now().Sub(waitStart).Seconds())
	}
	if !acquired {
		metrics.RecordLockAttempt(string(lock.HolderAgent), "skipped")
		log.Info("turn skipped, lock held", zap.String("holder", string(holder)))
		return OutcomeSkipped, nil
	}
	metrics.RecordLockAttempt(string(lock.HolderAgent), "acquired")
	defer s.locks.Release(conv.ID)

	// Between the decision and this point a human reply may have landed.
	// Re-read and skip the turn if one arrived within the grace window,
	// unless the conversation is in a protected step.
	fresh, err := s.conversations.Get(ctx, conv.ID)
	if err != nil {
		fresh = conv
	}
	if !s.machine.IsProtected(fresh.CurrentStep) {
		if fresh.ControlMode == model.ModeHuman ||
			s.machine.HumanRepliedSince(fresh, s.now().Add(-s.cfg.HumanRecheckGrace)) {
			log.Info("turn skipped, human replied after decision")
			return OutcomeSuppressed, nil
		}
	}

	botCtx, cancel := context.WithTimeout(ctx, s.cfg.OrchestratorTimeout)
	defer cancel()

	start := s.now()
	err = s.bot.Process(botCtx, &orchestrator.Request{
		PageID:         conv.PageID,
		CustomerID:     conv.CustomerID,
		ConversationID: conv.ID,
		MessageText:    messageText(ev),
		ImageURL:       ev.ImageURL,
	})
	duration := s.now().Sub(start).Seconds()
	if err != nil {
		// The message is already recorded; a human can pick it up later.
		metrics.OrchestratorDuration.WithLabelValues("error").Observe(duration)
		log.Error("bot processing failed", zap.Error(err))
		return OutcomeBotFailed, nil
	}
	metrics.OrchestratorDuration.WithLabelValues("success").Observe(duration)

	return OutcomeProcessed, nil
}

// applyWithRetry runs a state transition against the conversation and
// persists it with a revision check, re-reading and re-applying on conflict.
func (s *IngestService) applyWithRetry(ctx context.Context, conv *model.Conversation, apply func(*model.Conversation) arbiter.Outcome) error {
	for attempt := 0; ; attempt++ {
		out := apply(conv)
		if !out.Changed {
			return nil
		}

		err := s.conversations.Update(ctx, conv)
		if err == nil {
			if out.ModeChanged {
				metrics.RecordModeTransition(string(out.PriorMode), string(conv.ControlMode))
			}
			return nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= casRetries {
			return err
		}

		fresh, getErr := s.conversations.Get(ctx, conv.ID)
		if getErr != nil {
			return getErr
		}
		*conv = *fresh
	}
}

func (s *IngestService) recordMessage(ctx context.Context, conv *model.Conversation, ev *webhook.Event, role model.Role) error {
	msg := &model.Message{
		ID:                uuid.Must(uuid.NewV7()).String(),
		ConversationID:    conv.ID,
		PageID:            conv.PageID,
		CustomerID:        conv.CustomerID,
		Role:              role,
		Origin:            model.OriginChannel,
		Text:              ev.Text,
		ImageURL:          ev.ImageURL,
		Postback:          ev.PostbackPayload,
		PlatformMessageID: ev.MessageID,
		CreatedAt:         s.now().UTC(),
	}
	if _, err := s.messages.Append(ctx, msg); err != nil {
		return err
	}
	metrics.MessagesTotal.WithLabelValues(string(role), string(model.OriginChannel)).Inc()
	return nil
}

func messageText(ev *webhook.Event) string {
	if ev.Kind == webhook.KindPostback {
		return ev.PostbackPayload
	}
	return ev.Text
}
