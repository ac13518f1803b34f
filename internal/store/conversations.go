// Package store provides JetStream-backed persistence for conversations,
// the idempotency ledger, and the message log.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	natsclient "github.com/shoptalk-ai/webhook-gateway/internal/nats"
	"github.com/shoptalk-ai/webhook-gateway/internal/model"
)

var (
	// ErrNotFound is returned when a conversation does not exist.
	ErrNotFound = errors.New("conversation not found")

	// ErrConflict is returned when a compare-and-update write lost a race.
	ErrConflict = errors.New("conversation was modified concurrently")
)

// ConversationStore persists conversation records in a KV bucket keyed
// page.customer, with revision-checked updates for concurrency safety.
type ConversationStore struct {
	kv    jetstream.KeyValue
	index jetstream.KeyValue
}

// NewConversationStore creates a conversation store over the given buckets.
func NewConversationStore(res *natsclient.Resources) *ConversationStore {
	return &ConversationStore{
		kv:    res.Conversations,
		index: res.ConversationIDs,
	}
}

func recordKey(pageID, customerID string) string {
	return pageID + "." + customerID
}

// FindOrCreate returns the conversation for a (page, customer) pair, creating
// it on first contact. Creation races resolve through the bucket's atomic
// Create: the loser re-reads the winner's record.
func (s *ConversationStore) FindOrCreate(ctx context.Context, pageID, customerID string) (*model.Conversation, error) {
	key := recordKey(pageID, customerID)

	conv, err := s.getByKey(ctx, key)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	conv = &model.Conversation{
		ID:          uuid.Must(uuid.NewV7()).String(),
		PageID:      pageID,
		CustomerID:  customerID,
		ControlMode: model.ModeAutomated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	data, err := json.Marshal(conv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conversation: %w", err)
	}

	rev, err := s.kv.Create(ctx, key, data)
	if errors.Is(err, jetstream.ErrKeyExists) {
		return s.getByKey(ctx, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	conv.Revision = rev

	if _, err := s.index.Put(ctx, conv.ID, []byte(key)); err != nil {
		return nil, fmt.Errorf("failed to index conversation: %w", err)
	}

	return conv, nil
}

// Get returns a conversation by its id.
func (s *ConversationStore) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	entry, err := s.index.Get(ctx, conversationID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve conversation id: %w", err)
	}
	return s.getByKey(ctx, string(entry.Value()))
}

// Update writes a conversation back, guarded by the revision it was read at.
// A concurrent writer causes ErrConflict; callers re-read and retry.
func (s *ConversationStore) Update(ctx context.Context, conv *model.Conversation) error {
	conv.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	rev, err := s.kv.Update(ctx, recordKey(conv.PageID, conv.CustomerID), data, conv.Revision)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	conv.Revision = rev
	return nil
}

func (s *ConversationStore) getByKey(ctx context.Context, key string) (*model.Conversation, error) {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	var conv model.Conversation
	if err := json.Unmarshal(entry.Value(), &conv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	conv.Revision = entry.Revision()
	return &conv, nil
}
