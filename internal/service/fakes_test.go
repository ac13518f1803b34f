package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shoptalk-ai/webhook-gateway/internal/model"
	"github.com/shoptalk-ai/webhook-gateway/internal/orchestrator"
	"github.com/shoptalk-ai/webhook-gateway/internal/store"
)

// memConversations is an in-memory ConversationStore with revision-checked
// updates, mirroring the KV bucket's semantics.
type memConversations struct {
	mu    sync.Mutex
	byKey map[string]*model.Conversation
	byID  map[string]string
	seq   int
}

func newMemConversations() *memConversations {
	return &memConversations{
		byKey: make(map[string]*model.Conversation),
		byID:  make(map[string]string),
	}
}

func (s *memConversations) FindOrCreate(ctx context.Context, pageID, customerID string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pageID + "." + customerID
	if conv, ok := s.byKey[key]; ok {
		c := *conv
		return &c, nil
	}

	s.seq++
	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:          fmt.Sprintf("conv-%d", s.seq),
		PageID:      pageID,
		CustomerID:  customerID,
		ControlMode: model.ModeAutomated,
		CreatedAt:   now,
		UpdatedAt:   now,
		Revision:    1,
	}
	s.byKey[key] = conv
	s.byID[conv.ID] = key

	c := *conv
	return &c, nil
}

func (s *memConversations) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.byID[conversationID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *s.byKey[key]
	return &c, nil
}

func (s *memConversations) Update(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := conv.PageID + "." + conv.CustomerID
	current, ok := s.byKey[key]
	if !ok {
		return store.ErrNotFound
	}
	if current.Revision != conv.Revision {
		return store.ErrConflict
	}

	conv.Revision++
	conv.UpdatedAt = time.Now().UTC()
	c := *conv
	s.byKey[key] = &c
	return nil
}

// seed installs a conversation directly, bypassing FindOrCreate.
func (s *memConversations) seed(conv *model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv.Revision == 0 {
		conv.Revision = 1
	}
	key := conv.PageID + "." + conv.CustomerID
	c := *conv
	s.byKey[key] = &c
	s.byID[conv.ID] = key
}

func (s *memConversations) get(conversationID string) *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *s.byKey[s.byID[conversationID]]
	return &c
}

// memMessages records appended messages.
type memMessages struct {
	mu       sync.Mutex
	messages []model.Message
}

func (m *memMessages) Append(ctx context.Context, msg *model.Message) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, *msg)
	return uint64(len(m.messages)), nil
}

func (m *memMessages) List(ctx context.Context, pageID, conversationID string, afterSequence uint64, limit int) ([]model.Message, uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Message
	var last uint64
	for i, msg := range m.messages {
		seq := uint64(i + 1)
		if msg.ConversationID != conversationID || seq <= afterSequence {
			continue
		}
		msg.Sequence = seq
		out = append(out, msg)
		last = seq
		if len(out) == limit {
			break
		}
	}
	return out, last, len(out) == limit, nil
}

func (m *memMessages) all() []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Message(nil), m.messages...)
}

// memLedger is an in-memory idempotency ledger.
type memLedger struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newMemLedger() *memLedger {
	return &memLedger{seen: make(map[string]struct{})}
}

func (l *memLedger) RecordIfNew(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[key]; ok {
		return false, nil
	}
	l.seen[key] = struct{}{}
	return true, nil
}

// fakeBot counts orchestrator invocations.
type fakeBot struct {
	mu       sync.Mutex
	requests []orchestratorRequest
	err      error
}

type orchestratorRequest struct {
	ConversationID string
	MessageText    string
	ImageURL       string
}

func (b *fakeBot) Process(ctx context.Context, req *orchestrator.Request) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, orchestratorRequest{
		ConversationID: req.ConversationID,
		MessageText:    req.MessageText,
		ImageURL:       req.ImageURL,
	})
	return b.err
}

func (b *fakeBot) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}
