// Package lock provides per-conversation mutual exclusion between the
// automated agent and human operators, with TTL-based expiry so a crashed
// holder cannot wedge a conversation.
package lock

import (
	"context"
	"sync"
	"time"
)

// Holder identifies the party holding a conversation lock.
type Holder string

const (
	// HolderAgent is the automated agent.
	HolderAgent Holder = "agent"
	// HolderOperator is a human operator replying from the dashboard.
	HolderOperator Holder = "operator"
)

type entry struct {
	holder    Holder
	expiresAt time.Time
	released  chan struct{}
	once      sync.Once
}

func (e *entry) release() {
	e.once.Do(func() { close(e.released) })
}

// Manager serializes responders per conversation. At most one live lock
// exists per conversation id at any instant. Expired entries are reclaimed
// lazily on the next access for that conversation.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*entry

	now func() time.Time
}

// NewManager creates a lock manager.
func NewManager() *Manager {
	return &Manager{
		locks: make(map[string]*entry),
		now:   time.Now,
	}
}

// TryAcquire attempts to take the conversation lock for the given holder.
// It fails if a live lock of any holder type exists, returning that holder.
func (m *Manager) TryAcquire(conversationID string, holder Holder, ttl time.Duration) (bool, Holder) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.locks[conversationID]; ok {
		if now.Before(e.expiresAt) {
			return false, e.holder
		}
		// TTL elapsed: the previous holder crashed or stalled.
		e.release()
	}

	m.locks[conversationID] = &entry{
		holder:    holder,
		expiresAt: now.Add(ttl),
		released:  make(chan struct{}),
	}
	return true, holder
}

// Release frees the conversation lock. Releasing an already-released or
// expired lock is a no-op.
func (m *Manager) Release(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.locks[conversationID]; ok {
		e.release()
		delete(m.locks, conversationID)
	}
}

// WaitForRelease blocks until the conversation's lock is released, its TTL
// elapses, the timeout expires, or the context is done. It returns whether
// the lock became free.
func (m *Manager) WaitForRelease(ctx context.Context, conversationID string, timeout time.Duration) bool {
	m.mu.Lock()
	e, ok := m.locks[conversationID]
	if !ok {
		m.mu.Unlock()
		return true
	}

	now := m.now()
	if !now.Before(e.expiresAt) {
		e.release()
		delete(m.locks, conversationID)
		m.mu.Unlock()
		return true
	}

	released := e.released
	untilExpiry := e.expiresAt.Sub(now)
	m.mu.Unlock()

	expiry := time.NewTimer(untilExpiry)
	defer expiry.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case <-released:
		return true
	case <-expiry.C:
		return true
	case <-deadline.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// HolderOf returns the current live holder, if any.
func (m *Manager) HolderOf(conversationID string) (Holder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.locks[conversationID]
	if !ok || !m.now().Before(e.expiresAt) {
		return "", false
	}
	return e.holder, true
}
