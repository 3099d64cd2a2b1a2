// ABOUTME: In-memory ledger Store for tests
// ABOUTME: Mirrors SQLiteStore semantics without touching disk

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu     sync.RWMutex
	events []*LedgerEvent
	byID   map[string]*LedgerEvent
	err    error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		byID: make(map[string]*LedgerEvent),
	}
}

// FailWith makes every subsequent SaveEvent return err.
func (m *MockStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SaveEvent stores a copy of the event.
func (m *MockStore) SaveEvent(ctx context.Context, event *LedgerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	e := *event
	m.events = append(m.events, &e)
	m.byID[e.ID] = &e
	return nil
}

// GetEvent retrieves an event by ID.
func (m *MockStore) GetEvent(ctx context.Context, id string) (*LedgerEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.byID[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	out := *e
	return &out, nil
}

// ListEventsByConversation returns events for a key in timestamp order.
func (m *MockStore) ListEventsByConversation(ctx context.Context, conversationKey string, limit int) ([]*LedgerEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*LedgerEvent
	for _, e := range m.events {
		if e.ConversationKey == conversationKey {
			c := *e
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Events returns a snapshot of every stored event in insertion order.
func (m *MockStore) Events() []LedgerEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]LedgerEvent, len(m.events))
	for i, e := range m.events {
		out[i] = *e
	}
	return out
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
