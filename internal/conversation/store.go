// ABOUTME: Conversation state and the store the dispatcher keeps it in
// ABOUTME: MemoryStore hands out copies so steps never mutate shared state in place

package conversation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/2389/errand/internal/chat"
)

// ErrNotFound is returned when a chat has no active conversation
var ErrNotFound = errors.New("conversation not found")

// Conversation is the live instance of a flow for one chat.
type Conversation struct {
	Key       chat.Key
	ChatID    string
	Flow      FlowID
	State     StateID
	Scratch   map[string]string
	StartedAt time.Time
	UpdatedAt time.Time
}

// Get returns a scratch value, or "" if unset.
func (c *Conversation) Get(key string) string {
	return c.Scratch[key]
}

// Set stores a scratch value.
func (c *Conversation) Set(key, value string) {
	if c.Scratch == nil {
		c.Scratch = make(map[string]string)
	}
	c.Scratch[key] = value
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	out := *c
	if c.Scratch != nil {
		out.Scratch = make(map[string]string, len(c.Scratch))
		for k, v := range c.Scratch {
			out.Scratch[k] = v
		}
	}
	return &out
}

// Store holds at most one conversation per chat key.
type Store interface {
	Get(ctx context.Context, key chat.Key) (*Conversation, error)
	Put(ctx context.Context, conv *Conversation) error
	Delete(ctx context.Context, key chat.Key) error
	List(ctx context.Context) ([]*Conversation, error)
}

// MemoryStore is the process-memory Store. Conversations do not survive a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[chat.Key]*Conversation
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[chat.Key]*Conversation)}
}

// Get returns a copy of the conversation for key.
func (s *MemoryStore) Get(ctx context.Context, key chat.Key) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// Put stores a copy of conv, replacing any conversation with the same key.
func (s *MemoryStore) Put(ctx context.Context, conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.convs[conv.Key] = conv.Clone()
	return nil
}

// Delete removes the conversation for key. Deleting a missing key is not an error.
func (s *MemoryStore) Delete(ctx context.Context, key chat.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.convs, key)
	return nil
}

// List returns copies of every conversation, ordered by key.
func (s *MemoryStore) List(ctx context.Context) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Len returns the number of active conversations.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}
