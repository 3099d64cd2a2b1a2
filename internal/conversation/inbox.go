// ABOUTME: Per-chat FIFO delivery of inbound messages to the dispatcher
// ABOUTME: Messages from one chat run in arrival order; different chats run concurrently

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/2389/errand/internal/chat"
)

// Router is the part of the Dispatcher the Inbox drives.
type Router interface {
	Route(ctx context.Context, msg chat.Message) error
}

// Inbox queues messages per chat and drains each queue on its own goroutine.
// A drain goroutine exits once its queue is empty, so idle chats cost nothing.
type Inbox struct {
	ctx    context.Context
	router Router
	logger *slog.Logger

	mu     sync.Mutex
	queues map[chat.Key][]chat.Message
	closed bool
	wg     conc.WaitGroup
}

// NewInbox creates an inbox. Steps run with ctx rather than the transport's
// context, so in-flight steps can finish while the transport shuts down.
func NewInbox(ctx context.Context, router Router, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{
		ctx:    ctx,
		router: router,
		logger: logger.With("component", "inbox"),
		queues: make(map[chat.Key][]chat.Message),
	}
}

// Handle is a chat.Handler that enqueues msg.
func (b *Inbox) Handle(_ context.Context, msg chat.Message) {
	b.Submit(msg)
}

// Submit enqueues msg behind any pending messages from the same chat.
// It returns false once the inbox is closed.
func (b *Inbox) Submit(msg chat.Message) bool {
	key := msg.Key()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		b.logger.Warn("inbox closed, dropping message", "key", key, "message_id", msg.ID)
		return false
	}

	pending, draining := b.queues[key]
	b.queues[key] = append(pending, msg)
	if !draining {
		b.wg.Go(func() { b.drain(key) })
	}
	return true
}

func (b *Inbox) drain(key chat.Key) {
	for {
		b.mu.Lock()
		queue := b.queues[key]
		if len(queue) == 0 {
			delete(b.queues, key)
			b.mu.Unlock()
			return
		}
		msg := queue[0]
		b.queues[key] = queue[1:]
		b.mu.Unlock()

		b.deliver(msg)
	}
}

func (b *Inbox) deliver(msg chat.Message) {
	var catcher panics.Catcher
	catcher.Try(func() {
		if err := b.router.Route(b.ctx, msg); err != nil {
			b.logger.Error("routing message", "key", msg.Key(), "message_id", msg.ID, "error", err)
		}
	})
	if r := catcher.Recovered(); r != nil {
		b.logger.Error("router panicked", "key", msg.Key(), "message_id", msg.ID, "panic", r.Value, "stack", string(r.Stack))
	}
}

// Pending returns the number of queued, not yet routed, messages.
func (b *Inbox) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, q := range b.queues {
		n += len(q)
	}
	return n
}

// Close stops accepting messages and waits for queued ones to be routed.
func (b *Inbox) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
}
