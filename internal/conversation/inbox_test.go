// ABOUTME: Tests for per-chat FIFO delivery in the Inbox
// ABOUTME: Verifies ordering within a chat, independence across chats, draining and panic recovery

package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/errand/internal/chat"
)

type recordingRouter struct {
	mu     sync.Mutex
	seen   map[chat.Key][]string
	block  map[chat.Key]chan struct{}
	panics map[string]bool
}

func newRecordingRouter() *recordingRouter {
	return &recordingRouter{
		seen:   make(map[chat.Key][]string),
		block:  make(map[chat.Key]chan struct{}),
		panics: make(map[string]bool),
	}
}

func (r *recordingRouter) Route(ctx context.Context, msg chat.Message) error {
	r.mu.Lock()
	gate := r.block[msg.Key()]
	shouldPanic := r.panics[msg.Text]
	r.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if shouldPanic {
		panic("router exploded")
	}

	r.mu.Lock()
	r.seen[msg.Key()] = append(r.seen[msg.Key()], msg.Text)
	r.mu.Unlock()
	return nil
}

func (r *recordingRouter) texts(key chat.Key) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen[key]...)
}

func TestInbox_PreservesOrderPerChat(t *testing.T) {
	router := newRecordingRouter()
	inbox := NewInbox(context.Background(), router, nil)

	var want []string
	for i := 0; i < 100; i++ {
		text := fmt.Sprintf("m%03d", i)
		want = append(want, text)
		require.True(t, inbox.Submit(textMsg("a", text)))
	}
	inbox.Close()

	assert.Equal(t, want, router.texts("test:a"))
	assert.Zero(t, inbox.Pending())
}

func TestInbox_SlowChatDoesNotBlockOthers(t *testing.T) {
	router := newRecordingRouter()
	gate := make(chan struct{})
	router.block["test:slow"] = gate

	inbox := NewInbox(context.Background(), router, nil)
	inbox.Submit(textMsg("slow", "stuck"))
	inbox.Submit(textMsg("fast", "through"))

	assert.Eventually(t, func() bool {
		return len(router.texts("test:fast")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, router.texts("test:slow"))

	close(gate)
	inbox.Close()
	assert.Equal(t, []string{"stuck"}, router.texts("test:slow"))
}

func TestInbox_HandleMatchesChatHandler(t *testing.T) {
	router := newRecordingRouter()
	inbox := NewInbox(context.Background(), router, nil)

	var h chat.Handler = inbox.Handle
	h(context.Background(), textMsg("a", "hi"))
	inbox.Close()

	assert.Equal(t, []string{"hi"}, router.texts("test:a"))
}

func TestInbox_RejectsAfterClose(t *testing.T) {
	inbox := NewInbox(context.Background(), newRecordingRouter(), nil)
	inbox.Close()

	assert.False(t, inbox.Submit(textMsg("a", "late")))
}

func TestInbox_PanicDoesNotStallChat(t *testing.T) {
	router := newRecordingRouter()
	router.panics["bad"] = true

	inbox := NewInbox(context.Background(), router, nil)
	inbox.Submit(textMsg("a", "one"))
	inbox.Submit(textMsg("a", "bad"))
	inbox.Submit(textMsg("a", "two"))
	inbox.Close()

	assert.Equal(t, []string{"one", "two"}, router.texts("test:a"))
}

func TestInbox_DrivesDispatcherInOrder(t *testing.T) {
	h := newHarness(t, ReentryReject)
	inbox := NewInbox(context.Background(), h.d, nil)

	for _, text := range []string{"/greet", "carol", "green"} {
		inbox.Submit(textMsg("1", text))
	}
	inbox.Close()

	assert.Equal(t, []string{"name?", "colour?", "hi carol, green"}, h.link.texts())
	assert.Equal(t, []string{"carol/green"}, h.greet.completed())
}
