// ABOUTME: Shared fakes for conversation tests
// ABOUTME: A recording chat link and a small two-state test flow

package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/2389/errand/internal/chat"
	"github.com/2389/errand/internal/fault"
)

type sentReply struct {
	ChatID string
	Reply  chat.Reply
}

type fakeLink struct {
	mu      sync.Mutex
	sent    []sentReply
	sendErr error
}

func (l *fakeLink) Send(ctx context.Context, chatID string, r chat.Reply) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sendErr != nil {
		return l.sendErr
	}
	l.sent = append(l.sent, sentReply{ChatID: chatID, Reply: r})
	return nil
}

func (l *fakeLink) Download(ctx context.Context, chatID string, doc chat.Document, dst string) error {
	return errors.New("no downloads in this test")
}

func (l *fakeLink) texts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.sent))
	for i, s := range l.sent {
		out[i] = s.Reply.Text
	}
	return out
}

func (l *fakeLink) last() string {
	texts := l.texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

func (l *fakeLink) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = nil
}

func textMsg(chatID, text string) chat.Message {
	return chat.Message{
		ID:         fmt.Sprintf("%s-%d", chatID, time.Now().UnixNano()),
		Transport:  "test",
		ChatID:     chatID,
		Sender:     "user-" + chatID,
		Text:       text,
		ReceivedAt: time.Now(),
	}
}

const (
	stateName  StateID = "ask_name"
	stateColor StateID = "ask_color"
)

// errBoom is returned by the test flow when the user answers "boom".
var errBoom = fault.New(fault.SourceWeb, fault.KindUpstream, "status 502", nil)

// greetFlow asks for a name then a colour. Special inputs drive failure paths:
// "boom" fails, "panic" panics, "nowhere" transitions to an undefined state.
type greetFlow struct {
	mu       sync.Mutex
	cleanups []string
	done     []string
}

func (g *greetFlow) cleanedUp() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cleanups...)
}

func (g *greetFlow) completed() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.done...)
}

func (g *greetFlow) flow(id FlowID, trigger string) *Flow {
	return &Flow{
		ID:          id,
		Trigger:     trigger,
		Description: "Say hello",
		Initial:     stateName,
		Start: func(ctx context.Context, req *Request) (Transition, error) {
			return Stay(), req.ReplyText(ctx, "name?")
		},
		States: map[StateID]State{
			stateName: {
				Accept: TextInput,
				Step: func(ctx context.Context, req *Request) (Transition, error) {
					switch req.Message.Text {
					case "boom":
						return Transition{}, errBoom
					case "panic":
						panic("kaboom")
					case "nowhere":
						return GoTo("missing"), nil
					case "again":
						return Stay(), req.ReplyText(ctx, "name again?")
					}
					req.Conversation.Set("name", req.Message.Text)
					return GoTo(stateColor), req.ReplyText(ctx, "colour?")
				},
			},
			stateColor: {
				Accept: TextInput,
				Step: func(ctx context.Context, req *Request) (Transition, error) {
					name := req.Conversation.Get("name")
					g.mu.Lock()
					g.done = append(g.done, name+"/"+req.Message.Text)
					g.mu.Unlock()
					return End(), req.ReplyText(ctx, fmt.Sprintf("hi %s, %s", name, req.Message.Text))
				},
			},
		},
		Cleanup: func(conv *Conversation) {
			g.mu.Lock()
			defer g.mu.Unlock()
			g.cleanups = append(g.cleanups, string(conv.Key))
		},
		Failure: func(err error) string {
			if fault.KindOf(err) == fault.KindUpstream {
				return "upstream broke"
			}
			return ""
		},
	}
}
