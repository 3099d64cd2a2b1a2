// ABOUTME: Flow definitions: states, acceptance predicates, step handlers and transitions
// ABOUTME: Flows are immutable after registration and shared by every conversation

package conversation

import (
	"context"

	"github.com/2389/errand/internal/chat"
)

// FlowID names a flow, e.g. "setalert".
type FlowID string

// StateID names one state within a flow.
type StateID string

// Predicate decides whether a state accepts an inbound message.
type Predicate func(msg chat.Message) bool

// TextInput accepts non-blank text that is not a command.
func TextInput(msg chat.Message) bool {
	return msg.HasText() && msg.Command() == ""
}

// AnyInput accepts text or a document, but never a command.
func AnyInput(msg chat.Message) bool {
	if msg.Command() != "" {
		return false
	}
	return msg.HasText() || msg.Document != nil
}

// DocumentOrText accepts a PDF document or non-command text. Other uploads are rejected.
func DocumentOrText(msg chat.Message) bool {
	if msg.Document != nil {
		return msg.Document.IsPDF()
	}
	return TextInput(msg)
}

// Request is what a step receives: the message, the conversation it advances and
// a connection back to the chat.
type Request struct {
	Message      chat.Message
	Conversation *Conversation
	Conn         chat.Conn
}

// Reply sends one message back to the chat.
func (r *Request) Reply(ctx context.Context, reply chat.Reply) error {
	return r.Conn.Send(ctx, reply)
}

// ReplyText sends a plain text message back to the chat.
func (r *Request) ReplyText(ctx context.Context, text string) error {
	return r.Conn.Send(ctx, chat.Text(text))
}

// Transition is a step's verdict on where the conversation goes next.
// The zero value keeps the conversation in its current state.
type Transition struct {
	Next StateID
	End  bool
}

// Stay keeps the conversation in its current state, e.g. to re-prompt.
func Stay() Transition { return Transition{} }

// GoTo moves the conversation to state.
func GoTo(state StateID) Transition { return Transition{Next: state} }

// End destroys the conversation.
func End() Transition { return Transition{End: true} }

// Step handles one message in one state. A returned error ends the conversation
// and is turned into a reply by the flow's Failure hook.
type Step func(ctx context.Context, req *Request) (Transition, error)

// State binds an acceptance predicate to a step. A nil Accept means AnyInput.
type State struct {
	Accept Predicate
	Step   Step
}

func (s State) accepts(msg chat.Message) bool {
	if s.Accept == nil {
		return AnyInput(msg)
	}
	return s.Accept(msg)
}

// Flow is one user-facing feature: an entry trigger and a closed set of states.
type Flow struct {
	ID          FlowID
	Trigger     string // "/setalert"
	Description string // shown by /help
	Initial     StateID

	// Start runs on the trigger message with the conversation already in Initial.
	// It normally sends the first prompt and returns Stay.
	Start Step

	States map[StateID]State

	// Fallback answers input the current state rejects. Nil sends FallbackText.
	Fallback func(ctx context.Context, req *Request) error

	// Cleanup runs whenever a conversation of this flow is destroyed: on completion,
	// failure, cancel, restart and shutdown. It must be idempotent.
	Cleanup func(conv *Conversation)

	// Failure maps a step error to the user-facing reply. Nil sends ApologyText.
	Failure func(err error) string
}

// Help returns the /help line for the flow.
func (f *Flow) Help() string {
	if f.Description == "" {
		return f.Trigger
	}
	return f.Trigger + " - " + f.Description
}
