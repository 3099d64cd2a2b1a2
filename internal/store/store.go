// ABOUTME: Ledger interfaces and event types for the optional audit trail
// ABOUTME: Conversation and watcher state is never restored from here

package store

import (
	"context"
	"errors"
	"time"
)

// ErrEventNotFound is returned when a requested event does not exist
var ErrEventNotFound = errors.New("event not found")

// EventDirection indicates whether an event came from a user or was sent by the bot
type EventDirection string

const (
	EventDirectionInbound  EventDirection = "inbound"
	EventDirectionOutbound EventDirection = "outbound"
)

// EventType categorizes the kind of event
type EventType string

const (
	EventTypeMessage     EventType = "message"
	EventTypeDocument    EventType = "document"
	EventTypeAlertArmed  EventType = "alert_armed"
	EventTypeAlertFired  EventType = "alert_fired"
	EventTypeAlertHalted EventType = "alert_stopped"
	EventTypeError       EventType = "error"
)

// LedgerEvent is one immutable audit record.
type LedgerEvent struct {
	ID              string
	ConversationKey string // e.g. "telegram:12345", "matrix:!room:server.com"
	Direction       EventDirection
	Author          string
	Timestamp       time.Time
	Type            EventType
	Flow            string // flow id when the event belongs to a conversation
	State           string // state the conversation was in when the event happened
	Text            *string
}

// Ledger is what the dispatcher and the alert supervisor need to record events.
type Ledger interface {
	SaveEvent(ctx context.Context, event *LedgerEvent) error
}

// Store is the full ledger API.
type Store interface {
	Ledger
	GetEvent(ctx context.Context, id string) (*LedgerEvent, error)
	ListEventsByConversation(ctx context.Context, conversationKey string, limit int) ([]*LedgerEvent, error)
	Close() error
}

// clampLimit bounds list queries to 1-500, defaulting to 100.
func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 500 {
		return 500
	}
	return limit
}
