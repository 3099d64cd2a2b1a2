// ABOUTME: Ledger event persistence for the SQLite store
// ABOUTME: Insert, lookup by id and per-conversation listing in timestamp order

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveEvent persists a ledger event. Missing IDs and timestamps are filled in.
func (s *SQLiteStore) SaveEvent(ctx context.Context, event *LedgerEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO ledger_events (
			event_id, conversation_key, direction, author, timestamp, type, flow, state, text
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.ConversationKey,
		string(event.Direction),
		event.Author,
		event.Timestamp.UTC().Format(time.RFC3339Nano),
		string(event.Type),
		event.Flow,
		event.State,
		event.Text,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	s.logger.Debug("saved ledger event",
		"event_id", event.ID,
		"conversation_key", event.ConversationKey,
		"type", event.Type,
	)
	return nil
}

// GetEvent retrieves a single event by ID
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*LedgerEvent, error) {
	query := `
		SELECT event_id, conversation_key, direction, author, timestamp, type, flow, state, text
		FROM ledger_events
		WHERE event_id = ?
	`

	event, err := scanEvent(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying event: %w", err)
	}
	return event, nil
}

// ListEventsByConversation retrieves events for a conversation key, oldest first
func (s *SQLiteStore) ListEventsByConversation(ctx context.Context, conversationKey string, limit int) ([]*LedgerEvent, error) {
	query := `
		SELECT event_id, conversation_key, direction, author, timestamp, type, flow, state, text
		FROM ledger_events
		WHERE conversation_key = ?
		ORDER BY timestamp ASC, rowid ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, conversationKey, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*LedgerEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*LedgerEvent, error) {
	event := &LedgerEvent{}
	var timestampStr, direction, eventType string

	err := row.Scan(
		&event.ID,
		&event.ConversationKey,
		&direction,
		&event.Author,
		&timestampStr,
		&eventType,
		&event.Flow,
		&event.State,
		&event.Text,
	)
	if err != nil {
		return nil, err
	}

	event.Direction = EventDirection(direction)
	event.Type = EventType(eventType)
	event.Timestamp, err = time.Parse(time.RFC3339Nano, timestampStr)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	return event, nil
}
