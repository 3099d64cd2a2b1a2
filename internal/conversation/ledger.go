// ABOUTME: Writes routed messages, replies and step failures to the optional audit ledger
// ABOUTME: Inbound messages are recorded before any step runs; ledger errors never fail a route

package conversation

import (
	"context"
	"log/slog"

	"github.com/2389/errand/internal/chat"
	"github.com/2389/errand/internal/store"
)

// BotAuthor is the ledger author for outbound events.
const BotAuthor = "errand-bot"

// recordingConn forwards to the chat and records every delivered reply.
type recordingConn struct {
	chat.Conn
	d    *Dispatcher
	key  chat.Key
	conv *Conversation
	flow string
}

func (d *Dispatcher) conn(msg chat.Message, conv *Conversation) *recordingConn {
	c := &recordingConn{
		Conn: chat.Bind(d.link, msg.ChatID),
		d:    d,
		key:  msg.Key(),
	}
	if conv != nil {
		c.at(conv)
	}
	return c
}

// at points the connection at the conversation whose flow and state label new events.
func (c *recordingConn) at(conv *Conversation) {
	c.conv = conv
	c.flow = string(conv.Flow)
}

func (c *recordingConn) Send(ctx context.Context, r chat.Reply) error {
	if err := c.Conn.Send(ctx, r); err != nil {
		return err
	}
	c.d.recordOutbound(ctx, c.key, c.conv, r)
	return nil
}

func (d *Dispatcher) recordInbound(ctx context.Context, msg chat.Message, conv *Conversation) {
	if d.ledger == nil {
		return
	}
	event := &store.LedgerEvent{
		ConversationKey: string(msg.Key()),
		Direction:       store.EventDirectionInbound,
		Author:          msg.Sender,
		Timestamp:       msg.ReceivedAt,
		Type:            store.EventTypeMessage,
	}
	text := msg.Text
	if msg.Document != nil {
		event.Type = store.EventTypeDocument
		if text == "" {
			text = msg.Document.FileName
		}
	}
	event.Text = &text
	labelEvent(event, conv)
	d.save(ctx, event)
}

func (d *Dispatcher) recordOutbound(ctx context.Context, key chat.Key, conv *Conversation, r chat.Reply) {
	if d.ledger == nil {
		return
	}
	event := &store.LedgerEvent{
		ConversationKey: string(key),
		Direction:       store.EventDirectionOutbound,
		Author:          BotAuthor,
		Type:            store.EventTypeMessage,
	}
	text := r.Text
	if r.Attachment != nil {
		event.Type = store.EventTypeDocument
		if text == "" {
			text = r.Attachment.Caption
		}
		if text == "" {
			text = r.Attachment.FileName
		}
	}
	event.Text = &text
	labelEvent(event, conv)
	d.save(ctx, event)
}

func (d *Dispatcher) recordError(ctx context.Context, conv *Conversation, err error) {
	if d.ledger == nil {
		return
	}
	text := err.Error()
	event := &store.LedgerEvent{
		ConversationKey: string(conv.Key),
		Direction:       store.EventDirectionOutbound,
		Author:          BotAuthor,
		Type:            store.EventTypeError,
		Text:            &text,
	}
	labelEvent(event, conv)
	d.save(ctx, event)
}

func labelEvent(event *store.LedgerEvent, conv *Conversation) {
	if conv == nil {
		return
	}
	event.Flow = string(conv.Flow)
	event.State = string(conv.State)
}

func (d *Dispatcher) save(ctx context.Context, event *store.LedgerEvent) {
	if err := d.ledger.SaveEvent(ctx, event); err != nil {
		d.logger.Log(ctx, slog.LevelWarn, "ledger write failed",
			"key", event.ConversationKey,
			"type", event.Type,
			"error", err)
	}
}
