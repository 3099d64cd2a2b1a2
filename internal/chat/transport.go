// ABOUTME: Transport contract implemented by the Telegram and Matrix bindings
// ABOUTME: Conn binds a transport to a single chat for use inside flow steps

package chat

import "context"

// Handler receives every inbound message accepted by a transport.
type Handler func(ctx context.Context, msg Message)

// Transport receives inbound events and delivers replies for one messaging provider.
type Transport interface {
	Link
	// Name is the transport prefix used in chat keys.
	Name() string
	// Run blocks, feeding inbound messages to h until ctx is cancelled.
	Run(ctx context.Context, h Handler) error
}

// Sender is the outbound half of a Transport.
type Sender interface {
	// Send delivers a reply to a chat.
	Send(ctx context.Context, chatID string, r Reply) error
}

// Link is what flows need from a transport: replies and document downloads.
type Link interface {
	Sender
	// Download stores an inbound document at dst.
	Download(ctx context.Context, chatID string, doc Document, dst string) error
}

// Conn is a transport bound to one chat.
type Conn interface {
	Send(ctx context.Context, r Reply) error
	Download(ctx context.Context, doc Document, dst string) error
}

type boundConn struct {
	t      Link
	chatID string
}

// Bind returns a Conn that talks to chatID through t.
func Bind(t Link, chatID string) Conn {
	return &boundConn{t: t, chatID: chatID}
}

func (c *boundConn) Send(ctx context.Context, r Reply) error {
	return c.t.Send(ctx, c.chatID, r)
}

func (c *boundConn) Download(ctx context.Context, doc Document, dst string) error {
	return c.t.Download(ctx, c.chatID, doc, dst)
}
