// ABOUTME: Transport-neutral inbound message and outbound reply types
// ABOUTME: Shared by the transports, the conversation dispatcher and the flows

package chat

import (
	"strings"
	"time"
)

// Key identifies one chat across all transports, e.g. "telegram:12345".
type Key string

// MimePDF is the only document type the PDF flows accept.
const MimePDF = "application/pdf"

// Document describes a file attachment on an inbound message.
type Document struct {
	FileID   string // transport handle used to download the file
	FileName string
	MimeType string
	Size     int64

	// Encrypted carries transport-specific decryption material (Matrix E2EE media).
	Encrypted any
}

// IsPDF reports whether the document declares the PDF mime type.
func (d *Document) IsPDF() bool {
	return d != nil && strings.EqualFold(d.MimeType, MimePDF)
}

// Message is one inbound event from a transport.
type Message struct {
	ID         string // transport event id, used for dedupe
	Transport  string // "telegram", "matrix"
	ChatID     string // transport-native chat or room id
	Sender     string
	Text       string
	Document   *Document
	ReceivedAt time.Time
}

// Key returns the conversation key for the chat this message belongs to.
func (m Message) Key() Key {
	return Key(m.Transport + ":" + m.ChatID)
}

// Command returns the leading slash command of the message text, lower-cased and
// without any "@botname" suffix. Returns "" when the text is not a command.
func (m Message) Command() string {
	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	word := text
	if i := strings.IndexAny(text, " \t\n"); i >= 0 {
		word = text[:i]
	}
	if i := strings.Index(word, "@"); i >= 0 {
		word = word[:i]
	}
	if word == "/" {
		return ""
	}
	return strings.ToLower(word)
}

// HasText reports whether the message carries non-blank text.
func (m Message) HasText() bool {
	return strings.TrimSpace(m.Text) != ""
}

// AttachmentKind selects how a file is presented to the user.
type AttachmentKind string

const (
	AttachmentDocument AttachmentKind = "document"
	AttachmentAudio    AttachmentKind = "audio"
)

// Attachment is a local file sent along with a reply.
type Attachment struct {
	Kind     AttachmentKind
	Path     string
	FileName string
	MimeType string
	Caption  string
}

// Reply is one outbound message. Keyboard rows are rendered as a one-time reply
// keyboard where the transport supports it.
type Reply struct {
	Text       string
	Keyboard   [][]string
	Attachment *Attachment
}

// Text builds a plain text reply.
func Text(s string) Reply {
	return Reply{Text: s}
}

// Prompt builds a text reply with a single-row keyboard of choices.
func Prompt(s string, choices ...string) Reply {
	return Reply{Text: s, Keyboard: [][]string{choices}}
}
