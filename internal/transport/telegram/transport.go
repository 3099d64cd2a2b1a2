// ABOUTME: Telegram transport: long-polls for updates and delivers replies through the Bot API
// ABOUTME: Filters chats against an allow list and drops redelivered updates

package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/errand/internal/chat"
	"github.com/2389/errand/internal/dedupe"
)

// Name is the transport prefix used in chat keys.
const Name = "telegram"

const (
	defaultBaseURL      = "https://api.telegram.org"
	defaultPollTimeout  = 30 * time.Second
	defaultMaxDownload  = 20 << 20 // Bot API getFile limit
	maxMessageRunes     = 4096
	retryDelay          = 3 * time.Second
	dedupeTTL           = 10 * time.Minute
	dedupeMaxEntries    = 10000
	dedupeSweepInterval = time.Minute
)

// Config configures the Telegram transport.
type Config struct {
	Token          string
	BaseURL        string
	PollTimeout    time.Duration
	AllowedChatIDs []int64 // empty allows every chat
	MaxFileBytes   int64
	HTTPClient     *http.Client
}

// Transport implements chat.Transport for a Telegram bot.
type Transport struct {
	api         *api
	pollTimeout time.Duration
	maxFile     int64
	allowed     map[int64]bool
	dedupe      *dedupe.Cache
	logger      *slog.Logger
}

// New creates a Telegram transport.
func New(cfg Config, logger *slog.Logger) (*Transport, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = defaultMaxDownload
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	var allowed map[int64]bool
	if len(cfg.AllowedChatIDs) > 0 {
		allowed = make(map[int64]bool, len(cfg.AllowedChatIDs))
		for _, id := range cfg.AllowedChatIDs {
			allowed[id] = true
		}
	}

	return &Transport{
		api: &api{
			http:    cfg.HTTPClient,
			baseURL: strings.TrimRight(cfg.BaseURL, "/"),
			token:   cfg.Token,
		},
		pollTimeout: cfg.PollTimeout,
		maxFile:     cfg.MaxFileBytes,
		allowed:     allowed,
		dedupe:      dedupe.New(dedupeTTL, dedupeMaxEntries, dedupeSweepInterval),
		logger:      logger.With("component", "telegram"),
	}, nil
}

// Name implements chat.Transport.
func (t *Transport) Name() string { return Name }

// Run long-polls getUpdates and hands every accepted message to h until ctx is done.
func (t *Transport) Run(ctx context.Context, h chat.Handler) error {
	defer t.dedupe.Close()

	t.logger.Info("polling for updates", "timeout", t.pollTimeout, "allowed_chats", len(t.allowed))

	var offset int64
	for {
		if ctx.Err() != nil {
			return nil
		}

		updates, next, err := t.api.getUpdates(ctx, offset, t.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.logger.Warn("getUpdates failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryDelay):
			}
			continue
		}
		offset = next

		for _, u := range updates {
			msg, ok := t.convert(u)
			if !ok {
				continue
			}
			h(ctx, msg)
		}
	}
}

// convert turns an update into a chat message, dropping anything that is not
// an accepted, first-seen user message.
func (t *Transport) convert(u update) (chat.Message, bool) {
	m := u.Message
	if m == nil || m.Chat == nil {
		return chat.Message{}, false
	}
	if m.From != nil && m.From.IsBot {
		return chat.Message{}, false
	}
	if t.allowed != nil && !t.allowed[m.Chat.ID] {
		t.logger.Debug("ignoring message from chat not in allow list", "chat_id", m.Chat.ID)
		return chat.Message{}, false
	}

	chatID := strconv.FormatInt(m.Chat.ID, 10)
	id := chatID + ":" + strconv.FormatInt(m.MessageID, 10)
	if t.dedupe.Seen(id) {
		t.logger.Debug("skipping duplicate update", "update_id", u.UpdateID, "message_id", id)
		return chat.Message{}, false
	}

	msg := chat.Message{
		ID:         id,
		Transport:  Name,
		ChatID:     chatID,
		Text:       m.Text,
		ReceivedAt: time.Now(),
	}
	if m.Date > 0 {
		msg.ReceivedAt = time.Unix(m.Date, 0)
	}
	if m.From != nil {
		msg.Sender = strconv.FormatInt(m.From.ID, 10)
		if m.From.Username != "" {
			msg.Sender = "@" + m.From.Username
		}
	}
	if m.Document != nil {
		if msg.Text == "" {
			msg.Text = m.Caption
		}
		msg.Document = &chat.Document{
			FileID:   m.Document.FileID,
			FileName: m.Document.FileName,
			MimeType: m.Document.MimeType,
			Size:     m.Document.FileSize,
		}
	}
	if msg.Text == "" && msg.Document == nil {
		return chat.Message{}, false
	}
	return msg, true
}

// Send implements chat.Sender. Long texts are split across messages; an
// attachment is uploaded after any text.
func (t *Transport) Send(ctx context.Context, chatID string, r chat.Reply) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}

	if r.Text != "" {
		chunks := splitRunes(r.Text, maxMessageRunes)
		for i, chunk := range chunks {
			body := sendMessageRequest{ChatID: id, Text: chunk}
			if i == len(chunks)-1 && len(r.Keyboard) > 0 {
				body.ReplyMarkup = keyboard(r.Keyboard)
			}
			if err := t.api.sendMessage(ctx, body); err != nil {
				return err
			}
		}
	}

	if a := r.Attachment; a != nil {
		method, field := "sendDocument", "document"
		if a.Kind == chat.AttachmentAudio {
			method, field = "sendAudio", "audio"
		}
		if err := t.api.sendFile(ctx, method, field, id, a.Path, a.FileName, a.Caption); err != nil {
			return err
		}
	}
	return nil
}

// Download implements chat.Link.
func (t *Transport) Download(ctx context.Context, chatID string, doc chat.Document, dst string) error {
	if doc.Size > t.maxFile {
		return fmt.Errorf("%w (%d > %d bytes)", ErrFileTooLarge, doc.Size, t.maxFile)
	}
	f, err := t.api.getFile(ctx, doc.FileID)
	if err != nil {
		return err
	}
	if err := t.api.downloadTo(ctx, f.FilePath, dst, t.maxFile); err != nil {
		return err
	}
	t.logger.Debug("downloaded file", "chat_id", chatID, "file_id", doc.FileID, "dst", dst)
	return nil
}

func keyboard(rows [][]string) *replyKeyboard {
	kb := &replyKeyboard{OneTimeKeyboard: true, ResizeKeyboard: true}
	for _, row := range rows {
		buttons := make([]keyboardButton, len(row))
		for i, label := range row {
			buttons[i] = keyboardButton{Text: label}
		}
		kb.Keyboard = append(kb.Keyboard, buttons)
	}
	return kb
}

// splitRunes cuts s into pieces of at most n runes.
func splitRunes(s string, n int) []string {
	var out []string
	for len(s) > 0 {
		count, cut := 0, len(s)
		for i := range s {
			if count == n {
				cut = i
				break
			}
			count++
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	return out
}
