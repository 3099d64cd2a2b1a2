// ABOUTME: Matrix transport: syncs room messages into the bot and sends replies as room events
// ABOUTME: Handles text and file messages, media upload and download, and optional E2EE

package matrix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/attachment"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/errand/internal/chat"
	"github.com/2389/errand/internal/dedupe"
)

// Name is the transport prefix used in chat keys.
const Name = "matrix"

const (
	defaultMaxFileBytes = 20 << 20
	sendTimeout         = 30 * time.Second
	dedupeTTL           = 10 * time.Minute
	dedupeMaxEntries    = 10000
	dedupeSweepInterval = time.Minute
)

// ErrFileTooLarge is returned when a download exceeds the configured cap.
var ErrFileTooLarge = errors.New("matrix file too large")

// Config configures the Matrix transport.
type Config struct {
	Homeserver   string
	UserID       string
	AccessToken  string
	RecoveryKey  string
	Encryption   bool
	AllowedRooms []string // empty allows every joined room
	DataDir      string   // crypto store location
	MaxFileBytes int64
}

// Transport implements chat.Transport for a Matrix account.
type Transport struct {
	cfg     Config
	client  *mautrix.Client
	allowed map[string]bool
	dedupe  *dedupe.Cache
	crypto  *cryptoStore
	logger  *slog.Logger

	// choices remembers the last keyboard sent to each room, by room id.
	choices sync.Map
}

// New creates a Matrix transport. Nothing is contacted until Run.
func New(cfg Config, logger *slog.Logger) (*Transport, error) {
	if cfg.Homeserver == "" || cfg.UserID == "" || cfg.AccessToken == "" {
		return nil, fmt.Errorf("matrix homeserver, user id and access token are required")
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = defaultMaxFileBytes
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	var allowed map[string]bool
	if len(cfg.AllowedRooms) > 0 {
		allowed = make(map[string]bool, len(cfg.AllowedRooms))
		for _, r := range cfg.AllowedRooms {
			allowed[r] = true
		}
	}

	return &Transport{
		cfg:     cfg,
		client:  client,
		allowed: allowed,
		dedupe:  dedupe.New(dedupeTTL, dedupeMaxEntries, dedupeSweepInterval),
		logger:  logger.With("component", "matrix"),
	}, nil
}

// Name implements chat.Transport.
func (t *Transport) Name() string { return Name }

// Run syncs with the homeserver and hands accepted messages to h until ctx is done.
func (t *Transport) Run(ctx context.Context, h chat.Handler) error {
	defer t.dedupe.Close()

	t.logger.Info("starting matrix transport",
		"homeserver", t.cfg.Homeserver,
		"user_id", t.cfg.UserID,
		"encryption", t.cfg.Encryption)

	whoami, err := t.client.Whoami(ctx)
	if err != nil {
		return fmt.Errorf("matrix whoami: %w", err)
	}
	t.client.DeviceID = whoami.DeviceID

	if t.cfg.Encryption {
		t.crypto, err = setupCrypto(ctx, t.client, t.cfg.RecoveryKey, t.cfg.DataDir, t.logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer t.crypto.Close()
	}

	syncer, ok := t.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", t.client.Syncer)
	}
	syncer.OnSync(t.client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		if msg, ok := t.convert(evt); ok {
			h(ctx, msg)
		}
	})
	syncer.OnEventType(event.StateMember, t.handleInvite)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- t.client.SyncWithContext(ctx)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("shutting down matrix transport")
		t.client.StopSync()
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleInvite joins rooms the bot is invited to when they pass the allow list.
func (t *Transport) handleInvite(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != t.client.UserID.String() {
		return
	}
	member := evt.Content.AsMember()
	if member.Membership != event.MembershipInvite {
		return
	}
	if !t.roomAllowed(evt.RoomID.String()) {
		t.logger.Debug("ignoring invite to room not in allow list", "room", evt.RoomID)
		return
	}
	if _, err := t.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		t.logger.Warn("failed to join room", "room", evt.RoomID, "error", err)
		return
	}
	t.logger.Info("joined room", "room", evt.RoomID, "inviter", evt.Sender)
}

func (t *Transport) roomAllowed(roomID string) bool {
	return t.allowed == nil || t.allowed[roomID]
}

// convert turns a room message into a chat message, dropping our own events,
// rooms outside the allow list, redeliveries and unsupported message types.
func (t *Transport) convert(evt *event.Event) (chat.Message, bool) {
	if evt.Sender == t.client.UserID {
		return chat.Message{}, false
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return chat.Message{}, false
	}
	roomID := evt.RoomID.String()
	if !t.roomAllowed(roomID) {
		t.logger.Debug("ignoring message from room not in allow list", "room", roomID)
		return chat.Message{}, false
	}
	if t.dedupe.Seen(evt.ID.String()) {
		t.logger.Debug("skipping duplicate event", "event_id", evt.ID)
		return chat.Message{}, false
	}

	msg := chat.Message{
		ID:         evt.ID.String(),
		Transport:  Name,
		ChatID:     roomID,
		Sender:     evt.Sender.String(),
		ReceivedAt: time.UnixMilli(evt.Timestamp),
	}
	if evt.Timestamp == 0 {
		msg.ReceivedAt = time.Now()
	}

	switch content.MsgType {
	case event.MsgText, event.MsgNotice:
		msg.Text = content.Body
		if labels, ok := t.choices.Load(roomID); ok {
			msg.Text = resolveChoice(msg.Text, labels.([]string))
		}
	case event.MsgFile, event.MsgAudio:
		doc := &chat.Document{
			FileID:   string(content.URL),
			FileName: content.FileName,
		}
		if content.File != nil {
			doc.FileID = string(content.File.URL)
			doc.Encrypted = content.File
		}
		if content.Info != nil {
			doc.MimeType = content.Info.MimeType
			doc.Size = int64(content.Info.Size)
		}
		if doc.FileName == "" {
			doc.FileName = content.Body
		} else if content.Body != doc.FileName {
			msg.Text = content.Body
		}
		msg.Document = doc
	default:
		return chat.Message{}, false
	}

	if strings.TrimSpace(msg.Text) == "" && msg.Document == nil {
		return chat.Message{}, false
	}
	return msg, true
}

// Send implements chat.Sender.
func (t *Transport) Send(ctx context.Context, chatID string, r chat.Reply) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	roomID := id.RoomID(chatID)

	if r.Text != "" || len(r.Keyboard) > 0 {
		body, labels := renderText(r.Text, r.Keyboard)
		if labels != nil {
			t.choices.Store(chatID, labels)
		} else {
			t.choices.Delete(chatID)
		}

		content := &event.MessageEventContent{MsgType: event.MsgText, Body: body}
		if html, ok := renderHTML(body); ok {
			content.Format = event.FormatHTML
			content.FormattedBody = html
		}
		if _, err := t.client.SendMessageEvent(ctx, roomID, event.EventMessage, content); err != nil {
			return fmt.Errorf("sending matrix message: %w", err)
		}
	}

	if r.Attachment != nil {
		if err := t.sendAttachment(ctx, roomID, r.Attachment); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) sendAttachment(ctx context.Context, roomID id.RoomID, a *chat.Attachment) error {
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return fmt.Errorf("reading attachment: %w", err)
	}
	name := a.FileName
	if name == "" {
		name = filepath.Base(a.Path)
	}

	content := &event.MessageEventContent{
		MsgType:  event.MsgFile,
		Body:     name,
		FileName: name,
		Info:     &event.FileInfo{MimeType: a.MimeType, Size: len(data)},
	}
	if a.Kind == chat.AttachmentAudio {
		content.MsgType = event.MsgAudio
	}
	if a.Caption != "" {
		content.Body = a.Caption
	}

	upload := mautrix.ReqUploadMedia{ContentBytes: data, ContentType: a.MimeType, FileName: name}
	encrypted := t.encryptedRoom(ctx, roomID)
	var file *attachment.EncryptedFile
	if encrypted {
		file = attachment.NewEncryptedFile()
		file.EncryptInPlace(upload.ContentBytes)
		upload.ContentType = "application/octet-stream"
	}

	resp, err := t.client.UploadMedia(ctx, upload)
	if err != nil {
		return fmt.Errorf("uploading attachment: %w", err)
	}
	if encrypted {
		content.File = &event.EncryptedFileInfo{EncryptedFile: *file, URL: resp.ContentURI.CUString()}
	} else {
		content.URL = resp.ContentURI.CUString()
	}

	if _, err := t.client.SendMessageEvent(ctx, roomID, event.EventMessage, content); err != nil {
		return fmt.Errorf("sending matrix attachment: %w", err)
	}
	return nil
}

func (t *Transport) encryptedRoom(ctx context.Context, roomID id.RoomID) bool {
	if t.crypto == nil || t.client.StateStore == nil {
		return false
	}
	encrypted, err := t.client.StateStore.IsEncrypted(ctx, roomID)
	if err != nil {
		t.logger.Debug("could not read room encryption state", "room", roomID, "error", err)
		return false
	}
	return encrypted
}

// Download implements chat.Link. Encrypted media is decrypted before it is written.
func (t *Transport) Download(ctx context.Context, chatID string, doc chat.Document, dst string) error {
	if doc.Size > t.cfg.MaxFileBytes {
		return fmt.Errorf("%w (%d > %d bytes)", ErrFileTooLarge, doc.Size, t.cfg.MaxFileBytes)
	}
	mxc, err := id.ContentURIString(doc.FileID).Parse()
	if err != nil {
		return fmt.Errorf("parsing media uri: %w", err)
	}

	resp, err := t.client.Download(ctx, mxc)
	if err != nil {
		return fmt.Errorf("downloading media: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.cfg.MaxFileBytes+1))
	if err != nil {
		return fmt.Errorf("reading media: %w", err)
	}
	if int64(len(data)) > t.cfg.MaxFileBytes {
		return fmt.Errorf("%w (>%d bytes)", ErrFileTooLarge, t.cfg.MaxFileBytes)
	}

	if enc, ok := doc.Encrypted.(*event.EncryptedFileInfo); ok && enc != nil {
		if err := enc.DecryptInPlace(data); err != nil {
			return fmt.Errorf("decrypting media: %w", err)
		}
	}

	if err := os.WriteFile(dst, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	t.logger.Debug("downloaded media", "room", chatID, "mxc", doc.FileID, "bytes", len(data))
	return nil
}
