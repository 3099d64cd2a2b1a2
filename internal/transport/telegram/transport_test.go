// ABOUTME: Tests for the Telegram transport against an httptest Bot API
// ABOUTME: Covers polling, allow list, dedupe, keyboards, uploads and downloads

package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/errand/internal/chat"
)

const testToken = "123:abc"

type fakeBotAPI struct {
	mu       sync.Mutex
	updates  [][]update // one batch per getUpdates call
	offsets  []string
	messages []sendMessageRequest
	uploads  []upload
	files    map[string]string // file_id -> content
}

type upload struct {
	Method   string
	ChatID   string
	Caption  string
	Field    string
	FileName string
	Content  string
}

func (f *fakeBotAPI) handler(t *testing.T) http.Handler {
	prefix := "/bot" + testToken + "/"
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if strings.HasPrefix(r.URL.Path, "/file/bot"+testToken+"/") {
			name := strings.TrimPrefix(r.URL.Path, "/file/bot"+testToken+"/")
			content, ok := f.files[name]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = io.WriteString(w, content)
			return
		}

		method := strings.TrimPrefix(r.URL.Path, prefix)
		switch method {
		case "getUpdates":
			f.offsets = append(f.offsets, r.URL.Query().Get("offset"))
			var batch []update
			if len(f.updates) > 0 {
				batch, f.updates = f.updates[0], f.updates[1:]
			}
			writeOK(w, batch)
		case "sendMessage":
			var body sendMessageRequest
			if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.messages = append(f.messages, body)
			writeOK(w, map[string]any{"message_id": 1})
		case "sendDocument", "sendAudio":
			if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			field := "document"
			if method == "sendAudio" {
				field = "audio"
			}
			fh := r.MultipartForm.File[field]
			if !assert.Len(t, fh, 1) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			fd, err := fh[0].Open()
			if !assert.NoError(t, err) {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			data, _ := io.ReadAll(fd)
			fd.Close()
			f.uploads = append(f.uploads, upload{
				Method:   method,
				ChatID:   r.FormValue("chat_id"),
				Caption:  r.FormValue("caption"),
				Field:    field,
				FileName: fh[0].Filename,
				Content:  string(data),
			})
			writeOK(w, map[string]any{"message_id": 2})
		case "getFile":
			id := r.URL.Query().Get("file_id")
			if _, ok := f.files[id]; !ok {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: invalid file_id"}`)
				return
			}
			writeOK(w, file{FileID: id, FilePath: id})
		default:
			http.NotFound(w, r)
		}
	})
}

func writeOK(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func newTestTransport(t *testing.T, fake *fakeBotAPI, allowed ...int64) *Transport {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	tr, err := New(Config{
		Token:          testToken,
		BaseURL:        srv.URL,
		PollTimeout:    time.Second,
		AllowedChatIDs: allowed,
		MaxFileBytes:   64,
	}, nil)
	require.NoError(t, err)
	return tr
}

func textUpdate(updateID, chatID, messageID int64, text string) update {
	return update{
		UpdateID: updateID,
		Message: &message{
			MessageID: messageID,
			Date:      1700000000,
			Chat:      &tgChat{ID: chatID, Type: "private"},
			From:      &user{ID: chatID, Username: "alice"},
			Text:      text,
		},
	}
}

func TestNew_RequiresToken(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}

func TestRun_DeliversAllowedFirstSeenMessages(t *testing.T) {
	doc := update{
		UpdateID: 13,
		Message: &message{
			MessageID: 4,
			Chat:      &tgChat{ID: 42},
			Caption:   "my report",
			Document:  &document{FileID: "doc-1", FileName: "r.pdf", MimeType: "application/pdf", FileSize: 10},
		},
	}
	fake := &fakeBotAPI{
		updates: [][]update{
			{
				textUpdate(10, 42, 1, "/setalert"),
				textUpdate(11, 99, 2, "not allowed"),
				textUpdate(12, 42, 1, "/setalert"), // redelivered
			},
			{doc},
		},
	}
	tr := newTestTransport(t, fake, 42)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []chat.Message
	done := make(chan error, 1)
	go func() {
		done <- tr.Run(ctx, func(ctx context.Context, msg chat.Message) {
			mu.Lock()
			got = append(got, msg)
			n := len(got)
			mu.Unlock()
			if n == 2 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)

	assert.Equal(t, "42:1", got[0].ID)
	assert.Equal(t, chat.Key("telegram:42"), got[0].Key())
	assert.Equal(t, "/setalert", got[0].Text)
	assert.Equal(t, "@alice", got[0].Sender)
	assert.Equal(t, time.Unix(1700000000, 0), got[0].ReceivedAt)

	assert.Equal(t, "my report", got[1].Text)
	require.NotNil(t, got[1].Document)
	assert.True(t, got[1].Document.IsPDF())
	assert.Equal(t, "doc-1", got[1].Document.FileID)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.GreaterOrEqual(t, len(fake.offsets), 2)
	assert.Equal(t, "", fake.offsets[0])
	assert.Equal(t, "13", fake.offsets[1])
}

func TestSend_TextWithKeyboard(t *testing.T) {
	fake := &fakeBotAPI{}
	tr := newTestTransport(t, fake)

	require.NoError(t, tr.Send(context.Background(), "42", chat.Prompt("Choose option:", "🧠 Summary", "📜 Full Text")))

	require.Len(t, fake.messages, 1)
	m := fake.messages[0]
	assert.Equal(t, int64(42), m.ChatID)
	assert.Equal(t, "Choose option:", m.Text)
	require.NotNil(t, m.ReplyMarkup)
	assert.True(t, m.ReplyMarkup.OneTimeKeyboard)
	assert.True(t, m.ReplyMarkup.ResizeKeyboard)
	assert.Equal(t, [][]keyboardButton{{{Text: "🧠 Summary"}, {Text: "📜 Full Text"}}}, m.ReplyMarkup.Keyboard)
}

func TestSend_SplitsLongText(t *testing.T) {
	fake := &fakeBotAPI{}
	tr := newTestTransport(t, fake)

	long := strings.Repeat("ж", maxMessageRunes+10)
	require.NoError(t, tr.Send(context.Background(), "42", chat.Text(long)))

	require.Len(t, fake.messages, 2)
	assert.Equal(t, maxMessageRunes, len([]rune(fake.messages[0].Text)))
	assert.Equal(t, 10, len([]rune(fake.messages[1].Text)))
}

func TestSend_Attachments(t *testing.T) {
	fake := &fakeBotAPI{}
	tr := newTestTransport(t, fake)

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "emails_1.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("Email\na@b.c\n"), 0o600))
	audioPath := filepath.Join(dir, "x.wav")
	require.NoError(t, os.WriteFile(audioPath, []byte("RIFF"), 0o600))

	require.NoError(t, tr.Send(context.Background(), "7", chat.Reply{Attachment: &chat.Attachment{
		Kind: chat.AttachmentDocument, Path: csvPath, FileName: "emails_1.csv", Caption: "📩 Here are the extracted emails.",
	}}))
	require.NoError(t, tr.Send(context.Background(), "7", chat.Reply{Attachment: &chat.Attachment{
		Kind: chat.AttachmentAudio, Path: audioPath, FileName: "voice.wav",
	}}))

	require.Len(t, fake.uploads, 2)
	assert.Equal(t, upload{
		Method: "sendDocument", ChatID: "7", Caption: "📩 Here are the extracted emails.",
		Field: "document", FileName: "emails_1.csv", Content: "Email\na@b.c\n",
	}, fake.uploads[0])
	assert.Equal(t, "sendAudio", fake.uploads[1].Method)
	assert.Equal(t, "voice.wav", fake.uploads[1].FileName)
	assert.Empty(t, fake.messages)
}

func TestSend_InvalidChatID(t *testing.T) {
	tr := newTestTransport(t, &fakeBotAPI{})
	assert.Error(t, tr.Send(context.Background(), "room", chat.Text("hi")))
}

func TestDownload(t *testing.T) {
	fake := &fakeBotAPI{files: map[string]string{
		"small": "%PDF-1.4 tiny",
		"big":   strings.Repeat("x", 100),
	}}
	tr := newTestTransport(t, fake)
	dir := t.TempDir()

	dst := filepath.Join(dir, "a.pdf")
	require.NoError(t, tr.Download(context.Background(), "42", chat.Document{FileID: "small"}, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 tiny", string(data))

	err = tr.Download(context.Background(), "42", chat.Document{FileID: "big"}, filepath.Join(dir, "b.pdf"))
	assert.ErrorIs(t, err, ErrFileTooLarge)

	err = tr.Download(context.Background(), "42", chat.Document{FileID: "big", Size: 1000}, filepath.Join(dir, "c.pdf"))
	assert.ErrorIs(t, err, ErrFileTooLarge)

	err = tr.Download(context.Background(), "42", chat.Document{FileID: "missing"}, filepath.Join(dir, "d.pdf"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid file_id")
}

func TestSplitRunes(t *testing.T) {
	assert.Equal(t, []string{"ab", "cd", "e"}, splitRunes("abcde", 2))
	assert.Nil(t, splitRunes("", 3))
	assert.Equal(t, []string{"héllo"}, splitRunes("héllo", 10))
}

func TestAPI_ErrorsDoNotLeakToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	a := &api{http: &http.Client{Timeout: time.Second}, baseURL: base, token: testToken}

	_, _, err := a.getUpdates(context.Background(), 0, time.Second)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testToken)
	assert.Contains(t, err.Error(), "<redacted>")

	err = a.sendMessage(context.Background(), sendMessageRequest{ChatID: 1, Text: "hi"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testToken)

	err = a.downloadTo(context.Background(), "docs/file.pdf", filepath.Join(t.TempDir(), "f.pdf"), 1024)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testToken)
	assert.Contains(t, err.Error(), "<redacted>")
}

func TestAPI_RedactedErrorKeepsCause(t *testing.T) {
	fake := &fakeBotAPI{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	a := &api{http: srv.Client(), baseURL: srv.URL, token: testToken}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := a.getUpdates(ctx, 0, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, err.Error(), testToken)
}
