// ABOUTME: Fakes for flow tests: scripted collaborators and a recording chat link
// ABOUTME: Flows are driven through a real dispatcher, message by message

package flows

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/errand/internal/alert"
	"github.com/2389/errand/internal/chat"
	"github.com/2389/errand/internal/conversation"
)

const testChat = "1"

type fakeLLM struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

type fakeWeb struct {
	text string
	err  error
	urls []string
}

func (f *fakeWeb) FetchText(ctx context.Context, url string) (string, error) {
	f.urls = append(f.urls, url)
	return f.text, f.err
}

type fakePDF struct {
	text  string
	err   error
	paths []string
	// existed records whether each path was on disk when read
	existed []bool
}

func (f *fakePDF) ExtractText(ctx context.Context, path string) (string, error) {
	f.paths = append(f.paths, path)
	_, statErr := os.Stat(path)
	f.existed = append(f.existed, statErr == nil)
	return f.text, f.err
}

type fakeSpeech struct {
	err   error
	texts []string
	paths []string
}

func (f *fakeSpeech) Synthesize(ctx context.Context, text, dst string) error {
	f.texts = append(f.texts, text)
	f.paths = append(f.paths, dst)
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dst, []byte("RIFF-audio"), 0o600)
}

func (f *fakeSpeech) Extension() string { return "wav" }
func (f *fakeSpeech) MimeType() string  { return "audio/wav" }

type fakeAlerts struct {
	watches []alert.Watch
	err     error
}

func (f *fakeAlerts) Start(w alert.Watch) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.watches = append(f.watches, w)
	return fmt.Sprintf("watch-%d", len(f.watches)), nil
}

// sentReply is a reply captured by the link, plus the attachment bytes as they
// were on disk at send time.
type sentReply struct {
	Reply   chat.Reply
	Content []byte
}

type fakeLink struct {
	mu          sync.Mutex
	sent        []sentReply
	sendErr     error
	failPrefix  string // text replies starting with this fail with sendErr
	downloadErr error
	downloads   []string
}

func (l *fakeLink) Send(ctx context.Context, chatID string, r chat.Reply) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sendErr != nil && r.Attachment != nil {
		return l.sendErr
	}
	if l.failPrefix != "" && strings.HasPrefix(r.Text, l.failPrefix) {
		return l.sendErr
	}
	s := sentReply{Reply: r}
	if r.Attachment != nil {
		data, err := os.ReadFile(r.Attachment.Path)
		if err != nil {
			return fmt.Errorf("attachment missing: %w", err)
		}
		s.Content = data
	}
	l.sent = append(l.sent, s)
	return nil
}

func (l *fakeLink) Download(ctx context.Context, chatID string, doc chat.Document, dst string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.downloads = append(l.downloads, dst)
	if l.downloadErr != nil {
		return l.downloadErr
	}
	return os.WriteFile(dst, []byte("%PDF-1.4 test"), 0o600)
}

func (l *fakeLink) last() sentReply {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.sent) == 0 {
		return sentReply{}
	}
	return l.sent[len(l.sent)-1]
}

func (l *fakeLink) lastText() string {
	return l.last().Reply.Text
}

type harness struct {
	t          *testing.T
	link       *fakeLink
	dispatcher *conversation.Dispatcher
	deps       Deps
	llm        *fakeLLM
	web        *fakeWeb
	pdf        *fakePDF
	speech     *fakeSpeech
	alerts     *fakeAlerts
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		link:   &fakeLink{},
		llm:    &fakeLLM{reply: "a summary"},
		web:    &fakeWeb{},
		pdf:    &fakePDF{},
		speech: &fakeSpeech{},
		alerts: &fakeAlerts{},
	}
	h.deps = Deps{
		LLM:           h.llm,
		Web:           h.web,
		PDF:           h.pdf,
		Speech:        h.speech,
		Alerts:        h.alerts,
		Symbols:       map[string]string{"btc": "bitcoin", "eth": "ethereum", "sol": "solana", "bnb": "binancecoin"},
		WorkDir:       t.TempDir(),
		SummaryPrompt: "Summarize this:",
	}

	reg := conversation.NewRegistry()
	require.NoError(t, reg.Register(All(h.deps)...))
	h.dispatcher = conversation.NewDispatcher(reg, h.link, conversation.Options{})
	return h
}

func (h *harness) send(text string) string {
	h.t.Helper()
	return h.route(chat.Message{Text: text})
}

func (h *harness) upload(doc chat.Document) string {
	h.t.Helper()
	return h.route(chat.Message{Document: &doc})
}

func (h *harness) route(msg chat.Message) string {
	h.t.Helper()
	msg.ID = fmt.Sprintf("m-%d", time.Now().UnixNano())
	msg.Transport = "test"
	msg.ChatID = testChat
	msg.Sender = "tester"
	msg.ReceivedAt = time.Now()
	require.NoError(h.t, h.dispatcher.Route(context.Background(), msg))
	return h.link.lastText()
}

func (h *harness) active() *conversation.Conversation {
	conv, err := h.dispatcher.Active(context.Background(), chat.Key("test:"+testChat))
	if errors.Is(err, conversation.ErrNotFound) {
		return nil
	}
	require.NoError(h.t, err)
	return conv
}

// workFiles lists whatever is left in the work dir.
func (h *harness) workFiles() []string {
	entries, err := os.ReadDir(h.deps.WorkDir)
	require.NoError(h.t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

var pdfDoc = chat.Document{FileID: "file-1", FileName: "report.pdf", MimeType: chat.MimePDF, Size: 1234}
