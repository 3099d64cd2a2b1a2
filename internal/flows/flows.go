// ABOUTME: Collaborator interfaces and shared wiring for the five chat flows
// ABOUTME: All returns the flows in the order /help lists them

package flows

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/errand/internal/alert"
	"github.com/2389/errand/internal/chat"
	"github.com/2389/errand/internal/conversation"
	"github.com/2389/errand/internal/fault"
)

// Completer sends one prompt to a language model.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// PageFetcher downloads a web page and returns its visible text.
type PageFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// PDFReader extracts the text of every page of a local PDF.
type PDFReader interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// Synthesizer renders text to an audio file.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, dst string) error
	Extension() string
	MimeType() string
}

// AlertScheduler arms background price watchers.
type AlertScheduler interface {
	Start(w alert.Watch) (string, error)
}

// Deps are the collaborators shared by every flow.
type Deps struct {
	LLM    Completer
	Web    PageFetcher
	PDF    PDFReader
	Speech Synthesizer
	Alerts AlertScheduler

	// Symbols maps supported alert symbols to price feed coin ids.
	Symbols map[string]string
	// WorkDir holds downloaded PDFs and generated files while a step uses them.
	WorkDir string
	// SummaryPrompt is the instruction sent with PDF text for the Summary option.
	SummaryPrompt string

	Logger *slog.Logger
}

func (d Deps) logger(flow string) *slog.Logger {
	l := d.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", "flows", "flow", flow)
}

// All returns every flow, in help order.
func All(d Deps) []*conversation.Flow {
	return []*conversation.Flow{
		SetAlert(d),
		WebSummary(d),
		PDFSummary(d),
		PDFToVoice(d),
		ExtractEmails(d),
	}
}

// tempPath returns a fresh collision-free path inside dir, e.g. dir/temp_<hex>.pdf.
func tempPath(dir, prefix, ext string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fault.New(fault.SourceFiles, fault.KindInternal, "creating work dir", err)
	}
	name := prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	if ext != "" {
		name += "." + strings.TrimPrefix(ext, ".")
	}
	return filepath.Join(dir, name), nil
}

// removeFile deletes path, ignoring files that are already gone.
func removeFile(logger *slog.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("removing temp file", "path", path, "error", err)
	}
}

// download stores an inbound document under a fresh name in dir.
func download(ctx context.Context, req *conversation.Request, doc chat.Document, dir, prefix string) (string, error) {
	path, err := tempPath(dir, prefix, "pdf")
	if err != nil {
		return "", err
	}
	if err := req.Conn.Download(ctx, doc, path); err != nil {
		return path, fault.New(fault.SourceTransport, fault.KindUpstream, "downloading document", err)
	}
	return path, nil
}

// speak synthesizes text and sends it as an audio attachment. The audio file is
// always removed afterwards.
func speak(ctx context.Context, d Deps, logger *slog.Logger, req *conversation.Request, text string) error {
	path, err := tempPath(d.WorkDir, "", d.Speech.Extension())
	if err != nil {
		return err
	}
	defer removeFile(logger, path)

	if err := d.Speech.Synthesize(ctx, Truncate(text, MaxSpeechChars), path); err != nil {
		return err
	}

	return req.Reply(ctx, chat.Reply{
		Attachment: &chat.Attachment{
			Kind:     chat.AttachmentAudio,
			Path:     path,
			FileName: "voice." + d.Speech.Extension(),
			MimeType: d.Speech.MimeType(),
		},
	})
}

// choiceFallback re-offers the keyboard along with the generic invalid-input reply.
func choiceFallback(state conversation.StateID, choices ...string) func(ctx context.Context, req *conversation.Request) error {
	return func(ctx context.Context, req *conversation.Request) error {
		if req.Conversation.State == state {
			return req.Reply(ctx, chat.Prompt(conversation.FallbackText, choices...))
		}
		return req.ReplyText(ctx, conversation.FallbackText)
	}
}
