// ABOUTME: Text-to-speech through an external synthesizer command (espeak-ng by default)
// ABOUTME: Feeds the text on stdin, substitutes {output} into the arguments and verifies the audio file

package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/exec"
	"strings"
	"unicode/utf8"

	"github.com/2389/errand/internal/fault"
)

// MaxChars caps the text handed to the synthesizer.
const MaxChars = 1000

// Placeholders recognised in Config.Args. The text is always written to the
// command's stdin; {text} additionally puts it in argv and must follow a "--".
const (
	TextPlaceholder   = "{text}"
	OutputPlaceholder = "{output}"
)

// DefaultArgs runs espeak-ng reading the text from stdin.
var DefaultArgs = []string{"-w", OutputPlaceholder, "--stdin"}

// ErrUnsafeArgs is returned for argument lists where user text could be parsed as an option.
var ErrUnsafeArgs = errors.New("speech args: {text} must be a whole argument after \"--\"")

// CheckArgs reports whether args can carry user text safely: every {text} must
// be a whole argument placed after a "--" terminator.
func CheckArgs(args []string) error {
	terminated := false
	for _, a := range args {
		if a == "--" {
			terminated = true
			continue
		}
		if !strings.Contains(a, TextPlaceholder) {
			continue
		}
		if a != TextPlaceholder || !terminated {
			return ErrUnsafeArgs
		}
	}
	return nil
}

// Config describes the synthesizer invocation.
type Config struct {
	Command   string
	Args      []string
	Extension string // audio file extension without the dot, e.g. "wav"
}

// Engine runs the synthesizer.
type Engine struct {
	command string
	args    []string
	ext     string
	logger  *slog.Logger
}

// New creates an Engine. An empty command selects espeak-ng writing WAV from stdin.
func New(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Command == "" {
		cfg.Command = "espeak-ng"
		cfg.Args = append([]string(nil), DefaultArgs...)
		cfg.Extension = "wav"
	}
	if cfg.Extension == "" {
		cfg.Extension = "wav"
	}
	return &Engine{
		command: cfg.Command,
		args:    cfg.Args,
		ext:     strings.TrimPrefix(cfg.Extension, "."),
		logger:  logger.With("component", "speech"),
	}
}

// Extension returns the audio file extension the engine produces.
func (e *Engine) Extension() string {
	return e.ext
}

// MimeType returns the MIME type of the produced audio.
func (e *Engine) MimeType() string {
	switch e.ext {
	case "wav":
		return "audio/wav"
	case "mp3":
		return "audio/mpeg"
	case "ogg", "oga":
		return "audio/ogg"
	}
	if t := mime.TypeByExtension("." + e.ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Synthesize writes speech for text to dst. Text beyond MaxChars is dropped.
func (e *Engine) Synthesize(ctx context.Context, text, dst string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fault.New(fault.SourceSpeech, fault.KindEmpty, "nothing to say", nil)
	}
	text = capRunes(text, MaxChars)

	if err := CheckArgs(e.args); err != nil {
		return fault.New(fault.SourceSpeech, fault.KindInternal, "refusing synthesizer args", err)
	}

	args := make([]string, len(e.args))
	for i, a := range e.args {
		a = strings.ReplaceAll(a, TextPlaceholder, text)
		args[i] = strings.ReplaceAll(a, OutputPlaceholder, dst)
	}

	cmd := exec.CommandContext(ctx, e.command, args...)
	cmd.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fault.New(fault.SourceSpeech, fault.KindInternal, "synthesizer not installed", err)
		}
		return fault.New(fault.SourceSpeech, fault.KindUpstream, "synthesizer failed", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())))
	}

	info, err := os.Stat(dst)
	if err != nil || info.Size() == 0 {
		return fault.New(fault.SourceSpeech, fault.KindUpstream, "synthesizer produced no audio", err)
	}

	e.logger.Debug("speech synthesized", "chars", utf8.RuneCountInString(text), "bytes", info.Size())
	return nil
}

func capRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
