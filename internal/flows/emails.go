// ABOUTME: /extractemails flow: finds email addresses on a web page
// ABOUTME: Replies with one address per line or a CSV attachment that is removed after sending

package flows

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/2389/errand/internal/chat"
	"github.com/2389/errand/internal/conversation"
	"github.com/2389/errand/internal/fault"
)

const (
	FlowExtractEmails conversation.FlowID = "extractemails"

	StateAskEmailURL conversation.StateID = "ask_email_url"
	StateAskFormat   conversation.StateID = "ask_format"
)

const (
	NoEmailsText     = "❌ No emails found."
	EmailsCaption    = "📩 Here are the extracted emails."
	EmailsFailedText = "❌ Failed."
)

var emailRe = regexp.MustCompile(`[\w.-]+@[\w.-]+`)

// FindEmails returns the distinct email-shaped substrings of text, sorted.
func FindEmails(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range emailRe.FindAllString(text, -1) {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// WriteEmailsCSV writes a UTF-8 CSV with a BOM, an "Email" header and one row per address.
func WriteEmailsCSV(path string, emails []string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fault.New(fault.SourceFiles, fault.KindInternal, "creating csv", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fault.New(fault.SourceFiles, fault.KindInternal, "closing csv", cerr)
		}
	}()

	if _, err := f.WriteString("\ufeff"); err != nil {
		return fault.New(fault.SourceFiles, fault.KindInternal, "writing csv", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"Email"}); err != nil {
		return fault.New(fault.SourceFiles, fault.KindInternal, "writing csv", err)
	}
	for _, e := range emails {
		if err := w.Write([]string{e}); err != nil {
			return fault.New(fault.SourceFiles, fault.KindInternal, "writing csv", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fault.New(fault.SourceFiles, fault.KindInternal, "writing csv", err)
	}
	return nil
}

// ExtractEmails builds the email extraction flow.
func ExtractEmails(d Deps) *conversation.Flow {
	logger := d.logger(string(FlowExtractEmails))

	askURL := func(ctx context.Context, req *conversation.Request) (conversation.Transition, error) {
		req.Conversation.Set(scratchURL, strings.TrimSpace(req.Message.Text))
		if err := req.Reply(ctx, chat.Prompt("📁 Choose format:", LabelPlainText, LabelCSVFile)); err != nil {
			return conversation.Stay(), err
		}
		return conversation.GoTo(StateAskFormat), nil
	}

	askFormat := func(ctx context.Context, req *conversation.Request) (conversation.Transition, error) {
		format, _ := ParseEmailFormat(req.Message.Text)
		url := req.Conversation.Get(scratchURL)

		text, err := d.Web.FetchText(ctx, url)
		if err != nil && fault.KindOf(err) != fault.KindEmpty {
			return conversation.End(), err
		}

		emails := FindEmails(text)
		logger.Debug("emails extracted", "url", url, "count", len(emails), "format", format)
		if len(emails) == 0 {
			return conversation.End(), req.ReplyText(ctx, NoEmailsText)
		}

		if format == EmailPlain {
			return conversation.End(), req.ReplyText(ctx, strings.Join(emails, "\n"))
		}

		path, err := tempPath(d.WorkDir, prefixEmails, "csv")
		if err != nil {
			return conversation.End(), err
		}
		defer removeFile(logger, path)

		if err := WriteEmailsCSV(path, emails); err != nil {
			return conversation.End(), err
		}
		err = req.Reply(ctx, chat.Reply{
			Attachment: &chat.Attachment{
				Kind:     chat.AttachmentDocument,
				Path:     path,
				FileName: filepath.Base(path),
				MimeType: "text/csv",
				Caption:  EmailsCaption,
			},
		})
		if err != nil {
			return conversation.End(), fmt.Errorf("sending csv: %w", err)
		}
		return conversation.End(), nil
	}

	return &conversation.Flow{
		ID:          FlowExtractEmails,
		Trigger:     "/extractemails",
		Description: "Extract emails",
		Initial:     StateAskEmailURL,
		Start: func(ctx context.Context, req *conversation.Request) (conversation.Transition, error) {
			return conversation.Stay(), req.ReplyText(ctx, "🔍 Send URL to extract emails:")
		},
		States: map[conversation.StateID]conversation.State{
			StateAskEmailURL: {Accept: conversation.TextInput, Step: askURL},
			StateAskFormat: {
				Accept: func(msg chat.Message) bool {
					_, ok := ParseEmailFormat(msg.Text)
					return conversation.TextInput(msg) && ok
				},
				Step: askFormat,
			},
		},
		Fallback: choiceFallback(StateAskFormat, LabelPlainText, LabelCSVFile),
		Failure: func(err error) string {
			return EmailsFailedText
		},
	}
}
