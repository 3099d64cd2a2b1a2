// ABOUTME: /summarizepdf flow: stores an uploaded PDF, then summarizes, prints or reads it aloud
// ABOUTME: The stored PDF is removed when the option step ends or the conversation is torn down

package flows

import (
	"context"
	"fmt"

	"github.com/2389/errand/internal/chat"
	"github.com/2389/errand/internal/conversation"
	"github.com/2389/errand/internal/fault"
)

const (
	FlowSummarizePDF conversation.FlowID = "summarizepdf"

	StateAskFile   conversation.StateID = "ask_file"
	StateAskOption conversation.StateID = "ask_option"

	scratchPDFPath = "pdf_path"
)

const (
	NotPDFText         = "❌ Please send a PDF."
	PDFNoTextText      = "❌ Couldn't extract any text from the PDF."
	PDFUnreadableText  = "❌ Couldn't read that PDF."
	DownloadFailedText = "❌ Couldn't download the file. Please try again."
	AudioFailedText    = "❌ Could not generate audio."
)

// PDFSummary builds the PDF summary flow.
func PDFSummary(d Deps) *conversation.Flow {
	logger := d.logger(string(FlowSummarizePDF))

	askFile := func(ctx context.Context, req *conversation.Request) (conversation.Transition, error) {
		doc := req.Message.Document
		if !doc.IsPDF() {
			return conversation.End(), req.ReplyText(ctx, NotPDFText)
		}

		path, err := download(ctx, req, *doc, d.WorkDir, prefixPDF)
		if path != "" {
			req.Conversation.Set(scratchPDFPath, path)
		}
		if err != nil {
			return conversation.End(), err
		}
		logger.Debug("pdf stored", "key", req.Conversation.Key, "path", path, "size", doc.Size)

		if err := req.Reply(ctx, chat.Prompt("Choose option:", LabelSummary, LabelFullText, LabelAudio)); err != nil {
			return conversation.Stay(), err
		}
		return conversation.GoTo(StateAskOption), nil
	}

	askOption := func(ctx context.Context, req *conversation.Request) (conversation.Transition, error) {
		path := req.Conversation.Get(scratchPDFPath)
		defer removeFile(logger, path)

		option, _ := ParsePDFOption(req.Message.Text)

		text, err := d.PDF.ExtractText(ctx, path)
		if err != nil {
			return conversation.End(), err
		}
		text = Truncate(text, MaxSourceChars)

		switch option {
		case PDFSummaryOption:
			reply, err := d.LLM.Complete(ctx, fmt.Sprintf("%s\n\n%s", d.SummaryPrompt, text))
			if err != nil {
				return conversation.End(), err
			}
			return conversation.End(), req.ReplyText(ctx, Truncate(reply, MaxReplyChars))
		case PDFFullTextOption:
			return conversation.End(), req.ReplyText(ctx, Truncate(text, MaxReplyChars))
		default:
			return conversation.End(), speak(ctx, d, logger, req, text)
		}
	}

	return &conversation.Flow{
		ID:          FlowSummarizePDF,
		Trigger:     "/summarizepdf",
		Description: "PDF summary (summary/fulltext/audio)",
		Initial:     StateAskFile,
		Start: func(ctx context.Context, req *conversation.Request) (conversation.Transition, error) {
			return conversation.Stay(), req.ReplyText(ctx, "📄 Send the PDF file.")
		},
		States: map[conversation.StateID]conversation.State{
			StateAskFile: {Accept: conversation.AnyInput, Step: askFile},
			StateAskOption: {
				Accept: func(msg chat.Message) bool {
					_, ok := ParsePDFOption(msg.Text)
					return conversation.TextInput(msg) && ok
				},
				Step: askOption,
			},
		},
		Fallback: choiceFallback(StateAskOption, LabelSummary, LabelFullText, LabelAudio),
		Cleanup: func(conv *conversation.Conversation) {
			removeFile(logger, conv.Get(scratchPDFPath))
		},
		Failure: pdfFailure,
	}
}

func pdfFailure(err error) string {
	switch fault.SourceOf(err) {
	case fault.SourcePDF:
		if fault.KindOf(err) == fault.KindEmpty {
			return PDFNoTextText
		}
		return PDFUnreadableText
	case fault.SourceLLM:
		return LLMFailedText
	case fault.SourceSpeech:
		return AudioFailedText
	case fault.SourceTransport:
		return DownloadFailedText
	}
	return ""
}
