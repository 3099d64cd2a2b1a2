// ABOUTME: /pdftovoice flow: reads a PDF or a text message aloud in a single step
// ABOUTME: Every failure collapses into one reply and the conversation always ends

package flows

import (
	"context"

	"github.com/2389/errand/internal/conversation"
)

const (
	FlowPDFToVoice conversation.FlowID = "pdftovoice"

	StateAskVoiceInput conversation.StateID = "ask_voice_input"
)

// VoiceFailedText is the only failure reply of the voice flow.
const VoiceFailedText = "❌ Could not process."

// PDFToVoice builds the text or PDF to speech flow.
func PDFToVoice(d Deps) *conversation.Flow {
	logger := d.logger(string(FlowPDFToVoice))

	convert := func(ctx context.Context, req *conversation.Request) (conversation.Transition, error) {
		text := req.Message.Text

		if doc := req.Message.Document; doc != nil {
			path, err := download(ctx, req, *doc, d.WorkDir, prefixVoicePDF)
			defer removeFile(logger, path)
			if err != nil {
				return conversation.End(), err
			}
			if text, err = d.PDF.ExtractText(ctx, path); err != nil {
				return conversation.End(), err
			}
		}

		return conversation.End(), speak(ctx, d, logger, req, text)
	}

	return &conversation.Flow{
		ID:          FlowPDFToVoice,
		Trigger:     "/pdftovoice",
		Description: "PDF or Text to Voice",
		Initial:     StateAskVoiceInput,
		Start: func(ctx context.Context, req *conversation.Request) (conversation.Transition, error) {
			return conversation.Stay(), req.ReplyText(ctx, "📥 Send text or PDF to convert into voice.")
		},
		States: map[conversation.StateID]conversation.State{
			StateAskVoiceInput: {Accept: conversation.DocumentOrText, Step: convert},
		},
		Failure: func(err error) string {
			return VoiceFailedText
		},
	}
}
