// ABOUTME: /summary flow: fetches a web page and asks the model to process its text
// ABOUTME: Always single-shot after the prompt; empty pages never reach the model

package flows

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/errand/internal/conversation"
	"github.com/2389/errand/internal/fault"
)

const (
	FlowSummary conversation.FlowID = "summary"

	StateAskURL    conversation.StateID = "ask_url"
	StateAskPrompt conversation.StateID = "ask_prompt"

	scratchURL = "url"
)

// Replies shared by the page based flows.
const (
	NoTextText      = "❌ Couldn't extract any text."
	FetchFailedText = "❌ Couldn't fetch that page. Check the URL and try again."
	LLMFailedText   = "❌ GPT API failed. Try again or use a shorter page."
)

// WebSummary builds the web page summary flow.
func WebSummary(d Deps) *conversation.Flow {
	logger := d.logger(string(FlowSummary))

	askURL := func(ctx context.Context, req *conversation.Request) (conversation.Transition, error) {
		req.Conversation.Set(scratchURL, strings.TrimSpace(req.Message.Text))
		if err := req.ReplyText(ctx, "🧠 Send prompt (e.g. Summarize in 5 points):"); err != nil {
			return conversation.Stay(), err
		}
		return conversation.GoTo(StateAskPrompt), nil
	}

	askPrompt := func(ctx context.Context, req *conversation.Request) (conversation.Transition, error) {
		url := req.Conversation.Get(scratchURL)

		text, err := d.Web.FetchText(ctx, url)
		if err != nil {
			return conversation.End(), err
		}
		text = strings.TrimSpace(text)
		logger.Debug("page text extracted", "url", url, "chars", len(text))
		if text == "" {
			return conversation.End(), req.ReplyText(ctx, NoTextText)
		}

		prompt := fmt.Sprintf("%s\n\n%s", strings.TrimSpace(req.Message.Text), Truncate(text, MaxSourceChars))
		reply, err := d.LLM.Complete(ctx, prompt)
		if err != nil {
			return conversation.End(), err
		}

		return conversation.End(), req.ReplyText(ctx, Truncate(StripEmphasis(reply), MaxReplyChars))
	}

	return &conversation.Flow{
		ID:          FlowSummary,
		Trigger:     "/summary",
		Description: "Web summary",
		Initial:     StateAskURL,
		Start: func(ctx context.Context, req *conversation.Request) (conversation.Transition, error) {
			return conversation.Stay(), req.ReplyText(ctx, "🌐 Send the website URL (basic sites only):")
		},
		States: map[conversation.StateID]conversation.State{
			StateAskURL:    {Accept: conversation.TextInput, Step: askURL},
			StateAskPrompt: {Accept: conversation.TextInput, Step: askPrompt},
		},
		Failure: pageFailure,
	}
}

// pageFailure maps fetch and model failures to replies.
func pageFailure(err error) string {
	switch fault.SourceOf(err) {
	case fault.SourceWeb:
		if fault.KindOf(err) == fault.KindEmpty {
			return NoTextText
		}
		return FetchFailedText
	case fault.SourceLLM:
		return LLMFailedText
	}
	return ""
}
