// ABOUTME: Chat completion client for any OpenAI-compatible endpoint (Groq by default)
// ABOUTME: Sends one user message and classifies failures as fault errors

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/2389/errand/internal/fault"
)

// Config configures a Client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string

	// HTTPClient overrides the SDK's default client, mostly for tests.
	HTTPClient *http.Client
}

// Client completes prompts with a single model.
type Client struct {
	api    openai.Client
	model  string
	logger *slog.Logger
}

// New creates a client. SDK retries are disabled; a failed completion is reported
// to the user rather than retried behind their back.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &Client{
		api:    openai.NewClient(opts...),
		model:  cfg.Model,
		logger: logger.With("component", "llm"),
	}
}

// Complete sends prompt as one user-role message and returns the trimmed reply.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", classify(err)
	}

	if len(resp.Choices) == 0 {
		return "", fault.New(fault.SourceLLM, fault.KindMalformed, "no choices in response", nil)
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", fault.New(fault.SourceLLM, fault.KindEmpty, "empty completion", nil)
	}

	c.logger.Debug("completion received",
		"model", c.model,
		"prompt_chars", len(prompt),
		"reply_chars", len(reply),
		"total_tokens", resp.Usage.TotalTokens)
	return reply, nil
}

func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return fault.New(fault.SourceLLM, fault.KindRateLimited, "rate limited", err)
		}
		return fault.New(fault.SourceLLM, fault.KindUpstream, fmt.Sprintf("status %d", apiErr.StatusCode), err)
	}
	return fault.New(fault.SourceLLM, fault.KindUpstream, "request failed", err)
}
