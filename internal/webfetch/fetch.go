// ABOUTME: Web page fetcher with a fixed User-Agent and body size cap
// ABOUTME: Converts the page to UTF-8 and hands back raw HTML or its visible text

package webfetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/2389/errand/internal/fault"
)

// DefaultUserAgent is sent with every request.
const DefaultUserAgent = "Mozilla/5.0"

// DefaultMaxBodyBytes caps how much of a page is read.
const DefaultMaxBodyBytes = 5 << 20

// Config configures a Client.
type Config struct {
	UserAgent    string
	MaxBodyBytes int64
	Timeout      time.Duration // zero means no timeout
	HTTPClient   *http.Client
}

// Client fetches pages.
type Client struct {
	http      *http.Client
	userAgent string
	maxBytes  int64
	logger    *slog.Logger
}

// New creates a Client, filling defaults for unset fields.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Client{
		http:      hc,
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxBodyBytes,
		logger:    logger.With("component", "webfetch"),
	}
}

// Fetch downloads url and returns its body as UTF-8 HTML.
// The URL is used as given; anything the HTTP client rejects is an upstream failure.
func (c *Client) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fault.New(fault.SourceWeb, fault.KindUpstream, "invalid url", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fault.New(fault.SourceWeb, fault.KindUpstream, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fault.New(fault.SourceWeb, fault.KindUpstream, fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, c.maxBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return "", fault.New(fault.SourceWeb, fault.KindMalformed, "unknown charset", err)
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return "", fault.New(fault.SourceWeb, fault.KindUpstream, "reading body", err)
	}

	c.logger.Debug("page fetched", "url", url, "status", resp.StatusCode, "bytes", len(raw))
	return string(raw), nil
}

// FetchText downloads url and returns its visible text. An empty result is not an error.
func (c *Client) FetchText(ctx context.Context, url string) (string, error) {
	page, err := c.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	return ExtractText(page), nil
}
