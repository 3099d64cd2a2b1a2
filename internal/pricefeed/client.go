// ABOUTME: Spot price lookups against a CoinGecko-compatible /simple/price endpoint
// ABOUTME: Reads the price out of the JSON body with gjson

package pricefeed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/2389/errand/internal/fault"
)

// DefaultBaseURL is the public CoinGecko v3 API.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// Config configures a Client.
type Config struct {
	BaseURL    string
	Currency   string // e.g. "usd"
	HTTPClient *http.Client
}

// Client fetches prices in one currency.
type Client struct {
	baseURL  string
	currency string
	http     *http.Client
	logger   *slog.Logger
}

// New creates a Client, defaulting to CoinGecko and USD.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		currency: strings.ToLower(cfg.Currency),
		http:     cfg.HTTPClient,
		logger:   logger.With("component", "pricefeed"),
	}
}

// Currency returns the quote currency.
func (c *Client) Currency() string {
	return c.currency
}

// Price returns the current price of coinID.
func (c *Client) Price(ctx context.Context, coinID string) (float64, error) {
	q := url.Values{}
	q.Set("ids", coinID)
	q.Set("vs_currencies", c.currency)
	endpoint := c.baseURL + "/simple/price?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fault.New(fault.SourcePrice, fault.KindInternal, "building request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fault.New(fault.SourcePrice, fault.KindUpstream, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, fault.New(fault.SourcePrice, fault.KindUpstream, "reading body", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return 0, fault.New(fault.SourcePrice, fault.KindRateLimited, "rate limited", nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return 0, fault.New(fault.SourcePrice, fault.KindUpstream, fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	if !gjson.ValidBytes(body) {
		return 0, fault.New(fault.SourcePrice, fault.KindMalformed, "invalid json", nil)
	}

	result := gjson.GetBytes(body, coinID+"."+c.currency)
	if !result.Exists() {
		return 0, fault.New(fault.SourcePrice, fault.KindEmpty, fmt.Sprintf("no %s price for %s", c.currency, coinID), nil)
	}
	if result.Type != gjson.Number {
		return 0, fault.New(fault.SourcePrice, fault.KindMalformed, fmt.Sprintf("price for %s is not a number", coinID), nil)
	}

	price := result.Float()
	c.logger.Debug("price fetched", "coin", coinID, "currency", c.currency, "price", price)
	return price, nil
}
