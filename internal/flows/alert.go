// ABOUTME: /setalert flow: asks for a coin symbol and a target price, then arms a watcher
// ABOUTME: The conversation ends as soon as the watcher is handed to the supervisor

package flows

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/2389/errand/internal/alert"
	"github.com/2389/errand/internal/conversation"
)

const (
	FlowSetAlert conversation.FlowID = "setalert"

	StateAskSymbol conversation.StateID = "ask_symbol"
	StateAskPrice  conversation.StateID = "ask_price"

	scratchSymbol = "symbol"
)

// preferredSymbols fixes the order symbols are suggested in.
var preferredSymbols = []string{"btc", "eth", "sol", "bnb"}

// SetAlert builds the price alert flow.
func SetAlert(d Deps) *conversation.Flow {
	logger := d.logger(string(FlowSetAlert))
	supported := symbolList(d.Symbols)

	askSymbol := func(ctx context.Context, req *conversation.Request) (conversation.Transition, error) {
		symbol := strings.ToLower(strings.TrimSpace(req.Message.Text))
		if _, ok := d.Symbols[symbol]; !ok {
			return conversation.Stay(), req.ReplyText(ctx,
				fmt.Sprintf("❌ Symbol not supported. Try %s.", strings.Join(supported, ", ")))
		}
		req.Conversation.Set(scratchSymbol, symbol)
		if err := req.ReplyText(ctx, fmt.Sprintf("💰 Enter target price for %s:", alert.Symbol(symbol))); err != nil {
			return conversation.Stay(), err
		}
		return conversation.GoTo(StateAskPrice), nil
	}

	askPrice := func(ctx context.Context, req *conversation.Request) (conversation.Transition, error) {
		target, ok := parsePrice(req.Message.Text)
		if !ok {
			return conversation.Stay(), req.ReplyText(ctx, "❌ Enter a valid number.")
		}

		symbol := req.Conversation.Get(scratchSymbol)
		id, err := d.Alerts.Start(alert.Watch{
			ChatID: req.Conversation.ChatID,
			Key:    req.Conversation.Key,
			Symbol: symbol,
			CoinID: d.Symbols[symbol],
			Target: target,
		})
		if err != nil {
			return conversation.End(), fmt.Errorf("arming watcher: %w", err)
		}
		logger.Debug("watcher armed", "key", req.Conversation.Key, "watcher_id", id)

		// The watcher is live either way, so a lost confirmation is not a failure.
		if err := req.ReplyText(ctx,
			fmt.Sprintf("✅ Alert set for %s at $%s", alert.Symbol(symbol), alert.FormatPrice(target))); err != nil {
			logger.Warn("alert confirmation not delivered",
				"key", req.Conversation.Key,
				"watcher_id", id,
				"error", err)
		}
		return conversation.End(), nil
	}

	return &conversation.Flow{
		ID:          FlowSetAlert,
		Trigger:     "/setalert",
		Description: "Price alert",
		Initial:     StateAskSymbol,
		Start: func(ctx context.Context, req *conversation.Request) (conversation.Transition, error) {
			return conversation.Stay(), req.ReplyText(ctx, "🔤 Enter coin symbol (e.g., btc, eth):")
		},
		States: map[conversation.StateID]conversation.State{
			StateAskSymbol: {Accept: conversation.TextInput, Step: askSymbol},
			StateAskPrice:  {Accept: conversation.TextInput, Step: askPrice},
		},
		Failure: func(err error) string {
			return "❌ Could not set the alert. Please try again."
		},
	}
}

// parsePrice accepts a positive finite number, optionally prefixed with "$".
func parsePrice(s string) (float64, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, false
	}
	return v, true
}

// symbolList orders the configured symbols for the "try ..." hint.
func symbolList(symbols map[string]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range preferredSymbols {
		if _, ok := symbols[s]; ok {
			out = append(out, s)
			seen[s] = true
		}
	}
	var rest []string
	for s := range symbols {
		if !seen[s] {
			rest = append(rest, s)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}
