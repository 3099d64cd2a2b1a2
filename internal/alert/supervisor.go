// ABOUTME: Supervisor owns the background price watchers spawned by the setalert flow
// ABOUTME: Each watcher polls on its own goroutine and notifies its chat exactly once

package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/2389/errand/internal/chat"
	"github.com/2389/errand/internal/fault"
	"github.com/2389/errand/internal/observability"
	"github.com/2389/errand/internal/store"
)

// DefaultInterval is how often a watcher polls the price feed.
const DefaultInterval = 30 * time.Second

// maxFinished bounds how many fired or stopped watchers are kept for inspection.
const maxFinished = 1000

var (
	// ErrWatcherNotFound is returned for unknown watcher ids
	ErrWatcherNotFound = errors.New("watcher not found")
	// ErrClosed is returned by Start after Shutdown
	ErrClosed = errors.New("supervisor is shut down")
)

// PriceSource returns the current price for a price feed coin id.
type PriceSource interface {
	Price(ctx context.Context, coinID string) (float64, error)
}

// Status is a watcher's lifecycle state.
type Status string

const (
	StatusRunning Status = "running"
	StatusFired   Status = "fired"
	StatusStopped Status = "stopped"
)

// Watch describes what to monitor and whom to tell.
type Watch struct {
	ChatID string   // transport chat id the notification goes to
	Key    chat.Key // conversation key, for the ledger
	Symbol string   // user-facing symbol, e.g. "btc"
	CoinID string   // price feed id, e.g. "bitcoin"
	Target float64
}

// Watcher is a snapshot of one watcher.
type Watcher struct {
	ID        string
	Watch     Watch
	Status    Status
	CreatedAt time.Time
	EndedAt   time.Time
	LastPrice float64
	Checks    int
}

type watcher struct {
	Watcher
	cancel context.CancelFunc
}

// Options configures a Supervisor.
type Options struct {
	Interval time.Duration
	Ledger   store.Ledger
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// Supervisor runs price watchers independently of any conversation.
type Supervisor struct {
	prices   PriceSource
	notifier chat.Sender
	interval time.Duration
	ledger   store.Ledger
	metrics  *observability.Metrics
	logger   *slog.Logger

	mu       sync.Mutex
	watchers map[string]*watcher
	finished []string
	closed   bool
	wg       conc.WaitGroup
}

// NewSupervisor creates a supervisor that polls prices and notifies through notifier.
func NewSupervisor(prices PriceSource, notifier chat.Sender, opts Options) *Supervisor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Supervisor{
		prices:   prices,
		notifier: notifier,
		interval: opts.Interval,
		ledger:   opts.Ledger,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With("component", "alerts"),
		watchers: make(map[string]*watcher),
	}
}

// Start launches a watcher and returns its id. The first price check happens immediately.
func (s *Supervisor) Start(w Watch) (string, error) {
	if w.ChatID == "" || w.CoinID == "" {
		return "", fmt.Errorf("watch needs a chat id and a coin id")
	}
	if !(w.Target > 0) {
		return "", fmt.Errorf("target price must be positive, got %v", w.Target)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	wt := &watcher{
		Watcher: Watcher{
			ID:        uuid.New().String(),
			Watch:     w,
			Status:    StatusRunning,
			CreatedAt: time.Now(),
		},
		cancel: cancel,
	}
	id := wt.ID
	s.watchers[id] = wt
	s.metrics.AlertStarted(ctx)
	s.wg.Go(func() { s.run(ctx, id, w) })
	s.mu.Unlock()

	s.logger.Info("=== ALERT ARMED ===",
		"watcher_id", id,
		"chat_id", w.ChatID,
		"symbol", w.Symbol,
		"target", w.Target)
	return id, nil
}

// run supervises one watcher goroutine, converting a panic into StatusStopped.
func (s *Supervisor) run(ctx context.Context, id string, w Watch) {
	defer s.metrics.AlertEnded(context.Background())

	// Armed is recorded before the first check so it precedes fired in the ledger.
	s.record(w, store.EventTypeAlertArmed, fmt.Sprintf("%s >= %s", Symbol(w.Symbol), FormatPrice(w.Target)))

	var catcher panics.Catcher
	catcher.Try(func() { s.poll(ctx, id, w) })
	if r := catcher.Recovered(); r != nil {
		s.logger.Error("watcher panicked",
			"watcher_id", id,
			"symbol", w.Symbol,
			"panic", r.Value,
			"stack", string(r.Stack))
		s.finish(id, StatusStopped)
	}
}

func (s *Supervisor) poll(ctx context.Context, id string, w Watch) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if s.check(ctx, id, w) {
			return
		}
		select {
		case <-ctx.Done():
			s.finish(id, StatusStopped)
			return
		case <-ticker.C:
		}
	}
}

// check polls once and reports whether the watcher fired. Price and send failures
// are logged and retried on the next tick.
func (s *Supervisor) check(ctx context.Context, id string, w Watch) bool {
	price, err := s.prices.Price(ctx, w.CoinID)
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		s.metrics.AdapterFailure(ctx, string(fault.SourceOf(err)), string(fault.KindOf(err)))
		s.logger.Warn("price check failed", "watcher_id", id, "symbol", w.Symbol, "error", err)
		return false
	}

	s.mu.Lock()
	if wt, ok := s.watchers[id]; ok {
		wt.LastPrice = price
		wt.Checks++
	}
	s.mu.Unlock()

	if price < w.Target {
		return false
	}

	text := NotificationText(w.Symbol, price)
	if err := s.notifier.Send(ctx, w.ChatID, chat.Text(text)); err != nil {
		s.logger.Warn("alert notification failed", "watcher_id", id, "chat_id", w.ChatID, "error", err)
		return false
	}

	s.finish(id, StatusFired)
	s.metrics.AlertFired(ctx, w.Symbol)
	s.record(w, store.EventTypeAlertFired, text)
	s.logger.Info("=== ALERT FIRED ===",
		"watcher_id", id,
		"chat_id", w.ChatID,
		"symbol", w.Symbol,
		"target", w.Target,
		"price", price)
	return true
}

// finish moves a running watcher to a terminal status. Terminal statuses never change.
func (s *Supervisor) finish(id string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wt, ok := s.watchers[id]
	if !ok || wt.Status != StatusRunning {
		return
	}
	wt.Status = status
	wt.EndedAt = time.Now()
	wt.cancel()

	s.finished = append(s.finished, id)
	if len(s.finished) > maxFinished {
		delete(s.watchers, s.finished[0])
		s.finished = s.finished[1:]
	}
}

// Stop cancels a running watcher. Stopping a watcher that already ended is a no-op.
func (s *Supervisor) Stop(id string) error {
	s.mu.Lock()
	wt, ok := s.watchers[id]
	if !ok {
		s.mu.Unlock()
		return ErrWatcherNotFound
	}
	running := wt.Status == StatusRunning
	w := wt.Watch
	s.mu.Unlock()

	if !running {
		return nil
	}

	s.finish(id, StatusStopped)
	s.record(w, store.EventTypeAlertHalted, "stopped")
	s.logger.Info("alert stopped", "watcher_id", id, "symbol", w.Symbol)
	return nil
}

// Get returns a snapshot of one watcher.
func (s *Supervisor) Get(id string) (Watcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wt, ok := s.watchers[id]
	if !ok {
		return Watcher{}, ErrWatcherNotFound
	}
	return wt.Watcher, nil
}

// List returns snapshots of the watchers belonging to key, oldest first.
// An empty key lists every watcher.
func (s *Supervisor) List(key chat.Key) []Watcher {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Watcher
	for _, wt := range s.watchers {
		if key == "" || wt.Watch.Key == key {
			out = append(out, wt.Watcher)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Running returns the number of running watchers.
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, wt := range s.watchers {
		if wt.Status == StatusRunning {
			n++
		}
	}
	return n
}

// Closed reports whether Shutdown has been called.
func (s *Supervisor) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Shutdown stops every watcher and waits for their goroutines, or for ctx.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	var ids []string
	for id, wt := range s.watchers {
		if wt.Status == StatusRunning {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.finish(id, StatusStopped)
	}
	if len(ids) > 0 {
		s.logger.Info("stopping price watchers", "count", len(ids))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for watchers: %w", ctx.Err())
	}
}

func (s *Supervisor) record(w Watch, eventType store.EventType, text string) {
	if s.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := &store.LedgerEvent{
		ConversationKey: string(w.Key),
		Direction:       store.EventDirectionOutbound,
		Author:          "errand-bot",
		Type:            eventType,
		Flow:            "setalert",
		Text:            &text,
	}
	if err := s.ledger.SaveEvent(ctx, event); err != nil {
		s.logger.Warn("ledger write failed", "type", eventType, "error", err)
	}
}

// Symbol returns the display form of a symbol, e.g. "BTC".
func Symbol(s string) string {
	return strings.ToUpper(s)
}

// FormatPrice renders a price with the fewest digits that round-trip, e.g. "50000" or "0.25".
func FormatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// NotificationText is the message sent when a watcher fires.
func NotificationText(symbol string, price float64) string {
	return fmt.Sprintf("🚨 %s has reached $%s!", Symbol(symbol), FormatPrice(price))
}
