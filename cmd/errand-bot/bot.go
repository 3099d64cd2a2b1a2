// ABOUTME: Wires config into the running bot: adapters, alerts, flows, dispatcher and transport
// ABOUTME: Owns startup order and the graceful shutdown sequence

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/2389/errand/internal/alert"
	"github.com/2389/errand/internal/chat"
	"github.com/2389/errand/internal/config"
	"github.com/2389/errand/internal/conversation"
	"github.com/2389/errand/internal/flows"
	"github.com/2389/errand/internal/llm"
	"github.com/2389/errand/internal/observability"
	"github.com/2389/errand/internal/pdftext"
	"github.com/2389/errand/internal/pricefeed"
	"github.com/2389/errand/internal/speech"
	"github.com/2389/errand/internal/store"
	"github.com/2389/errand/internal/transport/matrix"
	"github.com/2389/errand/internal/transport/telegram"
	"github.com/2389/errand/internal/webfetch"
)

const (
	drainTimeout    = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// bot holds every long-lived component of a serving process.
type bot struct {
	cfg        *config.Config
	logger     *slog.Logger
	provider   *observability.Provider
	metrics    *observability.Server
	ledger     *store.SQLiteStore
	transport  chat.Transport
	supervisor *alert.Supervisor
	dispatcher *conversation.Dispatcher
}

func newBot(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*bot, error) {
	b := &bot{cfg: cfg, logger: logger}
	if err := b.build(ctx); err != nil {
		b.closeResources()
		return nil, err
	}
	return b, nil
}

func (b *bot) build(ctx context.Context) (err error) {
	cfg, logger := b.cfg, b.logger

	if _, err := flows.SweepWorkDir(cfg.Files.WorkDir, logger); err != nil {
		return err
	}

	b.provider, err = observability.Setup(ctx, observability.Options{
		ServiceName:     "errand-bot",
		ServiceVersion:  version,
		TracingEndpoint: cfg.Tracing.Endpoint,
		TracingInsecure: cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("setting up observability: %w", err)
	}

	var ledger store.Ledger
	if cfg.LedgerEnabled() {
		b.ledger, err = store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("opening ledger: %w", err)
		}
		ledger = b.ledger
	}

	b.transport, err = newTransport(cfg, logger)
	if err != nil {
		return err
	}

	prices := pricefeed.New(pricefeed.Config{
		BaseURL:  cfg.Alerts.PriceAPIURL,
		Currency: cfg.Alerts.Currency,
	}, logger)
	b.supervisor = alert.NewSupervisor(prices, b.transport, alert.Options{
		Interval: cfg.Alerts.PollInterval,
		Ledger:   ledger,
		Metrics:  b.provider.Metrics,
		Logger:   logger,
	})

	deps := flows.Deps{
		LLM: llm.New(llm.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
		}, logger),
		Web: webfetch.New(webfetch.Config{
			UserAgent:    cfg.Web.UserAgent,
			MaxBodyBytes: cfg.Web.MaxBodyBytes,
			Timeout:      cfg.Web.Timeout,
		}, logger),
		PDF: pdftext.New(logger),
		Speech: speech.New(speech.Config{
			Command:   cfg.Speech.Command,
			Args:      cfg.Speech.Args,
			Extension: cfg.Speech.Extension,
		}, logger),
		Alerts:        b.supervisor,
		Symbols:       cfg.Alerts.Symbols,
		WorkDir:       cfg.Files.WorkDir,
		SummaryPrompt: cfg.LLM.SummaryPrompt,
		Logger:        logger,
	}

	registry := conversation.NewRegistry()
	if err := registry.Register(flows.All(deps)...); err != nil {
		return fmt.Errorf("registering flows: %w", err)
	}

	b.dispatcher = conversation.NewDispatcher(registry, b.transport, conversation.Options{
		Ledger:  ledger,
		Metrics: b.provider.Metrics,
		Tracer:  b.provider.Tracer,
		Reentry: conversation.Reentry(cfg.Conversation.Reentry),
		Logger:  logger,
	})

	if cfg.Metrics.Enabled {
		b.metrics = observability.NewServer(cfg.Metrics.Addr, b.provider, logger)
		b.metrics.AddCheck("alerts", func(context.Context) error {
			if b.supervisor.Closed() {
				return errors.New("alert supervisor stopped")
			}
			return nil
		})
		if b.ledger != nil {
			b.metrics.AddCheck("ledger", b.ledger.Ping)
		}
	}

	return nil
}

func newTransport(cfg *config.Config, logger *slog.Logger) (chat.Transport, error) {
	switch cfg.Transport.Kind {
	case config.TransportMatrix:
		dataDir := cfg.Matrix.DataDir
		if dataDir == "" {
			dataDir = dataPath()
		}
		t, err := matrix.New(matrix.Config{
			Homeserver:   cfg.Matrix.Homeserver,
			UserID:       cfg.Matrix.UserID,
			AccessToken:  cfg.Matrix.AccessToken,
			RecoveryKey:  cfg.Matrix.RecoveryKey,
			Encryption:   cfg.Matrix.RecoveryKey != "",
			AllowedRooms: cfg.Matrix.AllowedRooms,
			DataDir:      dataDir,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating matrix transport: %w", err)
		}
		return t, nil
	default:
		t, err := telegram.New(telegram.Config{
			Token:          cfg.Telegram.BotToken,
			BaseURL:        cfg.Telegram.BaseURL,
			PollTimeout:    cfg.Telegram.PollTimeout,
			AllowedChatIDs: cfg.Telegram.AllowedChatIDs,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating telegram transport: %w", err)
		}
		return t, nil
	}
}

// run serves until ctx is done, then shuts down in dependency order: the
// transport stops first, queued messages drain, watchers and conversations are
// torn down and finally the ledger and telemetry are closed.
func (b *bot) run(ctx context.Context) error {
	// Steps keep running on their own context while the transport stops.
	workCtx, stopWork := context.WithCancel(context.Background())
	defer stopWork()
	inbox := conversation.NewInbox(workCtx, b.dispatcher, b.logger)

	var wg conc.WaitGroup
	if b.metrics != nil {
		wg.Go(func() {
			if err := b.metrics.Run(ctx); err != nil {
				b.logger.Error("metrics server failed", "error", err)
			}
		})
	}

	runErr := b.transport.Run(ctx, inbox.Handle)
	if runErr != nil {
		b.logger.Error("transport stopped", "transport", b.transport.Name(), "error", runErr)
	}

	b.logger.Info("shutting down", "pending_messages", inbox.Pending())
	drained := make(chan struct{})
	go func() {
		inbox.Close()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainTimeout):
		b.logger.Warn("inbox did not drain in time, cancelling in-flight steps")
		stopWork()
		<-drained
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := b.supervisor.Shutdown(shutdownCtx); err != nil {
		b.logger.Warn("alert supervisor shutdown", "error", err)
	}
	if err := b.dispatcher.Close(shutdownCtx); err != nil {
		b.logger.Warn("closing conversations", "error", err)
	}
	b.closeResources()

	wg.Wait()
	b.logger.Info("errand-bot stopped")
	return runErr
}

func (b *bot) closeResources() {
	if b.ledger != nil {
		if err := b.ledger.Close(); err != nil {
			b.logger.Warn("closing ledger", "error", err)
		}
		b.ledger = nil
	}
	if b.provider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := b.provider.Shutdown(ctx); err != nil {
			b.logger.Warn("shutting down telemetry", "error", err)
		}
		b.provider = nil
	}
}

// dataPath returns the default location for persistent bot state.
// Priority: XDG_DATA_HOME/errand > ~/.local/share/errand
func dataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "errand")
}
