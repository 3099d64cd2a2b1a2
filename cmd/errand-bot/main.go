// ABOUTME: Entry point for errand-bot
// ABOUTME: Parses the command, prints the banner and runs the bot until SIGINT or SIGTERM

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/errand/internal/config"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                 _
   ___ _ __ _ __ __ _ _ __   __| |      | |__   ___ | |_
  / _ \ '__| '__/ _' | '_ \ / _' |_____ | '_ \ / _ \| __|
 |  __/ |  | | | (_| | | | | (_| |_____|| |_) | (_) | |_
  \___|_|  |_|  \__,_|_| |_|\__,_|      |_.__/ \___/ \__|
`

func main() {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch command {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: errand-bot [command]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Run the bot (default)")
	fmt.Println("  init     Write a config template")
	fmt.Println("  health   Query the metrics endpoint's health check")
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Transport: %s\n", cfg.Transport.Kind)
	green.Print("    ▶ ")
	fmt.Printf("Model:     %s\n", cfg.LLM.Model)
	green.Print("    ▶ ")
	fmt.Printf("Work dir:  %s\n", cfg.Files.WorkDir)
	if cfg.LedgerEnabled() {
		green.Print("    ▶ ")
		fmt.Printf("Ledger:    %s\n", cfg.Database.Path)
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   http://%s/metrics\n", cfg.Metrics.Addr)
	}
	if cfg.Transport.Kind == config.TransportMatrix && cfg.Matrix.RecoveryKey != "" {
		green.Print("    ▶ ")
		fmt.Println("Encryption: enabled")
	}
	fmt.Println()

	logger.Info("starting errand-bot",
		"config", configPath,
		"transport", cfg.Transport.Kind,
		"version", version,
	)

	bot, err := newBot(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return bot.run(ctx)
}

func runInit() error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)

	cyan.Print(banner)
	path := config.DefaultPath()
	if err := config.WriteTemplate(path); err != nil {
		return err
	}
	green.Print("    ✓ ")
	fmt.Printf("Wrote %s\n", path)
	fmt.Println("    Fill in the tokens, then run: errand-bot serve")
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Metrics.Enabled {
		return fmt.Errorf("metrics endpoint is disabled in config")
	}

	url := fmt.Sprintf("http://%s/healthz", cfg.Metrics.Addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	fmt.Println("healthy")
	return nil
}
