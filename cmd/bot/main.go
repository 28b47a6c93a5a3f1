package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ykvlv/fin-assistant-bot/internal/app"
	"github.com/ykvlv/fin-assistant-bot/internal/config"
	"github.com/ykvlv/fin-assistant-bot/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fin-assistant-bot:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, err := logger.New("fin-assistant-bot", cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	a, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	return a.Run(context.Background())
}
