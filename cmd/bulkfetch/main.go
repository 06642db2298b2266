// Package main wires together the bulk fetcher binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-fetcher/internal/app"
	"github.com/JakeFAU/bulk-fetcher/internal/config"
	"github.com/JakeFAU/bulk-fetcher/internal/input"
	"github.com/JakeFAU/bulk-fetcher/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", "", "Path to config file")
	inputPath := flag.String("input", "", "Path to newline-delimited URL list (default stdin)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return 1
	}
	if *inputPath != "" {
		cfg.Input.Path = *inputPath
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		return 1
	}
	defer logging.Sync(logger)
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	urls, err := input.Open(cfg.Input.Path)
	if err != nil {
		logger.Error("read url list failed", zap.Error(err))
		return 1
	}
	logger.Info("url list loaded", zap.Int("urls", len(urls)), zap.String("path", cfg.Input.Path))

	application, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Error("application init failed", zap.Error(err))
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := application.Close(closeCtx); err != nil {
			logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}()

	if _, err := application.Run(ctx, urls); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("run interrupted; partial results exported", zap.Error(err))
		} else {
			logger.Error("run failed", zap.Error(err))
		}
		return 1
	}
	return 0
}
