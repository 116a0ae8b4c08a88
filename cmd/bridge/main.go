package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/woxQAQ/platform-bridge/internal/config"
	"github.com/woxQAQ/platform-bridge/internal/crash"
	"github.com/woxQAQ/platform-bridge/internal/host"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	initPath := flag.String("init", "", "File whose contents are the init payload (default {})")
	coreDir := flag.String("core", "", "Core directory; overrides core_dir")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *coreDir != "" {
		cfg.CoreDir = *coreDir
	}

	// Initialize logger. Logs go to stderr; stdout carries results.
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting platform-bridge",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := host.New(ctx, cfg, logger)
	if err != nil {
		exitOnFatal(logger, err)
		logger.Fatal("Failed to create bridge host", zap.Error(err))
	}
	defer h.Close(context.Background())

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	payload := []byte("{}")
	if *initPath != "" {
		payload, err = os.ReadFile(*initPath)
		if err != nil {
			logger.Fatal("Failed to read init payload", zap.String("path", *initPath), zap.Error(err))
		}
	}

	if err := h.Init(ctx, payload); err != nil {
		exitOnFatal(logger, err)
		logger.Fatal("Core init failed", zap.Error(err))
	}

	if err := h.ServeStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
		exitOnFatal(logger, err)
		logger.Fatal("Event loop error", zap.Error(err))
	}

	logger.Info("Bridge shutdown complete")
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}

// exitOnFatal ends the process with the configured status when the core
// panicked in return mode. The diagnostic has already been written.
func exitOnFatal(logger *zap.Logger, err error) {
	var fatal *crash.FatalError
	if errors.As(err, &fatal) {
		_ = logger.Sync()
		os.Exit(fatal.ExitCode)
	}
}
