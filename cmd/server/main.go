// Command server runs the innkeep reservation and billing platform.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/innkeep/innkeep/internal/config"
	"github.com/innkeep/innkeep/internal/logging"
	"github.com/innkeep/innkeep/internal/server"
)

// Set via -ldflags at release build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// The logger honours LOG_LEVEL/LOG_FORMAT, so build it after config.
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting innkeep",
		"version", version,
		"commit", commit,
		"build_time", buildTime,
		"env", cfg.Env,
		"currency", cfg.Currency,
		"commission_bps", cfg.CommissionBPS,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	return srv.Run(context.Background())
}
