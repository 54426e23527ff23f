// Command callsample samples call and conversation records from the console
// API or the calls database and exports them as tabular datasets.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/skit-ai/callsample/internal/config"
	"github.com/skit-ai/callsample/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Load .env file if present (non-fatal; CI won't have one).
	_ = godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("CALLSAMPLE_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	root := newRootCmd(cfg, logger)
	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func newRootCmd(cfg config.Config, logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:     "callsample",
		Short:   "Sample calls and conversations for dataset assembly",
		Version: version,
		Long: `callsample draws reproducible, filtered samples of call transcripts
from the console API or directly from the calls database, enriches each turn
with derived fields, and writes the result as CSV, SQLite, or YAML.`,
		SilenceUsage: true,
	}
	root.AddCommand(newSampleCmd(cfg, logger))
	root.AddCommand(newStoreCmd(cfg, logger))
	root.AddCommand(newSelectCmd(cfg, logger))
	return root
}

func fail(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
