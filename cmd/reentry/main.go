// Command reentry is the core decision engine's CLI: run the live
// orchestrator loop, validate a candidate matrix file offline, or
// replay chain_history.csv into a fresh audit index.
package main

import (
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// Exit codes per §6.3.
const (
	exitOK               = 0
	exitMatrixIncomplete = 10
	exitRegistryInvalid  = 11
	exitBusContention    = 12
	exitClassifierError  = 13
	exitFatal            = 20
)

var (
	logLevel  string
	logFormat string
	runID     string
)

var rootCmd = &cobra.Command{
	Use:   "reentry",
	Short: "Deterministic FX reentry decision engine",
}

func main() {
	runID = uuid.New().String()

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error (overrides config/env)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text|json")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateMatrixCmd)
	rootCmd.AddCommand(replayCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitFatal)
	}
}

func setupLogger(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler).With("run_id", runID))
}

func fail(code int, msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(code)
}
