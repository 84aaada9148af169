// Package cmd implements the corpusgate CLI. Each command loads
// configuration, builds the application graph, and runs one operation;
// main.go stays a minimal entry point.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/corpusgate/corpusgate/internal/app"
	"github.com/corpusgate/corpusgate/internal/config"
	"github.com/corpusgate/corpusgate/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "corpusgate",
	Short: "Permission-aware retrieval backend",
	Long: `corpusgate indexes documents into a permission-tagged vector store
and answers questions against it. Every retrieval is filtered by the
caller's permission tags inside the database query itself.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger. DEBUG (any value) lowers the
// level; logs go to stderr so stdout stays clean for answers.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := log.NewWithWriter(os.Stderr, log.Config{Level: level})
	slog.SetDefault(logger)
	return logger
}

// buildApp loads configuration and constructs the application graph.
func buildApp(cmd *cobra.Command) (*app.App, error) {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}
