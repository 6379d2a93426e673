package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vampirenirmal/storyfactory/internal/config"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "storyfactory",
	Short: "Long-form fiction production factory",
	Long: `Storyfactory drives an LLM to produce serialized novels chapter by
chapter: it assembles writing context from the story so far, generates a
draft, scores it through quality, canon, beat, power, and consistency gates,
rewrites failing drafts, persists accepted chapters atomically, and publishes
them on a schedule.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./storyfactory.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// setupLogger installs the process logger per the verbose flag.
func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// loadConfig reads configuration for a command invocation.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = "storyfactory.yaml"
	}
	return config.Load(path)
}
