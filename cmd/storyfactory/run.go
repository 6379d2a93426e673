package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vampirenirmal/storyfactory/internal/factory"
)

var runChapters int

var runCmd = &cobra.Command{
	Use:   "run <project-id>",
	Short: "Produce a bounded batch of chapters for one project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		f, err := factory.New(cfg, nil, logger)
		if err != nil {
			return err
		}
		defer f.Close()

		summary, err := f.StartRun(cmd.Context(), args[0], runChapters)
		if err != nil {
			return fmt.Errorf("run failed: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	runCmd.Flags().IntVarP(&runChapters, "chapters", "n", 1, "chapters to write this run")
	rootCmd.AddCommand(runCmd)
}
