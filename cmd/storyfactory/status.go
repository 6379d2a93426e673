package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/vampirenirmal/storyfactory/internal/factory"
)

var statusCmd = &cobra.Command{
	Use:   "status <project-id>",
	Short: "Show project progress and spend",
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

		st, err := f.GetStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
