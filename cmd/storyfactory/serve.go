package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/vampirenirmal/storyfactory/internal/domain"
	"github.com/vampirenirmal/storyfactory/internal/factory"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the factory loops until interrupted",
	Long: `Run the continuous production loops: the scheduler tick claims due
write-queue items and dispatches them onto the worker pool, the publisher tick
releases due chapters, and the daily planner enqueues each active project's
chapter batch once per local day.

Production only proceeds while the factory is switched on ("storyfactory
factory on").`,
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

		ctx := cmd.Context()
		logger.Info("factory loops starting",
			"scheduler_tick", cfg.Production.SchedulerTick,
			"publish_tick", cfg.Production.PublishTick)

		go publishLoop(ctx, f, cfg.Production.PublishTick)
		go planLoop(ctx, f)

		ticker := time.NewTicker(cfg.Production.SchedulerTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Info("factory loops stopping")
				return nil
			case <-ticker.C:
				n, err := f.TickScheduler(ctx)
				switch {
				case errors.Is(err, domain.ErrFactoryStopped):
					// Switched off; idle until the flag flips.
				case err != nil:
					logger.Error("scheduler tick failed", "error", err)
				case n > 0:
					logger.Info("scheduler tick dispatched", "items", n)
				}
			}
		}
	},
}

func publishLoop(ctx context.Context, f *factory.Factory, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := f.TickPublisher(ctx); err != nil {
				slog.Error("publish tick failed", "error", err)
			}
		}
	}
}

// planLoop plans each day's batches shortly after local midnight, and once at
// startup to cover a mid-day boot.
func planLoop(ctx context.Context, f *factory.Factory) {
	plan := func() {
		if n, err := f.PlanDailyBatches(ctx); err != nil {
			slog.Error("daily planning failed", "error", err)
		} else if n > 0 {
			slog.Info("daily batches planned", "items", n)
		}
	}

	plan()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			plan()
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
