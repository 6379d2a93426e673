package store

import (
	"context"

	"github.com/vampirenirmal/storyfactory/internal/domain"
)

// GetFactoryConfig loads the singleton fleet-control row.
func (g *Gateway) GetFactoryConfig(ctx context.Context) (*domain.FactoryConfig, error) {
	var fc domain.FactoryConfig
	err := g.withRetry(ctx, "get_factory_config", func() error {
		row := g.db.QueryRowContext(ctx, `
			SELECT is_running, max_workers, max_active_projects,
			       chapters_per_project_per_day, session_budget_usd, daily_budget_usd
			FROM factory_config WHERE id = 1`)
		return row.Scan(&fc.IsRunning, &fc.MaxWorkers, &fc.MaxActiveProjects,
			&fc.ChaptersPerProjectPerDay, &fc.SessionBudgetUSD, &fc.DailyBudgetUSD)
	})
	if err != nil {
		return nil, err
	}
	return &fc, nil
}

// SetFactoryConfig replaces the singleton fleet-control row.
func (g *Gateway) SetFactoryConfig(ctx context.Context, fc *domain.FactoryConfig) error {
	return g.withRetry(ctx, "set_factory_config", func() error {
		_, err := g.db.ExecContext(ctx, `
			UPDATE factory_config
			SET is_running = ?, max_workers = ?, max_active_projects = ?,
			    chapters_per_project_per_day = ?, session_budget_usd = ?, daily_budget_usd = ?
			WHERE id = 1`,
			fc.IsRunning, fc.MaxWorkers, fc.MaxActiveProjects,
			fc.ChaptersPerProjectPerDay, fc.SessionBudgetUSD, fc.DailyBudgetUSD)
		return err
	})
}

// SetFactoryRunning flips the drain switch without touching other settings.
func (g *Gateway) SetFactoryRunning(ctx context.Context, running bool) error {
	return g.withRetry(ctx, "set_factory_running", func() error {
		_, err := g.db.ExecContext(ctx,
			`UPDATE factory_config SET is_running = ? WHERE id = 1`, running)
		return err
	})
}
