package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/vampirenirmal/storyfactory/internal/domain"
)

// RecordCost appends one spend record outside a chapter commit. Budget checks
// read the persisted per-day totals, so restart never re-grants budget.
func (g *Gateway) RecordCost(ctx context.Context, r *domain.CostRecord) error {
	return g.withRetry(ctx, "record_cost", func() error {
		return g.inTx(ctx, func(tx *sql.Tx) error {
			return g.recordCostTx(ctx, tx, r)
		})
	})
}

func (g *Gateway) recordCostTx(ctx context.Context, tx *sql.Tx, r *domain.CostRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	at := r.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cost_records (id, project_id, at, day_key, task, model, input_tokens, output_tokens, cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		r.ID, r.ProjectID, at, g.dayKey(at), r.Task, r.Model,
		r.InputTokens, r.OutputTokens, r.CostUSD)
	return err
}

// DailyCostUSD returns the project's recorded spend for the local calendar
// day containing t.
func (g *Gateway) DailyCostUSD(ctx context.Context, projectID string, t time.Time) (float64, error) {
	var total float64
	err := g.withRetry(ctx, "daily_cost", func() error {
		row := g.db.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(cost_usd), 0) FROM cost_records
			WHERE project_id = ? AND day_key = ?`,
			projectID, g.dayKey(t))
		return row.Scan(&total)
	})
	return total, err
}

// CostsSince returns cost records for the project recorded at or after t,
// oldest first.
func (g *Gateway) CostsSince(ctx context.Context, projectID string, t time.Time) ([]domain.CostRecord, error) {
	var records []domain.CostRecord
	err := g.withRetry(ctx, "costs_since", func() error {
		rows, err := g.db.QueryContext(ctx, `
			SELECT id, project_id, at, task, model, input_tokens, output_tokens, cost_usd
			FROM cost_records
			WHERE project_id = ? AND at >= ?
			ORDER BY at ASC`, projectID, t.UTC())
		if err != nil {
			return err
		}
		defer rows.Close()

		records = records[:0]
		for rows.Next() {
			var r domain.CostRecord
			if err := rows.Scan(&r.ID, &r.ProjectID, &r.At, &r.Task, &r.Model,
				&r.InputTokens, &r.OutputTokens, &r.CostUSD); err != nil {
				return err
			}
			records = append(records, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
