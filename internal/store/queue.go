package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vampirenirmal/storyfactory/internal/domain"
)

// EnqueueWrite inserts a pending work item. Idempotent by
// (project, chapter): re-enqueueing an existing item is a no-op.
func (g *Gateway) EnqueueWrite(ctx context.Context, item *domain.WorkItem) error {
	return g.withRetry(ctx, "enqueue_write", func() error {
		_, err := g.db.ExecContext(ctx, `
			INSERT INTO write_queue (project_id, chapter_number, status, scheduled_at, slot, priority)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(project_id, chapter_number) DO NOTHING`,
			item.ProjectID, item.ChapterNumber, domain.WorkPending,
			item.ScheduledAt.UTC(), item.Slot, item.Priority)
		return err
	})
}

// ClaimWriteItem atomically selects the due pending item with the highest
// priority (then earliest scheduled time) and marks it writing with a lease.
// Items whose project has reached its daily cap are skipped. Returns
// domain.ErrNoWorkAvailable when nothing is claimable.
func (g *Gateway) ClaimWriteItem(ctx context.Context, worker string, lease time.Duration, dailyCap int) (*domain.WorkItem, error) {
	now := time.Now().UTC()
	day := g.dayKey(now)
	var item domain.WorkItem

	err := g.withRetry(ctx, "claim_write_item", func() error {
		return g.inTx(ctx, func(tx *sql.Tx) error {
			// Expired leases return to the pool before claiming.
			if _, err := tx.ExecContext(ctx, `
				UPDATE write_queue SET status = ?, lease_expires_at = NULL
				WHERE status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?`,
				domain.WorkPending, domain.WorkWriting, now); err != nil {
				return err
			}

			row := tx.QueryRowContext(ctx, `
				SELECT q.project_id, q.chapter_number, q.scheduled_at, q.slot, q.priority, q.attempts
				FROM write_queue q
				JOIN projects p ON p.id = q.project_id
				WHERE q.status = ?
				  AND q.scheduled_at <= ?
				  AND p.status = ?
				  AND p.current_chapter = q.chapter_number - 1
				  AND (SELECT COUNT(*) FROM write_queue c
				       WHERE c.project_id = q.project_id AND c.claimed_day = ?) < ?
				ORDER BY q.priority DESC, q.scheduled_at ASC, q.chapter_number ASC
				LIMIT 1`,
				domain.WorkPending, now, domain.ProjectActive, day, dailyCap)

			err := row.Scan(&item.ProjectID, &item.ChapterNumber,
				&item.ScheduledAt, &item.Slot, &item.Priority, &item.Attempts)
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrNoWorkAvailable
			}
			if err != nil {
				return err
			}

			leaseExpiry := now.Add(lease)
			res, err := tx.ExecContext(ctx, `
				UPDATE write_queue
				SET status = ?, lease_expires_at = ?, attempts = attempts + 1, claimed_day = ?
				WHERE project_id = ? AND chapter_number = ? AND status = ?`,
				domain.WorkWriting, leaseExpiry, day,
				item.ProjectID, item.ChapterNumber, domain.WorkPending)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return domain.ErrNoWorkAvailable
			}

			item.Status = domain.WorkWriting
			item.Attempts++
			item.LeaseExpiresAt = &leaseExpiry
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	g.logger.Debug("claimed work item",
		"worker", worker,
		"project_id", item.ProjectID,
		"chapter", item.ChapterNumber,
		"attempt", item.Attempts)
	return &item, nil
}

// CompleteWriteItem marks a claimed item succeeded and clears its lease.
func (g *Gateway) CompleteWriteItem(ctx context.Context, projectID string, chapter int) error {
	return g.withRetry(ctx, "complete_write_item", func() error {
		_, err := g.db.ExecContext(ctx, `
			UPDATE write_queue
			SET status = ?, lease_expires_at = NULL, last_error = ''
			WHERE project_id = ? AND chapter_number = ?`,
			domain.WorkSucceeded, projectID, chapter)
		return err
	})
}

// FailWriteItem records a failure. Retryable failures return to pending for a
// later claim; terminal ones park the item as failed.
func (g *Gateway) FailWriteItem(ctx context.Context, projectID string, chapter int, cause string, retryable bool) error {
	status := domain.WorkFailed
	if retryable {
		status = domain.WorkPending
	}
	return g.withRetry(ctx, "fail_write_item", func() error {
		_, err := g.db.ExecContext(ctx, `
			UPDATE write_queue
			SET status = ?, lease_expires_at = NULL, last_error = ?
			WHERE project_id = ? AND chapter_number = ?`,
			status, cause, projectID, chapter)
		return err
	})
}

// GetWriteItem loads one queue row.
func (g *Gateway) GetWriteItem(ctx context.Context, projectID string, chapter int) (*domain.WorkItem, error) {
	var item domain.WorkItem
	err := g.withRetry(ctx, "get_write_item", func() error {
		row := g.db.QueryRowContext(ctx, `
			SELECT project_id, chapter_number, status, scheduled_at, slot,
			       priority, attempts, lease_expires_at, last_error
			FROM write_queue WHERE project_id = ? AND chapter_number = ?`,
			projectID, chapter)
		err := row.Scan(&item.ProjectID, &item.ChapterNumber, &item.Status,
			&item.ScheduledAt, &item.Slot, &item.Priority, &item.Attempts,
			&item.LeaseExpiresAt, &item.LastError)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("work item %s#%d: %w", projectID, chapter, domain.ErrNotFound)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ChaptersClaimedToday counts queue items the project claimed during the
// current local day. Enforces the per-project daily cap.
func (g *Gateway) ChaptersClaimedToday(ctx context.Context, projectID string) (int, error) {
	var n int
	err := g.withRetry(ctx, "chapters_claimed_today", func() error {
		row := g.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM write_queue
			WHERE project_id = ? AND claimed_day = ?`,
			projectID, g.dayKey(time.Now()))
		return row.Scan(&n)
	})
	return n, err
}
