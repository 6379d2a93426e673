package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/vampirenirmal/storyfactory/internal/domain"
)

// EnqueuePublish schedules a chapter release. Idempotent by chapter id.
func (g *Gateway) EnqueuePublish(ctx context.Context, chapterID string, at time.Time) error {
	return g.withRetry(ctx, "enqueue_publish", func() error {
		_, err := g.db.ExecContext(ctx, `
			INSERT INTO publish_queue (chapter_id, scheduled_at, status)
			VALUES (?, ?, ?)
			ON CONFLICT(chapter_id) DO NOTHING`,
			chapterID, at.UTC(), domain.PublishScheduled)
		return err
	})
}

// ClaimDuePublishes atomically moves due scheduled (or backoff-expired
// failed) items to publishing and returns them. Publish never runs before the
// scheduled time.
func (g *Gateway) ClaimDuePublishes(ctx context.Context, now time.Time, limit int) ([]domain.PublishItem, error) {
	var items []domain.PublishItem
	err := g.withRetry(ctx, "claim_due_publishes", func() error {
		return g.inTx(ctx, func(tx *sql.Tx) error {
			rows, err := tx.QueryContext(ctx, `
				SELECT chapter_id, scheduled_at, status, retries, last_error
				FROM publish_queue
				WHERE scheduled_at <= ?
				  AND (status = ?
				       OR (status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)))
				ORDER BY scheduled_at ASC
				LIMIT ?`,
				now.UTC(), domain.PublishScheduled, domain.PublishFailed, now.UTC(), limit)
			if err != nil {
				return err
			}
			defer rows.Close()

			items = items[:0]
			for rows.Next() {
				var item domain.PublishItem
				if err := rows.Scan(&item.ChapterID, &item.ScheduledAt,
					&item.Status, &item.Retries, &item.LastError); err != nil {
					return err
				}
				items = append(items, item)
			}
			if err := rows.Err(); err != nil {
				return err
			}

			for i := range items {
				if _, err := tx.ExecContext(ctx, `
					UPDATE publish_queue SET status = ? WHERE chapter_id = ?`,
					domain.PublishInProgress, items[i].ChapterID); err != nil {
					return err
				}
				items[i].Status = domain.PublishInProgress
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// MarkPublished promotes the chapter to published and finishes the queue
// entry in one transaction, bumping the parent novel's updated_at.
// Idempotent: republishing an already-published chapter is a no-op.
func (g *Gateway) MarkPublished(ctx context.Context, chapterID string, at time.Time) error {
	return g.withRetry(ctx, "mark_published", func() error {
		return g.inTx(ctx, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, `
				UPDATE chapters SET status = ?, published_at = ?
				WHERE id = ? AND status <> ?`,
				domain.ChapterPublished, at.UTC(), chapterID, domain.ChapterPublished)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				if _, err := tx.ExecContext(ctx, `
					UPDATE novels SET updated_at = ?
					WHERE id = (SELECT novel_id FROM chapters WHERE id = ?)`,
					at.UTC(), chapterID); err != nil {
					return err
				}
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE publish_queue
				SET status = ?, published_at = ?, last_error = ''
				WHERE chapter_id = ?`,
				domain.PublishDone, at.UTC(), chapterID)
			return err
		})
	})
}

// MarkPublishFailed records a publish failure and schedules the next attempt
// with exponential backoff. Past maxRetries the item stays failed with no
// next attempt.
func (g *Gateway) MarkPublishFailed(ctx context.Context, chapterID, cause string, backoff time.Duration, maxRetries int) error {
	return g.withRetry(ctx, "mark_publish_failed", func() error {
		return g.inTx(ctx, func(tx *sql.Tx) error {
			var retries int
			row := tx.QueryRowContext(ctx,
				`SELECT retries FROM publish_queue WHERE chapter_id = ?`, chapterID)
			if err := row.Scan(&retries); err != nil {
				return err
			}

			retries++
			var nextAttempt interface{}
			if retries <= maxRetries {
				delay := backoff << (retries - 1)
				nextAttempt = time.Now().UTC().Add(delay)
			}
			_, err := tx.ExecContext(ctx, `
				UPDATE publish_queue
				SET status = ?, retries = ?, next_attempt_at = ?, last_error = ?
				WHERE chapter_id = ?`,
				domain.PublishFailed, retries, nextAttempt, cause, chapterID)
			return err
		})
	})
}

// GetPublishItem loads one publish-queue row.
func (g *Gateway) GetPublishItem(ctx context.Context, chapterID string) (*domain.PublishItem, error) {
	var item domain.PublishItem
	err := g.withRetry(ctx, "get_publish_item", func() error {
		row := g.db.QueryRowContext(ctx, `
			SELECT chapter_id, scheduled_at, status, retries, last_error, published_at
			FROM publish_queue WHERE chapter_id = ?`, chapterID)
		return row.Scan(&item.ChapterID, &item.ScheduledAt, &item.Status,
			&item.Retries, &item.LastError, &item.PublishedAt)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// NovelUpdatedAt returns the parent novel's updated_at stamp.
func (g *Gateway) NovelUpdatedAt(ctx context.Context, novelID string) (time.Time, error) {
	var t time.Time
	err := g.withRetry(ctx, "novel_updated_at", func() error {
		row := g.db.QueryRowContext(ctx,
			`SELECT updated_at FROM novels WHERE id = ?`, novelID)
		return row.Scan(&t)
	})
	return t, err
}
