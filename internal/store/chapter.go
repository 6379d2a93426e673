package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vampirenirmal/storyfactory/internal/domain"
)

// GetChapter loads one chapter by novel and number.
func (g *Gateway) GetChapter(ctx context.Context, novelID string, number int) (*domain.Chapter, error) {
	var c domain.Chapter
	err := g.withRetry(ctx, "get_chapter", func() error {
		row := g.db.QueryRowContext(ctx, `
			SELECT id, novel_id, chapter_number, title, content, word_count,
			       status, created_at, published_at
			FROM chapters WHERE novel_id = ? AND chapter_number = ?`,
			novelID, number)
		err := row.Scan(&c.ID, &c.NovelID, &c.ChapterNumber, &c.Title,
			&c.Content, &c.WordCount, &c.Status, &c.CreatedAt, &c.PublishedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("chapter %d of %s: %w", number, novelID, domain.ErrNotFound)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetChapterByID loads one chapter by primary key.
func (g *Gateway) GetChapterByID(ctx context.Context, id string) (*domain.Chapter, error) {
	var c domain.Chapter
	err := g.withRetry(ctx, "get_chapter_by_id", func() error {
		row := g.db.QueryRowContext(ctx, `
			SELECT id, novel_id, chapter_number, title, content, word_count,
			       status, created_at, published_at
			FROM chapters WHERE id = ?`, id)
		err := row.Scan(&c.ID, &c.NovelID, &c.ChapterNumber, &c.Title,
			&c.Content, &c.WordCount, &c.Status, &c.CreatedAt, &c.PublishedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("chapter %s: %w", id, domain.ErrNotFound)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// HasChapter reports whether a chapter row exists for the chapter number.
func (g *Gateway) HasChapter(ctx context.Context, novelID string, number int) (bool, error) {
	var exists bool
	err := g.withRetry(ctx, "has_chapter", func() error {
		row := g.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM chapters WHERE novel_id = ? AND chapter_number = ?)`,
			novelID, number)
		return row.Scan(&exists)
	})
	return exists, err
}

// UpsertChapter writes a chapter row outside a chapter commit. Production
// persists go through PersistChapter; this exists for repair tooling and
// tests.
func (g *Gateway) UpsertChapter(ctx context.Context, c *domain.Chapter) error {
	return g.withRetry(ctx, "upsert_chapter", func() error {
		return g.inTx(ctx, func(tx *sql.Tx) error {
			return upsertChapterTx(ctx, tx, c)
		})
	})
}

// upsertChapterTx writes the chapter row keyed by (novel_id, chapter_number).
// Re-persisting the same chapter replaces content in place, keeping the
// original id and created_at.
func upsertChapterTx(ctx context.Context, tx *sql.Tx, c *domain.Chapter) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO chapters (
			id, novel_id, chapter_number, title, content, word_count,
			status, created_at, published_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(novel_id, chapter_number) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			word_count = excluded.word_count,
			status = excluded.status`,
		c.ID, c.NovelID, c.ChapterNumber, c.Title, c.Content, c.WordCount,
		c.Status, c.CreatedAt, c.PublishedAt)
	return err
}

// upsertSummaryTx writes the per-chapter summary row.
func upsertSummaryTx(ctx context.Context, tx *sql.Tx, s *domain.ChapterSummary) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO chapter_summaries (project_id, chapter_number, title, summary)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id, chapter_number) DO UPDATE SET
			title = excluded.title,
			summary = excluded.summary`,
		s.ProjectID, s.ChapterNumber, s.Title, s.Summary)
	return err
}

// GetRecentChapterSummaries returns the last k summaries in ascending chapter
// order.
func (g *Gateway) GetRecentChapterSummaries(ctx context.Context, projectID string, k int) ([]domain.ChapterSummary, error) {
	var summaries []domain.ChapterSummary
	err := g.withRetry(ctx, "get_recent_summaries", func() error {
		rows, err := g.db.QueryContext(ctx, `
			SELECT project_id, chapter_number, title, summary
			FROM chapter_summaries WHERE project_id = ?
			ORDER BY chapter_number DESC LIMIT ?`, projectID, k)
		if err != nil {
			return err
		}
		defer rows.Close()

		summaries = summaries[:0]
		for rows.Next() {
			var s domain.ChapterSummary
			if err := rows.Scan(&s.ProjectID, &s.ChapterNumber, &s.Title, &s.Summary); err != nil {
				return err
			}
			summaries = append(summaries, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(summaries)-1; i < j; i, j = i+1, j-1 {
		summaries[i], summaries[j] = summaries[j], summaries[i]
	}
	return summaries, nil
}
