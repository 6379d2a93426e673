package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vampirenirmal/storyfactory/internal/domain"
)

// CreateProject inserts a project and its parent novel row. Idempotent by
// project id.
func (g *Gateway) CreateProject(ctx context.Context, p *domain.Project) error {
	return g.withRetry(ctx, "create_project", func() error {
		return g.inTx(ctx, func(tx *sql.Tx) error {
			now := time.Now().UTC()
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO novels (id, updated_at) VALUES (?, ?)`,
				p.NovelID, now); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO projects (
					id, novel_id, genre, main_character, current_chapter,
					total_planned_chapters, target_chapter_length, status,
					model_preference, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO NOTHING`,
				p.ID, p.NovelID, p.Genre, p.MainCharacter, p.CurrentChapter,
				p.TotalPlannedChapters, p.TargetChapterLength, p.Status,
				p.ModelPreference, now)
			return err
		})
	})
}

// GetProject loads one project by id.
func (g *Gateway) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	var p domain.Project
	err := g.withRetry(ctx, "get_project", func() error {
		row := g.db.QueryRowContext(ctx, `
			SELECT id, novel_id, genre, main_character, current_chapter,
			       total_planned_chapters, target_chapter_length, status,
			       model_preference, updated_at
			FROM projects WHERE id = ?`, id)
		err := row.Scan(&p.ID, &p.NovelID, &p.Genre, &p.MainCharacter,
			&p.CurrentChapter, &p.TotalPlannedChapters, &p.TargetChapterLength,
			&p.Status, &p.ModelPreference, &p.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListActiveProjects returns projects in active status, oldest-updated first,
// capped at limit.
func (g *Gateway) ListActiveProjects(ctx context.Context, limit int) ([]*domain.Project, error) {
	var projects []*domain.Project
	err := g.withRetry(ctx, "list_active_projects", func() error {
		rows, err := g.db.QueryContext(ctx, `
			SELECT id, novel_id, genre, main_character, current_chapter,
			       total_planned_chapters, target_chapter_length, status,
			       model_preference, updated_at
			FROM projects WHERE status = ?
			ORDER BY updated_at ASC LIMIT ?`, domain.ProjectActive, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		projects = projects[:0]
		for rows.Next() {
			var p domain.Project
			if err := rows.Scan(&p.ID, &p.NovelID, &p.Genre, &p.MainCharacter,
				&p.CurrentChapter, &p.TotalPlannedChapters, &p.TargetChapterLength,
				&p.Status, &p.ModelPreference, &p.UpdatedAt); err != nil {
				return err
			}
			projects = append(projects, &p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return projects, nil
}

// SetProjectStatus transitions a project's status.
func (g *Gateway) SetProjectStatus(ctx context.Context, id string, status domain.ProjectStatus) error {
	return g.withRetry(ctx, "set_project_status", func() error {
		res, err := g.db.ExecContext(ctx,
			`UPDATE projects SET status = ?, updated_at = ? WHERE id = ?`,
			status, time.Now().UTC(), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
		}
		return nil
	})
}

// AdvanceProjectChapter performs the compare-and-set advance of
// current_chapter from n-1 to n. This is the sole coordination primitive
// preventing two workers from racing on the same chapter number.
func (g *Gateway) AdvanceProjectChapter(ctx context.Context, id string, n int) error {
	return g.withRetry(ctx, "advance_project_chapter", func() error {
		return g.inTx(ctx, func(tx *sql.Tx) error {
			return advanceProjectChapterTx(ctx, tx, id, n)
		})
	})
}

func advanceProjectChapterTx(ctx context.Context, tx *sql.Tx, id string, n int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE projects SET current_chapter = ?, updated_at = ?
		WHERE id = ? AND current_chapter = ?`,
		n, time.Now().UTC(), id, n-1)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows > 0 {
		return nil
	}

	// The compare-and-set missed. Distinguish the benign race, where another
	// worker already advanced to n or beyond, from a cursor that never reached
	// n-1: the latter means the chapter was produced out of order and must not
	// be swallowed as a duplicate.
	var current int
	err = tx.QueryRowContext(ctx,
		`SELECT current_chapter FROM projects WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if current >= n {
		return fmt.Errorf("advance to %d, cursor at %d: %w", n, current, domain.ErrChapterConflict)
	}
	return fmt.Errorf("advance to %d, cursor at %d: %w", n, current, domain.ErrChapterBehind)
}

// SaveBlueprint stores (or wholly replaces) the per-project plan.
func (g *Gateway) SaveBlueprint(ctx context.Context, b *domain.Blueprint) error {
	arcs, err := json.Marshal(b.Arcs)
	if err != nil {
		return fmt.Errorf("encoding arc outlines: %w", err)
	}
	chapters, err := json.Marshal(b.Chapters)
	if err != nil {
		return fmt.Errorf("encoding chapter outlines: %w", err)
	}

	return g.withRetry(ctx, "save_blueprint", func() error {
		_, err := g.db.ExecContext(ctx, `
			INSERT INTO outlines (
				project_id, tagline, world_description, power_system,
				main_character_name, main_character_motivation,
				arc_outlines_json, chapter_outlines_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(project_id) DO UPDATE SET
				tagline = excluded.tagline,
				world_description = excluded.world_description,
				power_system = excluded.power_system,
				main_character_name = excluded.main_character_name,
				main_character_motivation = excluded.main_character_motivation,
				arc_outlines_json = excluded.arc_outlines_json,
				chapter_outlines_json = excluded.chapter_outlines_json`,
			b.ProjectID, b.Tagline, b.WorldDescription, b.PowerSystem,
			b.MainCharacterName, b.MainCharacterMotivation,
			string(arcs), string(chapters))
		return err
	})
}

// GetOutline loads the project blueprint.
func (g *Gateway) GetOutline(ctx context.Context, projectID string) (*domain.Blueprint, error) {
	var b domain.Blueprint
	var arcsJSON, chaptersJSON string
	err := g.withRetry(ctx, "get_outline", func() error {
		row := g.db.QueryRowContext(ctx, `
			SELECT project_id, tagline, world_description, power_system,
			       main_character_name, main_character_motivation,
			       arc_outlines_json, chapter_outlines_json
			FROM outlines WHERE project_id = ?`, projectID)
		err := row.Scan(&b.ProjectID, &b.Tagline, &b.WorldDescription,
			&b.PowerSystem, &b.MainCharacterName, &b.MainCharacterMotivation,
			&arcsJSON, &chaptersJSON)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("outline for %s: %w", projectID, domain.ErrNotFound)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(arcsJSON), &b.Arcs); err != nil {
		return nil, fmt.Errorf("decoding arc outlines: %w", err)
	}
	if err := json.Unmarshal([]byte(chaptersJSON), &b.Chapters); err != nil {
		return nil, fmt.Errorf("decoding chapter outlines: %w", err)
	}
	return &b, nil
}
