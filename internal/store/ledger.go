package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/vampirenirmal/storyfactory/internal/domain"
)

// RecordBeat appends one beat entry outside a chapter commit.
func (g *Gateway) RecordBeat(ctx context.Context, b *domain.BeatEntry) error {
	return g.withRetry(ctx, "record_beat", func() error {
		return g.inTx(ctx, func(tx *sql.Tx) error {
			return recordBeatTx(ctx, tx, b)
		})
	})
}

func recordBeatTx(ctx context.Context, tx *sql.Tx, b *domain.BeatEntry) error {
	at := b.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO beat_ledger (project_id, chapter_number, beat_type, category, intensity, at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.ProjectID, b.ChapterNumber, b.Beat, b.Category, b.Intensity, at)
	return err
}

// BeatsInWindow returns beat entries for the window of chapters
// (beforeChapter-window, beforeChapter], oldest first.
func (g *Gateway) BeatsInWindow(ctx context.Context, projectID string, beforeChapter, window int) ([]domain.BeatEntry, error) {
	var beats []domain.BeatEntry
	err := g.withRetry(ctx, "beats_in_window", func() error {
		rows, err := g.db.QueryContext(ctx, `
			SELECT project_id, chapter_number, beat_type, category, intensity, at
			FROM beat_ledger
			WHERE project_id = ? AND chapter_number > ? AND chapter_number <= ?
			ORDER BY chapter_number ASC`,
			projectID, beforeChapter-window, beforeChapter)
		if err != nil {
			return err
		}
		defer rows.Close()

		beats = beats[:0]
		for rows.Next() {
			var b domain.BeatEntry
			if err := rows.Scan(&b.ProjectID, &b.ChapterNumber, &b.Beat,
				&b.Category, &b.Intensity, &b.At); err != nil {
				return err
			}
			beats = append(beats, b)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return beats, nil
}

// RecordPowerEvent appends one power event outside a chapter commit.
func (g *Gateway) RecordPowerEvent(ctx context.Context, e *domain.PowerEvent) error {
	return g.withRetry(ctx, "record_power_event", func() error {
		return g.inTx(ctx, func(tx *sql.Tx) error {
			return recordPowerEventTx(ctx, tx, e)
		})
	})
}

func recordPowerEventTx(ctx context.Context, tx *sql.Tx, e *domain.PowerEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO power_events (project_id, character, chapter_number, kind, realm, level, skill, item)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ProjectID, e.Character, e.ChapterNumber, e.Kind, e.Realm, e.Level, e.Skill, e.Item)
	return err
}

// PowerStateFor folds the event log into the character's current state.
// The realm recorded on the latest breakthrough wins; abilities and items
// accumulate.
func (g *Gateway) PowerStateFor(ctx context.Context, projectID, character string) (*domain.PowerState, error) {
	state := &domain.PowerState{
		ProjectID: projectID,
		Character: character,
		Level:     1,
	}
	err := g.withRetry(ctx, "power_state_for", func() error {
		rows, err := g.db.QueryContext(ctx, `
			SELECT kind, realm, level, skill, item
			FROM power_events
			WHERE project_id = ? AND character = ?
			ORDER BY chapter_number ASC, rowid ASC`,
			projectID, character)
		if err != nil {
			return err
		}
		defer rows.Close()

		state.Realm = ""
		state.Level = 1
		state.Abilities = nil
		state.Items = nil
		state.TotalBreakthroughs = 0

		for rows.Next() {
			var kind domain.PowerEventKind
			var realm, skill, item string
			var level int
			if err := rows.Scan(&kind, &realm, &level, &skill, &item); err != nil {
				return err
			}
			switch kind {
			case domain.PowerBreakthrough:
				if realm != "" && realm != state.Realm {
					state.Realm = realm
					state.Level = 1
				} else if level > 0 {
					state.Level = level
				}
				state.TotalBreakthroughs++
			case domain.PowerSkillGained:
				if skill != "" {
					state.Abilities = append(state.Abilities, skill)
				}
			case domain.PowerItemGained:
				if item != "" {
					state.Items = append(state.Items, item)
				}
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}
