package store

import (
	"context"
	"database/sql"

	"github.com/vampirenirmal/storyfactory/internal/domain"
)

// ChapterCommit bundles everything a chapter persist must write atomically:
// the chapter row, its summary, canon deltas, beat and power events, the cost
// record, and the CAS advance of the project's current chapter.
type ChapterCommit struct {
	ProjectID    string
	Chapter      *domain.Chapter
	Summary      *domain.ChapterSummary
	Facts        []domain.CanonFact
	Progressions []domain.CanonFact
	Beats        []domain.BeatEntry
	PowerEvents  []domain.PowerEvent
	Costs        []domain.CostRecord

	// Advance requests the compare-and-set bump of current_chapter from
	// Chapter.ChapterNumber-1. Left false for human-review drafts, which
	// are saved without advancing.
	Advance bool
}

// PersistChapter commits the whole chapter outcome in one transaction.
// Either everything lands or nothing does; a failed CAS rolls the entire
// commit back and surfaces domain.ErrChapterConflict, which callers treat as
// a benign duplicate.
func (g *Gateway) PersistChapter(ctx context.Context, commit *ChapterCommit) error {
	return g.withRetry(ctx, "persist_chapter", func() error {
		return g.inTx(ctx, func(tx *sql.Tx) error {
			if commit.Advance {
				// CAS first: a conflict means another worker already owns
				// this chapter number, and nothing else should be written.
				if err := advanceProjectChapterTx(ctx, tx, commit.ProjectID, commit.Chapter.ChapterNumber); err != nil {
					return err
				}
			}

			if err := upsertChapterTx(ctx, tx, commit.Chapter); err != nil {
				return err
			}
			if commit.Summary != nil {
				if err := upsertSummaryTx(ctx, tx, commit.Summary); err != nil {
					return err
				}
			}

			for i := range commit.Progressions {
				// Progressions retract the superseded object before the new
				// fact lands, e.g. realm advancement.
				if err := retractCanonFactsTx(ctx, tx, &commit.Progressions[i]); err != nil {
					return err
				}
				if err := upsertCanonFactTx(ctx, tx, &commit.Progressions[i]); err != nil {
					return err
				}
			}
			for i := range commit.Facts {
				if err := upsertCanonFactTx(ctx, tx, &commit.Facts[i]); err != nil {
					return err
				}
			}

			for i := range commit.Beats {
				commit.Beats[i].ProjectID = commit.ProjectID
				commit.Beats[i].ChapterNumber = commit.Chapter.ChapterNumber
				if err := recordBeatTx(ctx, tx, &commit.Beats[i]); err != nil {
					return err
				}
			}
			for i := range commit.PowerEvents {
				commit.PowerEvents[i].ProjectID = commit.ProjectID
				commit.PowerEvents[i].ChapterNumber = commit.Chapter.ChapterNumber
				if err := recordPowerEventTx(ctx, tx, &commit.PowerEvents[i]); err != nil {
					return err
				}
			}
			for i := range commit.Costs {
				if err := g.recordCostTx(ctx, tx, &commit.Costs[i]); err != nil {
					return err
				}
			}

			return nil
		})
	})
}
