package store

import (
	"context"
	"database/sql"

	"github.com/vampirenirmal/storyfactory/internal/domain"
)

// UpsertCanonFact writes one canon fact outside a chapter commit. Chapter
// persists use the transactional variant.
func (g *Gateway) UpsertCanonFact(ctx context.Context, f *domain.CanonFact) error {
	return g.withRetry(ctx, "upsert_canon_fact", func() error {
		return g.inTx(ctx, func(tx *sql.Tx) error {
			return upsertCanonFactTx(ctx, tx, f)
		})
	})
}

func upsertCanonFactTx(ctx context.Context, tx *sql.Tx, f *domain.CanonFact) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO canon_facts (
			project_id, subject, predicate, object,
			first_chapter, last_confirmed_chapter, status
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, subject, predicate, object) DO UPDATE SET
			last_confirmed_chapter = MAX(last_confirmed_chapter, excluded.last_confirmed_chapter),
			status = excluded.status`,
		f.ProjectID, f.Subject, f.Predicate, f.Object,
		f.FirstChapter, f.LastConfirmedChapter, f.Status)
	return err
}

// retractCanonFactsTx marks superseded facts (same subject and predicate,
// different object) as retracted. Used for explicit progressions such as a
// realm advance replacing the previous realm fact.
func retractCanonFactsTx(ctx context.Context, tx *sql.Tx, f *domain.CanonFact) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE canon_facts SET status = ?
		WHERE project_id = ? AND subject = ? AND predicate = ?
		  AND object <> ? AND status = ?`,
		domain.FactRetracted, f.ProjectID, f.Subject, f.Predicate,
		f.Object, domain.FactActive)
	return err
}

// ActiveCanonFacts returns every active fact for the project, most recently
// confirmed first.
func (g *Gateway) ActiveCanonFacts(ctx context.Context, projectID string) ([]domain.CanonFact, error) {
	var facts []domain.CanonFact
	err := g.withRetry(ctx, "active_canon_facts", func() error {
		rows, err := g.db.QueryContext(ctx, `
			SELECT project_id, subject, predicate, object,
			       first_chapter, last_confirmed_chapter, status
			FROM canon_facts
			WHERE project_id = ? AND status = ?
			ORDER BY last_confirmed_chapter DESC, subject ASC`,
			projectID, domain.FactActive)
		if err != nil {
			return err
		}
		defer rows.Close()

		facts = facts[:0]
		for rows.Next() {
			var f domain.CanonFact
			if err := rows.Scan(&f.ProjectID, &f.Subject, &f.Predicate, &f.Object,
				&f.FirstChapter, &f.LastConfirmedChapter, &f.Status); err != nil {
				return err
			}
			facts = append(facts, f)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return facts, nil
}
