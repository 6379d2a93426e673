// Package semindex maintains a lightweight lexical index over chapter text so
// the context loader can retrieve relevant excerpts from older chapters.
package semindex

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"
)

const (
	// sectionChars is the target section size when splitting a chapter.
	sectionChars = 1200
	// maxTermsPerSection bounds the stored term set.
	maxTermsPerSection = 64
)

// Index stores chapter text split into sections and serves term-overlap
// searches. Indexing is idempotent per (project, chapter): re-indexing a
// chapter replaces its sections.
type Index struct {
	db     *sql.DB
	logger *slog.Logger
}

// Excerpt is one search hit.
type Excerpt struct {
	ChapterNumber int
	Content       string
	Score         float64
}

func New(db *sql.DB, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default().With("component", "semindex")
	}
	return &Index{db: db, logger: logger}
}

// IndexChapter splits content into sections and stores them with their term
// sets, replacing any previous index of the same chapter.
func (ix *Index) IndexChapter(ctx context.Context, projectID string, chapterNumber int, content string) error {
	sections := splitSections(content)

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning index transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM semantic_sections WHERE project_id = ? AND chapter_number = ?`,
		projectID, chapterNumber); err != nil {
		return fmt.Errorf("clearing previous sections: %w", err)
	}

	for i, section := range sections {
		terms := extractTerms(section, maxTermsPerSection)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO semantic_sections (project_id, chapter_number, section_index, content, terms)
			 VALUES (?, ?, ?, ?, ?)`,
			projectID, chapterNumber, i, section, strings.Join(terms, " ")); err != nil {
			return fmt.Errorf("inserting section %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing index transaction: %w", err)
	}

	ix.logger.Debug("chapter indexed",
		"project_id", projectID,
		"chapter", chapterNumber,
		"sections", len(sections))
	return nil
}

// Search returns up to limit sections most relevant to query, ranked by term
// overlap. Sections from chapters at or after beforeChapter are excluded so a
// chapter never retrieves itself or its successors.
func (ix *Index) Search(ctx context.Context, projectID, query string, beforeChapter, limit int) ([]Excerpt, error) {
	queryTerms := extractTerms(query, maxTermsPerSection)
	if len(queryTerms) == 0 || limit <= 0 {
		return nil, nil
	}
	want := make(map[string]struct{}, len(queryTerms))
	for _, t := range queryTerms {
		want[t] = struct{}{}
	}

	rows, err := ix.db.QueryContext(ctx,
		`SELECT chapter_number, content, terms FROM semantic_sections
		 WHERE project_id = ? AND chapter_number < ?`,
		projectID, beforeChapter)
	if err != nil {
		return nil, fmt.Errorf("querying sections: %w", err)
	}
	defer rows.Close()

	var hits []Excerpt
	for rows.Next() {
		var chapter int
		var content, terms string
		if err := rows.Scan(&chapter, &content, &terms); err != nil {
			return nil, fmt.Errorf("scanning section: %w", err)
		}
		overlap := 0
		for _, t := range strings.Fields(terms) {
			if _, ok := want[t]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		hits = append(hits, Excerpt{
			ChapterNumber: chapter,
			Content:       content,
			Score:         float64(overlap) / float64(len(want)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sections: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChapterNumber > hits[j].ChapterNumber
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// splitSections cuts text at paragraph boundaries into roughly sectionChars
// chunks. Short texts yield a single section.
func splitSections(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	paragraphs := strings.Split(text, "\n\n")
	var sections []string
	var current strings.Builder

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(p) > sectionChars {
			sections = append(sections, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	if current.Len() > 0 {
		sections = append(sections, current.String())
	}
	return sections
}

// extractTerms lowercases text and returns its distinct tokens of length >= 2,
// preserving first-seen order, capped at max.
func extractTerms(text string, max int) []string {
	seen := make(map[string]struct{})
	var terms []string

	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
		if len(terms) >= max {
			break
		}
	}
	return terms
}
