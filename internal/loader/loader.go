// Package loader assembles the writing context for one chapter: recent
// summaries, the active arc, the chapter outline, a canon snapshot, beat
// recommendations, style hints, and retrieved excerpts. Sub-sources are
// best-effort additive; a failing source is logged and skipped, never fatal.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vampirenirmal/storyfactory/internal/domain"
	"github.com/vampirenirmal/storyfactory/internal/semindex"
)

const canonTopK = 50

// Store is the subset of gateway operations the loader reads from.
type Store interface {
	GetProject(ctx context.Context, projectID string) (*domain.Project, error)
	GetOutline(ctx context.Context, projectID string) (*domain.Blueprint, error)
	GetRecentChapterSummaries(ctx context.Context, projectID string, k int) ([]domain.ChapterSummary, error)
	ActiveCanonFacts(ctx context.Context, projectID string) ([]domain.CanonFact, error)
	BeatsInWindow(ctx context.Context, projectID string, beforeChapter, window int) ([]domain.BeatEntry, error)
}

// Searcher retrieves excerpts from previously indexed chapters.
type Searcher interface {
	Search(ctx context.Context, projectID, query string, beforeChapter, limit int) ([]semindex.Excerpt, error)
}

// Excerpt is one retrieved passage from an earlier chapter.
type Excerpt struct {
	ChapterNumber int
	Text          string
}

// Bundle is the assembled chapter-writing context. Optional sections are nil
// when their source had nothing or failed.
type Bundle struct {
	Project       *domain.Project
	ChapterNumber int

	Tagline          string
	WorldDescription string
	PowerSystem      string

	Arc       *domain.ArcOutline
	Outline   *domain.ChapterOutline
	Summaries []domain.ChapterSummary
	Canon     []domain.CanonFact

	// BeatRecommendations lists beat types under-used in the recent window,
	// most neglected first.
	BeatRecommendations []domain.BeatType

	StyleHints []string
	Excerpts   []Excerpt
}

// Loader builds context bundles.
type Loader struct {
	store          Store
	searcher       Searcher
	recentChapters int
	beatWindow     int
	maxChars       int
	ragLimit       int
	ragChars       int
	logger         *slog.Logger
}

type Option func(*Loader)

func WithRecentChapters(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.recentChapters = n
		}
	}
}

func WithBeatWindow(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.beatWindow = n
		}
	}
}

func WithMaxChars(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.maxChars = n
		}
	}
}

func WithSearcher(s Searcher) Option {
	return func(l *Loader) {
		l.searcher = s
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func New(store Store, opts ...Option) *Loader {
	l := &Loader{
		store:          store,
		recentChapters: 3,
		beatWindow:     20,
		maxChars:       12000,
		ragLimit:       5,
		ragChars:       3000,
		logger:         slog.Default().With("component", "loader"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadContext assembles the bundle for writing chapter nextChapter of the
// project. The project and blueprint are required; everything else degrades
// gracefully.
func (l *Loader) LoadContext(ctx context.Context, projectID string, nextChapter int) (*Bundle, error) {
	start := time.Now()

	project, err := l.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}

	bundle := &Bundle{
		Project:       project,
		ChapterNumber: nextChapter,
	}

	blueprint, err := l.store.GetOutline(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("loading outline: %w", err)
	}
	bundle.Tagline = blueprint.Tagline
	bundle.WorldDescription = blueprint.WorldDescription
	bundle.PowerSystem = blueprint.PowerSystem
	bundle.Arc = blueprint.ArcFor(nextChapter)
	bundle.Outline = blueprint.ChapterFor(nextChapter)

	if summaries, err := l.store.GetRecentChapterSummaries(ctx, projectID, l.recentChapters); err != nil {
		l.logger.Warn("loading recent summaries failed, continuing without",
			"project_id", projectID, "chapter", nextChapter, "error", err)
	} else {
		bundle.Summaries = summaries
	}

	if facts, err := l.store.ActiveCanonFacts(ctx, projectID); err != nil {
		l.logger.Warn("loading canon facts failed, continuing without",
			"project_id", projectID, "chapter", nextChapter, "error", err)
	} else {
		bundle.Canon = selectRelevantFacts(facts, bundle.Outline, project.MainCharacter, canonTopK)
	}

	if beats, err := l.store.BeatsInWindow(ctx, projectID, nextChapter, l.beatWindow); err != nil {
		l.logger.Warn("loading beat window failed, continuing without",
			"project_id", projectID, "chapter", nextChapter, "error", err)
	} else {
		bundle.BeatRecommendations = recommendBeats(beats)
	}

	bundle.StyleHints = StyleHints(project.Genre, sceneTypeOf(bundle.Outline))

	if l.searcher != nil {
		if excerpts := l.searchExcerpts(ctx, projectID, nextChapter, bundle.Outline); len(excerpts) > 0 {
			bundle.Excerpts = excerpts
		}
	}

	l.enforceCharBudget(bundle)

	l.logger.Debug("context bundle assembled",
		"project_id", projectID,
		"chapter", nextChapter,
		"summaries", len(bundle.Summaries),
		"canon_facts", len(bundle.Canon),
		"excerpts", len(bundle.Excerpts),
		"duration_ms", time.Since(start).Milliseconds())

	return bundle, nil
}

func (l *Loader) searchExcerpts(ctx context.Context, projectID string, nextChapter int, outline *domain.ChapterOutline) []Excerpt {
	query := ""
	if outline != nil {
		query = outline.Summary + " " + strings.Join(outline.Characters, " ")
	}
	if strings.TrimSpace(query) == "" {
		return nil
	}

	hits, err := l.searcher.Search(ctx, projectID, query, nextChapter, l.ragLimit)
	if err != nil {
		l.logger.Warn("semantic search failed, continuing without excerpts",
			"project_id", projectID, "chapter", nextChapter, "error", err)
		return nil
	}

	var out []Excerpt
	remaining := l.ragChars
	for _, h := range hits {
		if remaining <= 0 {
			break
		}
		text := h.Content
		if len(text) > remaining {
			text = truncateRunes(text, remaining)
		}
		remaining -= len(text)
		out = append(out, Excerpt{ChapterNumber: h.ChapterNumber, Text: text})
	}
	return out
}

// enforceCharBudget trims the bundle to the configured character cap by
// dropping oldest summaries first, then least-recently-confirmed canon facts,
// then excerpts. The chapter outline is never trimmed.
func (l *Loader) enforceCharBudget(b *Bundle) {
	for l.bundleChars(b) > l.maxChars && len(b.Summaries) > 1 {
		b.Summaries = b.Summaries[1:]
	}
	for l.bundleChars(b) > l.maxChars && len(b.Canon) > 0 {
		b.Canon = b.Canon[:len(b.Canon)-1]
	}
	for l.bundleChars(b) > l.maxChars && len(b.Excerpts) > 0 {
		b.Excerpts = b.Excerpts[:len(b.Excerpts)-1]
	}
}

func (l *Loader) bundleChars(b *Bundle) int {
	n := len(b.Tagline) + len(b.WorldDescription) + len(b.PowerSystem)
	for _, s := range b.Summaries {
		n += len(s.Title) + len(s.Summary)
	}
	for _, f := range b.Canon {
		n += len(f.Subject) + len(f.Predicate) + len(f.Object)
	}
	for _, e := range b.Excerpts {
		n += len(e.Text)
	}
	if b.Arc != nil {
		n += len(b.Arc.Title) + len(b.Arc.Theme) + len(b.Arc.Climax)
		for _, ev := range b.Arc.KeyEvents {
			n += len(ev)
		}
	}
	if b.Outline != nil {
		n += len(b.Outline.Title) + len(b.Outline.Summary)
		for _, kp := range b.Outline.KeyPoints {
			n += len(kp)
		}
	}
	for _, h := range b.StyleHints {
		n += len(h)
	}
	return n
}

// selectRelevantFacts keeps at most k facts, preferring those whose subject
// appears in the outline's character list or is the main character. Facts
// arrive most-recently-confirmed first and that order is preserved within
// each relevance class.
func selectRelevantFacts(facts []domain.CanonFact, outline *domain.ChapterOutline, mainCharacter string, k int) []domain.CanonFact {
	relevant := make(map[string]struct{})
	if mainCharacter != "" {
		relevant[strings.ToLower(mainCharacter)] = struct{}{}
	}
	if outline != nil {
		for _, c := range outline.Characters {
			relevant[strings.ToLower(c)] = struct{}{}
		}
	}

	var primary, secondary []domain.CanonFact
	for _, f := range facts {
		if _, ok := relevant[strings.ToLower(f.Subject)]; ok {
			primary = append(primary, f)
		} else {
			secondary = append(secondary, f)
		}
	}

	out := primary
	if len(out) < k {
		need := k - len(out)
		if need > len(secondary) {
			need = len(secondary)
		}
		out = append(out, secondary[:need]...)
	}
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// recommendBeats returns beat types unused or rarely used in the window,
// least-used first. Ties keep the stable enum order.
func recommendBeats(window []domain.BeatEntry) []domain.BeatType {
	counts := make(map[domain.BeatType]int)
	for _, b := range window {
		counts[b.Beat]++
	}

	var recs []domain.BeatType
	for threshold := 0; threshold <= 1 && len(recs) < 4; threshold++ {
		for _, bt := range domain.AllBeatTypes {
			if counts[bt] == threshold {
				recs = append(recs, bt)
				if len(recs) >= 4 {
					break
				}
			}
		}
	}
	return recs
}

func sceneTypeOf(outline *domain.ChapterOutline) string {
	if outline == nil || outline.DopamineType == "" {
		return "default"
	}
	return outline.DopamineType
}

// truncateRunes cuts s to at most max bytes without splitting a rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !isRuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
