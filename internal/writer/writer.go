// Package writer turns a context bundle into a chapter draft by prompting an
// injected text generator and parsing the response.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vampirenirmal/storyfactory/internal/agent"
	"github.com/vampirenirmal/storyfactory/internal/domain"
	"github.com/vampirenirmal/storyfactory/internal/loader"
)

// Draft is one generated chapter before gate evaluation.
type Draft struct {
	ChapterNumber int
	Title         string
	Body          string
	WordCount     int
	InputTokens   int
	OutputTokens  int
	Model         string

	// HeaderChapter is the chapter number the model wrote in its own title
	// line, zero when no title line parsed. Gates compare it to the target.
	HeaderChapter int
}

// Params tunes one write call.
type Params struct {
	Model       string
	MaxTokens   int
	Temperature float64
	TargetWords int
	// ContextWindow caps the total prompt size in characters. Zero disables
	// the check.
	ContextWindow int
}

// Writer generates chapter drafts.
type Writer struct {
	gen    agent.Generator
	logger *slog.Logger
}

func New(gen agent.Generator, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default().With("component", "writer")
	}
	return &Writer{gen: gen, logger: logger}
}

// minAcceptableWords is the floor below which a response is considered
// truncated rather than a short chapter.
const minAcceptableWords = 300

// WriteChapter generates the chapter described by the bundle. Upstream and
// timeout failures are retryable; empty and truncated responses are content
// failures for the rewrite loop.
func (w *Writer) WriteChapter(ctx context.Context, bundle *loader.Bundle, params Params) (*Draft, error) {
	build := func() string { return BuildUserPrompt(bundle, targetWords(bundle, params)) }
	return w.generate(ctx, bundle, SystemPrompt(bundle.Project.Genre), build, params)
}

// RewriteChapter regenerates the chapter from a previous draft and the gate
// diagnostics that failed it.
func (w *Writer) RewriteChapter(ctx context.Context, bundle *loader.Bundle, previous *Draft, diagnostics []string, params Params) (*Draft, error) {
	full := previous.Title
	if full != "" {
		full = fmt.Sprintf("Chương %d: %s\n", previous.ChapterNumber, previous.Title)
	}
	full += previous.Body

	build := func() string { return BuildRewritePrompt(bundle, full, diagnostics, targetWords(bundle, params)) }
	return w.generate(ctx, bundle, SystemPrompt(bundle.Project.Genre), build, params)
}

// generate runs one LLM call and parses the draft. buildPrompt is re-invoked
// after a context-window trim so a rewrite call rebuilds a rewrite prompt, not
// a fresh-write one.
func (w *Writer) generate(ctx context.Context, bundle *loader.Bundle, systemMsg string, buildPrompt func() string, params Params) (*Draft, error) {
	chapter := bundle.ChapterNumber

	userMsg := buildPrompt()
	if params.ContextWindow > 0 && len(systemMsg)+len(userMsg) > params.ContextWindow {
		trimBundle(bundle, len(systemMsg)+len(userMsg)-params.ContextWindow)
		userMsg = buildPrompt()
	}

	start := time.Now()
	gen, err := w.gen.Generate(ctx, systemMsg, userMsg, agent.Params{
		Model:       params.Model,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	})
	if err != nil {
		kind := domain.WriterUpstream
		if ctx.Err() != nil {
			kind = domain.WriterTimeout
		}
		return nil, &domain.WriterError{Kind: kind, Chapter: chapter, Cause: err}
	}

	text := strings.TrimSpace(gen.Text)
	if text == "" {
		return nil, &domain.WriterError{Kind: domain.WriterEmpty, Chapter: chapter}
	}

	title, body, headerChapter := ExtractTitle(text, chapter)
	body = CleanMarkdown(body)
	wc := CountWords(body)
	if wc < minAcceptableWords {
		return nil, &domain.WriterError{
			Kind:    domain.WriterTruncated,
			Chapter: chapter,
			Cause:   fmt.Errorf("%d words, need at least %d", wc, minAcceptableWords),
		}
	}

	w.logger.Info("chapter draft generated",
		"project_id", bundle.Project.ID,
		"chapter", chapter,
		"title", title,
		"word_count", wc,
		"input_tokens", gen.InputTokens,
		"output_tokens", gen.OutputTokens,
		"duration_ms", time.Since(start).Milliseconds())

	return &Draft{
		ChapterNumber: chapter,
		Title:         title,
		Body:          body,
		WordCount:     wc,
		InputTokens:   gen.InputTokens,
		OutputTokens:  gen.OutputTokens,
		Model:         gen.Model,
		HeaderChapter: headerChapter,
	}, nil
}

func targetWords(bundle *loader.Bundle, params Params) int {
	if params.TargetWords > 0 {
		return params.TargetWords
	}
	if bundle.Project.TargetChapterLength > 0 {
		return bundle.Project.TargetChapterLength
	}
	return 2500
}

// trimBundle sheds roughly overBy characters from the bundle: oldest summaries
// first, then least-recent canon facts. The chapter outline is untouchable.
func trimBundle(bundle *loader.Bundle, overBy int) {
	for overBy > 0 && len(bundle.Summaries) > 1 {
		overBy -= len(bundle.Summaries[0].Title) + len(bundle.Summaries[0].Summary)
		bundle.Summaries = bundle.Summaries[1:]
	}
	for overBy > 0 && len(bundle.Canon) > 0 {
		last := bundle.Canon[len(bundle.Canon)-1]
		overBy -= len(last.Subject) + len(last.Predicate) + len(last.Object)
		bundle.Canon = bundle.Canon[:len(bundle.Canon)-1]
	}
}

var titlePattern = regexp.MustCompile(`^\s*(?:#+\s*)?Chương\s+(\d+)\s*[:：]\s*(.+?)\s*$`)

// ExtractTitle parses the "Chương N: ..." line from the first lines of text
// and returns (title, body with the title line removed, N as written by the
// model). When no title line matches, the title is a generated placeholder,
// the body is unchanged, and the header number is zero.
func ExtractTitle(text string, chapter int) (string, string, int) {
	lines := strings.SplitN(text, "\n", 4)
	for i, line := range lines[:min(3, len(lines))] {
		m := titlePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		rest := append([]string{}, lines[:i]...)
		if i+1 < len(lines) {
			rest = append(rest, lines[i+1:]...)
		}
		headerChapter, _ := strconv.Atoi(m[1])
		return m[2], strings.TrimSpace(strings.Join(rest, "\n")), headerChapter
	}
	return fmt.Sprintf("Chương %d", chapter), text, 0
}

var (
	mdHeading  = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdBold     = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	mdItalic   = regexp.MustCompile(`\*([^*\n]+)\*`)
	mdRule     = regexp.MustCompile(`(?m)^(-{3,}|\*{3,}|_{3,})\s*$`)
	mdListItem = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	multiBlank = regexp.MustCompile(`\n{3,}`)
)

// CleanMarkdown strips residual markdown artefacts the model sometimes emits
// despite the prose-only directive.
func CleanMarkdown(text string) string {
	text = mdHeading.ReplaceAllString(text, "")
	text = mdBold.ReplaceAllString(text, "$1")
	text = mdItalic.ReplaceAllString(text, "$1")
	text = mdRule.ReplaceAllString(text, "")
	text = mdListItem.ReplaceAllString(text, "")
	text = multiBlank.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// CountWords counts whitespace-separated tokens.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
