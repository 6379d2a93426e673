// Package worker produces one chapter end to end: load context, write,
// evaluate, rewrite if needed, persist atomically, then index.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vampirenirmal/storyfactory/internal/domain"
	"github.com/vampirenirmal/storyfactory/internal/gates"
	"github.com/vampirenirmal/storyfactory/internal/loader"
	"github.com/vampirenirmal/storyfactory/internal/rewrite"
	"github.com/vampirenirmal/storyfactory/internal/semindex"
	"github.com/vampirenirmal/storyfactory/internal/store"
	"github.com/vampirenirmal/storyfactory/internal/writer"
)

// Result is the outcome of producing one chapter.
type Result struct {
	ProjectID        string
	ChapterNumber    int
	Success          bool
	NeedsHumanReview bool
	BenignDuplicate  bool
	QCScore          float64
	RewriteAttempts  int
	WordCount        int
	CostUSD          float64
	StopReason       string
	Err              error
}

// Config tunes one worker.
type Config struct {
	// WriterRetries bounds retries of transient writer failures per call.
	WriterRetries int
	// RetryBackoff is the base delay between writer retries.
	RetryBackoff time.Duration
	// PublishDelay offsets the publish schedule from the commit time.
	PublishDelay time.Duration
	// Estimate converts token counts to dollars for cost records.
	Estimate gates.Estimator
	// Realms returns the ordered realm ladder for a genre.
	Realms func(domain.Genre) []string
	// BeatWindow is the sliding window size for beat diversity checks.
	BeatWindow int
	// AdvanceOnReview advances the chapter cursor for human-review drafts so
	// production can continue past them. The draft still skips the publish
	// queue until a reviewer decides.
	AdvanceOnReview bool
	// WriteParams are the generation parameters for chapter calls.
	WriteParams writer.Params
}

// Worker drives the per-chapter state machine.
type Worker struct {
	store    *store.Gateway
	loader   *loader.Loader
	writer   *writer.Writer
	runner   gates.DraftEvaluator
	rewriter *rewrite.Rewriter
	costs    *gates.CostCache
	index    *semindex.Index
	cfg      Config
	logger   *slog.Logger
}

func New(st *store.Gateway, ld *loader.Loader, wr *writer.Writer, runner gates.DraftEvaluator,
	rw *rewrite.Rewriter, costs *gates.CostCache, index *semindex.Index, cfg Config, logger *slog.Logger) *Worker {
	if cfg.WriterRetries <= 0 {
		cfg.WriterRetries = 2
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	if cfg.Realms == nil {
		cfg.Realms = func(domain.Genre) []string { return nil }
	}
	if cfg.Estimate == nil {
		cfg.Estimate = func(int, int) float64 { return 0 }
	}
	if cfg.BeatWindow <= 0 {
		cfg.BeatWindow = 20
	}
	if logger == nil {
		logger = slog.Default().With("component", "worker")
	}
	return &Worker{
		store:    st,
		loader:   ld,
		writer:   wr,
		runner:   runner,
		rewriter: rw,
		costs:    costs,
		index:    index,
		cfg:      cfg,
		logger:   logger,
	}
}

// ProduceChapter runs the full state machine for one chapter. The returned
// Result always carries the chapter identity; Err is set on failures that did
// not end in a persisted chapter.
func (w *Worker) ProduceChapter(ctx context.Context, projectID string, chapterNumber int) *Result {
	res := &Result{ProjectID: projectID, ChapterNumber: chapterNumber}
	log := w.logger.With("project_id", projectID, "chapter", chapterNumber)

	estOut := w.cfg.WriteParams.MaxTokens
	if estOut == 0 {
		estOut = 4096
	}
	decision, err := w.costs.CanProceed(ctx, projectID, estOut, estOut, domain.TaskWriting)
	if err != nil {
		res.Err = fmt.Errorf("budget pre-check: %w", err)
		return res
	}
	if !decision.Allowed {
		res.StopReason = decision.Reason
		res.Err = domain.ErrBudgetExhausted
		return res
	}

	bundle, err := w.loader.LoadContext(ctx, projectID, chapterNumber)
	if err != nil {
		res.Err = fmt.Errorf("loading context: %w", err)
		return res
	}

	draft, rewriteAttemptsUsed, err := w.writeWithRetry(ctx, bundle)
	res.RewriteAttempts = rewriteAttemptsUsed
	if err != nil {
		res.Err = err
		return res
	}
	totalIn, totalOut := draft.InputTokens, draft.OutputTokens

	makeInput, err := w.gateInputBuilder(ctx, bundle)
	if err != nil {
		res.Err = err
		return res
	}

	outcome, err := w.runner.Evaluate(ctx, makeInput(draft))
	if err != nil {
		res.Err = fmt.Errorf("evaluating draft: %w", err)
		return res
	}

	final := &rewrite.Attempt{Draft: draft, Gates: outcome}
	accepted := true

	switch outcome.Action {
	case gates.ActionAccept:
		// persist as-is

	case gates.ActionAutoRewrite:
		rwOut, err := w.rewriter.RewriteUntilPass(ctx, bundle, final, makeInput, w.cfg.WriteParams)
		if err != nil {
			res.Err = fmt.Errorf("rewrite loop: %w", err)
			return res
		}
		res.RewriteAttempts += rwOut.Attempts
		totalIn += rwOut.TotalInputTokens
		totalOut += rwOut.TotalOutputTokens
		final = rwOut.Best
		if !rwOut.Success {
			res.NeedsHumanReview = true
			res.StopReason = rwOut.Reason
			accepted = false
		}

	case gates.ActionHumanReview:
		res.NeedsHumanReview = true
		accepted = false

	case gates.ActionReject:
		if hasDiagnostic(outcome, "duplicate_chapter") {
			log.Info("chapter already persisted, treating as benign duplicate")
			res.BenignDuplicate = true
			res.Success = true
			return res
		}
		res.Err = fmt.Errorf("draft rejected: %s", firstMessage(outcome))
		return res
	}

	// A review draft normally holds the cursor for the reviewer; under
	// AdvanceOnReview it advances so later chapters stay in order, but it
	// still never enters the publish queue.
	advance := accepted || (res.NeedsHumanReview && w.cfg.AdvanceOnReview)

	if err := w.persist(ctx, bundle, final, advance, accepted, totalIn, totalOut, res); err != nil {
		if domain.IsBenignConflict(err) {
			log.Info("persist lost the chapter race, benign duplicate", "error", err)
			res.BenignDuplicate = true
			res.Success = true
			res.Err = nil
			return res
		}
		res.Err = fmt.Errorf("persisting chapter: %w", err)
		return res
	}

	res.Success = accepted
	res.QCScore = final.Gates.CompositeScore
	res.WordCount = final.Draft.WordCount

	// Post-commit indexing is best-effort and idempotent per chapter.
	if w.index != nil {
		if err := w.index.IndexChapter(ctx, projectID, chapterNumber, final.Draft.Body); err != nil {
			log.Warn("chapter indexing failed, continuing", "error", err)
		}
	}

	return res
}

// writeWithRetry generates the initial draft. Transient upstream failures are
// retried with backoff; unusable content is regenerated from scratch, drawing
// down the rewrite attempt budget since there is no draft to revise.
func (w *Worker) writeWithRetry(ctx context.Context, bundle *loader.Bundle) (*writer.Draft, int, error) {
	contentAttempts := 0
	var lastErr error

	for contentAttempts <= w.rewriter.MaxAttempts {
		var draft *writer.Draft
		var err error
		for attempt := 0; attempt <= w.cfg.WriterRetries; attempt++ {
			if attempt > 0 {
				select {
				case <-time.After(time.Duration(attempt) * w.cfg.RetryBackoff):
				case <-ctx.Done():
					return nil, contentAttempts, ctx.Err()
				}
			}
			draft, err = w.writer.WriteChapter(ctx, bundle, w.cfg.WriteParams)
			if err == nil || !domain.IsRetryable(err) {
				break
			}
			w.logger.Warn("writer failed, retrying",
				"project_id", bundle.Project.ID,
				"chapter", bundle.ChapterNumber,
				"attempt", attempt+1,
				"error", err)
		}
		if err == nil {
			return draft, contentAttempts, nil
		}
		lastErr = err

		var werr *domain.WriterError
		if !errors.As(err, &werr) || werr.IsRetryable() {
			return nil, contentAttempts, err
		}
		// Empty or truncated output: regenerate fresh.
		contentAttempts++
		w.logger.Warn("unusable draft, regenerating",
			"project_id", bundle.Project.ID,
			"chapter", bundle.ChapterNumber,
			"content_attempt", contentAttempts,
			"kind", werr.Kind)
	}
	return nil, contentAttempts, lastErr
}

// gateInputBuilder snapshots the persistent state once and returns a builder
// usable for the original draft and every rewrite attempt.
func (w *Worker) gateInputBuilder(ctx context.Context, bundle *loader.Bundle) (rewrite.InputFunc, error) {
	projectID := bundle.Project.ID
	chapter := bundle.ChapterNumber

	canon, err := w.store.ActiveCanonFacts(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("loading canon snapshot: %w", err)
	}
	recentBeats, err := w.store.BeatsInWindow(ctx, projectID, chapter, w.cfg.BeatWindow)
	if err != nil {
		return nil, fmt.Errorf("loading beat window: %w", err)
	}
	dup, err := w.store.HasChapter(ctx, bundle.Project.NovelID, chapter)
	if err != nil {
		return nil, fmt.Errorf("checking duplicate chapter: %w", err)
	}

	powerStates := make(map[string]*domain.PowerState)
	characters := []string{bundle.Project.MainCharacter}
	if bundle.Outline != nil {
		characters = append(characters, bundle.Outline.Characters...)
	}
	for _, ch := range characters {
		if ch == "" {
			continue
		}
		key := strings.ToLower(ch)
		if _, ok := powerStates[key]; ok {
			continue
		}
		st, err := w.store.PowerStateFor(ctx, projectID, ch)
		if err != nil {
			w.logger.Warn("loading power state failed, continuing",
				"project_id", projectID, "character", ch, "error", err)
			continue
		}
		powerStates[key] = st
	}

	ladder := w.cfg.Realms(bundle.Project.Genre)

	return func(draft *writer.Draft) *gates.Input {
		return &gates.Input{
			Draft:            draft,
			Bundle:           bundle,
			Canon:            canon,
			RecentBeats:      recentBeats,
			PowerStates:      powerStates,
			RealmLadder:      ladder,
			DuplicateChapter: dup,
		}
	}, nil
}

// persist builds the atomic chapter commit: chapter row, summary, canon
// deltas, beats, power events, cost records, and the CAS advance. Only
// accepted drafts enter the publish queue.
func (w *Worker) persist(ctx context.Context, bundle *loader.Bundle, final *rewrite.Attempt, advance, accepted bool, totalIn, totalOut int, res *Result) error {
	draft := final.Draft
	now := time.Now().UTC()

	status := domain.ChapterDraft
	chapter := &domain.Chapter{
		ID:            uuid.NewString(),
		NovelID:       bundle.Project.NovelID,
		ChapterNumber: draft.ChapterNumber,
		Title:         draft.Title,
		Content:       draft.Body,
		WordCount:     draft.WordCount,
		Status:        status,
		CreatedAt:     now,
	}

	sum := w.summarize(ctx, bundle.Project.ID, draft)
	summary := &domain.ChapterSummary{
		ProjectID:     bundle.Project.ID,
		ChapterNumber: draft.ChapterNumber,
		Title:         draft.Title,
		Summary:       sum.Summary,
	}

	var facts, progressions []domain.CanonFact
	for _, f := range final.Gates.Facts {
		// Realm facts supersede the previous rung; everything else accretes.
		if f.Predicate == domain.PredicateRealm {
			progressions = append(progressions, f)
		} else {
			facts = append(facts, f)
		}
	}

	costs := []domain.CostRecord{{
		ProjectID:    bundle.Project.ID,
		At:           now,
		Task:         domain.TaskWriting,
		Model:        draft.Model,
		InputTokens:  totalIn,
		OutputTokens: totalOut,
		CostUSD:      w.cfg.Estimate(totalIn, totalOut),
	}}
	if sum.OutputTokens > 0 {
		costs = append(costs, domain.CostRecord{
			ProjectID:    bundle.Project.ID,
			At:           now,
			Task:         domain.TaskSummary,
			Model:        sum.Model,
			InputTokens:  sum.InputTokens,
			OutputTokens: sum.OutputTokens,
			CostUSD:      w.cfg.Estimate(sum.InputTokens, sum.OutputTokens),
		})
	}
	for _, c := range costs {
		res.CostUSD += c.CostUSD
	}

	commit := &store.ChapterCommit{
		ProjectID:    bundle.Project.ID,
		Chapter:      chapter,
		Summary:      summary,
		Facts:        facts,
		Progressions: progressions,
		Beats:        final.Gates.Beats,
		PowerEvents:  final.Gates.PowerEvents,
		Costs:        costs,
		Advance:      advance,
	}
	if err := w.store.PersistChapter(ctx, commit); err != nil {
		return err
	}

	// Accepted chapters enter the publish queue; review drafts wait for a
	// human decision first.
	if accepted {
		at := now.Add(w.cfg.PublishDelay)
		if err := w.store.EnqueuePublish(ctx, chapter.ID, at); err != nil {
			w.logger.Warn("enqueueing publish failed, chapter stays draft",
				"project_id", bundle.Project.ID,
				"chapter", draft.ChapterNumber,
				"error", err)
		}
	}
	return nil
}

// summarize condenses the committed chapter for later context loading. The
// summary call passes the same budget pre-check as every other LLM call; an
// exhausted budget routes to the extractive fallback instead.
func (w *Worker) summarize(ctx context.Context, projectID string, draft *writer.Draft) *writer.SummaryResult {
	decision, err := w.costs.CanProceed(ctx, projectID, len(draft.Body)/4, summaryMaxTokens, domain.TaskSummary)
	if err != nil || !decision.Allowed {
		reason := "budget pre-check failed"
		if err == nil {
			reason = decision.Reason
		}
		w.logger.Warn("summary generation skipped, using extract",
			"project_id", projectID,
			"chapter", draft.ChapterNumber,
			"reason", reason,
			"error", err)
		return w.writer.ExtractiveSummary(draft)
	}
	return w.writer.SummarizeChapter(ctx, draft, w.cfg.WriteParams.Model)
}

// summaryMaxTokens mirrors the output cap of the summary prompt.
const summaryMaxTokens = 512

func hasDiagnostic(o *gates.Outcome, code string) bool {
	for _, d := range o.Diagnostics {
		if d.Code == code {
			return true
		}
	}
	return false
}

func firstMessage(o *gates.Outcome) string {
	if len(o.Diagnostics) > 0 {
		return o.Diagnostics[0].Message
	}
	return "no diagnostics"
}
