// Package rewrite drives the revise loop for drafts that failed gate
// evaluation.
package rewrite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vampirenirmal/storyfactory/internal/domain"
	"github.com/vampirenirmal/storyfactory/internal/gates"
	"github.com/vampirenirmal/storyfactory/internal/loader"
	"github.com/vampirenirmal/storyfactory/internal/writer"
)

// Attempt is one evaluated draft, original or rewritten.
type Attempt struct {
	Draft *writer.Draft
	Gates *gates.Outcome
}

// Outcome is the result of the rewrite loop.
type Outcome struct {
	Success          bool
	NeedsHumanReview bool
	Reason           string
	// Attempts counts rewrite calls made, not including the original draft.
	Attempts int
	// Best is the highest-scoring attempt seen, including the original.
	Best *Attempt
	// Token totals across all rewrite calls, discarded attempts included,
	// so the caller can account the full spend of the loop.
	TotalInputTokens  int
	TotalOutputTokens int
}

// InputFunc builds the gate evaluation snapshot for a draft. The worker owns
// duplicate checks and state snapshots, so it supplies the builder.
type InputFunc func(draft *writer.Draft) *gates.Input

// Rewriter regenerates failing drafts until the gates accept or attempts run
// out. Every attempt passes a budget pre-check first; an exhausted budget
// terminates the loop early.
type Rewriter struct {
	writer *writer.Writer
	runner gates.DraftEvaluator
	costs  *gates.CostCache

	MaxAttempts int
	TargetScore float64

	logger *slog.Logger
}

func New(w *writer.Writer, runner gates.DraftEvaluator, costs *gates.CostCache, maxAttempts int, targetScore float64, logger *slog.Logger) *Rewriter {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if targetScore <= 0 {
		targetScore = 6.5
	}
	if logger == nil {
		logger = slog.Default().With("component", "rewriter")
	}
	return &Rewriter{
		writer:      w,
		runner:      runner,
		costs:       costs,
		MaxAttempts: maxAttempts,
		TargetScore: targetScore,
		logger:      logger,
	}
}

// RewriteUntilPass revises the draft until the aggregate action is accept or
// the composite score reaches TargetScore. On exhaustion it returns the best
// attempt flagged for human review.
func (r *Rewriter) RewriteUntilPass(ctx context.Context, bundle *loader.Bundle, first *Attempt, makeInput InputFunc, params writer.Params) (*Outcome, error) {
	projectID := bundle.Project.ID
	chapter := first.Draft.ChapterNumber

	out := &Outcome{Best: first}
	current := first

	estOutput := params.MaxTokens
	if estOutput == 0 {
		estOutput = 4096
	}

	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		decision, err := r.costs.CanProceed(ctx, projectID, estOutput, estOutput, domain.TaskRewrite)
		if err != nil {
			return nil, fmt.Errorf("budget pre-check: %w", err)
		}
		if !decision.Allowed {
			out.NeedsHumanReview = true
			out.Reason = decision.Reason
			r.logger.Warn("rewrite loop stopped by budget",
				"project_id", projectID, "chapter", chapter,
				"attempt", attempt, "reason", decision.Reason)
			return out, nil
		}

		diagnostics := current.Gates.DiagnosticMessages()
		draft, err := r.writer.RewriteChapter(ctx, bundle, current.Draft, diagnostics, params)
		if err != nil {
			var werr *domain.WriterError
			if errors.As(err, &werr) && !werr.IsRetryable() {
				// A broken response is itself a failed attempt; keep looping
				// from the previous draft.
				r.logger.Warn("rewrite attempt produced unusable content",
					"project_id", projectID, "chapter", chapter,
					"attempt", attempt, "error", err)
				out.Attempts = attempt
				continue
			}
			return nil, fmt.Errorf("rewrite attempt %d: %w", attempt, err)
		}
		out.Attempts = attempt
		out.TotalInputTokens += draft.InputTokens
		out.TotalOutputTokens += draft.OutputTokens

		outcome, err := r.runner.Evaluate(ctx, makeInput(draft))
		if err != nil {
			return nil, fmt.Errorf("evaluating rewrite attempt %d: %w", attempt, err)
		}
		current = &Attempt{Draft: draft, Gates: outcome}
		if outcome.CompositeScore > out.Best.Gates.CompositeScore {
			out.Best = current
		}

		r.logger.Info("rewrite attempt evaluated",
			"project_id", projectID,
			"chapter", chapter,
			"attempt", attempt,
			"action", outcome.Action.String(),
			"composite_score", outcome.CompositeScore)

		if outcome.Accepted() || (outcome.CompositeScore >= r.TargetScore && outcome.Action < gates.ActionHumanReview) {
			out.Success = true
			out.Best = current
			return out, nil
		}
	}

	out.NeedsHumanReview = true
	out.Reason = "max_attempts_exhausted"
	return out, nil
}
