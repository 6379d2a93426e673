// Package gates evaluates chapter drafts before they are persisted. Each gate
// is a pure function of the draft, its context, and a snapshot of persistent
// state; gates run in parallel and their results aggregate by max severity.
package gates

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vampirenirmal/storyfactory/internal/domain"
	"github.com/vampirenirmal/storyfactory/internal/loader"
	"github.com/vampirenirmal/storyfactory/internal/writer"
)

// Action is the verdict of a gate, ordered by severity.
type Action int

const (
	ActionAccept Action = iota
	ActionAutoRewrite
	ActionHumanReview
	ActionReject
)

func (a Action) String() string {
	switch a {
	case ActionAccept:
		return "accept"
	case ActionAutoRewrite:
		return "auto_rewrite"
	case ActionHumanReview:
		return "human_review"
	case ActionReject:
		return "reject"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Diagnostic is one finding. Hard diagnostics drove the gate's action;
// soft ones are advisory.
type Diagnostic struct {
	Gate    string
	Code    string
	Message string
	Hard    bool
}

// Result is one gate's verdict plus the state deltas it extracted from the
// draft. Deltas are committed only when the aggregate outcome accepts.
type Result struct {
	Gate        string
	Passed      bool
	Score       float64
	Action      Action
	Diagnostics []Diagnostic

	Facts       []domain.CanonFact
	Beats       []domain.BeatEntry
	PowerEvents []domain.PowerEvent
}

// Input is the evaluation snapshot shared by all gates. Gates must not
// mutate it.
type Input struct {
	Draft  *writer.Draft
	Bundle *loader.Bundle

	Canon       []domain.CanonFact
	RecentBeats []domain.BeatEntry
	PowerStates map[string]*domain.PowerState
	RealmLadder []string

	// DuplicateChapter is true when the store already holds this chapter
	// number for the project.
	DuplicateChapter bool
}

// Evaluator is one gate.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, in *Input) (*Result, error)
}

// Outcome aggregates all gate results for one draft.
type Outcome struct {
	Action         Action
	CompositeScore float64
	Diagnostics    []Diagnostic
	Results        []Result

	Facts       []domain.CanonFact
	Beats       []domain.BeatEntry
	PowerEvents []domain.PowerEvent
}

// Accepted reports whether the draft may be persisted and advanced.
func (o *Outcome) Accepted() bool {
	return o.Action == ActionAccept
}

// DiagnosticMessages returns the diagnostics as rewrite-prompt lines, hard
// findings first.
func (o *Outcome) DiagnosticMessages() []string {
	msgs := make([]string, 0, len(o.Diagnostics))
	for _, d := range o.Diagnostics {
		msgs = append(msgs, d.Message)
	}
	return msgs
}

// DraftEvaluator judges one draft against its full evaluation snapshot.
// Runner is the canonical implementation; GenreRunners dispatches between
// runners per project genre.
type DraftEvaluator interface {
	Evaluate(ctx context.Context, in *Input) (*Outcome, error)
}

// Runner executes a fixed gate set.
type Runner struct {
	gates  []Evaluator
	logger *slog.Logger
}

func NewRunner(logger *slog.Logger, gates ...Evaluator) *Runner {
	if logger == nil {
		logger = slog.Default().With("component", "gates")
	}
	return &Runner{gates: gates, logger: logger}
}

// Evaluate runs every gate in parallel and aggregates. The overall action is
// the maximum severity across gates; diagnostics are unioned with hard
// findings first. A gate that errors outright counts as human_review, since
// an unevaluated draft must not be auto-accepted.
func (r *Runner) Evaluate(ctx context.Context, in *Input) (*Outcome, error) {
	start := time.Now()

	results := make([]*Result, len(r.gates))

	g, gctx := errgroup.WithContext(ctx)
	for i, gate := range r.gates {
		i, gate := i, gate
		g.Go(func() error {
			res, err := gate.Evaluate(gctx, in)
			if err != nil {
				r.logger.Error("gate evaluation failed",
					"gate", gate.Name(), "chapter", in.Draft.ChapterNumber, "error", err)
				res = &Result{
					Gate:   gate.Name(),
					Action: ActionHumanReview,
					Diagnostics: []Diagnostic{{
						Gate:    gate.Name(),
						Code:    "gate_error",
						Message: fmt.Sprintf("%s gate failed: %v", gate.Name(), err),
						Hard:    true,
					}},
				}
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Outcome{Action: ActionAccept}
	for _, res := range results {
		out.Results = append(out.Results, *res)
		if res.Action > out.Action {
			out.Action = res.Action
		}
		out.Diagnostics = append(out.Diagnostics, res.Diagnostics...)
		out.Facts = append(out.Facts, res.Facts...)
		out.Beats = append(out.Beats, res.Beats...)
		out.PowerEvents = append(out.PowerEvents, res.PowerEvents...)
		if res.Gate == GateQuality {
			out.CompositeScore = res.Score
		}
	}

	sort.SliceStable(out.Diagnostics, func(i, j int) bool {
		return out.Diagnostics[i].Hard && !out.Diagnostics[j].Hard
	})

	r.logger.Info("draft evaluated",
		"project_id", in.Bundle.Project.ID,
		"chapter", in.Draft.ChapterNumber,
		"action", out.Action.String(),
		"composite_score", out.CompositeScore,
		"diagnostics", len(out.Diagnostics),
		"duration_ms", time.Since(start).Milliseconds())

	return out, nil
}

// GenreRunners routes evaluation to the runner built for the project's genre,
// so English-corpus genres use their overlay tables instead of the Vietnamese
// base set. Genres without an entry fall back to the cultivation runner.
type GenreRunners map[domain.Genre]*Runner

func (m GenreRunners) Evaluate(ctx context.Context, in *Input) (*Outcome, error) {
	runner, ok := m[in.Bundle.Project.Genre]
	if !ok {
		runner = m[domain.GenreCultivation]
	}
	if runner == nil {
		return nil, fmt.Errorf("no gate runner for genre %q", in.Bundle.Project.Genre)
	}
	return runner.Evaluate(ctx, in)
}

// Gate names.
const (
	GateQuality     = "quality"
	GateCanon       = "canon"
	GateBeats       = "beats"
	GatePower       = "power"
	GateConsistency = "consistency"
)
