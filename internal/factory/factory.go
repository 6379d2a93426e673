// Package factory wires the production pipeline together and exposes the
// control-plane operations.
package factory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vampirenirmal/storyfactory/internal/agent"
	"github.com/vampirenirmal/storyfactory/internal/config"
	"github.com/vampirenirmal/storyfactory/internal/domain"
	"github.com/vampirenirmal/storyfactory/internal/gates"
	"github.com/vampirenirmal/storyfactory/internal/loader"
	"github.com/vampirenirmal/storyfactory/internal/publisher"
	"github.com/vampirenirmal/storyfactory/internal/rewrite"
	"github.com/vampirenirmal/storyfactory/internal/scheduler"
	"github.com/vampirenirmal/storyfactory/internal/semindex"
	"github.com/vampirenirmal/storyfactory/internal/store"
	"github.com/vampirenirmal/storyfactory/internal/worker"
	"github.com/vampirenirmal/storyfactory/internal/writer"
)

// Factory is the assembled production system.
type Factory struct {
	cfg       *config.Config
	store     *store.Gateway
	scheduler *scheduler.Scheduler
	publisher *publisher.Publisher
	costs     *gates.CostCache
	logger    *slog.Logger
}

// New builds the full pipeline from configuration. The generator is injected
// so tests and tools can substitute a scripted one; pass nil to use the HTTP
// client from the AI configuration.
func New(cfg *config.Config, gen agent.Generator, logger *slog.Logger) (*Factory, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(cfg.Store.Path,
		store.WithLocation(cfg.Location()),
		store.WithMaxRetries(cfg.Store.MaxRetries),
		store.WithLogger(logger.With("component", "store")),
	)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	if gen == nil {
		gen = agent.NewClient(cfg.AI.APIKey,
			agent.WithAPIConfig(cfg.AI.BaseURL, cfg.AI.Model),
			agent.WithTimeout(cfg.AI.RequestTimeout),
			agent.WithRetry(cfg.AI.MaxRetries),
			agent.WithRateLimit(cfg.AI.RequestsPerMinute, cfg.AI.Burst),
			agent.WithLogger(logger.With("component", "ai_client")),
		)
	}

	index := semindex.New(st.DB(), logger.With("component", "semindex"))

	ld := loader.New(st,
		loader.WithSearcher(index),
		loader.WithRecentChapters(cfg.Production.RecentChaptersForContext),
		loader.WithBeatWindow(cfg.Production.BeatWindow),
		loader.WithMaxChars(cfg.Production.ContextMaxChars),
		loader.WithLogger(logger.With("component", "loader")),
	)

	wr := writer.New(gen, logger.With("component", "writer"))

	costs := gates.NewCostCache(st, cfg.EstimateCostUSD,
		cfg.Budget.SessionBudgetUSD, cfg.Budget.DailyBudgetUSD,
		logger.With("component", "cost_cache"))

	runners := newRunners(cfg, logger)
	wk := worker.New(st, ld, wr,
		runners,
		rewrite.New(wr, runners, costs,
			cfg.Production.MaxRewriteAttempts, 6.5,
			logger.With("component", "rewriter")),
		costs, index,
		worker.Config{
			Estimate:        cfg.EstimateCostUSD,
			Realms:          cfg.RealmLadder,
			BeatWindow:      cfg.Production.BeatWindow,
			AdvanceOnReview: cfg.Production.ContinueOnReview,
			WriteParams: writer.Params{
				Model:         cfg.AI.Model,
				MaxTokens:     cfg.AI.MaxOutputTokens,
				Temperature:   0.8,
				ContextWindow: cfg.AI.ContextWindow,
			},
		},
		logger.With("component", "worker"))

	sched := scheduler.New(st, wk, costs,
		scheduler.WithInterChapterDelay(cfg.Production.MinInterChapterDelay),
		scheduler.WithContinueOnReview(cfg.Production.ContinueOnReview),
		scheduler.WithFleet(cfg.Production.MaxWorkers, cfg.Production.LeaseDuration, cfg.Production.ChaptersPerProjectPerDay),
		scheduler.WithLogger(logger.With("component", "scheduler")),
	)

	pub := publisher.New(st, publisher.WithLogger(logger.With("component", "publisher")))

	return &Factory{
		cfg:       cfg,
		store:     st,
		scheduler: sched,
		publisher: pub,
		costs:     costs,
		logger:    logger,
	}, nil
}

// newRunners builds one gate set per genre so each project evaluates against
// its own signal tables: the Vietnamese base set everywhere, with the English
// overlay merged in for English-corpus genres.
func newRunners(cfg *config.Config, logger *slog.Logger) gates.GenreRunners {
	minWords := cfg.AI.MaxOutputTokens / 4
	if minWords > 1500 {
		minWords = 1500
	}
	runners := make(gates.GenreRunners, len(domain.AllGenres))
	for _, genre := range domain.AllGenres {
		tables := gates.TablesFor(genre)
		runners[genre] = gates.NewRunner(logger.With("component", "gates", "genre", genre),
			gates.NewQualityGate(tables, cfg.Production.QCThreshold, cfg.Production.AutoRewriteThreshold, minWords, 6000),
			gates.NewCanonGate(tables),
			gates.NewBeatGate(tables, 3),
			gates.NewPowerGate(tables),
			gates.NewConsistencyGate(),
		)
	}
	return runners
}

// Close releases the store.
func (f *Factory) Close() error {
	return f.store.Close()
}

// Store exposes the gateway for admin tooling.
func (f *Factory) Store() *store.Gateway {
	return f.store
}

// StartRun produces up to chaptersToWrite chapters for one project and blocks
// until the bounded batch finishes.
func (f *Factory) StartRun(ctx context.Context, projectID string, chaptersToWrite int) (*scheduler.RunSummary, error) {
	return f.scheduler.StartRun(ctx, projectID, chaptersToWrite)
}

// Pause suspends the project's active run at the next chapter boundary.
func (f *Factory) Pause(projectID string) (scheduler.SessionStatus, error) {
	return f.scheduler.Pause(projectID)
}

// Resume continues a paused run.
func (f *Factory) Resume(projectID string) (scheduler.SessionStatus, error) {
	return f.scheduler.Resume(projectID)
}

// Stop ends the project's run after the in-flight chapter settles.
func (f *Factory) Stop(projectID string) (scheduler.SessionStatus, error) {
	return f.scheduler.Stop(projectID)
}

// Status is the control-plane view of a project.
type Status struct {
	ProjectID       string               `json:"project_id"`
	CurrentChapter  int                  `json:"current_chapter"`
	TotalChapters   int                  `json:"total_chapters"`
	ProjectStatus   domain.ProjectStatus `json:"project_status"`
	SessionStatus   string               `json:"session_status,omitempty"`
	ChaptersWritten int                  `json:"chapters_written"`
	ChaptersFailed  int                  `json:"chapters_failed"`
	DailySpentUSD   float64              `json:"daily_spent_usd"`
}

// GetStatus reports project progress plus the live session, if one exists.
func (f *Factory) GetStatus(ctx context.Context, projectID string) (*Status, error) {
	project, err := f.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	st := &Status{
		ProjectID:      project.ID,
		CurrentChapter: project.CurrentChapter,
		TotalChapters:  project.TotalPlannedChapters,
		ProjectStatus:  project.Status,
	}

	if session, err := f.scheduler.SessionFor(projectID); err == nil {
		st.SessionStatus = string(session.Status())
		st.ChaptersWritten, st.ChaptersFailed = session.Progress()
	}

	if spent, err := f.store.DailyCostUSD(ctx, projectID, nowIn(f.cfg)); err == nil {
		st.DailySpentUSD = spent
	}

	return st, nil
}

// TickScheduler claims due work and dispatches it onto the worker pool.
func (f *Factory) TickScheduler(ctx context.Context) (int, error) {
	return f.scheduler.TickScheduler(ctx)
}

// TickPublisher publishes due chapters.
func (f *Factory) TickPublisher(ctx context.Context) (int, error) {
	return f.publisher.Tick(ctx)
}

// PlanDailyBatches enqueues today's chapter batches for all active projects.
func (f *Factory) PlanDailyBatches(ctx context.Context) (int, error) {
	return f.scheduler.PlanAllDailyBatches(ctx, nowIn(f.cfg), f.cfg.Location())
}

func nowIn(cfg *config.Config) time.Time {
	return time.Now().In(cfg.Location())
}
