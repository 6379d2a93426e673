// Package scheduler drives chapter production: explicit per-project runs and
// fleet-wide orchestration over the durable write queue.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vampirenirmal/storyfactory/internal/domain"
	"github.com/vampirenirmal/storyfactory/internal/gates"
	"github.com/vampirenirmal/storyfactory/internal/store"
	"github.com/vampirenirmal/storyfactory/internal/worker"
)

// pausePoll is the sleep between pause-flag checks while a run is paused.
const pausePoll = 500 * time.Millisecond

// ChapterReport is the per-chapter line of a run summary.
type ChapterReport struct {
	ChapterNumber    int     `json:"chapter_number"`
	Success          bool    `json:"success"`
	NeedsHumanReview bool    `json:"needs_human_review"`
	QCScore          float64 `json:"qc_score"`
	RewriteAttempts  int     `json:"rewrite_attempts"`
	WordCount        int     `json:"word_count"`
	CostUSD          float64 `json:"cost_usd"`
	Error            string  `json:"error,omitempty"`
}

// RunSummary aggregates one bounded run. Averages cover completed chapters
// only.
type RunSummary struct {
	ProjectID             string          `json:"project_id"`
	StartChapter          int             `json:"start_chapter"`
	EndChapter            int             `json:"end_chapter"`
	ChaptersWritten       int             `json:"chapters_written"`
	ChaptersFailed        int             `json:"chapters_failed"`
	ChaptersNeedingReview int             `json:"chapters_needing_review"`
	TotalRewrites         int             `json:"total_rewrites"`
	AvgQCScore            float64         `json:"avg_qc_score"`
	SessionCostUSD        float64         `json:"session_cost_usd"`
	DailyRemainingUSD     float64         `json:"daily_remaining_usd"`
	StoppedReason         string          `json:"stopped_reason,omitempty"`
	Chapters              []ChapterReport `json:"chapters"`
}

// Scheduler coordinates sessions, the worker, and the durable queue.
type Scheduler struct {
	store    *store.Gateway
	worker   *worker.Worker
	costs    *gates.CostCache
	sessions *sessions

	// InterChapterDelay is the minimum pause between chapters of one run.
	InterChapterDelay time.Duration
	// ContinueOnReview keeps a run going past a human-review chapter.
	ContinueOnReview bool

	logger *slog.Logger

	fleet *fleet
}

type Option func(*Scheduler)

func WithInterChapterDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.InterChapterDelay = d
		}
	}
}

func WithContinueOnReview(v bool) Option {
	return func(s *Scheduler) {
		s.ContinueOnReview = v
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithFleet(maxWorkers int, lease time.Duration, dailyCap int) Option {
	return func(s *Scheduler) {
		s.fleet = newFleet(maxWorkers, lease, dailyCap)
	}
}

func New(st *store.Gateway, w *worker.Worker, costs *gates.CostCache, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:             st,
		worker:            w,
		costs:             costs,
		sessions:          newSessions(),
		InterChapterDelay: time.Second,
		logger:            slog.Default().With("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fleet == nil {
		s.fleet = newFleet(10, 15*time.Minute, 3)
	}
	return s
}

// StartRun produces up to chaptersToWrite chapters for the project,
// sequentially, honoring pause and stop at chapter boundaries. It blocks
// until the run completes and returns the aggregated summary.
func (s *Scheduler) StartRun(ctx context.Context, projectID string, chaptersToWrite int) (*RunSummary, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}

	start := project.CurrentChapter + 1
	if start > project.TotalPlannedChapters {
		return nil, domain.ErrAlreadyComplete
	}
	end := start + chaptersToWrite - 1
	if end > project.TotalPlannedChapters {
		end = project.TotalPlannedChapters
	}

	session := s.sessions.create(projectID, start, end)
	defer s.sessions.remove(projectID, session)

	s.costs.BeginSession(projectID)
	defer s.costs.EndSession(projectID)

	summary := &RunSummary{ProjectID: projectID, StartChapter: start, EndChapter: end}
	log := s.logger.With("project_id", projectID)
	log.Info("run started", "start_chapter", start, "end_chapter", end)

	for chapter := start; chapter <= end; chapter++ {
		if stopped := s.waitWhilePaused(ctx, session); stopped {
			summary.StoppedReason = "stopped"
			break
		}

		res := s.worker.ProduceChapter(ctx, projectID, chapter)
		s.recordChapter(summary, session, res)

		if res.Err != nil {
			if errors.Is(res.Err, domain.ErrBudgetExhausted) {
				summary.StoppedReason = "budget"
				// The project pauses rather than burning retries against an
				// exhausted budget.
				if err := s.store.SetProjectStatus(ctx, projectID, domain.ProjectPaused); err != nil {
					log.Error("pausing project after budget stop failed", "error", err)
				}
				break
			}
			if domain.IsTerminal(res.Err) {
				summary.StoppedReason = res.Err.Error()
				break
			}
			// Continuing past a failed chapter would leave the cursor behind
			// and doom every later chapter in the run to a cursor conflict.
			log.Error("chapter failed, stopping run", "chapter", chapter, "error", res.Err)
			summary.StoppedReason = "chapter_failed"
			break
		}

		if res.NeedsHumanReview && !s.ContinueOnReview {
			summary.StoppedReason = "human_review"
			break
		}

		if chapter < end {
			select {
			case <-time.After(s.InterChapterDelay):
			case <-ctx.Done():
				summary.StoppedReason = "cancelled"
				chapter = end
			}
		}
	}

	session.setStatus(SessionDone)
	s.finishSummary(ctx, projectID, summary)
	log.Info("run finished",
		"chapters_written", summary.ChaptersWritten,
		"chapters_failed", summary.ChaptersFailed,
		"needing_review", summary.ChaptersNeedingReview,
		"avg_qc_score", summary.AvgQCScore,
		"stopped_reason", summary.StoppedReason)
	return summary, nil
}

// waitWhilePaused blocks while the session is paused, polling cooperatively.
// It returns true when the run should stop.
func (s *Scheduler) waitWhilePaused(ctx context.Context, session *Session) bool {
	for {
		if session.ShouldStop() || ctx.Err() != nil {
			return true
		}
		if !session.IsPaused() {
			return false
		}
		select {
		case <-time.After(pausePoll):
		case <-ctx.Done():
			return true
		}
	}
}

func (s *Scheduler) recordChapter(summary *RunSummary, session *Session, res *worker.Result) {
	report := ChapterReport{
		ChapterNumber:    res.ChapterNumber,
		Success:          res.Success,
		NeedsHumanReview: res.NeedsHumanReview,
		QCScore:          res.QCScore,
		RewriteAttempts:  res.RewriteAttempts,
		WordCount:        res.WordCount,
		CostUSD:          res.CostUSD,
	}
	if res.Err != nil {
		report.Error = res.Err.Error()
	}
	summary.Chapters = append(summary.Chapters, report)
	summary.TotalRewrites += res.RewriteAttempts

	switch {
	case res.Success && !res.BenignDuplicate:
		summary.ChaptersWritten++
		session.recordResult(true)
	case res.Err != nil && !errors.Is(res.Err, domain.ErrBudgetExhausted):
		summary.ChaptersFailed++
		session.recordResult(false)
	}
	if res.NeedsHumanReview {
		summary.ChaptersNeedingReview++
	}
}

func (s *Scheduler) finishSummary(ctx context.Context, projectID string, summary *RunSummary) {
	var scoreSum float64
	scored := 0
	for _, c := range summary.Chapters {
		if c.Success && c.QCScore > 0 {
			scoreSum += c.QCScore
			scored++
		}
	}
	if scored > 0 {
		summary.AvgQCScore = scoreSum / float64(scored)
	}

	if spent, err := s.costs.SessionSpentUSD(ctx, projectID); err == nil {
		summary.SessionCostUSD = spent
	}
	if daily, err := s.store.DailyCostUSD(ctx, projectID, time.Now()); err == nil && s.costs.DailyBudgetUSD > 0 {
		summary.DailyRemainingUSD = s.costs.DailyBudgetUSD - daily
	}
}

// Pause suspends the project's run at the next chapter boundary.
func (s *Scheduler) Pause(projectID string) (SessionStatus, error) {
	session, err := s.sessions.get(projectID)
	if err != nil {
		return "", err
	}
	session.pause()
	s.logger.Info("run paused", "project_id", projectID)
	return session.Status(), nil
}

// Resume continues a paused run.
func (s *Scheduler) Resume(projectID string) (SessionStatus, error) {
	session, err := s.sessions.get(projectID)
	if err != nil {
		return "", err
	}
	session.resume()
	s.logger.Info("run resumed", "project_id", projectID)
	return session.Status(), nil
}

// Stop ends the run after the in-flight chapter completes or fails. Nothing
// is cancelled mid-generation.
func (s *Scheduler) Stop(projectID string) (SessionStatus, error) {
	session, err := s.sessions.get(projectID)
	if err != nil {
		return "", err
	}
	session.stop()
	s.logger.Info("run stop requested", "project_id", projectID)
	return session.Status(), nil
}

// SessionFor returns the live session, if any.
func (s *Scheduler) SessionFor(projectID string) (*Session, error) {
	return s.sessions.get(projectID)
}
