package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/storyfactory/internal/agent"
	"github.com/vampirenirmal/storyfactory/internal/domain"
	"github.com/vampirenirmal/storyfactory/internal/gates"
	"github.com/vampirenirmal/storyfactory/internal/loader"
	"github.com/vampirenirmal/storyfactory/internal/rewrite"
	"github.com/vampirenirmal/storyfactory/internal/semindex"
	"github.com/vampirenirmal/storyfactory/internal/store"
	"github.com/vampirenirmal/storyfactory/internal/storytest"
	"github.com/vampirenirmal/storyfactory/internal/worker"
	"github.com/vampirenirmal/storyfactory/internal/writer"
)

type harness struct {
	gateway   *store.Gateway
	gen       *agent.MockGenerator
	scheduler *Scheduler
	project   *domain.Project
}

// chapterScript interleaves one chapter draft and one summary response per
// chapter, so every generated draft carries its own chapter heading.
func chapterScript(total int) []string {
	script := make([]string, 0, 2*total)
	for ch := 1; ch <= total; ch++ {
		script = append(script,
			storytest.ChapterText(ch, 2000),
			"Lâm Phong vượt qua thử thách và tiến thêm một bước trên con đường tu luyện.")
	}
	return script
}

func cultivationRunner() *gates.Runner {
	tables := gates.TablesFor(domain.GenreCultivation)
	return gates.NewRunner(nil,
		gates.NewQualityGate(tables, 0, 0, 0, 0),
		gates.NewCanonGate(tables),
		gates.NewBeatGate(tables, 0),
		gates.NewPowerGate(tables),
		gates.NewConsistencyGate(),
	)
}

func newHarness(t *testing.T, estimate gates.Estimator, dailyBudget float64, opts ...Option) *harness {
	gen := agent.NewMockGenerator(chapterScript(100)...)
	cfg := worker.Config{RetryBackoff: time.Millisecond, Estimate: estimate}
	return newHarnessWith(t, gen, cultivationRunner(), cfg, estimate, dailyBudget, opts...)
}

func newHarnessWith(t *testing.T, gen *agent.MockGenerator, runner gates.DraftEvaluator,
	wcfg worker.Config, estimate gates.Estimator, dailyBudget float64, opts ...Option) *harness {
	t.Helper()
	ctx := context.Background()

	g, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })

	p := storytest.NewProject()
	require.NoError(t, g.CreateProject(ctx, p))
	require.NoError(t, g.SaveBlueprint(ctx, storytest.NewBlueprint(p.ID, p.TotalPlannedChapters)))

	wr := writer.New(gen, nil)
	costs := gates.NewCostCache(g, estimate, 0, dailyBudget, nil)
	rw := rewrite.New(wr, runner, costs, 3, 6.5, nil)
	ld := loader.New(g)
	ix := semindex.New(g.DB(), nil)

	w := worker.New(g, ld, wr, runner, rw, costs, ix, wcfg, nil)

	opts = append([]Option{WithInterChapterDelay(time.Millisecond)}, opts...)
	s := New(g, w, costs, opts...)

	return &harness{gateway: g, gen: gen, scheduler: s, project: p}
}

func freeEstimate(int, int) float64 { return 0 }

func TestStartRunWritesRequestedChapters(t *testing.T) {
	h := newHarness(t, freeEstimate, 0)
	ctx := context.Background()

	summary, err := h.scheduler.StartRun(ctx, h.project.ID, 3)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.StartChapter)
	assert.Equal(t, 3, summary.EndChapter)
	assert.Equal(t, 3, summary.ChaptersWritten)
	assert.Zero(t, summary.ChaptersFailed)
	assert.Zero(t, summary.TotalRewrites)
	assert.GreaterOrEqual(t, summary.AvgQCScore, 7.0)
	assert.Empty(t, summary.StoppedReason)
	require.Len(t, summary.Chapters, 3)

	p, err := h.gateway.GetProject(ctx, h.project.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, p.CurrentChapter)

	// A finished run leaves no live session behind.
	_, err = h.scheduler.SessionFor(h.project.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestStartRunClampsToPlannedTotal(t *testing.T) {
	h := newHarness(t, freeEstimate, 0)
	ctx := context.Background()

	p := storytest.NewProject()
	p.TotalPlannedChapters = 2
	require.NoError(t, h.gateway.CreateProject(ctx, p))
	require.NoError(t, h.gateway.SaveBlueprint(ctx, storytest.NewBlueprint(p.ID, 2)))

	summary, err := h.scheduler.StartRun(ctx, p.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.EndChapter)
	assert.Equal(t, 2, summary.ChaptersWritten)
}

func TestStartRunAlreadyComplete(t *testing.T) {
	h := newHarness(t, freeEstimate, 0)
	ctx := context.Background()

	p := storytest.NewProject()
	p.TotalPlannedChapters = 1
	require.NoError(t, h.gateway.CreateProject(ctx, p))
	require.NoError(t, h.gateway.AdvanceProjectChapter(ctx, p.ID, 1))

	_, err := h.scheduler.StartRun(ctx, p.ID, 5)
	assert.ErrorIs(t, err, domain.ErrAlreadyComplete)
}

func TestStartRunStopsOnBudgetAndPausesProject(t *testing.T) {
	// Flat 0.6 per call against a 1.0 daily budget: chapter one's writing
	// fits, its summary pre-check does not and falls back to an extract, and
	// chapter two is blocked outright.
	est := func(int, int) float64 { return 0.6 }
	h := newHarness(t, est, 1.0)
	ctx := context.Background()

	summary, err := h.scheduler.StartRun(ctx, h.project.ID, 5)
	require.NoError(t, err)

	assert.Equal(t, "budget", summary.StoppedReason)
	assert.Equal(t, 1, summary.ChaptersWritten)
	assert.Zero(t, summary.ChaptersFailed, "a budget stop is not a chapter failure")
	assert.InDelta(t, 0.4, summary.DailyRemainingUSD, 0.001)

	p, err := h.gateway.GetProject(ctx, h.project.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectPaused, p.Status)
	assert.Equal(t, 1, p.CurrentChapter)
}

func TestStartRunStopsWhenChapterFails(t *testing.T) {
	// Chapter one never produces usable text: the initial call plus every
	// regeneration returns blank output. The run must stop there instead of
	// moving on, since the cursor never advanced and any later chapter could
	// only lose its content to a cursor conflict.
	script := []string{"   ", "\n\n", "   ", "\n"}
	script = append(script, storytest.ChapterText(2, 2000), "Tóm tắt chương hai.")
	gen := agent.NewMockGenerator(script...)

	cfg := worker.Config{RetryBackoff: time.Millisecond, Estimate: freeEstimate}
	h := newHarnessWith(t, gen, cultivationRunner(), cfg, freeEstimate, 0)
	ctx := context.Background()

	summary, err := h.scheduler.StartRun(ctx, h.project.ID, 3)
	require.NoError(t, err)

	assert.Equal(t, "chapter_failed", summary.StoppedReason)
	assert.Zero(t, summary.ChaptersWritten)
	assert.Equal(t, 1, summary.ChaptersFailed)
	require.Len(t, summary.Chapters, 1)
	assert.Equal(t, 1, summary.Chapters[0].ChapterNumber)
	assert.False(t, summary.Chapters[0].Success)
	assert.NotEmpty(t, summary.Chapters[0].Error)

	// Chapter two was never requested even though a draft was scripted.
	assert.Equal(t, 4, h.gen.CallCount())

	p, err := h.gateway.GetProject(ctx, h.project.ID)
	require.NoError(t, err)
	assert.Zero(t, p.CurrentChapter)
}

type scriptedEvaluator struct {
	mu      sync.Mutex
	actions []gates.Action
	calls   int
}

func (s *scriptedEvaluator) Evaluate(_ context.Context, _ *gates.Input) (*gates.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	action := gates.ActionAccept
	if s.calls < len(s.actions) {
		action = s.actions[s.calls]
	}
	s.calls++
	return &gates.Outcome{Action: action, CompositeScore: 8}, nil
}

func TestContinueOnReviewAdvancesCursor(t *testing.T) {
	gen := agent.NewMockGenerator(
		storytest.ChapterText(1, 2000), "Tóm tắt chương một.",
		storytest.ChapterText(2, 2000), "Tóm tắt chương hai.",
	)
	eval := &scriptedEvaluator{actions: []gates.Action{gates.ActionHumanReview}}
	cfg := worker.Config{RetryBackoff: time.Millisecond, Estimate: freeEstimate, AdvanceOnReview: true}
	h := newHarnessWith(t, gen, eval, cfg, freeEstimate, 0, WithContinueOnReview(true))
	ctx := context.Background()

	summary, err := h.scheduler.StartRun(ctx, h.project.ID, 2)
	require.NoError(t, err)

	assert.Empty(t, summary.StoppedReason)
	assert.Equal(t, 1, summary.ChaptersWritten)
	assert.Equal(t, 1, summary.ChaptersNeedingReview)
	require.Len(t, summary.Chapters, 2)
	assert.False(t, summary.Chapters[0].Success)
	assert.True(t, summary.Chapters[0].NeedsHumanReview)
	assert.True(t, summary.Chapters[1].Success)
	assert.False(t, summary.Chapters[1].NeedsHumanReview)

	// The review chapter advanced the cursor so chapter two stayed in order.
	p, err := h.gateway.GetProject(ctx, h.project.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, p.CurrentChapter)

	// Only the accepted chapter entered the publish queue.
	due, err := h.gateway.ClaimDuePublishes(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
}

func TestStopEndsRunAtChapterBoundary(t *testing.T) {
	h := newHarness(t, freeEstimate, 0, WithInterChapterDelay(50*time.Millisecond))
	ctx := context.Background()

	type result struct {
		summary *RunSummary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		s, err := h.scheduler.StartRun(ctx, h.project.ID, 50)
		done <- result{s, err}
	}()

	// Wait for the run to make progress, then request a stop.
	require.Eventually(t, func() bool {
		session, err := h.scheduler.SessionFor(h.project.ID)
		if err != nil {
			return false
		}
		written, _ := session.Progress()
		return written >= 1
	}, 5*time.Second, 5*time.Millisecond)

	_, err := h.scheduler.Stop(h.project.ID)
	require.NoError(t, err)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "stopped", res.summary.StoppedReason)
	assert.Less(t, res.summary.ChaptersWritten, 50)
	assert.GreaterOrEqual(t, res.summary.ChaptersWritten, 1)

	// The cursor matches exactly the chapters reported written.
	p, err := h.gateway.GetProject(ctx, h.project.ID)
	require.NoError(t, err)
	assert.Equal(t, res.summary.ChaptersWritten, p.CurrentChapter)
}

func TestSessionLifecycle(t *testing.T) {
	tab := newSessions()
	s := tab.create("p1", 1, 10)
	assert.Equal(t, SessionRunning, s.Status())

	s.pause()
	assert.Equal(t, SessionPaused, s.Status())
	assert.True(t, s.IsPaused())

	s.resume()
	assert.Equal(t, SessionRunning, s.Status())

	s.stop()
	assert.Equal(t, SessionStopped, s.Status())
	assert.True(t, s.ShouldStop())

	// A replacement session is not removed by the old loop's cleanup.
	replacement := tab.create("p1", 11, 20)
	tab.remove("p1", s)
	got, err := tab.get("p1")
	require.NoError(t, err)
	assert.Same(t, replacement, got)
}

func TestTickSchedulerProcessesQueue(t *testing.T) {
	h := newHarness(t, freeEstimate, 0)
	ctx := context.Background()

	// Factory off: the tick is a no-op with a distinct error.
	_, err := h.scheduler.TickScheduler(ctx)
	assert.ErrorIs(t, err, domain.ErrFactoryStopped)

	require.NoError(t, h.gateway.SetFactoryRunning(ctx, true))
	require.NoError(t, h.gateway.EnqueueWrite(ctx, &domain.WorkItem{
		ProjectID:     h.project.ID,
		ChapterNumber: 1,
		ScheduledAt:   time.Now().Add(-time.Minute),
		Slot:          domain.SlotMorning,
	}))

	dispatched, err := h.scheduler.TickScheduler(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched)

	require.Eventually(t, func() bool {
		p, err := h.gateway.GetProject(ctx, h.project.ID)
		return err == nil && p.CurrentChapter == 1
	}, 10*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		item, err := h.gateway.GetWriteItem(ctx, h.project.ID, 1)
		return err == nil && item.Status == domain.WorkSucceeded
	}, 10*time.Second, 10*time.Millisecond)

	// An empty queue dispatches nothing.
	dispatched, err = h.scheduler.TickScheduler(ctx)
	require.NoError(t, err)
	assert.Zero(t, dispatched)
}

func TestPlanDailyBatchSpreadsSlots(t *testing.T) {
	h := newHarness(t, freeEstimate, 0)
	ctx := context.Background()

	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	require.NoError(t, err)

	items, err := h.scheduler.PlanDailyBatch(ctx, h.project.ID, time.Now(), loc)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, domain.SlotMorning, items[0].Slot)
	assert.Equal(t, domain.SlotAfternoon, items[1].Slot)
	assert.Equal(t, domain.SlotEvening, items[2].Slot)
	assert.Equal(t, 1, items[0].ChapterNumber)
	assert.Equal(t, 3, items[2].ChapterNumber)
	assert.Equal(t, 8, items[0].ScheduledAt.In(loc).Hour())
	assert.Equal(t, 20, items[2].ScheduledAt.In(loc).Hour())

	// Replanning the same day is idempotent at the queue level.
	again, err := h.scheduler.PlanDailyBatch(ctx, h.project.ID, time.Now(), loc)
	require.NoError(t, err)
	assert.Len(t, again, 3)
	item, err := h.gateway.GetWriteItem(ctx, h.project.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkPending, item.Status)
}

func TestPlanDailyBatchSkipsInactiveProjects(t *testing.T) {
	h := newHarness(t, freeEstimate, 0)
	ctx := context.Background()

	require.NoError(t, h.gateway.SetProjectStatus(ctx, h.project.ID, domain.ProjectPaused))

	items, err := h.scheduler.PlanDailyBatch(ctx, h.project.ID, time.Now(), time.UTC)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestPlanAllDailyBatches(t *testing.T) {
	h := newHarness(t, freeEstimate, 0)
	ctx := context.Background()

	second := storytest.NewProject()
	require.NoError(t, h.gateway.CreateProject(ctx, second))

	planned, err := h.scheduler.PlanAllDailyBatches(ctx, time.Now(), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 6, planned, "three chapters for each active project")
}
