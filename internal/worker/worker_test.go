package worker

import (
	"context"
	"path/filepath"
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
	"github.com/vampirenirmal/storyfactory/internal/writer"
)

var cultivationLadder = []string{"Luyện Khí", "Trúc Cơ", "Kim Đan", "Nguyên Anh"}

type harness struct {
	gateway *store.Gateway
	gen     *agent.MockGenerator
	costs   *gates.CostCache
	worker  *Worker
	project *domain.Project
}

func flatEstimate(int, int) float64 { return 0.25 }

func newHarness(t *testing.T, gen *agent.MockGenerator, runner *gates.Runner, dailyBudget float64) *harness {
	return newHarnessEst(t, gen, runner, flatEstimate, dailyBudget)
}

func newHarnessEst(t *testing.T, gen *agent.MockGenerator, runner *gates.Runner, estimate gates.Estimator, dailyBudget float64) *harness {
	t.Helper()
	ctx := context.Background()

	g, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })

	p := storytest.NewProject()
	require.NoError(t, g.CreateProject(ctx, p))
	require.NoError(t, g.SaveBlueprint(ctx, storytest.NewBlueprint(p.ID, 10)))

	wr := writer.New(gen, nil)
	costs := gates.NewCostCache(g, estimate, 0, dailyBudget, nil)
	rw := rewrite.New(wr, runner, costs, 3, 6.5, nil)
	ld := loader.New(g)
	ix := semindex.New(g.DB(), nil)

	w := New(g, ld, wr, runner, rw, costs, ix, Config{
		RetryBackoff: time.Millisecond,
		PublishDelay: time.Hour,
		Estimate:     estimate,
		Realms: func(domain.Genre) []string {
			return cultivationLadder
		},
	}, nil)

	return &harness{gateway: g, gen: gen, costs: costs, worker: w, project: p}
}

func realRunner() *gates.Runner {
	tables := gates.TablesFor(domain.GenreCultivation)
	return gates.NewRunner(nil,
		gates.NewQualityGate(tables, 0, 0, 0, 0),
		gates.NewCanonGate(tables),
		gates.NewBeatGate(tables, 0),
		gates.NewPowerGate(tables),
		gates.NewConsistencyGate(),
	)
}

// verdictGate returns scripted results in order, repeating the last.
type verdictGate struct {
	results []gates.Result
	calls   int
}

func (v *verdictGate) Name() string { return gates.GateQuality }

func (v *verdictGate) Evaluate(context.Context, *gates.Input) (*gates.Result, error) {
	i := v.calls
	if i >= len(v.results) {
		i = len(v.results) - 1
	}
	v.calls++
	res := v.results[i]
	return &res, nil
}

func TestProduceChapterHappyPath(t *testing.T) {
	gen := agent.NewMockGenerator(
		storytest.ChapterText(1, 2000),
		"Lâm Phong vượt qua thử luyện đầu tiên tại tông môn.",
	)
	h := newHarness(t, gen, realRunner(), 0)
	ctx := context.Background()

	res := h.worker.ProduceChapter(ctx, h.project.ID, 1)
	require.NoError(t, res.Err)

	assert.True(t, res.Success)
	assert.False(t, res.NeedsHumanReview)
	assert.Zero(t, res.RewriteAttempts)
	assert.GreaterOrEqual(t, res.QCScore, 7.0)
	assert.Greater(t, res.WordCount, 1500)
	assert.InDelta(t, 0.5, res.CostUSD, 1e-9, "writing plus summary records")

	p, err := h.gateway.GetProject(ctx, h.project.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.CurrentChapter)

	ch, err := h.gateway.GetChapter(ctx, h.project.NovelID, 1)
	require.NoError(t, err)
	assert.Equal(t, "Cơn Gió Nổi Lên Từ Phương Bắc", ch.Title)

	sums, err := h.gateway.GetRecentChapterSummaries(ctx, h.project.ID, 3)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Contains(t, sums[0].Summary, "thử luyện")

	// The accepted chapter is queued for publication after the delay.
	item, err := h.gateway.GetPublishItem(ctx, ch.ID)
	require.NoError(t, err)
	assert.True(t, item.ScheduledAt.After(time.Now().Add(30*time.Minute)))

	spent, err := h.gateway.DailyCostUSD(ctx, h.project.ID, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, spent, 1e-9)
}

func TestProduceChapterHumanReviewSavesDraftWithoutAdvance(t *testing.T) {
	gen := agent.NewMockGenerator(
		storytest.ChapterText(1, 2000),
		"Tóm tắt chương.",
	)
	runner := gates.NewRunner(nil, &verdictGate{results: []gates.Result{
		{Gate: gates.GateQuality, Action: gates.ActionHumanReview, Score: 4.2},
	}})
	h := newHarness(t, gen, runner, 0)
	ctx := context.Background()

	res := h.worker.ProduceChapter(ctx, h.project.ID, 1)
	require.NoError(t, res.Err)

	assert.False(t, res.Success, "a review draft is not a produced chapter")
	assert.True(t, res.NeedsHumanReview)

	// The draft is persisted for the reviewer, but the cursor holds.
	_, err := h.gateway.GetChapter(ctx, h.project.NovelID, 1)
	require.NoError(t, err)
	p, err := h.gateway.GetProject(ctx, h.project.ID)
	require.NoError(t, err)
	assert.Zero(t, p.CurrentChapter)
}

func TestProduceChapterAutoRewriteThenAccept(t *testing.T) {
	gen := agent.NewMockGenerator(
		storytest.ChapterText(1, 2000), // original draft
		storytest.ChapterText(1, 2000), // rewrite attempt
		"Tóm tắt chương.",
	)
	runner := gates.NewRunner(nil, &verdictGate{results: []gates.Result{
		{Gate: gates.GateQuality, Action: gates.ActionAutoRewrite, Score: 5.1},
		{Gate: gates.GateQuality, Passed: true, Action: gates.ActionAccept, Score: 8.4},
	}})
	h := newHarness(t, gen, runner, 0)
	ctx := context.Background()

	res := h.worker.ProduceChapter(ctx, h.project.ID, 1)
	require.NoError(t, res.Err)

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.RewriteAttempts)
	assert.InDelta(t, 8.4, res.QCScore, 0.01)

	p, err := h.gateway.GetProject(ctx, h.project.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.CurrentChapter)
}

func TestProduceChapterRewriteExhaustionNeedsReview(t *testing.T) {
	gen := agent.NewMockGenerator()
	gen.Fallback = storytest.ChapterText(1, 2000)
	runner := gates.NewRunner(nil, &verdictGate{results: []gates.Result{
		{Gate: gates.GateQuality, Action: gates.ActionAutoRewrite, Score: 5.0},
	}})
	h := newHarness(t, gen, runner, 0)
	ctx := context.Background()

	res := h.worker.ProduceChapter(ctx, h.project.ID, 1)
	require.NoError(t, res.Err)

	assert.False(t, res.Success)
	assert.True(t, res.NeedsHumanReview)
	assert.Equal(t, "max_attempts_exhausted", res.StopReason)
	assert.Equal(t, 3, res.RewriteAttempts)

	p, err := h.gateway.GetProject(ctx, h.project.ID)
	require.NoError(t, err)
	assert.Zero(t, p.CurrentChapter)
}

func TestProduceChapterBudgetExhausted(t *testing.T) {
	gen := agent.NewMockGenerator()
	h := newHarness(t, gen, realRunner(), 1.0)
	ctx := context.Background()

	require.NoError(t, h.gateway.RecordCost(ctx, &domain.CostRecord{
		ProjectID: h.project.ID, Task: domain.TaskWriting, CostUSD: 2.0,
	}))

	res := h.worker.ProduceChapter(ctx, h.project.ID, 1)
	require.ErrorIs(t, res.Err, domain.ErrBudgetExhausted)
	assert.Equal(t, "daily_budget_exhausted", res.StopReason)
	assert.Zero(t, gen.CallCount(), "no generation after the budget blocks")
}

func TestProduceChapterSkipsSummaryWhenBudgetTight(t *testing.T) {
	// Writing is free, a summary call would cost 10 against the 1.0 daily
	// budget. The chapter still succeeds: the summary pre-check routes to
	// the extractive fallback instead of spending on another LLM call.
	est := func(in, out int) float64 {
		if out == summaryMaxTokens {
			return 10
		}
		return 0
	}
	gen := agent.NewMockGenerator(storytest.ChapterText(1, 2000))
	h := newHarnessEst(t, gen, realRunner(), est, 1.0)
	ctx := context.Background()

	res := h.worker.ProduceChapter(ctx, h.project.ID, 1)
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, gen.CallCount(), "no summary generation past the pre-check")

	sums, err := h.gateway.GetRecentChapterSummaries(ctx, h.project.ID, 1)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.NotEmpty(t, sums[0].Summary, "the extract still fills the summary row")
}

func TestProduceChapterAheadOfCursorFails(t *testing.T) {
	// Producing chapter two while the cursor sits at zero must fail loudly.
	// Reporting it as a benign duplicate would claim success for content
	// that was never committed.
	gen := agent.NewMockGenerator(
		storytest.ChapterText(2, 2000),
		"Tóm tắt chương hai.",
	)
	h := newHarness(t, gen, realRunner(), 0)
	ctx := context.Background()

	res := h.worker.ProduceChapter(ctx, h.project.ID, 2)
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, domain.ErrChapterBehind)
	assert.False(t, res.Success)
	assert.False(t, res.BenignDuplicate)

	// Nothing was committed: no chapter row, cursor unchanged.
	_, err := h.gateway.GetChapter(ctx, h.project.NovelID, 2)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	p, err := h.gateway.GetProject(ctx, h.project.ID)
	require.NoError(t, err)
	assert.Zero(t, p.CurrentChapter)
}

func TestProduceChapterDuplicateIsBenign(t *testing.T) {
	gen := agent.NewMockGenerator(
		storytest.ChapterText(1, 2000), // first run: draft
		"Tóm tắt.",                     // first run: summary
		storytest.ChapterText(1, 2000), // second run: draft, rejected as duplicate
	)
	h := newHarness(t, gen, realRunner(), 0)
	ctx := context.Background()

	first := h.worker.ProduceChapter(ctx, h.project.ID, 1)
	require.NoError(t, first.Err)
	require.True(t, first.Success)

	// A second worker racing on the same chapter sees it already persisted
	// and reports a benign duplicate instead of an error.
	second := h.worker.ProduceChapter(ctx, h.project.ID, 1)
	require.NoError(t, second.Err)
	assert.True(t, second.Success)
	assert.True(t, second.BenignDuplicate)

	p, err := h.gateway.GetProject(ctx, h.project.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.CurrentChapter)
}

func TestProduceChapterRegeneratesUnusableDraft(t *testing.T) {
	// An empty first response is a content failure: the worker regenerates
	// from scratch and the regeneration draws down the rewrite budget.
	gen := agent.NewMockGenerator(
		"   ",
		storytest.ChapterText(1, 2000),
		"Tóm tắt chương.",
	)
	h := newHarness(t, gen, realRunner(), 0)
	ctx := context.Background()

	res := h.worker.ProduceChapter(ctx, h.project.ID, 1)
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.RewriteAttempts, "regeneration consumed one attempt")
}

func TestProduceChapterIndexesCommittedChapter(t *testing.T) {
	gen := agent.NewMockGenerator(
		storytest.ChapterText(1, 2000),
		"Tóm tắt chương.",
	)
	h := newHarness(t, gen, realRunner(), 0)
	ctx := context.Background()

	res := h.worker.ProduceChapter(ctx, h.project.ID, 1)
	require.NoError(t, res.Err)
	require.True(t, res.Success)

	ix := semindex.New(h.gateway.DB(), nil)
	hits, err := ix.Search(ctx, h.project.ID, storytest.Body(40), 2, 3)
	require.NoError(t, err)
	assert.NotEmpty(t, hits, "committed chapter text is searchable")
}
