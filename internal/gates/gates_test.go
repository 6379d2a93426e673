package gates

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/storyfactory/internal/domain"
	"github.com/vampirenirmal/storyfactory/internal/loader"
	"github.com/vampirenirmal/storyfactory/internal/storytest"
	"github.com/vampirenirmal/storyfactory/internal/writer"
)

var cultivationLadder = []string{"Luyện Khí", "Trúc Cơ", "Kim Đan", "Nguyên Anh"}

func testInput(body string) *Input {
	p := storytest.NewProject()
	draft := &writer.Draft{
		ChapterNumber: 5,
		Title:         "Cơn Gió Nổi Lên Từ Phương Bắc",
		Body:          body,
		WordCount:     len(strings.Fields(body)),
	}
	return &Input{
		Draft: draft,
		Bundle: &loader.Bundle{
			Project:       p,
			ChapterNumber: 5,
			Outline: &domain.ChapterOutline{
				ChapterNumber: 5,
				Title:         "Biến cố",
				Characters:    []string{"Lâm Phong", "Tô Nhược"},
			},
		},
		RealmLadder: cultivationLadder,
		PowerStates: map[string]*domain.PowerState{},
	}
}

func TestQualityGateAcceptsWellFormedChapter(t *testing.T) {
	g := NewQualityGate(TablesFor(domain.GenreCultivation), 0, 0, 0, 0)
	in := testInput(storytest.Body(2000))

	res, err := g.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, res.Passed, "diagnostics: %v", res.Diagnostics)
	assert.Equal(t, ActionAccept, res.Action)
	assert.GreaterOrEqual(t, res.Score, 7.0)
}

func TestQualityGateShortDraft(t *testing.T) {
	g := NewQualityGate(TablesFor(domain.GenreCultivation), 0, 0, 0, 0)
	in := testInput("Hắn bước đi trên con đường mòn. Trời đã tối.")

	res, err := g.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.False(t, res.Passed)
	assert.NotEqual(t, ActionAccept, res.Action)
	require.True(t, hasCode(res.Diagnostics, "word_count"))
	for _, d := range res.Diagnostics {
		if d.Code == "word_count" {
			assert.True(t, d.Hard)
		}
	}
}

func TestQualityGateWordCountForcesRewriteEvenWhenScoreHigh(t *testing.T) {
	// A chapter that scores well on every axis but overshoots the word band
	// must still not be accepted as-is.
	g := NewQualityGate(TablesFor(domain.GenreCultivation), 0, 0, 1500, 2000)
	in := testInput(storytest.Body(3000))

	res, err := g.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, hasCode(res.Diagnostics, "word_count"))
	assert.GreaterOrEqual(t, res.Action, ActionAutoRewrite)
}

func TestCanonGateDeadCharacter(t *testing.T) {
	g := NewCanonGate(TablesFor(domain.GenreCultivation))
	in := testInput("Lão Tổ Hắc Phong cười lạnh một tiếng rồi bước ra khỏi bóng tối.")
	in.Canon = []domain.CanonFact{{
		ProjectID: in.Bundle.Project.ID,
		Subject:   "Lão Tổ Hắc Phong",
		Predicate: domain.PredicateAlive,
		Object:    "false",
		Status:    domain.FactActive,
	}}

	res, err := g.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.False(t, res.Passed)
	assert.Equal(t, ActionAutoRewrite, res.Action)
	require.True(t, hasCode(res.Diagnostics, "dead_character"))
}

func TestCanonGateResurrectionAllowsDeadCharacter(t *testing.T) {
	g := NewCanonGate(TablesFor(domain.GenreCultivation))
	in := testInput("Không ai ngờ Lão Tổ Hắc Phong đã hồi sinh từ cấm địa.")
	in.Canon = []domain.CanonFact{{
		ProjectID: in.Bundle.Project.ID,
		Subject:   "Lão Tổ Hắc Phong",
		Predicate: domain.PredicateAlive,
		Object:    "false",
		Status:    domain.FactActive,
	}}

	res, err := g.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, res.Passed)
	assert.False(t, hasCode(res.Diagnostics, "dead_character"))
}

func TestCanonGateRealmRegression(t *testing.T) {
	g := NewCanonGate(TablesFor(domain.GenreCultivation))
	in := testInput("Lâm Phong vận chuyển tu vi luyện khí, khí tức yếu ớt.")
	in.Canon = []domain.CanonFact{{
		ProjectID: in.Bundle.Project.ID,
		Subject:   "Lâm Phong",
		Predicate: domain.PredicateRealm,
		Object:    "Trúc Cơ",
		Status:    domain.FactActive,
	}}

	res, err := g.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.False(t, res.Passed)
	require.True(t, hasCode(res.Diagnostics, "realm_regression"))
}

func TestCanonGateRecordsDeathFact(t *testing.T) {
	g := NewCanonGate(TablesFor(domain.GenreCultivation))
	in := testInput("Một kiếm xuyên tâm, Tô Nhược đã chết ngay tại chỗ.")

	res, err := g.Evaluate(context.Background(), in)
	require.NoError(t, err)
	require.True(t, res.Passed)

	var death *domain.CanonFact
	for i := range res.Facts {
		if res.Facts[i].Subject == "Tô Nhược" && res.Facts[i].Predicate == domain.PredicateAlive {
			death = &res.Facts[i]
		}
	}
	require.NotNil(t, death)
	assert.Equal(t, "false", death.Object)
	assert.Equal(t, 5, death.FirstChapter)
}

func TestBeatGateDetectsPrimaryBeat(t *testing.T) {
	g := NewBeatGate(TablesFor(domain.GenreCultivation), 3)
	in := testInput("Lâm Phong tu luyện suốt đêm. Hắn lại tiếp tục tu luyện không nghỉ.")

	res, err := g.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, res.Passed)
	require.NotEmpty(t, res.Beats)
	assert.Equal(t, domain.BeatTraining, res.Beats[0].Beat)
	assert.Equal(t, 2, res.Beats[0].Intensity)
}

func TestBeatGateNoBeat(t *testing.T) {
	g := NewBeatGate(TablesFor(domain.GenreCultivation), 3)
	in := testInput("Trời xanh, mây trắng. Gió thổi qua thung lũng yên bình.")

	res, err := g.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, res.Passed)
	assert.Empty(t, res.Beats)
	assert.True(t, hasCode(res.Diagnostics, "no_beat"))
	assert.InDelta(t, 6.0, res.Score, 0.01)
}

func TestBeatGateOveruseForcesRewrite(t *testing.T) {
	g := NewBeatGate(TablesFor(domain.GenreCultivation), 3)
	in := testInput("Lâm Phong tu luyện suốt đêm trong động phủ.")
	for n := 0; n < 5; n++ {
		in.RecentBeats = append(in.RecentBeats, domain.BeatEntry{
			Beat: domain.BeatTraining, ChapterNumber: n,
		})
	}

	res, err := g.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.False(t, res.Passed)
	assert.Equal(t, ActionAutoRewrite, res.Action)
	require.True(t, hasCode(res.Diagnostics, "beat_overuse"))
}

func TestBeatGateRepetitionIsSoft(t *testing.T) {
	g := NewBeatGate(TablesFor(domain.GenreCultivation), 3)
	in := testInput("Lâm Phong tu luyện suốt đêm trong động phủ.")
	for n := 0; n < 3; n++ {
		in.RecentBeats = append(in.RecentBeats, domain.BeatEntry{
			Beat: domain.BeatTraining, ChapterNumber: n,
		})
	}

	res, err := g.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, res.Passed)
	assert.Equal(t, ActionAccept, res.Action)
	assert.True(t, hasCode(res.Diagnostics, "beat_repetition"))
}

func TestPowerGateOneStepBreakthrough(t *testing.T) {
	g := NewPowerGate(TablesFor(domain.GenreCultivation))
	in := testInput("Khí tức bạo phát, Lâm Phong đột phá Trúc Cơ!")
	in.PowerStates["lâm phong"] = &domain.PowerState{Realm: "Luyện Khí"}

	res, err := g.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, res.Passed)
	require.Len(t, res.PowerEvents, 1)
	assert.Equal(t, domain.PowerBreakthrough, res.PowerEvents[0].Kind)
	assert.Equal(t, "Trúc Cơ", res.PowerEvents[0].Realm)
	assert.Equal(t, "Lâm Phong", res.PowerEvents[0].Character)
}

func TestPowerGateRealmSkip(t *testing.T) {
	g := NewPowerGate(TablesFor(domain.GenreCultivation))
	in := testInput("Khí tức bạo phát, Lâm Phong đột phá Kim Đan!")
	in.PowerStates["lâm phong"] = &domain.PowerState{Realm: "Luyện Khí"}

	res, err := g.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.False(t, res.Passed)
	assert.Equal(t, ActionAutoRewrite, res.Action)
	require.True(t, hasCode(res.Diagnostics, "realm_skip"))
	assert.Empty(t, res.PowerEvents)
}

func TestPowerGateUnknownCharacter(t *testing.T) {
	g := NewPowerGate(TablesFor(domain.GenreCultivation))
	in := testInput("Một thân ảnh mơ hồ đột phá Trúc Cơ!")

	res, err := g.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.False(t, res.Passed)
	require.True(t, hasCode(res.Diagnostics, "unknown_character"))
}

func TestPowerGateFirstRealmMayBeAnyRung(t *testing.T) {
	g := NewPowerGate(TablesFor(domain.GenreCultivation))
	in := testInput("Tô Nhược vốn là thiên tài, nàng đột phá Kim Đan!")

	res, err := g.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, res.Passed)
	require.Len(t, res.PowerEvents, 1)
	assert.Equal(t, "Kim Đan", res.PowerEvents[0].Realm)
}

func TestConsistencyGateDuplicateChapter(t *testing.T) {
	g := NewConsistencyGate()
	in := testInput("Nội dung chương.")
	in.DuplicateChapter = true

	res, err := g.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, ActionReject, res.Action)
	assert.Zero(t, res.Score)
	require.True(t, hasCode(res.Diagnostics, "duplicate_chapter"))
}

func TestConsistencyGateFallbackTitle(t *testing.T) {
	g := NewConsistencyGate()
	in := testInput("Nội dung chương.")
	in.Draft.Title = "Chương 5"

	res, err := g.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, res.Passed)
	assert.Equal(t, ActionAccept, res.Action)
	assert.True(t, hasCode(res.Diagnostics, "missing_title"))
}

func TestConsistencyGateChapterNumberMismatch(t *testing.T) {
	g := NewConsistencyGate()
	in := testInput("Nội dung chương.")
	in.Draft.HeaderChapter = 7

	res, err := g.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.False(t, res.Passed)
	assert.Equal(t, ActionAutoRewrite, res.Action)
	require.True(t, hasCode(res.Diagnostics, "chapter_number_mismatch"))
}

func TestConsistencyGateMatchingHeaderNumber(t *testing.T) {
	g := NewConsistencyGate()
	in := testInput("Nội dung chương.")
	in.Draft.HeaderChapter = in.Draft.ChapterNumber

	res, err := g.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, res.Passed)
	assert.False(t, hasCode(res.Diagnostics, "chapter_number_mismatch"))
}

type stubGate struct {
	name string
	res  *Result
	err  error
}

func (s *stubGate) Name() string { return s.name }

func (s *stubGate) Evaluate(context.Context, *Input) (*Result, error) {
	return s.res, s.err
}

func TestRunnerAggregatesByMaxSeverity(t *testing.T) {
	quality := &stubGate{name: GateQuality, res: &Result{
		Gate: GateQuality, Passed: true, Action: ActionAccept, Score: 8.2,
	}}
	canon := &stubGate{name: GateCanon, res: &Result{
		Gate: GateCanon, Action: ActionHumanReview,
		Diagnostics: []Diagnostic{{Gate: GateCanon, Code: "gate_x", Hard: true}},
	}}
	beats := &stubGate{name: GateBeats, res: &Result{
		Gate: GateBeats, Action: ActionAutoRewrite,
		Diagnostics: []Diagnostic{{Gate: GateBeats, Code: "gate_y"}},
	}}

	r := NewRunner(nil, quality, canon, beats)
	out, err := r.Evaluate(context.Background(), testInput("x"))
	require.NoError(t, err)

	// One human_review verdict dominates regardless of the other gates.
	assert.Equal(t, ActionHumanReview, out.Action)
	assert.False(t, out.Accepted())
	assert.InDelta(t, 8.2, out.CompositeScore, 0.01)
	require.Len(t, out.Diagnostics, 2)
	assert.True(t, out.Diagnostics[0].Hard, "hard diagnostics sort first")
}

func TestRunnerGateErrorMeansHumanReview(t *testing.T) {
	quality := &stubGate{name: GateQuality, res: &Result{
		Gate: GateQuality, Passed: true, Action: ActionAccept, Score: 9,
	}}
	broken := &stubGate{name: GateCanon, err: errors.New("snapshot unavailable")}

	r := NewRunner(nil, quality, broken)
	out, err := r.Evaluate(context.Background(), testInput("x"))
	require.NoError(t, err)

	assert.Equal(t, ActionHumanReview, out.Action)
	require.NotEmpty(t, out.Diagnostics)
	assert.Equal(t, "gate_error", out.Diagnostics[0].Code)
}

func TestRunnerUnionsExtractedState(t *testing.T) {
	a := &stubGate{name: GateCanon, res: &Result{
		Gate: GateCanon, Passed: true, Action: ActionAccept,
		Facts: []domain.CanonFact{{Subject: "Lâm Phong", Predicate: domain.PredicateRealm, Object: "Trúc Cơ"}},
	}}
	b := &stubGate{name: GatePower, res: &Result{
		Gate: GatePower, Passed: true, Action: ActionAccept,
		PowerEvents: []domain.PowerEvent{{Character: "Lâm Phong", Kind: domain.PowerBreakthrough, Realm: "Trúc Cơ"}},
	}}

	r := NewRunner(nil, a, b)
	out, err := r.Evaluate(context.Background(), testInput("x"))
	require.NoError(t, err)

	assert.True(t, out.Accepted())
	assert.Len(t, out.Facts, 1)
	assert.Len(t, out.PowerEvents, 1)
}

func TestGenreRunnersRouteByProjectGenre(t *testing.T) {
	cultivation := NewRunner(nil, &stubGate{name: GateQuality, res: &Result{
		Gate: GateQuality, Passed: true, Action: ActionAccept, Score: 6,
	}})
	fantasy := NewRunner(nil, &stubGate{name: GateQuality, res: &Result{
		Gate: GateQuality, Passed: true, Action: ActionAccept, Score: 9,
	}})
	runners := GenreRunners{
		domain.GenreCultivation: cultivation,
		domain.GenreFantasy:     fantasy,
	}

	in := testInput("x")
	in.Bundle.Project.Genre = domain.GenreFantasy
	out, err := runners.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.InDelta(t, 9, out.CompositeScore, 0.01)

	// A genre with no dedicated runner falls back to the cultivation set.
	in = testInput("x")
	in.Bundle.Project.Genre = domain.GenreWuxia
	out, err = runners.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.InDelta(t, 6, out.CompositeScore, 0.01)
}

func TestGenreRunnersEmptyMapErrors(t *testing.T) {
	var runners GenreRunners
	in := testInput("x")
	_, err := runners.Evaluate(context.Background(), in)
	assert.Error(t, err)
}

func TestActionOrderingAndNames(t *testing.T) {
	assert.Less(t, ActionAccept, ActionAutoRewrite)
	assert.Less(t, ActionAutoRewrite, ActionHumanReview)
	assert.Less(t, ActionHumanReview, ActionReject)
	assert.Equal(t, "auto_rewrite", ActionAutoRewrite.String())
	assert.Equal(t, "reject", ActionReject.String())
}
