package gates

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vampirenirmal/storyfactory/internal/domain"
)

// BeatGate detects the draft's narrative beats and measures diversity against
// the recent window. A primary beat used >= RepeatSoft times in the window is
// a soft diagnostic; >= RepeatSoft+2 forces a rewrite.
type BeatGate struct {
	tables *Tables

	// RepeatSoft is K in the diversity rule.
	RepeatSoft int
}

func NewBeatGate(tables *Tables, repeatSoft int) *BeatGate {
	if repeatSoft <= 0 {
		repeatSoft = 3
	}
	return &BeatGate{tables: tables, RepeatSoft: repeatSoft}
}

func (g *BeatGate) Name() string { return GateBeats }

func (g *BeatGate) Evaluate(_ context.Context, in *Input) (*Result, error) {
	lower := strings.ToLower(in.Draft.Body)
	chapter := in.Draft.ChapterNumber

	res := &Result{Gate: GateBeats, Passed: true, Action: ActionAccept, Score: 10}

	detected := g.detect(lower)
	now := time.Now().UTC()
	for _, d := range detected {
		res.Beats = append(res.Beats, domain.BeatEntry{
			ProjectID:     in.Bundle.Project.ID,
			ChapterNumber: chapter,
			Beat:          d.beat,
			Category:      "detected",
			Intensity:     d.hits,
			At:            now,
		})
	}
	if len(detected) == 0 {
		res.Diagnostics = append(res.Diagnostics, Diagnostic{
			Gate:    GateBeats,
			Code:    "no_beat",
			Message: "no recognisable narrative beat detected, the chapter may feel flat",
		})
		res.Score = 6
		return res, nil
	}

	primary := detected[0].beat
	windowCount := 0
	for _, b := range in.RecentBeats {
		if b.Beat == primary {
			windowCount++
		}
	}

	switch {
	case windowCount >= g.RepeatSoft+2:
		res.Passed = false
		res.Action = ActionAutoRewrite
		res.Score = 4
		res.Diagnostics = append(res.Diagnostics, Diagnostic{
			Gate:    GateBeats,
			Code:    "beat_overuse",
			Message: fmt.Sprintf("beat %q already used %d times in the recent window, replace it with a different beat", primary, windowCount),
			Hard:    true,
		})
	case windowCount >= g.RepeatSoft:
		res.Score = 7
		res.Diagnostics = append(res.Diagnostics, Diagnostic{
			Gate:    GateBeats,
			Code:    "beat_repetition",
			Message: fmt.Sprintf("beat %q used %d times recently, consider varying", primary, windowCount),
		})
	}

	return res, nil
}

type detectedBeat struct {
	beat domain.BeatType
	hits int
}

// detect returns beats present in the text ordered by keyword hit count, the
// primary beat first. Ties keep the stable enum order.
func (g *BeatGate) detect(lowerText string) []detectedBeat {
	var out []detectedBeat
	for _, bt := range domain.AllBeatTypes {
		if hits := countMatches(lowerText, g.tables.BeatKeywords[bt]); hits > 0 {
			out = append(out, detectedBeat{beat: bt, hits: hits})
		}
	}
	// Insertion sort by hits descending keeps the enum order stable on ties.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].hits > out[j-1].hits; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
