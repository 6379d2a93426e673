package gates

import (
	"context"
	"fmt"
	"strings"

	"github.com/vampirenirmal/storyfactory/internal/domain"
)

// ConsistencyGate runs structural checks: the title line carries the target
// chapter number, the chapter number is not already persisted, and location
// references stay within known locations. Location drift is soft; a wrong
// header number is a hard rewrite; a duplicate chapter number is a hard
// reject since persisting it can never succeed.
type ConsistencyGate struct{}

func NewConsistencyGate() *ConsistencyGate {
	return &ConsistencyGate{}
}

func (g *ConsistencyGate) Name() string { return GateConsistency }

func (g *ConsistencyGate) Evaluate(_ context.Context, in *Input) (*Result, error) {
	res := &Result{Gate: GateConsistency, Passed: true, Action: ActionAccept, Score: 10}

	if in.DuplicateChapter {
		res.Passed = false
		res.Action = ActionReject
		res.Score = 0
		res.Diagnostics = append(res.Diagnostics, Diagnostic{
			Gate:    GateConsistency,
			Code:    "duplicate_chapter",
			Message: fmt.Sprintf("chapter %d already exists for this novel", in.Draft.ChapterNumber),
			Hard:    true,
		})
		return res, nil
	}

	if in.Draft.HeaderChapter != 0 && in.Draft.HeaderChapter != in.Draft.ChapterNumber {
		res.Passed = false
		res.Action = ActionAutoRewrite
		res.Score = 5
		res.Diagnostics = append(res.Diagnostics, Diagnostic{
			Gate: GateConsistency,
			Code: "chapter_number_mismatch",
			Message: fmt.Sprintf("title line says chapter %d but this is chapter %d, correct the heading",
				in.Draft.HeaderChapter, in.Draft.ChapterNumber),
			Hard: true,
		})
	}

	if in.Draft.Title == "" || strings.HasPrefix(in.Draft.Title, "Chương ") {
		res.Diagnostics = append(res.Diagnostics, Diagnostic{
			Gate:    GateConsistency,
			Code:    "missing_title",
			Message: fmt.Sprintf("no parsable title line, expected \"Chương %d: <title>\"", in.Draft.ChapterNumber),
		})
		res.Score = 7
	}

	// Locations referenced should already exist in canon. Unknown ones are
	// advisory only; new places legitimately appear as the world expands.
	known := make(map[string]struct{})
	for _, f := range in.Canon {
		if f.Predicate == domain.PredicateLocation {
			known[strings.ToLower(f.Object)] = struct{}{}
		}
	}
	if len(known) > 0 {
		lower := strings.ToLower(in.Draft.Body)
		mentioned := 0
		for loc := range known {
			if strings.Contains(lower, loc) {
				mentioned++
			}
		}
		if mentioned == 0 {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Gate:    GateConsistency,
				Code:    "location_drift",
				Message: "no established location is referenced, verify the setting is intentional",
			})
			if res.Score > 8 {
				res.Score = 8
			}
		}
	}

	return res, nil
}
