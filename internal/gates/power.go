package gates

import (
	"context"
	"fmt"
	"strings"

	"github.com/vampirenirmal/storyfactory/internal/domain"
)

// PowerGate validates progression events against the ordered realm ladder for
// the genre. A breakthrough must land on the character's current realm or
// exactly one step above it, and the character must exist in canon or the
// outline cast. Violations force a rewrite.
type PowerGate struct {
	tables *Tables
}

func NewPowerGate(tables *Tables) *PowerGate {
	return &PowerGate{tables: tables}
}

func (g *PowerGate) Name() string { return GatePower }

func (g *PowerGate) Evaluate(_ context.Context, in *Input) (*Result, error) {
	lower := strings.ToLower(in.Draft.Body)
	chapter := in.Draft.ChapterNumber

	res := &Result{Gate: GatePower, Passed: true, Action: ActionAccept, Score: 10}
	if len(in.RealmLadder) == 0 {
		return res, nil
	}

	characters := knownCharacters(in)

	for _, m := range g.tables.breakthroughRe.FindAllStringSubmatch(lower, 4) {
		target := strings.TrimSpace(m[1])
		targetIdx := realmIndex(in.RealmLadder, target)
		if targetIdx < 0 {
			// Phrase did not resolve to a ladder realm.
			continue
		}
		targetRealm := in.RealmLadder[targetIdx]

		ch := characterNearest(lower, m[0], characters)
		if ch == "" {
			res.Passed = false
			res.Action = maxAction(res.Action, ActionAutoRewrite)
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Gate:    GatePower,
				Code:    "unknown_character",
				Message: fmt.Sprintf("a breakthrough to %q is attributed to no established character", targetRealm),
				Hard:    true,
			})
			continue
		}

		currentIdx := -1
		if st, ok := in.PowerStates[strings.ToLower(ch)]; ok && st.Realm != "" {
			currentIdx = realmIndex(in.RealmLadder, st.Realm)
		}

		// First recorded realm may be any rung; afterwards only the same rung
		// or the next one is valid.
		if currentIdx >= 0 && targetIdx != currentIdx && targetIdx != currentIdx+1 {
			res.Passed = false
			res.Action = maxAction(res.Action, ActionAutoRewrite)
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Gate: GatePower,
				Code: "realm_skip",
				Message: fmt.Sprintf("%s breaks through from %q to %q, but realms advance one step at a time", ch, in.RealmLadder[currentIdx], targetRealm),
				Hard: true,
			})
			continue
		}

		if currentIdx < 0 || targetIdx == currentIdx+1 {
			res.PowerEvents = append(res.PowerEvents, domain.PowerEvent{
				ProjectID:     in.Bundle.Project.ID,
				Character:     ch,
				ChapterNumber: chapter,
				Kind:          domain.PowerBreakthrough,
				Realm:         targetRealm,
			})
		}
	}

	for _, m := range g.tables.skillRe.FindAllStringSubmatch(lower, 4) {
		skill := strings.TrimSpace(m[1])
		ch := characterNearest(lower, m[0], characters)
		if ch == "" {
			ch = in.Bundle.Project.MainCharacter
		}
		res.PowerEvents = append(res.PowerEvents, domain.PowerEvent{
			ProjectID:     in.Bundle.Project.ID,
			Character:     ch,
			ChapterNumber: chapter,
			Kind:          domain.PowerSkillGained,
			Skill:         skill,
		})
	}

	if !res.Passed {
		res.Score = 3
	}
	return res, nil
}

// characterNearest returns the known character mentioned closest before the
// matched phrase, or "" when none precedes it.
func characterNearest(lowerBody, match string, characters []string) string {
	at := strings.Index(lowerBody, match)
	if at < 0 {
		return ""
	}
	best, bestPos := "", -1
	for _, ch := range characters {
		pos := strings.LastIndex(lowerBody[:at], strings.ToLower(ch))
		if pos > bestPos {
			best, bestPos = ch, pos
		}
	}
	return best
}
