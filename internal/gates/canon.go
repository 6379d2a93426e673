package gates

import (
	"context"
	"fmt"
	"strings"

	"github.com/vampirenirmal/storyfactory/internal/domain"
)

// CanonGate compares facts extracted from the draft against the active canon
// snapshot. A dead character reappearing without a resurrection event and a
// realm regression are hard failures; compatible new facts become pending
// facts committed with the chapter.
type CanonGate struct {
	tables *Tables
}

func NewCanonGate(tables *Tables) *CanonGate {
	return &CanonGate{tables: tables}
}

func (g *CanonGate) Name() string { return GateCanon }

func (g *CanonGate) Evaluate(_ context.Context, in *Input) (*Result, error) {
	lower := strings.ToLower(in.Draft.Body)
	chapter := in.Draft.ChapterNumber

	canon := indexCanon(in.Canon)
	characters := knownCharacters(in)

	res := &Result{Gate: GateCanon, Passed: true, Action: ActionAccept, Score: 10}
	resurrected := anyMatch(lower, g.tables.Resurrection)

	for _, ch := range characters {
		chLower := strings.ToLower(ch)
		if !strings.Contains(lower, chLower) {
			continue
		}

		// Dead characters may not appear again unless the draft stages a
		// resurrection.
		if obj, ok := canon[factKey(ch, domain.PredicateAlive)]; ok && obj == "false" && !resurrected {
			res.Action = ActionAutoRewrite
			res.Passed = false
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Gate: GateCanon,
				Code: "dead_character",
				Message: fmt.Sprintf("%s is established as dead and must not appear; remove the character or stage an explicit resurrection", ch),
				Hard: true,
			})
		}

		// Deaths in this draft become pending facts.
		if mentionsNear(lower, chLower, g.tables.DeathMarkers) {
			res.Facts = append(res.Facts, domain.CanonFact{
				ProjectID:            in.Bundle.Project.ID,
				Subject:              ch,
				Predicate:            domain.PredicateAlive,
				Object:               "false",
				FirstChapter:         chapter,
				LastConfirmedChapter: chapter,
				Status:               domain.FactActive,
			})
		}

		// Claimed realms must not regress behind canon.
		if claimed := g.claimedRealm(lower, chLower, in.RealmLadder); claimed != "" {
			if canonRealm, ok := canon[factKey(ch, domain.PredicateRealm)]; ok {
				if realmIndex(in.RealmLadder, claimed) < realmIndex(in.RealmLadder, canonRealm) {
					res.Action = maxAction(res.Action, ActionAutoRewrite)
					res.Passed = false
					res.Diagnostics = append(res.Diagnostics, Diagnostic{
						Gate: GateCanon,
						Code: "realm_regression",
						Message: fmt.Sprintf("%s is written at realm %q but canon has %q; realms never regress", ch, claimed, canonRealm),
						Hard: true,
					})
					continue
				}
			}
			res.Facts = append(res.Facts, domain.CanonFact{
				ProjectID:            in.Bundle.Project.ID,
				Subject:              ch,
				Predicate:            domain.PredicateRealm,
				Object:               claimed,
				FirstChapter:         chapter,
				LastConfirmedChapter: chapter,
				Status:               domain.FactActive,
			})
		}
	}

	// Skill and item acquisitions become pending facts attributed to the main
	// character unless another known character is named in the same sentence.
	for _, m := range g.tables.skillRe.FindAllStringSubmatch(in.Draft.Body, 6) {
		res.Facts = append(res.Facts, domain.CanonFact{
			ProjectID:            in.Bundle.Project.ID,
			Subject:              in.Bundle.Project.MainCharacter,
			Predicate:            domain.PredicateKnowsSkill,
			Object:               strings.TrimSpace(m[1]),
			FirstChapter:         chapter,
			LastConfirmedChapter: chapter,
			Status:               domain.FactActive,
		})
	}
	for _, m := range g.tables.itemRe.FindAllStringSubmatch(in.Draft.Body, 6) {
		res.Facts = append(res.Facts, domain.CanonFact{
			ProjectID:            in.Bundle.Project.ID,
			Subject:              in.Bundle.Project.MainCharacter,
			Predicate:            domain.PredicateHasItem,
			Object:               strings.TrimSpace(m[1]),
			FirstChapter:         chapter,
			LastConfirmedChapter: chapter,
			Status:               domain.FactActive,
		})
	}

	if !res.Passed {
		res.Score = 3
	}
	return res, nil
}

// claimedRealm finds a realm from the ladder stated near the character name.
func (g *CanonGate) claimedRealm(lowerBody, character string, ladder []string) string {
	idx := strings.Index(lowerBody, character)
	if idx < 0 {
		return ""
	}
	// Scan a window after the first mention for a ladder realm name.
	end := idx + 600
	if end > len(lowerBody) {
		end = len(lowerBody)
	}
	window := lowerBody[idx:end]
	for i := len(ladder) - 1; i >= 0; i-- {
		if strings.Contains(window, strings.ToLower(ladder[i])) {
			return ladder[i]
		}
	}
	return ""
}

// mentionsNear reports whether any marker occurs within 200 bytes of the
// character's first mention.
func mentionsNear(lowerBody, character string, markers []string) bool {
	idx := strings.Index(lowerBody, character)
	if idx < 0 {
		return false
	}
	end := idx + len(character) + 200
	if end > len(lowerBody) {
		end = len(lowerBody)
	}
	start := idx - 100
	if start < 0 {
		start = 0
	}
	return anyMatch(lowerBody[start:end], markers)
}

func indexCanon(facts []domain.CanonFact) map[string]string {
	m := make(map[string]string, len(facts))
	for _, f := range facts {
		key := factKey(f.Subject, f.Predicate)
		if _, ok := m[key]; !ok {
			// Facts arrive most recently confirmed first; keep the newest.
			m[key] = strings.ToLower(f.Object)
		}
	}
	return m
}

func factKey(subject, predicate string) string {
	return strings.ToLower(subject) + "\x00" + predicate
}

// knownCharacters unions the outline cast, the main character, and every
// canon subject.
func knownCharacters(in *Input) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}

	add(in.Bundle.Project.MainCharacter)
	if in.Bundle.Outline != nil {
		for _, c := range in.Bundle.Outline.Characters {
			add(c)
		}
	}
	for _, f := range in.Canon {
		add(f.Subject)
	}
	return out
}

func realmIndex(ladder []string, realm string) int {
	realm = strings.ToLower(realm)
	for i, r := range ladder {
		if strings.ToLower(r) == realm {
			return i
		}
	}
	return -1
}

func maxAction(a, b Action) Action {
	if b > a {
		return b
	}
	return a
}
