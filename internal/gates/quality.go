package gates

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/vampirenirmal/storyfactory/internal/writer"
)

// QualityGate scores a draft on writing mechanics and reader engagement.
// Composite = 0.25*writing + 0.15*(plot + character + pacing + engagement +
// dopamine), each sub-score on 0..10.
type QualityGate struct {
	tables *Tables

	// AcceptThreshold and ReviewThreshold split the composite range into
	// accept / auto_rewrite / human_review.
	AcceptThreshold float64
	ReviewThreshold float64

	MinWords int
	MaxWords int
}

func NewQualityGate(tables *Tables, acceptThreshold, reviewThreshold float64, minWords, maxWords int) *QualityGate {
	if acceptThreshold <= 0 {
		acceptThreshold = 7.0
	}
	if reviewThreshold <= 0 {
		reviewThreshold = acceptThreshold - 2
	}
	if minWords <= 0 {
		minWords = 1500
	}
	if maxWords <= 0 {
		maxWords = 5000
	}
	return &QualityGate{
		tables:          tables,
		AcceptThreshold: acceptThreshold,
		ReviewThreshold: reviewThreshold,
		MinWords:        minWords,
		MaxWords:        maxWords,
	}
}

func (g *QualityGate) Name() string { return GateQuality }

// Metrics are the raw measurements behind the sub-scores.
type Metrics struct {
	WordCount       int
	DialogueRatio   float64
	ActionRatio     float64
	InnerRatio      float64
	SentenceLenVar  float64
	RepetitionScore float64
	HookStrength    float64
	CliffStrength   float64
	DopamineCount   int
}

func (g *QualityGate) Evaluate(_ context.Context, in *Input) (*Result, error) {
	m := g.measure(in.Draft)

	var diags []Diagnostic
	addDiag := func(code, msg string, hard bool) {
		diags = append(diags, Diagnostic{Gate: GateQuality, Code: code, Message: msg, Hard: hard})
	}

	writing := 10.0
	if m.WordCount < g.MinWords || m.WordCount > g.MaxWords {
		addDiag("word_count", fmt.Sprintf("word count %d outside [%d, %d]", m.WordCount, g.MinWords, g.MaxWords), true)
		writing -= 3
	}
	if m.RepetitionScore > 0.12 {
		addDiag("repetition", fmt.Sprintf("repetition score %.2f is high, vary phrasing", m.RepetitionScore), false)
		writing -= 2
	}
	if m.SentenceLenVar < 2.0 {
		addDiag("monotone_sentences", "sentence lengths are monotonous, mix short and long sentences", false)
		writing -= 1.5
	}
	writing = clampScore(writing)

	plot := 6.0 + 4.0*ratioScore(m.ActionRatio, 0.05, 0.35)
	character := 5.0 + 5.0*ratioScore(m.InnerRatio, 0.02, 0.15)

	pacing := 10.0 * ratioScore(m.DialogueRatio, 0.15, 0.55)
	if m.DialogueRatio < 0.05 {
		addDiag("low_dialogue", "almost no dialogue, add character interaction", false)
	}

	engagement := 5.0*m.HookStrength + 5.0*m.CliffStrength
	if m.HookStrength < 0.4 {
		addDiag("weak_hook", "opening lacks a hook in the first 100 words", false)
	}
	if m.CliffStrength < 0.4 {
		addDiag("weak_cliffhanger", "ending lacks a cliffhanger", false)
	}

	dopamine := clampScore(float64(m.DopamineCount) * 1.5)
	if m.DopamineCount == 0 {
		addDiag("no_payoff", "no reward or escalation signals in the chapter", false)
	}

	composite := 0.25*writing + 0.15*(clampScore(plot)+clampScore(character)+clampScore(pacing)+clampScore(engagement)+dopamine)

	action := ActionAccept
	switch {
	case composite >= g.AcceptThreshold:
		action = ActionAccept
	case composite >= g.ReviewThreshold:
		action = ActionAutoRewrite
	default:
		action = ActionHumanReview
	}
	// Word count outside the band always forces at least a rewrite.
	if hasCode(diags, "word_count") && action == ActionAccept {
		action = ActionAutoRewrite
	}

	return &Result{
		Gate:        GateQuality,
		Passed:      action == ActionAccept,
		Score:       composite,
		Action:      action,
		Diagnostics: diags,
	}, nil
}

func (g *QualityGate) measure(d *writer.Draft) Metrics {
	body := d.Body
	lower := strings.ToLower(body)
	words := strings.Fields(body)
	wc := len(words)

	m := Metrics{WordCount: wc}
	if wc == 0 {
		return m
	}

	sentences := splitSentences(body)
	dialogueWords, innerWords, actionHits := 0, 0, 0
	var lengths []float64
	for _, s := range sentences {
		sw := len(strings.Fields(s))
		lengths = append(lengths, float64(sw))
		ls := strings.ToLower(s)
		if anyMatch(ls, g.tables.DialogueMarkers) {
			dialogueWords += sw
		}
		if anyMatch(ls, g.tables.InnerThought) {
			innerWords += sw
		}
		actionHits += countMatches(ls, g.tables.ActionVerbs)
	}

	m.DialogueRatio = float64(dialogueWords) / float64(wc)
	m.InnerRatio = float64(innerWords) / float64(wc)
	m.ActionRatio = float64(actionHits) / float64(len(sentences))
	m.SentenceLenVar = stddev(lengths)
	m.RepetitionScore = repetition(words)

	m.HookStrength = signalDensity(firstWords(lower, 100), g.tables.HookSignals)
	m.CliffStrength = signalDensity(lastWords(lower, 100), g.tables.Cliffhangers)
	m.DopamineCount = countMatches(lower, g.tables.Dopamine)

	return m
}

func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return math.Sqrt(sq / float64(len(xs)-1))
}

// repetition measures the share of 3-grams that occur more than once.
func repetition(words []string) float64 {
	if len(words) < 6 {
		return 0
	}
	seen := make(map[string]int)
	total := 0
	for i := 0; i+2 < len(words); i++ {
		key := strings.ToLower(words[i] + " " + words[i+1] + " " + words[i+2])
		seen[key]++
		total++
	}
	dup := 0
	for _, n := range seen {
		if n > 1 {
			dup += n - 1
		}
	}
	return float64(dup) / float64(total)
}

// signalDensity scores 0..1 by how many distinct signals appear in the
// window, saturating at three.
func signalDensity(window string, signals []string) float64 {
	hits := 0
	for _, s := range signals {
		if strings.Contains(window, strings.ToLower(s)) {
			hits++
			if hits >= 3 {
				break
			}
		}
	}
	return float64(hits) / 3.0
}

func firstWords(text string, n int) string {
	fields := strings.Fields(text)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}

func lastWords(text string, n int) string {
	fields := strings.Fields(text)
	if len(fields) > n {
		fields = fields[len(fields)-n:]
	}
	return strings.Join(fields, " ")
}

// ratioScore maps x into 0..1, scoring 1 inside [lo, hi] and decaying
// linearly outside.
func ratioScore(x, lo, hi float64) float64 {
	switch {
	case x >= lo && x <= hi:
		return 1
	case x < lo:
		if lo == 0 {
			return 1
		}
		return math.Max(0, x/lo)
	default:
		return math.Max(0, 1-(x-hi)/hi)
	}
}

func clampScore(x float64) float64 {
	return math.Max(0, math.Min(10, x))
}

func hasCode(diags []Diagnostic, code string) bool {
	for _, d := range diags {
		if d.Code == code {
			return true
		}
	}
	return false
}
