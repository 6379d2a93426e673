package gates

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vampirenirmal/storyfactory/internal/domain"
)

// Tables holds the language and genre specific signal vocabularies the gates
// match against. The built-in defaults cover the Vietnamese webnovel corpus;
// per-genre overlays extend them and a YAML file can replace them entirely.
type Tables struct {
	DialogueMarkers []string                     `yaml:"dialogue_markers"`
	ActionVerbs     []string                     `yaml:"action_verbs"`
	InnerThought    []string                     `yaml:"inner_thought"`
	HookSignals     []string                     `yaml:"hook_signals"`
	Cliffhangers    []string                     `yaml:"cliffhangers"`
	Dopamine        []string                     `yaml:"dopamine"`
	DeathMarkers    []string                     `yaml:"death_markers"`
	Resurrection    []string                     `yaml:"resurrection"`
	BeatKeywords    map[domain.BeatType][]string `yaml:"beat_keywords"`

	// BreakthroughPattern captures "<character> breaks through to <realm>"
	// statements; group 1 is the realm phrase.
	breakthroughRe *regexp.Regexp
	skillRe        *regexp.Regexp
	itemRe         *regexp.Regexp
}

var defaultTables = Tables{
	DialogueMarkers: []string{"“", "”", "\"", "- ", "– ", "nói:", "hỏi:", "đáp:", "quát:", "thì thầm"},
	ActionVerbs: []string{
		"lao", "đánh", "chém", "đấm", "đá", "né", "tránh", "xông", "vung",
		"phóng", "bắn", "chặn", "đỡ", "phản công", "tấn công", "truy sát",
	},
	InnerThought: []string{
		"thầm nghĩ", "tự nhủ", "trong lòng", "nghĩ bụng", "chợt nghĩ",
		"tự hỏi", "nội tâm", "suy nghĩ",
	},
	HookSignals: []string{
		"đột nhiên", "bỗng", "bất ngờ", "không ngờ", "ngay lúc đó",
		"tiếng nổ", "tiếng hét", "?", "!",
	},
	Cliffhangers: []string{
		"liệu", "chuyện gì", "không ai ngờ", "chưa kịp", "thì đúng lúc",
		"một bóng người", "giọng nói vang lên", "…", "?!",
	},
	Dopamine: []string{
		"đột phá", "thăng cấp", "bảo vật", "tuyệt kỹ", "kinh ngạc",
		"chấn động", "không thể tin", "nghịch chuyển", "quật khởi", "vả mặt",
	},
	DeathMarkers: []string{
		"đã chết", "tử vong", "bỏ mạng", "qua đời", "tắt thở", "thân tử đạo tiêu",
	},
	Resurrection: []string{
		"hồi sinh", "sống lại", "trùng sinh", "phục sinh", "trở về từ cõi chết",
	},
	BeatKeywords: map[domain.BeatType][]string{
		domain.BeatBreakthrough:   {"đột phá", "thăng cấp", "tấn thăng", "cảnh giới mới"},
		domain.BeatReveal:         {"bí mật", "chân tướng", "hé lộ", "thì ra"},
		domain.BeatBetrayal:       {"phản bội", "bán đứng", "trở mặt", "gian tế"},
		domain.BeatRescue:         {"cứu", "giải cứu", "kịp thời xuất hiện"},
		domain.BeatConfrontation:  {"đối đầu", "quyết đấu", "khiêu chiến", "giao chiến"},
		domain.BeatTraining:       {"tu luyện", "khổ luyện", "lĩnh ngộ", "bế quan"},
		domain.BeatRomance:        {"rung động", "đỏ mặt", "nắm tay", "ánh mắt dịu dàng"},
		domain.BeatFaceSlap:       {"vả mặt", "đánh mặt", "khinh thường", "hối hận không kịp"},
		domain.BeatWorldExpansion: {"thế lực mới", "vùng đất mới", "bí cảnh", "truyền thuyết"},
		domain.BeatTwist:          {"không ngờ", "nghịch chuyển", "hoá ra", "đảo ngược"},
		domain.BeatCliffhanger:    {"chưa kịp", "đúng lúc đó", "một giọng nói vang lên"},
		domain.BeatRecovery:       {"dưỡng thương", "hồi phục", "tĩnh dưỡng", "liền da"},
	},
}

// english overlay merged in for genres written in English.
var englishOverlay = Tables{
	DialogueMarkers: []string{"said", "asked", "replied", "shouted", "whispered"},
	ActionVerbs:     []string{"struck", "dodged", "charged", "slashed", "parried", "lunged"},
	InnerThought:    []string{"thought", "wondered", "realized", "told himself", "told herself"},
	HookSignals:     []string{"suddenly", "without warning", "a scream", "an explosion"},
	Cliffhangers:    []string{"before he could", "before she could", "a voice rang out", "no one expected"},
	Dopamine:        []string{"breakthrough", "level up", "legendary", "impossible", "stunned"},
	DeathMarkers:    []string{"was dead", "had died", "breathed his last", "breathed her last"},
	Resurrection:    []string{"resurrected", "came back to life", "revived"},
	BeatKeywords: map[domain.BeatType][]string{
		domain.BeatBreakthrough:  {"broke through", "breakthrough", "leveled up", "advanced to"},
		domain.BeatReveal:        {"the truth", "revealed", "secret"},
		domain.BeatConfrontation: {"faced off", "duel", "challenged"},
		domain.BeatTraining:      {"trained", "cultivated", "practiced"},
	},
}

var englishGenres = map[domain.Genre]bool{
	domain.GenreFantasy: true,
	domain.GenreGame:    true,
	domain.GenreSciFi:   true,
}

// TablesFor returns the signal tables for a genre. English-corpus genres get
// the English overlay merged on top of the Vietnamese base so mixed-language
// drafts still score.
func TablesFor(genre domain.Genre) *Tables {
	t := cloneTables(defaultTables)
	if englishGenres[genre] {
		mergeTables(t, &englishOverlay)
	}
	t.compile(genre)
	return t
}

// LoadTables reads a full table override from a YAML file.
func LoadTables(path string, genre domain.Genre) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tables file: %w", err)
	}
	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing tables file: %w", err)
	}
	t.compile(genre)
	return &t, nil
}

func (t *Tables) compile(genre domain.Genre) {
	if englishGenres[genre] {
		t.breakthroughRe = regexp.MustCompile(`(?i)(?:broke through to|advanced to|reached)\s+(?:the\s+)?([\p{L}][\p{L}\s]{1,40}?)(?:\s+realm|\s+stage|[.,!])`)
		t.skillRe = regexp.MustCompile(`(?i)(?:learned|mastered|comprehended)\s+(?:the\s+)?([\p{L}][\p{L}\s]{1,40}?)[.,!]`)
		t.itemRe = regexp.MustCompile(`(?i)(?:obtained|acquired|received)\s+(?:the\s+)?([\p{L}][\p{L}\s]{1,40}?)[.,!]`)
		return
	}
	t.breakthroughRe = regexp.MustCompile(`(?:đột phá|tấn thăng|bước vào)\s+(?:đến\s+|tới\s+|cảnh giới\s+)?([\p{L}][\p{L}\s]{1,40}?)[.,!\n]`)
	t.skillRe = regexp.MustCompile(`(?:học được|lĩnh ngộ|luyện thành)\s+([\p{L}][\p{L}\s]{1,40}?)[.,!\n]`)
	t.itemRe = regexp.MustCompile(`(?:nhận được|thu được|đoạt được)\s+([\p{L}][\p{L}\s]{1,40}?)[.,!\n]`)
}

func cloneTables(src Tables) *Tables {
	dst := src
	dst.BeatKeywords = make(map[domain.BeatType][]string, len(src.BeatKeywords))
	for k, v := range src.BeatKeywords {
		dst.BeatKeywords[k] = append([]string{}, v...)
	}
	return &dst
}

func mergeTables(dst, overlay *Tables) {
	dst.DialogueMarkers = append(dst.DialogueMarkers, overlay.DialogueMarkers...)
	dst.ActionVerbs = append(dst.ActionVerbs, overlay.ActionVerbs...)
	dst.InnerThought = append(dst.InnerThought, overlay.InnerThought...)
	dst.HookSignals = append(dst.HookSignals, overlay.HookSignals...)
	dst.Cliffhangers = append(dst.Cliffhangers, overlay.Cliffhangers...)
	dst.Dopamine = append(dst.Dopamine, overlay.Dopamine...)
	dst.DeathMarkers = append(dst.DeathMarkers, overlay.DeathMarkers...)
	dst.Resurrection = append(dst.Resurrection, overlay.Resurrection...)
	for k, v := range overlay.BeatKeywords {
		dst.BeatKeywords[k] = append(dst.BeatKeywords[k], v...)
	}
}

// countMatches counts how many times any of the markers appears in text.
// Matching is case-insensitive on the lowercased text.
func countMatches(lowerText string, markers []string) int {
	n := 0
	for _, m := range markers {
		n += strings.Count(lowerText, strings.ToLower(m))
	}
	return n
}

// anyMatch reports whether any marker occurs in text.
func anyMatch(lowerText string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(lowerText, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
