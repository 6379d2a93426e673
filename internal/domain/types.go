package domain

import (
	"fmt"
	"time"
)

// Genre identifies the narrative genre of a project. The closed set drives
// style hints, heuristic tables, and the realm ladder used by power tracking.
type Genre string

const (
	GenreCultivation Genre = "cultivation"
	GenreUrban       Genre = "urban"
	GenreFantasy     Genre = "fantasy"
	GenreHistorical  Genre = "historical"
	GenreApocalypse  Genre = "apocalypse"
	GenreGame        Genre = "game"
	GenreMystical    Genre = "mystical"
	GenreRomance     Genre = "romance"
	GenreWuxia       Genre = "wuxia"
	GenreSciFi       Genre = "sci-fi"
	GenrePolitics    Genre = "politics"
	GenreFanFiction  Genre = "fan-fiction"
)

// AllGenres lists every recognised genre, in a stable order.
var AllGenres = []Genre{
	GenreCultivation, GenreUrban, GenreFantasy, GenreHistorical,
	GenreApocalypse, GenreGame, GenreMystical, GenreRomance,
	GenreWuxia, GenreSciFi, GenrePolitics, GenreFanFiction,
}

// ProjectStatus tracks the lifecycle of a production project.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectPaused    ProjectStatus = "paused"
	ProjectCompleted ProjectStatus = "completed"
	ProjectFailed    ProjectStatus = "failed"
)

// ChapterStatus tracks the lifecycle of a produced chapter.
type ChapterStatus string

const (
	ChapterDraft     ChapterStatus = "draft"
	ChapterPublished ChapterStatus = "published"
	ChapterFailed    ChapterStatus = "failed"
)

// WorkItemStatus tracks a durable write-queue entry.
type WorkItemStatus string

const (
	WorkPending   WorkItemStatus = "pending"
	WorkWriting   WorkItemStatus = "writing"
	WorkSucceeded WorkItemStatus = "succeeded"
	WorkFailed    WorkItemStatus = "failed"
)

// PublishStatus tracks a publish-queue entry. Published is terminal.
type PublishStatus string

const (
	PublishScheduled  PublishStatus = "scheduled"
	PublishInProgress PublishStatus = "publishing"
	PublishDone       PublishStatus = "published"
	PublishFailed     PublishStatus = "failed"
)

// Slot is a named time-of-day bucket for spreading scheduled writes.
type Slot string

const (
	SlotMorning   Slot = "morning"
	SlotAfternoon Slot = "afternoon"
	SlotEvening   Slot = "evening"
)

// BeatType is a discrete narrative event class used to measure chapter
// diversity over a sliding window.
type BeatType string

const (
	BeatBreakthrough   BeatType = "breakthrough"
	BeatReveal         BeatType = "reveal"
	BeatBetrayal       BeatType = "betrayal"
	BeatRescue         BeatType = "rescue"
	BeatConfrontation  BeatType = "confrontation"
	BeatTraining       BeatType = "training"
	BeatRomance        BeatType = "romance"
	BeatFaceSlap       BeatType = "face-slap"
	BeatWorldExpansion BeatType = "world-expansion"
	BeatTwist          BeatType = "twist"
	BeatCliffhanger    BeatType = "cliffhanger"
	BeatRecovery       BeatType = "recovery"
)

// AllBeatTypes lists the closed beat enum in a stable order.
var AllBeatTypes = []BeatType{
	BeatBreakthrough, BeatReveal, BeatBetrayal, BeatRescue,
	BeatConfrontation, BeatTraining, BeatRomance, BeatFaceSlap,
	BeatWorldExpansion, BeatTwist, BeatCliffhanger, BeatRecovery,
}

// TaskKind classifies LLM spend for budget accounting.
type TaskKind string

const (
	TaskWriting    TaskKind = "writing"
	TaskEvaluation TaskKind = "evaluation"
	TaskSummary    TaskKind = "summary"
	TaskRewrite    TaskKind = "rewrite"
)

// FactStatus tracks whether a canon fact is currently believed.
type FactStatus string

const (
	FactActive    FactStatus = "active"
	FactRetracted FactStatus = "retracted"
)

// Project is the top-level unit of production.
type Project struct {
	ID                   string        `json:"id"`
	NovelID              string        `json:"novel_id"`
	Genre                Genre         `json:"genre"`
	MainCharacter        string        `json:"main_character"`
	TargetChapterLength  int           `json:"target_chapter_length"`
	TotalPlannedChapters int           `json:"total_planned_chapters"`
	CurrentChapter       int           `json:"current_chapter"`
	Status               ProjectStatus `json:"status"`
	ModelPreference      string        `json:"model_preference"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// Remaining reports how many planned chapters are still unwritten.
func (p *Project) Remaining() int {
	if r := p.TotalPlannedChapters - p.CurrentChapter; r > 0 {
		return r
	}
	return 0
}

// Blueprint is the per-project plan. Immutable after creation; regeneration
// replaces the whole record.
type Blueprint struct {
	ProjectID               string           `json:"project_id"`
	Tagline                 string           `json:"tagline"`
	WorldDescription        string           `json:"world_description"`
	PowerSystem             string           `json:"power_system"`
	MainCharacterName       string           `json:"main_character_name"`
	MainCharacterMotivation string           `json:"main_character_motivation"`
	Arcs                    []ArcOutline     `json:"arcs"`
	Chapters                []ChapterOutline `json:"chapters"`
}

// ArcFor returns the arc outline whose range covers the given chapter, or nil.
func (b *Blueprint) ArcFor(chapter int) *ArcOutline {
	for i := range b.Arcs {
		if chapter >= b.Arcs[i].StartChapter && chapter <= b.Arcs[i].EndChapter {
			return &b.Arcs[i]
		}
	}
	return nil
}

// ChapterFor returns the per-chapter outline row, or nil when the blueprint
// has no row for that chapter.
func (b *Blueprint) ChapterFor(chapter int) *ChapterOutline {
	for i := range b.Chapters {
		if b.Chapters[i].ChapterNumber == chapter {
			return &b.Chapters[i]
		}
	}
	return nil
}

// ArcOutline is a contiguous chapter range with a shared structural unit.
type ArcOutline struct {
	ArcNumber    int      `json:"arc_number"`
	Title        string   `json:"title"`
	StartChapter int      `json:"start_chapter"`
	EndChapter   int      `json:"end_chapter"`
	Theme        string   `json:"theme"`
	KeyEvents    []string `json:"key_events"`
	Climax       string   `json:"climax"`
}

// ChapterOutline is one planned chapter from the blueprint.
type ChapterOutline struct {
	ChapterNumber int      `json:"chapter_number"`
	Title         string   `json:"title"`
	Summary       string   `json:"summary"`
	KeyPoints     []string `json:"key_points"`
	TensionTarget int      `json:"tension_target"`
	DopamineType  string   `json:"dopamine_type"`
	Characters    []string `json:"characters"`
}

// Chapter is the produced artifact. (NovelID, ChapterNumber) is unique.
type Chapter struct {
	ID            string        `json:"id"`
	NovelID       string        `json:"novel_id"`
	ChapterNumber int           `json:"chapter_number"`
	Title         string        `json:"title"`
	Content       string        `json:"content"`
	WordCount     int           `json:"word_count"`
	Status        ChapterStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	PublishedAt   *time.Time    `json:"published_at,omitempty"`
}

// ChapterSummary is the condensed record of a persisted chapter consumed by
// the context loader when writing later chapters.
type ChapterSummary struct {
	ProjectID     string `json:"project_id"`
	ChapterNumber int    `json:"chapter_number"`
	Title         string `json:"title"`
	Summary       string `json:"summary"`
}

// CanonFact is one atomic verified statement about the story world.
type CanonFact struct {
	ProjectID            string     `json:"project_id"`
	Subject              string     `json:"subject"`
	Predicate            string     `json:"predicate"`
	Object               string     `json:"object"`
	FirstChapter         int        `json:"first_chapter"`
	LastConfirmedChapter int        `json:"last_confirmed_chapter"`
	Status               FactStatus `json:"status"`
}

// Well-known canon predicates.
const (
	PredicateRealm      = "realm"
	PredicateAlive      = "alive"
	PredicateKnowsSkill = "knows-skill"
	PredicateHasItem    = "has-item"
	PredicateLocation   = "location"
)

// BeatEntry is one detected narrative beat of a persisted chapter.
type BeatEntry struct {
	ProjectID     string    `json:"project_id"`
	ChapterNumber int       `json:"chapter_number"`
	Beat          BeatType  `json:"beat"`
	Category      string    `json:"category"`
	Intensity     int       `json:"intensity"`
	At            time.Time `json:"at"`
}

// PowerEventKind classifies power-progression events.
type PowerEventKind string

const (
	PowerBreakthrough PowerEventKind = "breakthrough"
	PowerSkillGained  PowerEventKind = "skill"
	PowerItemGained   PowerEventKind = "item"
)

// PowerEvent records one progression event for a character.
type PowerEvent struct {
	ProjectID     string         `json:"project_id"`
	Character     string         `json:"character"`
	ChapterNumber int            `json:"chapter_number"`
	Kind          PowerEventKind `json:"kind"`
	Realm         string         `json:"realm,omitempty"`
	Level         int            `json:"level,omitempty"`
	Skill         string         `json:"skill,omitempty"`
	Item          string         `json:"item,omitempty"`
}

// PowerState is the accumulated progression of one character. The realm index
// is monotonically non-decreasing; level resets to 1 on realm advance.
type PowerState struct {
	ProjectID          string   `json:"project_id"`
	Character          string   `json:"character"`
	Realm              string   `json:"realm"`
	Level              int      `json:"level"`
	Abilities          []string `json:"abilities"`
	Items              []string `json:"items"`
	TotalBreakthroughs int      `json:"total_breakthroughs"`
}

// CostRecord is one LLM spend entry, aggregated into session and daily totals.
type CostRecord struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	At           time.Time `json:"at"`
	Task         TaskKind  `json:"task"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
}

// WorkItem is one pending chapter to write. (ProjectID, ChapterNumber) is
// unique while not succeeded; the status field acts as the worker lease.
type WorkItem struct {
	ProjectID      string         `json:"project_id"`
	ChapterNumber  int            `json:"chapter_number"`
	Status         WorkItemStatus `json:"status"`
	ScheduledAt    time.Time      `json:"scheduled_at"`
	Slot           Slot           `json:"slot"`
	Priority       int            `json:"priority"`
	Attempts       int            `json:"attempts"`
	LeaseExpiresAt *time.Time     `json:"lease_expires_at,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
}

// ID returns the queue identity of the item.
func (w WorkItem) ID() string {
	return fmt.Sprintf("%s#%d", w.ProjectID, w.ChapterNumber)
}

// PublishItem is one scheduled chapter release. Publish never runs before
// ScheduledAt; published items are terminal.
type PublishItem struct {
	ChapterID   string        `json:"chapter_id"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	Status      PublishStatus `json:"status"`
	Retries     int           `json:"retries"`
	LastError   string        `json:"last_error,omitempty"`
	PublishedAt *time.Time    `json:"published_at,omitempty"`
}

// FactoryConfig is the singleton fleet-control row.
type FactoryConfig struct {
	IsRunning                bool    `json:"is_running"`
	MaxWorkers               int     `json:"max_workers"`
	MaxActiveProjects        int     `json:"max_active_projects"`
	ChaptersPerProjectPerDay int     `json:"chapters_per_project_per_day"`
	SessionBudgetUSD         float64 `json:"session_budget_usd"`
	DailyBudgetUSD           float64 `json:"daily_budget_usd"`
}
