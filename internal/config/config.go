package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vampirenirmal/storyfactory/internal/domain"
)

// Config is the full factory configuration. Values come from the YAML config
// file with environment overrides for secrets.
type Config struct {
	AI         AIConfig         `yaml:"ai" validate:"required"`
	Store      StoreConfig      `yaml:"store" validate:"required"`
	Production ProductionConfig `yaml:"production" validate:"required"`
	Budget     BudgetConfig     `yaml:"budget" validate:"required"`

	// Realms maps each genre to its ordered progression ladder, weakest
	// first. Deployment data, not code; missing genres fall back to the
	// embedded defaults.
	Realms map[domain.Genre][]string `yaml:"realms"`
}

type AIConfig struct {
	APIKey            string        `yaml:"api_key" validate:"required,min=20"`
	Model             string        `yaml:"model" validate:"required"`
	BaseURL           string        `yaml:"base_url" validate:"required,url"`
	RequestTimeout    time.Duration `yaml:"request_timeout" validate:"required,min=10s,max=1h"`
	MaxRetries        int           `yaml:"max_retries" validate:"min=0,max=10"`
	RequestsPerMinute int           `yaml:"requests_per_minute" validate:"required,min=1,max=1000"`
	Burst             int           `yaml:"burst" validate:"required,min=1,max=100"`
	MaxOutputTokens   int           `yaml:"max_output_tokens" validate:"required,min=256"`
	ContextWindow     int           `yaml:"context_window" validate:"required,min=4000"`
	InputCostPer1K    float64       `yaml:"input_cost_per_1k" validate:"min=0"`
	OutputCostPer1K   float64       `yaml:"output_cost_per_1k" validate:"min=0"`
}

type StoreConfig struct {
	Path       string `yaml:"path" validate:"required"`
	MaxRetries int    `yaml:"max_retries" validate:"min=0,max=10"`
}

type ProductionConfig struct {
	MaxWorkers               int           `yaml:"max_workers" validate:"required,min=1,max=100"`
	MaxActiveProjects        int           `yaml:"max_active_projects" validate:"required,min=1"`
	ChaptersPerProjectPerDay int           `yaml:"chapters_per_project_per_day" validate:"required,min=1"`
	Timezone                 string        `yaml:"timezone" validate:"required"`
	RecentChaptersForContext int           `yaml:"recent_chapters_for_context" validate:"required,min=1,max=10"`
	ContextMaxChars          int           `yaml:"context_max_chars" validate:"required,min=2000"`
	BeatWindow               int           `yaml:"beat_window" validate:"required,min=5"`
	QCThreshold              float64       `yaml:"qc_threshold" validate:"required,min=0,max=10"`
	AutoRewriteThreshold     float64       `yaml:"auto_rewrite_threshold" validate:"min=0,max=10"`
	MaxRewriteAttempts       int           `yaml:"max_rewrite_attempts" validate:"min=0,max=10"`
	MinInterChapterDelay     time.Duration `yaml:"min_inter_chapter_delay"`
	LeaseDuration            time.Duration `yaml:"lease_duration" validate:"required,min=1m"`
	SchedulerTick            time.Duration `yaml:"scheduler_tick" validate:"required,min=1s"`
	PublishTick              time.Duration `yaml:"publish_tick" validate:"required,min=1s"`
	ContinueOnReview         bool          `yaml:"continue_on_review"`
}

type BudgetConfig struct {
	SessionBudgetUSD float64 `yaml:"session_budget_usd" validate:"required,gt=0"`
	DailyBudgetUSD   float64 `yaml:"daily_budget_usd" validate:"required,gt=0"`
}

// Default returns the configuration used when no file overrides exist.
func Default() *Config {
	return &Config{
		AI: AIConfig{
			Model:             "gpt-4.1",
			BaseURL:           "https://api.openai.com/v1",
			RequestTimeout:    5 * time.Minute,
			MaxRetries:        3,
			RequestsPerMinute: 30,
			Burst:             10,
			MaxOutputTokens:   8192,
			ContextWindow:     128000,
			InputCostPer1K:    0.002,
			OutputCostPer1K:   0.008,
		},
		Store: StoreConfig{
			Path:       "storyfactory.db",
			MaxRetries: 4,
		},
		Production: ProductionConfig{
			MaxWorkers:               10,
			MaxActiveProjects:        200,
			ChaptersPerProjectPerDay: 3,
			Timezone:                 "Asia/Ho_Chi_Minh",
			RecentChaptersForContext: 3,
			ContextMaxChars:          12000,
			BeatWindow:               20,
			QCThreshold:              7.0,
			AutoRewriteThreshold:     5.0,
			MaxRewriteAttempts:       3,
			MinInterChapterDelay:     time.Second,
			LeaseDuration:            15 * time.Minute,
			SchedulerTick:            30 * time.Second,
			PublishTick:              2 * time.Minute,
		},
		Budget: BudgetConfig{
			SessionBudgetUSD: 5,
			DailyBudgetUSD:   10,
		},
		Realms: DefaultRealms(),
	}
}

// Load reads configuration from path (optional) layered over defaults, then
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	if apiKey := os.Getenv("STORYFACTORY_API_KEY"); apiKey != "" {
		cfg.AI.APIKey = apiKey
	} else if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && cfg.AI.APIKey == "" {
		cfg.AI.APIKey = apiKey
	}
	if dbPath := os.Getenv("STORYFACTORY_DB"); dbPath != "" {
		cfg.Store.Path = dbPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks structural constraints and the realm ladders.
func (c *Config) Validate() error {
	if c.Realms == nil {
		c.Realms = DefaultRealms()
	}
	for genre, ladder := range DefaultRealms() {
		if len(c.Realms[genre]) == 0 {
			c.Realms[genre] = ladder
		}
	}

	if _, err := time.LoadLocation(c.Production.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Production.Timezone, err)
	}

	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	for genre, ladder := range c.Realms {
		seen := make(map[string]bool, len(ladder))
		for _, realm := range ladder {
			if realm == "" {
				return fmt.Errorf("realm ladder for %s contains an empty entry", genre)
			}
			if seen[realm] {
				return fmt.Errorf("realm ladder for %s repeats %q", genre, realm)
			}
			seen[realm] = true
		}
	}

	return nil
}

// Location resolves the configured production timezone. Validate guarantees
// the name loads, so failures here fall back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Production.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RealmLadder returns the ordered realm list for a genre.
func (c *Config) RealmLadder(genre domain.Genre) []string {
	if ladder, ok := c.Realms[genre]; ok && len(ladder) > 0 {
		return ladder
	}
	return DefaultRealms()[genre]
}

// EstimateCostUSD prices a (projected or actual) token count for the
// configured model.
func (c *Config) EstimateCostUSD(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*c.AI.InputCostPer1K +
		float64(outputTokens)/1000*c.AI.OutputCostPer1K
}

// DefaultRealms returns the embedded per-genre progression ladders. These are
// deployment defaults; production loads the full set from configuration.
func DefaultRealms() map[domain.Genre][]string {
	return map[domain.Genre][]string{
		domain.GenreCultivation: {
			"Luyện Khí", "Trúc Cơ", "Kim Đan", "Nguyên Anh",
			"Hóa Thần", "Luyện Hư", "Hợp Thể", "Đại Thừa", "Độ Kiếp",
		},
		domain.GenreWuxia: {
			"Tam Lưu", "Nhị Lưu", "Nhất Lưu", "Cao Thủ", "Tông Sư", "Đại Tông Sư",
		},
		domain.GenreUrban: {
			"Học Đồ", "Chuyên Gia", "Đại Sư", "Tông Sư", "Truyền Thuyết",
		},
		domain.GenreFantasy: {
			"Apprentice", "Adept", "Master", "Grandmaster", "Archmage", "Demigod",
		},
		domain.GenreApocalypse: {
			"Cấp 1", "Cấp 2", "Cấp 3", "Cấp 4", "Cấp 5", "Cấp 6", "Cấp 7",
		},
		domain.GenreGame: {
			"Bronze", "Silver", "Gold", "Platinum", "Diamond", "Master", "Challenger",
		},
	}
}
