package gates

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vampirenirmal/storyfactory/internal/domain"
)

// CostStore reads persisted spend totals.
type CostStore interface {
	DailyCostUSD(ctx context.Context, projectID string, t time.Time) (float64, error)
	CostsSince(ctx context.Context, projectID string, since time.Time) ([]domain.CostRecord, error)
}

// Estimator converts a token estimate into dollars.
type Estimator func(inputTokens, outputTokens int) float64

// Decision is the answer to a budget pre-check.
type Decision struct {
	Allowed        bool
	Reason         string
	DailySpentUSD  float64
	DailyRemaining float64
	SessionSpent   float64
}

// CostCache enforces session and daily budgets. Checks read the persisted
// per-day totals, so restarts never re-grant budget. The pre-check happens
// before each LLM call; at most one in-flight chapter can overspend past the
// limit before the next check blocks.
type CostCache struct {
	store    CostStore
	estimate Estimator

	SessionBudgetUSD float64
	DailyBudgetUSD   float64

	mu            sync.Mutex
	sessionStarts map[string]time.Time

	logger *slog.Logger
}

func NewCostCache(store CostStore, estimate Estimator, sessionBudget, dailyBudget float64, logger *slog.Logger) *CostCache {
	if logger == nil {
		logger = slog.Default().With("component", "cost_cache")
	}
	return &CostCache{
		store:            store,
		estimate:         estimate,
		SessionBudgetUSD: sessionBudget,
		DailyBudgetUSD:   dailyBudget,
		sessionStarts:    make(map[string]time.Time),
		logger:           logger,
	}
}

// BeginSession marks the budget window start for a project run.
func (c *CostCache) BeginSession(projectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionStarts[projectID] = time.Now().UTC()
}

// EndSession forgets the session window.
func (c *CostCache) EndSession(projectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessionStarts, projectID)
}

// SessionSpentUSD sums spend recorded since the session began. Without an
// active session it returns zero.
func (c *CostCache) SessionSpentUSD(ctx context.Context, projectID string) (float64, error) {
	c.mu.Lock()
	start, ok := c.sessionStarts[projectID]
	c.mu.Unlock()
	if !ok {
		return 0, nil
	}

	records, err := c.store.CostsSince(ctx, projectID, start)
	if err != nil {
		return 0, fmt.Errorf("reading session costs: %w", err)
	}
	var total float64
	for _, r := range records {
		total += r.CostUSD
	}
	return total, nil
}

// CanProceed checks whether the estimated spend of the next call fits both
// budgets. A zero budget disables that limit.
func (c *CostCache) CanProceed(ctx context.Context, projectID string, estInputTokens, estOutputTokens int, task domain.TaskKind) (*Decision, error) {
	estCost := c.estimate(estInputTokens, estOutputTokens)

	dailySpent, err := c.store.DailyCostUSD(ctx, projectID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("reading daily spend: %w", err)
	}
	sessionSpent, err := c.SessionSpentUSD(ctx, projectID)
	if err != nil {
		return nil, err
	}

	d := &Decision{
		Allowed:       true,
		DailySpentUSD: dailySpent,
		SessionSpent:  sessionSpent,
	}
	if c.DailyBudgetUSD > 0 {
		d.DailyRemaining = c.DailyBudgetUSD - dailySpent
		if dailySpent+estCost > c.DailyBudgetUSD {
			d.Allowed = false
			d.Reason = "daily_budget_exhausted"
		}
	}
	if d.Allowed && c.SessionBudgetUSD > 0 && sessionSpent+estCost > c.SessionBudgetUSD {
		d.Allowed = false
		d.Reason = "session_budget_exhausted"
	}

	if !d.Allowed {
		c.logger.Warn("budget pre-check blocked",
			"project_id", projectID,
			"task", task,
			"reason", d.Reason,
			"daily_spent_usd", dailySpent,
			"session_spent_usd", sessionSpent,
			"estimated_cost_usd", estCost)
	}
	return d, nil
}
