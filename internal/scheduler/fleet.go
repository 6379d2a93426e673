package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vampirenirmal/storyfactory/internal/domain"
)

// fleet is the cross-project orchestration state: a bounded worker pool over
// the durable write queue.
type fleet struct {
	maxWorkers int
	lease      time.Duration
	dailyCap   int
	sem        *semaphore.Weighted
	seq        atomic.Int64
}

func newFleet(maxWorkers int, lease time.Duration, dailyCap int) *fleet {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	if lease <= 0 {
		lease = 15 * time.Minute
	}
	if dailyCap <= 0 {
		dailyCap = 3
	}
	return &fleet{
		maxWorkers: maxWorkers,
		lease:      lease,
		dailyCap:   dailyCap,
		sem:        semaphore.NewWeighted(int64(maxWorkers)),
	}
}

func (f *fleet) workerName() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", host, f.seq.Add(1))
}

// TickScheduler claims due work items and dispatches them onto the bounded
// pool. It returns the number of items dispatched this tick. Claims are
// non-blocking: when the pool is full or the queue is empty the tick simply
// ends, the next tick picks up the rest.
func (s *Scheduler) TickScheduler(ctx context.Context) (int, error) {
	fc, err := s.store.GetFactoryConfig(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading factory config: %w", err)
	}
	if !fc.IsRunning {
		return 0, domain.ErrFactoryStopped
	}

	dailyCap := s.fleet.dailyCap
	if fc.ChaptersPerProjectPerDay > 0 {
		dailyCap = fc.ChaptersPerProjectPerDay
	}

	dispatched := 0
	for {
		if !s.fleet.sem.TryAcquire(1) {
			break
		}

		worker := s.fleet.workerName()
		item, err := s.store.ClaimWriteItem(ctx, worker, s.fleet.lease, dailyCap)
		if err != nil {
			s.fleet.sem.Release(1)
			if errors.Is(err, domain.ErrNoWorkAvailable) {
				break
			}
			return dispatched, fmt.Errorf("claiming work item: %w", err)
		}

		dispatched++
		go s.runClaimed(ctx, item)
	}
	return dispatched, nil
}

// runClaimed produces the claimed chapter and settles the queue entry.
func (s *Scheduler) runClaimed(ctx context.Context, item *domain.WorkItem) {
	defer s.fleet.sem.Release(1)

	log := s.logger.With("project_id", item.ProjectID, "chapter", item.ChapterNumber)
	res := s.worker.ProduceChapter(ctx, item.ProjectID, item.ChapterNumber)

	switch {
	case res.Success:
		if err := s.store.CompleteWriteItem(ctx, item.ProjectID, item.ChapterNumber); err != nil {
			log.Error("completing work item failed", "error", err)
		}
	case res.Err != nil:
		retryable := domain.IsRetryable(res.Err) || errors.Is(res.Err, domain.ErrBudgetExhausted)
		if err := s.store.FailWriteItem(ctx, item.ProjectID, item.ChapterNumber, res.Err.Error(), retryable); err != nil {
			log.Error("failing work item failed", "error", err)
		}
		log.Warn("claimed chapter failed", "retryable", retryable, "error", res.Err)
	default:
		// Human review: the draft is saved without advancing, so the item
		// stays settled and a human decides what happens next.
		if err := s.store.CompleteWriteItem(ctx, item.ProjectID, item.ChapterNumber); err != nil {
			log.Error("completing work item failed", "error", err)
		}
		log.Info("claimed chapter needs human review")
	}
}

// slotHours maps slots to their local start hour.
var slotHours = map[domain.Slot]int{
	domain.SlotMorning:   8,
	domain.SlotAfternoon: 14,
	domain.SlotEvening:   20,
}

var slotOrder = []domain.Slot{domain.SlotMorning, domain.SlotAfternoon, domain.SlotEvening}

// PlanDailyBatch enqueues the project's daily chapter batch, spread across
// morning, afternoon, and evening slots with random minute offsets to smooth
// load. Already queued chapters are untouched; the enqueue is idempotent per
// (project, chapter).
func (s *Scheduler) PlanDailyBatch(ctx context.Context, projectID string, day time.Time, loc *time.Location) ([]domain.WorkItem, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	if project.Status != domain.ProjectActive {
		return nil, nil
	}

	count := s.fleet.dailyCap
	if remaining := project.Remaining(); remaining < count {
		count = remaining
	}
	if count <= 0 {
		return nil, nil
	}
	if loc == nil {
		loc = time.UTC
	}

	localDay := day.In(loc)
	var items []domain.WorkItem
	for i := 0; i < count; i++ {
		slot := slotOrder[i%len(slotOrder)]
		at := time.Date(localDay.Year(), localDay.Month(), localDay.Day(),
			slotHours[slot], rand.Intn(60), 0, 0, loc)

		item := domain.WorkItem{
			ProjectID:     projectID,
			ChapterNumber: project.CurrentChapter + 1 + i,
			Status:        domain.WorkPending,
			ScheduledAt:   at.UTC(),
			Slot:          slot,
		}
		if err := s.store.EnqueueWrite(ctx, &item); err != nil {
			return items, fmt.Errorf("enqueueing chapter %d: %w", item.ChapterNumber, err)
		}
		items = append(items, item)
	}

	s.logger.Info("daily batch planned",
		"project_id", projectID,
		"chapters", count,
		"first_chapter", project.CurrentChapter+1)
	return items, nil
}

// PlanAllDailyBatches plans today's batch for every active project, up to the
// factory's active-project limit.
func (s *Scheduler) PlanAllDailyBatches(ctx context.Context, day time.Time, loc *time.Location) (int, error) {
	fc, err := s.store.GetFactoryConfig(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading factory config: %w", err)
	}

	limit := fc.MaxActiveProjects
	if limit <= 0 {
		limit = 50
	}
	projects, err := s.store.ListActiveProjects(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("listing active projects: %w", err)
	}

	planned := 0
	for _, p := range projects {
		items, err := s.PlanDailyBatch(ctx, p.ID, day, loc)
		if err != nil {
			s.logger.Error("planning daily batch failed", "project_id", p.ID, "error", err)
			continue
		}
		planned += len(items)
	}
	return planned, nil
}
