// Package publisher releases due chapters on a timer tick.
package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/vampirenirmal/storyfactory/internal/store"
)

// Publisher drains the publish queue. Publishing is idempotent: a chapter
// that is already published is promoted as a no-op, and failed items retry
// later with exponential backoff.
type Publisher struct {
	store      *store.Gateway
	batchLimit int
	backoff    time.Duration
	maxRetries int
	logger     *slog.Logger
}

type Option func(*Publisher)

func WithBatchLimit(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.batchLimit = n
		}
	}
}

func WithBackoff(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.backoff = d
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.maxRetries = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func New(st *store.Gateway, opts ...Option) *Publisher {
	p := &Publisher{
		store:      st,
		batchLimit: 20,
		backoff:    5 * time.Minute,
		maxRetries: 5,
		logger:     slog.Default().With("component", "publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Tick claims every due publish item and publishes it. It returns the number
// of chapters published this tick. Per-item failures are recorded for retry
// and never abort the batch.
func (p *Publisher) Tick(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	items, err := p.store.ClaimDuePublishes(ctx, now, p.batchLimit)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, item := range items {
		if err := p.store.MarkPublished(ctx, item.ChapterID, now); err != nil {
			p.logger.Error("publishing chapter failed",
				"chapter_id", item.ChapterID,
				"retries", item.Retries,
				"error", err)
			if ferr := p.store.MarkPublishFailed(ctx, item.ChapterID, err.Error(), p.backoff, p.maxRetries); ferr != nil {
				p.logger.Error("recording publish failure failed",
					"chapter_id", item.ChapterID, "error", ferr)
			}
			continue
		}
		published++
		p.logger.Info("chapter published", "chapter_id", item.ChapterID)
	}

	if len(items) > 0 {
		p.logger.Info("publish tick finished", "claimed", len(items), "published", published)
	}
	return published, nil
}

// Run ticks on the given interval until the context is cancelled.
func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Tick(ctx); err != nil {
				p.logger.Error("publish tick failed", "error", err)
			}
		}
	}
}
