package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	_ "modernc.org/sqlite"

	"github.com/vampirenirmal/storyfactory/internal/domain"
)

// Gateway provides typed, transactional access to the persistent tables.
// Every mutating operation is atomic within one transaction and idempotent by
// its natural key, so at-least-once retries are safe.
type Gateway struct {
	db         *sql.DB
	path       string
	loc        *time.Location
	maxRetries int
	logger     *slog.Logger
}

// Option customises gateway construction.
type Option func(*Gateway)

// WithLocation sets the timezone used for daily aggregation (costs, caps).
func WithLocation(loc *time.Location) Option {
	return func(g *Gateway) {
		if loc != nil {
			g.loc = loc
		}
	}
}

// WithMaxRetries bounds retries of transient store errors.
func WithMaxRetries(n int) Option {
	return func(g *Gateway) {
		if n >= 0 {
			g.maxRetries = n
		}
	}
}

// WithLogger sets the gateway logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Open creates or opens the production database at path.
func Open(path string, opts ...Option) (*Gateway, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	g := &Gateway{
		db:         db,
		path:       path,
		loc:        time.UTC,
		maxRetries: 4,
		logger:     slog.Default().With("component", "store"),
	}
	for _, opt := range opts {
		opt(g)
	}

	if err := g.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return g, nil
}

// Close closes the underlying database.
func (g *Gateway) Close() error {
	return g.db.Close()
}

// Path returns the database file path.
func (g *Gateway) Path() string {
	return g.path
}

// DB exposes the underlying handle for components that manage their own
// tables, such as the semantic index.
func (g *Gateway) DB() *sql.DB {
	return g.db
}

// dayKey buckets a timestamp into the configured local calendar day.
func (g *Gateway) dayKey(t time.Time) string {
	return t.In(g.loc).Format("2006-01-02")
}

// isTransient classifies driver errors worth retrying: lock contention and
// busy timeouts. Constraint violations and logic errors are permanent.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "busy") ||
		strings.Contains(msg, "interrupted")
}

// withRetry runs op with jittered exponential backoff on transient errors.
// Exhausted or permanent failures surface as *domain.StoreError.
func (g *Gateway) withRetry(ctx context.Context, name string, op func() error) error {
	err := retry.Do(
		op,
		retry.Context(ctx),
		retry.Attempts(uint(g.maxRetries)+1),
		retry.Delay(50*time.Millisecond),
		retry.MaxJitter(40*time.Millisecond),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.RetryIf(isTransient),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			g.logger.Warn("transient store error, retrying",
				"op", name,
				"attempt", attempt+1,
				"error", err)
		}),
	)
	if err == nil {
		return nil
	}
	if domainErr := knownError(err); domainErr != nil {
		return domainErr
	}
	return &domain.StoreError{Op: name, Cause: err, Transient: isTransient(err)}
}

// knownError passes through sentinel errors raised inside transactions so
// callers can match them with errors.Is.
func knownError(err error) error {
	for _, sentinel := range []error{
		domain.ErrNotFound,
		domain.ErrChapterConflict,
		domain.ErrDuplicateChapter,
		domain.ErrNoWorkAvailable,
		domain.ErrAlreadyComplete,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return nil
}

// inTx runs fn inside one transaction, rolling back on error.
func (g *Gateway) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			g.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
