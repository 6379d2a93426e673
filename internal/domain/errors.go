package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Core Error Types
// =============================================================================

// StoreError represents a persistence failure. Transient store errors are
// retried with backoff by the gateway; permanent ones surface to the caller
// untouched.
type StoreError struct {
	Op        string
	Cause     error
	Transient bool
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Cause)
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

// WriterErrorKind classifies chapter-writer failures.
type WriterErrorKind string

const (
	WriterEmpty     WriterErrorKind = "empty"
	WriterTruncated WriterErrorKind = "truncated"
	WriterUpstream  WriterErrorKind = "upstream"
	WriterTimeout   WriterErrorKind = "timeout"
)

// WriterError represents a chapter generation failure. Upstream and timeout
// kinds are retryable; empty and truncated are content failures routed to the
// rewrite loop instead.
type WriterError struct {
	Kind    WriterErrorKind
	Chapter int
	Cause   error
}

func (e *WriterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("writer failed on chapter %d (%s): %v", e.Chapter, e.Kind, e.Cause)
	}
	return fmt.Sprintf("writer failed on chapter %d (%s)", e.Chapter, e.Kind)
}

func (e *WriterError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether retrying the same call can plausibly succeed.
func (e *WriterError) IsRetryable() bool {
	return e.Kind == WriterUpstream || e.Kind == WriterTimeout
}

// =============================================================================
// Predefined Error Values
// =============================================================================

var (
	ErrNotFound         = errors.New("not found")
	ErrBudgetExhausted  = errors.New("budget exhausted")
	ErrAlreadyComplete  = errors.New("project already complete")
	ErrChapterConflict  = errors.New("chapter already advanced")
	ErrChapterBehind    = errors.New("chapter cursor behind target")
	ErrDuplicateChapter = errors.New("duplicate chapter number")
	ErrNoWorkAvailable  = errors.New("no claimable work item")
	ErrSessionNotFound  = errors.New("no active session for project")
	ErrFactoryStopped   = errors.New("factory is not running")
	ErrDailyCapReached  = errors.New("daily chapter cap reached")
)

// =============================================================================
// Error Classification
// =============================================================================

// IsRetryable determines whether an error is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Transient
	}

	var writerErr *WriterError
	if errors.As(err, &writerErr) {
		return writerErr.IsRetryable()
	}

	return false
}

// IsTerminal determines whether an error ends the current run outright.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrBudgetExhausted) ||
		errors.Is(err, ErrAlreadyComplete) ||
		errors.Is(err, ErrFactoryStopped)
}

// IsBenignConflict reports whether the error is the expected outcome of two
// workers racing on the same chapter number. The loser logs and moves on.
// A cursor that never reached the predecessor chapter is ErrChapterBehind
// and is never benign: the chapter was produced out of order and its content
// would be silently lost.
func IsBenignConflict(err error) bool {
	return errors.Is(err, ErrChapterConflict) || errors.Is(err, ErrDuplicateChapter)
}
