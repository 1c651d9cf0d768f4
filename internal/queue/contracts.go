package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prospectia/enrichment-back/internal/domain"
)

var (
	// ErrBrokerUnavailable wraps any broker transport failure. Enqueue fails
	// loudly with it rather than dropping work.
	ErrBrokerUnavailable = errors.New("job broker unavailable")

	ErrJobNotFound = errors.New("job not found")
)

// EnqueueOptions override per-job scheduling defaults.
type EnqueueOptions struct {
	// Priority overrides the type default when non-nil. Lower runs sooner.
	Priority *int
	// MaxAttempts caps retries; 0 means the store default (3).
	MaxAttempts int
	// Delay postpones the first execution.
	Delay time.Duration
	// BaseDelay seeds the exponential backoff between attempts.
	BaseDelay time.Duration
	// DedupeKey suppresses a second enqueue while an identical job is still
	// in flight. The existing job id is returned instead.
	DedupeKey string
	// DedupeTTL bounds how long the dedupe guard lives. Zero means 10m.
	DedupeTTL time.Duration
}

// Store is the durable priority queue per job type. It exclusively owns job
// lifecycle state and scheduling metadata.
type Store interface {
	Enqueue(ctx context.Context, jobType domain.JobType, payload json.RawMessage, opts EnqueueOptions) (string, error)
	EnqueueBatch(ctx context.Context, jobType domain.JobType, payloads []json.RawMessage, opts EnqueueOptions) ([]string, error)
	// Dequeue returns the highest-priority eligible job or nil when the queue
	// is empty. The returned job is in the active state.
	Dequeue(ctx context.Context, jobType domain.JobType) (*domain.Job, error)
	Complete(ctx context.Context, jobID string, result json.RawMessage) error
	Fail(ctx context.Context, jobID string, jobErr error) error
	Stats(ctx context.Context, jobType domain.JobType) (domain.QueueStats, error)
	// ListFailed returns retained failed jobs, newest first, for inspection.
	ListFailed(ctx context.Context, jobType domain.JobType, limit int) ([]*domain.Job, error)
}

type terminalError struct{ err error }

func (e *terminalError) Error() string { return e.err.Error() }

func (e *terminalError) Unwrap() error { return e.err }

// Terminal marks an error as non-retryable: Fail moves the job straight to
// the failed state without consuming the remaining attempts.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

func IsTerminal(err error) bool {
	var terminal *terminalError
	return errors.As(err, &terminal)
}

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 2 * time.Second
	defaultDedupeTTL   = 10 * time.Minute

	completedRetainCount = 100
	completedRetainAge   = time.Hour
	failedRetainCount    = 50
)

func normalizeOptions(jobType domain.JobType, opts EnqueueOptions) EnqueueOptions {
	if opts.Priority == nil {
		priority := domain.DefaultPriority(jobType)
		opts.Priority = &priority
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = defaultDedupeTTL
	}
	return opts
}

// orderScore packs priority and enqueue order into one sortable score:
// priority ordering first, FIFO tie-breaking second.
func orderScore(priority int, seq uint64) float64 {
	if priority < 0 {
		priority = 0
	}
	return float64(priority)*float64(1<<40) + float64(seq)
}
