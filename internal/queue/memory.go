package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prospectia/enrichment-back/internal/domain"
)

// MemoryStore mirrors RedisStore semantics in process memory. It backs local
// development and tests when no broker is configured.
type MemoryStore struct {
	mu     sync.Mutex
	jobs   map[string]*domain.Job
	dedupe map[string]dedupeEntry
	seq    uint64
	now    func() time.Time
}

type dedupeEntry struct {
	jobID     string
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[string]*domain.Job),
		dedupe: make(map[string]dedupeEntry),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Enqueue(
	_ context.Context,
	jobType domain.JobType,
	payload json.RawMessage,
	opts EnqueueOptions,
) (string, error) {
	opts = normalizeOptions(jobType, opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.DedupeKey != "" {
		if entry, ok := s.dedupe[opts.DedupeKey]; ok && s.now().Before(entry.expiresAt) {
			return entry.jobID, nil
		}
	}

	job := s.buildJobLocked(jobType, payload, opts)
	s.jobs[job.ID] = job
	if opts.DedupeKey != "" {
		s.dedupe[opts.DedupeKey] = dedupeEntry{jobID: job.ID, expiresAt: s.now().Add(opts.DedupeTTL)}
	}
	return job.ID, nil
}

func (s *MemoryStore) EnqueueBatch(
	ctx context.Context,
	jobType domain.JobType,
	payloads []json.RawMessage,
	opts EnqueueOptions,
) ([]string, error) {
	ids := make([]string, 0, len(payloads))
	opts.DedupeKey = ""
	for _, payload := range payloads {
		jobID, err := s.Enqueue(ctx, jobType, payload, opts)
		if err != nil {
			return nil, err
		}
		ids = append(ids, jobID)
	}
	return ids, nil
}

func (s *MemoryStore) buildJobLocked(
	jobType domain.JobType,
	payload json.RawMessage,
	opts EnqueueOptions,
) *domain.Job {
	s.seq++
	now := s.now()
	job := &domain.Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Payload:     append(json.RawMessage(nil), payload...),
		Priority:    *opts.Priority,
		Seq:         s.seq,
		MaxAttempts: opts.MaxAttempts,
		Backoff:     domain.BackoffPolicy{Type: "exponential", BaseDelay: opts.BaseDelay},
		State:       domain.JobStateWaiting,
		EnqueuedAt:  now,
		ReadyAt:     now,
		UpdatedAt:   now,
	}
	if opts.Delay > 0 {
		job.State = domain.JobStateDelayed
		job.ReadyAt = now.Add(opts.Delay)
	}
	return job
}

func (s *MemoryStore) Dequeue(_ context.Context, jobType domain.JobType) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var candidate *domain.Job
	for _, job := range s.jobs {
		if job.Type != jobType {
			continue
		}
		if job.State == domain.JobStateDelayed && !job.ReadyAt.After(now) {
			job.State = domain.JobStateWaiting
			job.UpdatedAt = now
		}
		if job.State != domain.JobStateWaiting {
			continue
		}
		if candidate == nil || orderScore(job.Priority, job.Seq) < orderScore(candidate.Priority, candidate.Seq) {
			candidate = job
		}
	}
	if candidate == nil {
		return nil, nil
	}

	candidate.State = domain.JobStateActive
	candidate.UpdatedAt = now
	return cloneJob(candidate), nil
}

func (s *MemoryStore) Complete(_ context.Context, jobID string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	job.State = domain.JobStateCompleted
	job.Result = append(json.RawMessage(nil), result...)
	job.LastError = ""
	job.UpdatedAt = s.now()
	s.trimLocked(job.Type)
	return nil
}

func (s *MemoryStore) Fail(_ context.Context, jobID string, jobErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	now := s.now()
	job.LastError = jobErr.Error()
	job.UpdatedAt = now

	if job.Attempts < job.MaxAttempts-1 && !IsTerminal(jobErr) {
		delay := job.NextBackoffDelay()
		job.Attempts++
		job.State = domain.JobStateDelayed
		job.ReadyAt = now.Add(delay)
		return nil
	}

	job.Attempts++
	job.State = domain.JobStateFailed
	s.trimLocked(job.Type)
	return nil
}

func (s *MemoryStore) Stats(_ context.Context, jobType domain.JobType) (domain.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := domain.QueueStats{}
	for _, job := range s.jobs {
		if job.Type != jobType {
			continue
		}
		switch job.State {
		case domain.JobStateWaiting:
			stats.Waiting++
		case domain.JobStateActive:
			stats.Active++
		case domain.JobStateCompleted:
			stats.Completed++
		case domain.JobStateFailed:
			stats.Failed++
		case domain.JobStateDelayed:
			stats.Delayed++
		}
	}
	stats.Total = stats.Waiting + stats.Active + stats.Completed + stats.Failed + stats.Delayed
	return stats, nil
}

func (s *MemoryStore) ListFailed(_ context.Context, jobType domain.JobType, limit int) ([]*domain.Job, error) {
	if limit <= 0 || limit > failedRetainCount {
		limit = failedRetainCount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	failed := make([]*domain.Job, 0)
	for _, job := range s.jobs {
		if job.Type == jobType && job.State == domain.JobStateFailed {
			failed = append(failed, cloneJob(job))
		}
	}
	sort.Slice(failed, func(i, j int) bool {
		return failed[i].UpdatedAt.After(failed[j].UpdatedAt)
	})
	if len(failed) > limit {
		failed = failed[:limit]
	}
	return failed, nil
}

// GetJob exposes job state for assertions in tests and local tooling.
func (s *MemoryStore) GetJob(jobID string) (*domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

func (s *MemoryStore) trimLocked(jobType domain.JobType) {
	cutoff := s.now().Add(-completedRetainAge)

	completed := make([]*domain.Job, 0)
	failed := make([]*domain.Job, 0)
	for _, job := range s.jobs {
		if job.Type != jobType {
			continue
		}
		switch job.State {
		case domain.JobStateCompleted:
			if job.UpdatedAt.Before(cutoff) {
				delete(s.jobs, job.ID)
				continue
			}
			completed = append(completed, job)
		case domain.JobStateFailed:
			failed = append(failed, job)
		}
	}

	dropOldest(s.jobs, completed, completedRetainCount)
	dropOldest(s.jobs, failed, failedRetainCount)
}

func dropOldest(jobs map[string]*domain.Job, retained []*domain.Job, keep int) {
	if len(retained) <= keep {
		return
	}
	sort.Slice(retained, func(i, j int) bool {
		return retained[i].UpdatedAt.Before(retained[j].UpdatedAt)
	})
	for _, job := range retained[:len(retained)-keep] {
		delete(jobs, job.ID)
	}
}

func cloneJob(job *domain.Job) *domain.Job {
	clone := *job
	clone.Payload = append(json.RawMessage(nil), job.Payload...)
	clone.Result = append(json.RawMessage(nil), job.Result...)
	return &clone
}
