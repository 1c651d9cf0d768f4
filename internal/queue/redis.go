package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/prospectia/enrichment-back/internal/domain"
)

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string

	// LockTimeout is how long an active claim may go unreported before the
	// job is considered abandoned and requeued. Must exceed the slowest
	// handler's worst case. Default 5m.
	LockTimeout time.Duration
}

const defaultLockTimeout = 5 * time.Minute

// RedisStore is the durable Store implementation backed by a single logical
// Redis broker. Waiting, delayed, and active jobs live in sorted sets so
// priority order, ready-time promotion, and stale-claim reclaim are all
// range queries.
type RedisStore struct {
	client      *redis.Client
	prefix      string
	logger      *zap.SugaredLogger
	lockTimeout time.Duration
	now         func() time.Time
}

func NewRedisStore(ctx context.Context, cfg RedisConfig, logger *zap.SugaredLogger) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "enrich"
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaultLockTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, brokerErr("ping redis", err)
	}

	return &RedisStore{
		client:      client,
		prefix:      cfg.KeyPrefix,
		logger:      logger,
		lockTimeout: cfg.LockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) queueKey(jobType domain.JobType, part string) string {
	return s.prefix + ":" + string(jobType) + ":" + part
}

func (s *RedisStore) jobKey(jobID string) string {
	return s.prefix + ":job:" + jobID
}

func (s *RedisStore) Enqueue(
	ctx context.Context,
	jobType domain.JobType,
	payload json.RawMessage,
	opts EnqueueOptions,
) (string, error) {
	opts = normalizeOptions(jobType, opts)

	jobID := uuid.NewString()
	if opts.DedupeKey != "" {
		dedupeKey := s.prefix + ":dedupe:" + opts.DedupeKey
		set, err := s.client.SetNX(ctx, dedupeKey, jobID, opts.DedupeTTL).Result()
		if err != nil {
			return "", brokerErr("dedupe setnx", err)
		}
		if !set {
			existing, err := s.client.Get(ctx, dedupeKey).Result()
			if err == nil && existing != "" {
				return existing, nil
			}
		}
	}

	seq, err := s.client.Incr(ctx, s.prefix+":seq").Result()
	if err != nil {
		return "", brokerErr("allocate sequence", err)
	}

	job := s.buildJob(jobID, jobType, payload, opts, uint64(seq))
	if err := s.saveJob(ctx, job); err != nil {
		return "", err
	}

	if err := s.schedule(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

func (s *RedisStore) EnqueueBatch(
	ctx context.Context,
	jobType domain.JobType,
	payloads []json.RawMessage,
	opts EnqueueOptions,
) ([]string, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	opts = normalizeOptions(jobType, opts)
	opts.DedupeKey = ""

	seqEnd, err := s.client.IncrBy(ctx, s.prefix+":seq", int64(len(payloads))).Result()
	if err != nil {
		return nil, brokerErr("allocate sequence range", err)
	}
	seqStart := uint64(seqEnd) - uint64(len(payloads)) + 1

	ids := make([]string, 0, len(payloads))
	pipeline := s.client.Pipeline()
	for index, payload := range payloads {
		job := s.buildJob(uuid.NewString(), jobType, payload, opts, seqStart+uint64(index))
		encoded, err := json.Marshal(job)
		if err != nil {
			return nil, fmt.Errorf("encode job: %w", err)
		}
		pipeline.Set(ctx, s.jobKey(job.ID), encoded, 0)
		if job.State == domain.JobStateDelayed {
			pipeline.ZAdd(ctx, s.queueKey(jobType, "delayed"), redis.Z{
				Score:  float64(job.ReadyAt.UnixMilli()),
				Member: job.ID,
			})
		} else {
			pipeline.ZAdd(ctx, s.queueKey(jobType, "waiting"), redis.Z{
				Score:  orderScore(job.Priority, job.Seq),
				Member: job.ID,
			})
		}
		ids = append(ids, job.ID)
	}
	if _, err := pipeline.Exec(ctx); err != nil {
		return nil, brokerErr("enqueue batch", err)
	}
	return ids, nil
}

func (s *RedisStore) buildJob(
	jobID string,
	jobType domain.JobType,
	payload json.RawMessage,
	opts EnqueueOptions,
	seq uint64,
) *domain.Job {
	now := s.now()
	job := &domain.Job{
		ID:          jobID,
		Type:        jobType,
		Payload:     payload,
		Priority:    *opts.Priority,
		Seq:         seq,
		Attempts:    0,
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

func (s *RedisStore) schedule(ctx context.Context, job *domain.Job) error {
	if job.State == domain.JobStateDelayed {
		err := s.client.ZAdd(ctx, s.queueKey(job.Type, "delayed"), redis.Z{
			Score:  float64(job.ReadyAt.UnixMilli()),
			Member: job.ID,
		}).Err()
		if err != nil {
			return brokerErr("schedule delayed", err)
		}
		return nil
	}
	err := s.client.ZAdd(ctx, s.queueKey(job.Type, "waiting"), redis.Z{
		Score:  orderScore(job.Priority, job.Seq),
		Member: job.ID,
	}).Err()
	if err != nil {
		return brokerErr("schedule waiting", err)
	}
	return nil
}

func (s *RedisStore) Dequeue(ctx context.Context, jobType domain.JobType) (*domain.Job, error) {
	if err := s.reclaimStale(ctx, jobType); err != nil && s.logger != nil {
		s.logger.Warnw("reclaim stale active jobs failed", "queue", jobType, "error", err)
	}
	if err := s.promoteDue(ctx, jobType); err != nil && s.logger != nil {
		s.logger.Warnw("promote delayed jobs failed", "queue", jobType, "error", err)
	}

	popped, err := s.client.ZPopMin(ctx, s.queueKey(jobType, "waiting"), 1).Result()
	if err != nil {
		return nil, brokerErr("zpopmin waiting", err)
	}
	if len(popped) == 0 {
		return nil, nil
	}
	jobID, _ := popped[0].Member.(string)

	// Claim before touching the job body. If anything below fails the claim
	// stays on the active set and the stale sweep requeues it after the lock
	// timeout, so the pop cannot orphan the job.
	claim := redis.Z{Score: float64(s.now().UnixMilli()), Member: jobID}
	if err := s.client.ZAdd(ctx, s.queueKey(jobType, "active"), claim).Err(); err != nil {
		_ = s.client.ZAdd(ctx, s.queueKey(jobType, "waiting"), popped[0]).Err()
		return nil, brokerErr("claim active", err)
	}

	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			_ = s.client.ZRem(ctx, s.queueKey(jobType, "active"), jobID).Err()
			return nil, nil
		}
		return nil, err
	}

	job.State = domain.JobStateActive
	job.UpdatedAt = s.now()
	if err := s.saveJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// reclaimStale requeues jobs whose active claim outlived the lock timeout.
// A worker that died mid-job never reports back; the claim expiring is the
// only signal the job needs another run.
func (s *RedisStore) reclaimStale(ctx context.Context, jobType domain.JobType) error {
	cutoff := strconv.FormatInt(s.now().Add(-s.lockTimeout).UnixMilli(), 10)
	stale, err := s.client.ZRangeByScore(ctx, s.queueKey(jobType, "active"), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   cutoff,
		Count: 200,
	}).Result()
	if err != nil {
		return brokerErr("range stale active", err)
	}

	for _, jobID := range stale {
		job, err := s.loadJob(ctx, jobID)
		if err != nil {
			if errors.Is(err, ErrJobNotFound) {
				_ = s.client.ZRem(ctx, s.queueKey(jobType, "active"), jobID).Err()
				continue
			}
			return err
		}
		job.State = domain.JobStateWaiting
		job.UpdatedAt = s.now()
		if err := s.saveJob(ctx, job); err != nil {
			return err
		}
		pipeline := s.client.TxPipeline()
		pipeline.ZRem(ctx, s.queueKey(jobType, "active"), jobID)
		pipeline.ZAdd(ctx, s.queueKey(jobType, "waiting"), redis.Z{
			Score:  orderScore(job.Priority, job.Seq),
			Member: jobID,
		})
		if _, err := pipeline.Exec(ctx); err != nil {
			return brokerErr("requeue stale active", err)
		}
		if s.logger != nil {
			s.logger.Warnw("requeued stale active job", "queue", jobType, "job_id", jobID)
		}
	}
	return nil
}

// promoteDue moves delayed jobs whose ready time elapsed back onto the
// waiting set under their original priority score.
func (s *RedisStore) promoteDue(ctx context.Context, jobType domain.JobType) error {
	due, err := s.client.ZRangeByScore(ctx, s.queueKey(jobType, "delayed"), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(s.now().UnixMilli(), 10),
		Count: 200,
	}).Result()
	if err != nil {
		return brokerErr("range delayed", err)
	}
	if len(due) == 0 {
		return nil
	}

	for _, jobID := range due {
		job, err := s.loadJob(ctx, jobID)
		if err != nil {
			if errors.Is(err, ErrJobNotFound) {
				_ = s.client.ZRem(ctx, s.queueKey(jobType, "delayed"), jobID).Err()
				continue
			}
			return err
		}
		job.State = domain.JobStateWaiting
		job.UpdatedAt = s.now()
		if err := s.saveJob(ctx, job); err != nil {
			return err
		}
		pipeline := s.client.TxPipeline()
		pipeline.ZRem(ctx, s.queueKey(jobType, "delayed"), jobID)
		pipeline.ZAdd(ctx, s.queueKey(jobType, "waiting"), redis.Z{
			Score:  orderScore(job.Priority, job.Seq),
			Member: jobID,
		})
		if _, err := pipeline.Exec(ctx); err != nil {
			return brokerErr("promote delayed", err)
		}
	}
	return nil
}

func (s *RedisStore) Complete(ctx context.Context, jobID string, result json.RawMessage) error {
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return err
	}

	now := s.now()
	job.State = domain.JobStateCompleted
	job.Result = result
	job.LastError = ""
	job.UpdatedAt = now
	if err := s.saveJob(ctx, job); err != nil {
		return err
	}

	pipeline := s.client.TxPipeline()
	pipeline.ZRem(ctx, s.queueKey(job.Type, "active"), jobID)
	pipeline.ZAdd(ctx, s.queueKey(job.Type, "completed"), redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: jobID,
	})
	if _, err := pipeline.Exec(ctx); err != nil {
		return brokerErr("mark completed", err)
	}

	return s.trimCompleted(ctx, job.Type)
}

func (s *RedisStore) Fail(ctx context.Context, jobID string, jobErr error) error {
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return err
	}

	now := s.now()
	job.LastError = jobErr.Error()
	job.UpdatedAt = now

	if job.Attempts < job.MaxAttempts-1 && !IsTerminal(jobErr) {
		delay := job.NextBackoffDelay()
		job.Attempts++
		job.State = domain.JobStateDelayed
		job.ReadyAt = now.Add(delay)
		if err := s.saveJob(ctx, job); err != nil {
			return err
		}
		pipeline := s.client.TxPipeline()
		pipeline.ZRem(ctx, s.queueKey(job.Type, "active"), jobID)
		pipeline.ZAdd(ctx, s.queueKey(job.Type, "delayed"), redis.Z{
			Score:  float64(job.ReadyAt.UnixMilli()),
			Member: jobID,
		})
		if _, err := pipeline.Exec(ctx); err != nil {
			return brokerErr("reschedule delayed", err)
		}
		return nil
	}

	job.Attempts++
	job.State = domain.JobStateFailed
	if err := s.saveJob(ctx, job); err != nil {
		return err
	}
	pipeline := s.client.TxPipeline()
	pipeline.ZRem(ctx, s.queueKey(job.Type, "active"), jobID)
	pipeline.ZAdd(ctx, s.queueKey(job.Type, "failed"), redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: jobID,
	})
	if _, err := pipeline.Exec(ctx); err != nil {
		return brokerErr("mark failed", err)
	}
	return s.trimFailed(ctx, job.Type)
}

func (s *RedisStore) Stats(ctx context.Context, jobType domain.JobType) (domain.QueueStats, error) {
	pipeline := s.client.Pipeline()
	waiting := pipeline.ZCard(ctx, s.queueKey(jobType, "waiting"))
	active := pipeline.ZCard(ctx, s.queueKey(jobType, "active"))
	completed := pipeline.ZCard(ctx, s.queueKey(jobType, "completed"))
	failed := pipeline.ZCard(ctx, s.queueKey(jobType, "failed"))
	delayed := pipeline.ZCard(ctx, s.queueKey(jobType, "delayed"))
	if _, err := pipeline.Exec(ctx); err != nil {
		return domain.QueueStats{}, brokerErr("queue stats", err)
	}

	stats := domain.QueueStats{
		Waiting:   int(waiting.Val()),
		Active:    int(active.Val()),
		Completed: int(completed.Val()),
		Failed:    int(failed.Val()),
		Delayed:   int(delayed.Val()),
	}
	stats.Total = stats.Waiting + stats.Active + stats.Completed + stats.Failed + stats.Delayed
	return stats, nil
}

func (s *RedisStore) ListFailed(ctx context.Context, jobType domain.JobType, limit int) ([]*domain.Job, error) {
	if limit <= 0 || limit > failedRetainCount {
		limit = failedRetainCount
	}
	ids, err := s.client.ZRevRange(ctx, s.queueKey(jobType, "failed"), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, brokerErr("list failed", err)
	}

	jobs := make([]*domain.Job, 0, len(ids))
	for _, jobID := range ids {
		job, err := s.loadJob(ctx, jobID)
		if err != nil {
			if errors.Is(err, ErrJobNotFound) {
				continue
			}
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// trimCompleted keeps the most recent completedRetainCount jobs and drops
// anything older than completedRetainAge, whichever expires first.
func (s *RedisStore) trimCompleted(ctx context.Context, jobType domain.JobType) error {
	key := s.queueKey(jobType, "completed")
	cutoff := strconv.FormatInt(s.now().Add(-completedRetainAge).UnixMilli(), 10)

	expired, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
	if err != nil {
		return brokerErr("range expired completed", err)
	}
	if err := s.dropRetained(ctx, key, expired); err != nil {
		return err
	}

	count, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return brokerErr("count completed", err)
	}
	if count <= completedRetainCount {
		return nil
	}
	overflow, err := s.client.ZRange(ctx, key, 0, count-completedRetainCount-1).Result()
	if err != nil {
		return brokerErr("range overflow completed", err)
	}
	return s.dropRetained(ctx, key, overflow)
}

func (s *RedisStore) trimFailed(ctx context.Context, jobType domain.JobType) error {
	key := s.queueKey(jobType, "failed")
	count, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return brokerErr("count failed", err)
	}
	if count <= failedRetainCount {
		return nil
	}
	overflow, err := s.client.ZRange(ctx, key, 0, count-failedRetainCount-1).Result()
	if err != nil {
		return brokerErr("range overflow failed", err)
	}
	return s.dropRetained(ctx, key, overflow)
}

func (s *RedisStore) dropRetained(ctx context.Context, key string, jobIDs []string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	pipeline := s.client.TxPipeline()
	for _, jobID := range jobIDs {
		pipeline.ZRem(ctx, key, jobID)
		pipeline.Del(ctx, s.jobKey(jobID))
	}
	if _, err := pipeline.Exec(ctx); err != nil {
		return brokerErr("drop retained jobs", err)
	}
	return nil
}

func (s *RedisStore) loadJob(ctx context.Context, jobID string) (*domain.Job, error) {
	raw, err := s.client.Get(ctx, s.jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, brokerErr("load job", err)
	}
	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return &job, nil
}

func (s *RedisStore) saveJob(ctx context.Context, job *domain.Job) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	if err := s.client.Set(ctx, s.jobKey(job.ID), encoded, 0).Err(); err != nil {
		return brokerErr("save job", err)
	}
	return nil
}

func brokerErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrBrokerUnavailable, op, err)
}
