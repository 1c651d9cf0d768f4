package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/prospectia/enrichment-back/internal/domain"
	"github.com/prospectia/enrichment-back/internal/queue"
)

// Handler executes one job. A non-nil error routes the job into the store's
// retry path.
type Handler func(ctx context.Context, job *domain.Job) (json.RawMessage, error)

// LimiterConfig caps job starts across all slots of a pool: no more than Max
// starts per Window.
type LimiterConfig struct {
	Max    int
	Window time.Duration
}

type PoolConfig struct {
	Type         domain.JobType
	Concurrency  int
	Limiter      LimiterConfig
	PollInterval time.Duration
}

// Pool pulls jobs of one type under a concurrency cap and a shared rate
// limit, executes the handler, and reports the outcome back to the store.
type Pool struct {
	store   queue.Store
	handler Handler
	logger  *zap.SugaredLogger
	cfg     PoolConfig
	limiter *rate.Limiter

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewPool(store queue.Store, handler Handler, cfg PoolConfig, logger *zap.SugaredLogger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}

	var limiter *rate.Limiter
	if cfg.Limiter.Max > 0 && cfg.Limiter.Window > 0 {
		interval := cfg.Limiter.Window / time.Duration(cfg.Limiter.Max)
		limiter = rate.NewLimiter(rate.Every(interval), cfg.Limiter.Max)
	}

	return &Pool{
		store:   store,
		handler: handler,
		logger:  logger,
		cfg:     cfg,
		limiter: limiter,
	}
}

// Start fills Concurrency slots with dequeue loops. It returns immediately.
func (p *Pool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runSlot(runCtx)
		}()
	}
	p.logger.Infow("worker pool started",
		"queue", p.cfg.Type,
		"concurrency", p.cfg.Concurrency,
		"limiter_max", p.cfg.Limiter.Max,
		"limiter_window", p.cfg.Limiter.Window,
	)
}

// Shutdown stops issuing new dequeues and waits up to timeout for in-flight
// jobs. In-flight handler code is not forcibly cancelled.
func (p *Pool) Shutdown(timeout time.Duration) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("worker pool %s: shutdown timed out after %s", p.cfg.Type, timeout)
	}
}

func (p *Pool) runSlot(ctx context.Context) {
	// Pool cancellation stops the dequeue loop only. A job already claimed
	// runs to completion under jobCtx; handlers carry their own per-call
	// timeouts.
	jobCtx := context.WithoutCancel(ctx)
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.store.Dequeue(ctx, p.cfg.Type)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warnw("dequeue failed", "queue", p.cfg.Type, "error", err)
			p.sleep(ctx, 2*time.Second)
			continue
		}
		if job == nil {
			p.sleep(ctx, p.cfg.PollInterval)
			continue
		}

		// The token is taken only once a job is claimed, so idle polling
		// does not drain the limiter while the queue is empty.
		if p.limiter != nil {
			if err := p.limiter.Wait(jobCtx); err != nil {
				p.logger.Errorw("rate limiter wait", "queue", p.cfg.Type, "error", err)
			}
		}

		p.execute(jobCtx, job)
	}
}

// execute runs the handler for one job. Handler errors and panics never
// escape the slot; they flow into the store's retry path.
func (p *Pool) execute(ctx context.Context, job *domain.Job) {
	result, err := p.runHandler(ctx, job)
	// Completion reporting uses a fresh context so a shutdown between handler
	// return and the store write does not leave the job active.
	reportCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err != nil {
		p.logger.Warnw("job failed",
			"queue", p.cfg.Type,
			"job_id", job.ID,
			"attempt", job.Attempts+1,
			"error", err,
		)
		if failErr := p.store.Fail(reportCtx, job.ID, err); failErr != nil {
			p.logger.Errorw("report job failure", "job_id", job.ID, "error", failErr)
		}
		return
	}

	if completeErr := p.store.Complete(reportCtx, job.ID, result); completeErr != nil {
		p.logger.Errorw("report job completion", "job_id", job.ID, "error", completeErr)
		return
	}
	p.logger.Infow("job completed", "queue", p.cfg.Type, "job_id", job.ID)
}

func (p *Pool) runHandler(ctx context.Context, job *domain.Job) (result json.RawMessage, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler panic: %v", recovered)
		}
	}()
	return p.handler(ctx, job)
}

func (p *Pool) sleep(ctx context.Context, duration time.Duration) {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
