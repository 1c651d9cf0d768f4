package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/prospectia/enrichment-back/internal/ai"
	"github.com/prospectia/enrichment-back/internal/domain"
	"github.com/prospectia/enrichment-back/internal/queue"
)

// Admin exposes the operational surface: provider mode switching,
// connectivity probes, and queue introspection.
type Admin struct {
	store  queue.Store
	router *ai.Router
	logger *zap.SugaredLogger
}

func NewAdmin(store queue.Store, router *ai.Router, logger *zap.SugaredLogger) *Admin {
	return &Admin{store: store, router: router, logger: logger}
}

// SetProviderMode switches the backend for all subsequent requests. The new
// mode takes effect without a restart.
func (a *Admin) SetProviderMode(ctx context.Context, mode string, gateway *ai.GatewaySettings) error {
	parsed, err := ai.ParseMode(mode)
	if err != nil {
		return err
	}
	return a.router.SetMode(ctx, parsed, gateway)
}

// TestProviders probes every configured backend and reports per-backend
// status without mutating anything.
func (a *Admin) TestProviders(ctx context.Context) ai.TestReport {
	return a.router.TestAll(ctx)
}

// RefinePrompt rewrites an operator-authored prompt through the active
// backend.
func (a *Admin) RefinePrompt(ctx context.Context, rawPrompt string) (string, error) {
	refined, err := a.router.RefinePrompt(ctx, rawPrompt)
	if err != nil {
		return "", fmt.Errorf("refine prompt: %w", err)
	}
	return refined, nil
}

// QueueStats returns per-state depths for one queue.
func (a *Admin) QueueStats(ctx context.Context, queueName string) (domain.QueueStats, error) {
	jobType, err := parseJobType(queueName)
	if err != nil {
		return domain.QueueStats{}, err
	}
	return a.store.Stats(ctx, jobType)
}

// ListFailed returns retained failed jobs for one queue, newest first.
func (a *Admin) ListFailed(ctx context.Context, queueName string, limit int) ([]*domain.Job, error) {
	jobType, err := parseJobType(queueName)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	return a.store.ListFailed(ctx, jobType, limit)
}

func parseJobType(name string) (domain.JobType, error) {
	switch domain.JobType(name) {
	case domain.JobTypeAnalysis, domain.JobTypeDemo, domain.JobTypeBatch:
		return domain.JobType(name), nil
	default:
		return "", fmt.Errorf("unknown queue %q", name)
	}
}
