package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prospectia/enrichment-back/internal/ai"
	"github.com/prospectia/enrichment-back/internal/cache"
	"github.com/prospectia/enrichment-back/internal/domain"
	"github.com/prospectia/enrichment-back/internal/prompt"
	"github.com/prospectia/enrichment-back/internal/queue"
	"github.com/prospectia/enrichment-back/internal/repository"
	"github.com/prospectia/enrichment-back/internal/secrets"
)

const analysisResponse = `{
	"tags": ["hot-lead"],
	"priority": "high",
	"message": {"subject": "Quick question", "body": "Saw your reviews.", "channel": "email"},
	"opportunity_map": {"strengths": ["reputation"], "weaknesses": [], "pain_points": [], "solutions": []},
	"reasoning": "strong rating, no web presence"
}`

type fixture struct {
	store      *queue.MemoryStore
	repo       *repository.MemoryRepository
	enrichment *Enrichment
	aiCalls    *int32
	server     *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	var aiCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&aiCalls, 1)
		encoded, _ := json.Marshal(analysisResponse)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gpt-4.1-mini","output_text":` + string(encoded) + `,"usage":{"input_tokens":1,"output_tokens":1,"total_tokens":2}}`))
	}))
	t.Cleanup(server.Close)

	repo := repository.NewMemoryRepository()
	codec, err := secrets.NewCodec("test-passphrase")
	require.NoError(t, err)
	router := ai.NewRouter(repo, codec, ai.RouterConfig{
		DirectAPIKey:  "test-key",
		DirectBaseURL: server.URL,
		DirectTimeout: 2 * time.Second,
		MaxRetries:    1,
	}, zap.NewNop().Sugar())

	store := queue.NewMemoryStore()
	enrichment := NewEnrichment(
		store,
		repo,
		repo,
		router,
		prompt.NewAssembler(repo, 0, zap.NewNop().Sugar()),
		nil,
		cache.NewAnalysisCache(cache.Config{TTL: time.Minute}),
		zap.NewNop().Sugar(),
	)

	return &fixture{store: store, repo: repo, enrichment: enrichment, aiCalls: &aiCalls, server: server}
}

func analysisPayload() domain.AnalysisJobPayload {
	return domain.AnalysisJobPayload{
		ProspectID: "p1",
		UserID:     "u1",
		Strategy:   "verifactu",
		Business:   domain.BusinessFacts{Name: "Panaderia Sol", Category: "bakery"},
	}
}

func TestEnqueueAnalysisValidatesPayload(t *testing.T) {
	f := newFixture(t)

	_, err := f.enrichment.EnqueueAnalysis(context.Background(), domain.AnalysisJobPayload{UserID: "u1"})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = f.enrichment.EnqueueAnalysis(context.Background(), domain.AnalysisJobPayload{ProspectID: "p1"})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestEnqueueDemoValidatesPayload(t *testing.T) {
	f := newFixture(t)

	_, err := f.enrichment.EnqueueDemo(context.Background(), domain.AnalysisJobPayload{UserID: "u1"})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	// Without a user the dedupe key would collapse every anonymous demo for
	// a prospect into one job.
	_, err = f.enrichment.EnqueueDemo(context.Background(), domain.AnalysisJobPayload{ProspectID: "p1"})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestEnqueueAnalysisDeduplicatesInFlightWork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.enrichment.EnqueueAnalysis(ctx, analysisPayload())
	require.NoError(t, err)
	second, err := f.enrichment.EnqueueAnalysis(ctx, analysisPayload())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestHandleAnalysisJobCommitsResultAndUsage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.PutProspect(&domain.Prospect{ID: "p1", Name: "Panaderia Sol", Category: "bakery", Rating: 4.6, ReviewsCount: 12})

	_, err := f.enrichment.EnqueueAnalysis(ctx, analysisPayload())
	require.NoError(t, err)
	job, err := f.store.Dequeue(ctx, domain.JobTypeAnalysis)
	require.NoError(t, err)
	require.NotNil(t, job)

	result, err := f.enrichment.HandleAnalysisJob(ctx, job)
	require.NoError(t, err)

	var decoded domain.AnalysisResult
	require.NoError(t, json.Unmarshal(result, &decoded))
	assert.Equal(t, domain.PriorityHigh, decoded.Priority)
	assert.Equal(t, "direct", decoded.Provider)

	prospect, err := f.repo.GetProspect(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, prospect.Processed)
	assert.Equal(t, 1, f.repo.UsageCount("u1", time.Now().UTC()))
}

func TestHandleAnalysisJobServesRepeatFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.PutProspect(&domain.Prospect{ID: "p1", Name: "Panaderia Sol"})

	payload, _ := json.Marshal(analysisPayload())
	job := &domain.Job{ID: "j1", Type: domain.JobTypeAnalysis, Payload: payload}

	_, err := f.enrichment.HandleAnalysisJob(ctx, job)
	require.NoError(t, err)
	_, err = f.enrichment.HandleAnalysisJob(ctx, job)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(f.aiCalls), "identical inputs inside the TTL must not pay twice")
	assert.Equal(t, 2, f.repo.UsageCount("u1", time.Now().UTC()), "every commit counts even when the provider call is cached")
}

func TestHandleAnalysisJobFallsBackToPayloadFacts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// No prospect row stored: the payload snapshot carries the facts.
	payload, _ := json.Marshal(analysisPayload())
	job := &domain.Job{ID: "j1", Type: domain.JobTypeAnalysis, Payload: payload}

	_, err := f.enrichment.HandleAnalysisJob(ctx, job)
	require.NoError(t, err)
}

func TestHandleAnalysisJobMalformedPayloadIsTerminal(t *testing.T) {
	f := newFixture(t)

	job := &domain.Job{ID: "j1", Type: domain.JobTypeAnalysis, Payload: json.RawMessage(`{broken`)}
	_, err := f.enrichment.HandleAnalysisJob(context.Background(), job)
	require.Error(t, err)
	assert.True(t, queue.IsTerminal(err), "an undecodable payload can never succeed on retry")
}

func TestClassifyProviderErrors(t *testing.T) {
	assert.True(t, queue.IsTerminal(classifyProviderError(ai.ErrConfigurationMissing)))
	assert.True(t, queue.IsTerminal(classifyProviderError(ai.ErrMalformedResponse)))
	assert.False(t, queue.IsTerminal(classifyProviderError(ai.ErrProviderUnavailable)))
}

func TestHandleDemoJobGeneratesContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID, err := f.enrichment.EnqueueDemo(ctx, domain.AnalysisJobPayload{
		ProspectID: "p1",
		UserID:     "u1",
		DemoType:   "landing_page",
		Business:   domain.BusinessFacts{Name: "Panaderia Sol"},
	})
	require.NoError(t, err)

	job, err := f.store.Dequeue(ctx, domain.JobTypeDemo)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, jobID, job.ID)

	result, err := f.enrichment.HandleDemoJob(ctx, job)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(result, &decoded))
	assert.Equal(t, "landing_page", decoded["demo_type"])
	assert.NotEmpty(t, decoded["content"])
}

func TestHandleBatchJobFansOutAnalysisJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batchID, err := f.enrichment.EnqueueBatch(ctx, domain.BatchJobPayload{
		UserID:   "u1",
		Strategy: "general",
		Items: []domain.BatchProspectRef{
			{ProspectID: "p1", Business: domain.BusinessFacts{Name: "One"}},
			{ProspectID: "p2", Business: domain.BusinessFacts{Name: "Two"}},
			{ProspectID: "p3", Business: domain.BusinessFacts{Name: "Three"}},
		},
	})
	require.NoError(t, err)

	job, err := f.store.Dequeue(ctx, domain.JobTypeBatch)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, batchID, job.ID)

	result, err := f.enrichment.HandleBatchJob(ctx, job)
	require.NoError(t, err)

	var decoded struct {
		Enqueued []string `json:"enqueued"`
		Failed   int      `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(result, &decoded))
	assert.Len(t, decoded.Enqueued, 3)
	assert.Zero(t, decoded.Failed)

	stats, err := f.store.Stats(ctx, domain.JobTypeAnalysis)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Waiting)
}

func TestEnqueueBatchValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.enrichment.EnqueueBatch(ctx, domain.BatchJobPayload{UserID: "u1"})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = f.enrichment.EnqueueBatch(ctx, domain.BatchJobPayload{
		Items: []domain.BatchProspectRef{{ProspectID: "p1"}},
	})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestBatchJobsRunAfterInteractiveOnes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batchID, err := f.enrichment.EnqueueBatch(ctx, domain.BatchJobPayload{
		UserID: "u1",
		Items:  []domain.BatchProspectRef{{ProspectID: "p9", Business: domain.BusinessFacts{Name: "Nine"}}},
	})
	require.NoError(t, err)

	job, err := f.store.Dequeue(ctx, domain.JobTypeBatch)
	require.NoError(t, err)
	_, err = f.enrichment.HandleBatchJob(ctx, job)
	require.NoError(t, err)
	require.NoError(t, f.store.Complete(ctx, batchID, nil))

	// An interactive analysis enqueued after the fan-out still runs first.
	interactiveID, err := f.enrichment.EnqueueAnalysis(ctx, analysisPayload())
	require.NoError(t, err)

	next, err := f.store.Dequeue(ctx, domain.JobTypeAnalysis)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, interactiveID, next.ID)
}
