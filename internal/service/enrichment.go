package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/prospectia/enrichment-back/internal/ai"
	"github.com/prospectia/enrichment-back/internal/cache"
	"github.com/prospectia/enrichment-back/internal/domain"
	"github.com/prospectia/enrichment-back/internal/prompt"
	"github.com/prospectia/enrichment-back/internal/queue"
	"github.com/prospectia/enrichment-back/internal/repository"
	"github.com/prospectia/enrichment-back/internal/webcontent"
)

var ErrInvalidPayload = errors.New("invalid job payload")

// Enrichment wires the queue, prompt assembly, provider routing, and the
// result sink into the three job pipelines.
type Enrichment struct {
	store     queue.Store
	prospects repository.ProspectsRepository
	sink      repository.AnalysisSink
	router    *ai.Router
	assembler *prompt.Assembler
	fetcher   *webcontent.Fetcher
	cache     *cache.AnalysisCache
	logger    *zap.SugaredLogger
}

func NewEnrichment(
	store queue.Store,
	prospects repository.ProspectsRepository,
	sink repository.AnalysisSink,
	router *ai.Router,
	assembler *prompt.Assembler,
	fetcher *webcontent.Fetcher,
	analysisCache *cache.AnalysisCache,
	logger *zap.SugaredLogger,
) *Enrichment {
	return &Enrichment{
		store:     store,
		prospects: prospects,
		sink:      sink,
		router:    router,
		assembler: assembler,
		fetcher:   fetcher,
		cache:     analysisCache,
		logger:    logger,
	}
}

// EnqueueAnalysis schedules one prospect analysis. A second enqueue for the
// same prospect and user while the first is still pending returns the
// existing job id.
func (e *Enrichment) EnqueueAnalysis(ctx context.Context, payload domain.AnalysisJobPayload) (string, error) {
	if err := validateAnalysisPayload(payload); err != nil {
		return "", err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal analysis payload: %w", err)
	}

	jobID, err := e.store.Enqueue(ctx, domain.JobTypeAnalysis, raw, queue.EnqueueOptions{
		DedupeKey: analysisDedupeKey(payload.ProspectID, payload.UserID),
	})
	if err != nil {
		return "", err
	}

	e.logger.Infow("analysis job enqueued",
		"job_id", jobID,
		"prospect_id", payload.ProspectID,
		"user_id", payload.UserID,
	)
	return jobID, nil
}

// EnqueueDemo schedules a demo-content generation job at demo priority.
func (e *Enrichment) EnqueueDemo(ctx context.Context, payload domain.AnalysisJobPayload) (string, error) {
	if strings.TrimSpace(payload.ProspectID) == "" {
		return "", fmt.Errorf("%w: prospect_id is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(payload.UserID) == "" {
		return "", fmt.Errorf("%w: user_id is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(payload.DemoType) == "" {
		payload.DemoType = "landing_page"
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal demo payload: %w", err)
	}

	jobID, err := e.store.Enqueue(ctx, domain.JobTypeDemo, raw, queue.EnqueueOptions{
		DedupeKey: fmt.Sprintf("demo:%s:%s:%s", payload.ProspectID, payload.UserID, payload.DemoType),
	})
	if err != nil {
		return "", err
	}

	e.logger.Infow("demo job enqueued", "job_id", jobID, "prospect_id", payload.ProspectID, "demo_type", payload.DemoType)
	return jobID, nil
}

// EnqueueBatch schedules a fan-out job that expands into one analysis job per
// prospect when executed.
func (e *Enrichment) EnqueueBatch(ctx context.Context, payload domain.BatchJobPayload) (string, error) {
	if strings.TrimSpace(payload.UserID) == "" {
		return "", fmt.Errorf("%w: user_id is required", ErrInvalidPayload)
	}
	if len(payload.Items) == 0 {
		return "", fmt.Errorf("%w: batch needs at least one prospect", ErrInvalidPayload)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal batch payload: %w", err)
	}

	jobID, err := e.store.Enqueue(ctx, domain.JobTypeBatch, raw, queue.EnqueueOptions{})
	if err != nil {
		return "", err
	}

	e.logger.Infow("batch job enqueued", "job_id", jobID, "user_id", payload.UserID, "items", len(payload.Items))
	return jobID, nil
}

// HandleAnalysisJob is the worker handler for the analysis queue: load the
// prospect, fetch and sanitize its website, assemble the prompt, call the
// active provider, and commit the result through the sink.
func (e *Enrichment) HandleAnalysisJob(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
	var payload domain.AnalysisJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, queue.Terminal(fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}
	if err := validateAnalysisPayload(payload); err != nil {
		return nil, queue.Terminal(err)
	}

	facts := e.resolveFacts(ctx, payload)
	webContent := e.fetchWebsite(ctx, facts)

	assembled, err := e.assembler.Assemble(ctx, prompt.Input{
		Strategy:      payload.Strategy,
		Business:      facts,
		RawWebContent: webContent,
		CustomPrompt:  payload.CustomPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("assemble prompt: %w", err)
	}

	analysis, fromCache, err := e.analyze(ctx, payload, assembled)
	if err != nil {
		return nil, classifyProviderError(err)
	}

	if err := e.sink.UpdateProspectAnalysis(ctx, payload.ProspectID, payload.UserID, analysis); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, queue.Terminal(fmt.Errorf("persist analysis: %w", err))
		}
		return nil, fmt.Errorf("persist analysis: %w", err)
	}

	e.logger.Infow("prospect analyzed",
		"job_id", job.ID,
		"prospect_id", payload.ProspectID,
		"provider", analysis.Provider,
		"priority", analysis.Priority,
		"cached", fromCache,
	)

	return json.Marshal(analysis)
}

// HandleDemoJob generates demo content for a prospect through the active
// provider.
func (e *Enrichment) HandleDemoJob(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
	var payload domain.AnalysisJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, queue.Terminal(fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}

	facts := e.resolveFacts(ctx, payload)

	result, err := e.router.GenerateContent(ctx, ai.GenerateRequest{
		Instructions:    demoInstructions(payload.DemoType),
		Input:           demoInput(facts, payload.CustomPrompt),
		Temperature:     0.7,
		MaxOutputTokens: 2048,
	})
	if err != nil {
		return nil, classifyProviderError(err)
	}

	e.logger.Infow("demo content generated",
		"job_id", job.ID,
		"prospect_id", payload.ProspectID,
		"demo_type", payload.DemoType,
		"model", result.ModelID,
	)

	return json.Marshal(map[string]any{
		"demo_type": payload.DemoType,
		"content":   result.Text,
		"model_id":  result.ModelID,
	})
}

// HandleBatchJob expands a batch into individual analysis jobs. Per-item
// enqueue failures do not abort the rest of the batch.
func (e *Enrichment) HandleBatchJob(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
	var payload domain.BatchJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, queue.Terminal(fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}

	// Expanded items keep the batch priority so interactive analyses enqueued
	// later still run first.
	batchPriority := domain.DefaultPriority(domain.JobTypeBatch)

	enqueued := make([]string, 0, len(payload.Items))
	var failed int
	for _, item := range payload.Items {
		if strings.TrimSpace(item.ProspectID) == "" {
			failed++
			continue
		}
		itemPayload := domain.AnalysisJobPayload{
			ProspectID: item.ProspectID,
			UserID:     payload.UserID,
			Strategy:   payload.Strategy,
			Business:   item.Business,
		}
		raw, err := json.Marshal(itemPayload)
		if err != nil {
			failed++
			continue
		}
		jobID, err := e.store.Enqueue(ctx, domain.JobTypeAnalysis, raw, queue.EnqueueOptions{
			Priority:  &batchPriority,
			DedupeKey: analysisDedupeKey(item.ProspectID, payload.UserID),
		})
		if err != nil {
			failed++
			e.logger.Warnw("batch item enqueue failed",
				"batch_job_id", job.ID,
				"prospect_id", item.ProspectID,
				"error", err,
			)
			continue
		}
		enqueued = append(enqueued, jobID)
	}

	if len(enqueued) == 0 {
		return nil, fmt.Errorf("batch expansion failed for all %d items", len(payload.Items))
	}

	return json.Marshal(map[string]any{
		"enqueued": enqueued,
		"failed":   failed,
	})
}

func (e *Enrichment) analyze(ctx context.Context, payload domain.AnalysisJobPayload, assembled prompt.Output) (*domain.AnalysisResult, bool, error) {
	signature := e.cache.BuildSignature(
		string(assembled.Strategy),
		payload.ProspectID,
		assembled.PromptVersion,
		assembled.Prompt,
	)
	if entry, ok := e.cache.Get(signature); ok {
		return entry.Analysis, true, nil
	}

	analysis, err := e.router.AnalyzeProspect(ctx, ai.AnalyzeRequest{Prompt: assembled.Prompt})
	if err != nil {
		return nil, false, err
	}

	e.cache.Set(signature, cache.Entry{
		Analysis:      analysis,
		Provider:      analysis.Provider,
		PromptVersion: assembled.PromptVersion,
	})
	return analysis, false, nil
}

// resolveFacts prefers fresh repository data and falls back to the facts
// snapshot carried in the payload when the prospect row is unreachable.
func (e *Enrichment) resolveFacts(ctx context.Context, payload domain.AnalysisJobPayload) domain.BusinessFacts {
	if e.prospects == nil || strings.TrimSpace(payload.ProspectID) == "" {
		return payload.Business
	}

	prospect, err := e.prospects.GetProspect(ctx, payload.ProspectID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			e.logger.Warnw("prospect lookup failed, using payload snapshot",
				"prospect_id", payload.ProspectID,
				"error", err,
			)
		}
		return payload.Business
	}
	return prospect.Facts()
}

// fetchWebsite returns raw page HTML or empty when the prospect has no
// website or the fetch fails. A fetch failure degrades the prompt, it never
// fails the job.
func (e *Enrichment) fetchWebsite(ctx context.Context, facts domain.BusinessFacts) string {
	if e.fetcher == nil || !facts.HasWebsite() {
		return ""
	}

	content, err := e.fetcher.FetchPage(ctx, facts.Website)
	if err != nil {
		e.logger.Warnw("website fetch failed, continuing without content",
			"website", facts.Website,
			"error", err,
		)
		return ""
	}
	return content
}

// classifyProviderError maps provider failures onto retry semantics: missing
// configuration and malformed responses will not heal on retry.
func classifyProviderError(err error) error {
	if errors.Is(err, ai.ErrConfigurationMissing) || errors.Is(err, ai.ErrMalformedResponse) {
		return queue.Terminal(err)
	}
	return err
}

func validateAnalysisPayload(payload domain.AnalysisJobPayload) error {
	if strings.TrimSpace(payload.ProspectID) == "" {
		return fmt.Errorf("%w: prospect_id is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(payload.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidPayload)
	}
	return nil
}

func analysisDedupeKey(prospectID, userID string) string {
	return fmt.Sprintf("analysis:%s:%s", prospectID, userID)
}

func demoInstructions(demoType string) string {
	switch demoType {
	case "email_sequence":
		return "You write concise B2B cold-email sequences. Produce a three-step sequence tailored to the business described. Plain text only."
	case "landing_page":
		return "You write landing-page copy for B2B offers. Produce a headline, subheadline, three benefit blocks, and a call to action tailored to the business described. Plain text only."
	default:
		return "You produce short sales demo material tailored to the business described. Plain text only."
	}
}

func demoInput(facts domain.BusinessFacts, custom string) string {
	builder := strings.Builder{}
	builder.WriteString("Business: ")
	builder.WriteString(facts.Name)
	if facts.Category != "" {
		builder.WriteString(" (")
		builder.WriteString(facts.Category)
		builder.WriteString(")")
	}
	builder.WriteString("\n")
	if facts.Website != "" {
		builder.WriteString("Website: ")
		builder.WriteString(facts.Website)
		builder.WriteString("\n")
	}
	if custom = strings.TrimSpace(custom); custom != "" {
		builder.WriteString("Extra instructions: ")
		builder.WriteString(custom)
		builder.WriteString("\n")
	}
	return builder.String()
}
