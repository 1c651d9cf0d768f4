package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/prospectia/enrichment-back/internal/ai"
	"github.com/prospectia/enrichment-back/internal/cache"
	"github.com/prospectia/enrichment-back/internal/config"
	"github.com/prospectia/enrichment-back/internal/domain"
	httpserver "github.com/prospectia/enrichment-back/internal/http"
	"github.com/prospectia/enrichment-back/internal/http/handlers"
	"github.com/prospectia/enrichment-back/internal/prompt"
	"github.com/prospectia/enrichment-back/internal/queue"
	"github.com/prospectia/enrichment-back/internal/repository"
	"github.com/prospectia/enrichment-back/internal/secrets"
	"github.com/prospectia/enrichment-back/internal/service"
	"github.com/prospectia/enrichment-back/internal/webcontent"
	"github.com/prospectia/enrichment-back/internal/worker"
)

type repositories struct {
	prospects repository.ProspectsRepository
	settings  repository.SettingsRepository
	overrides repository.OverridesRepository
	sink      repository.AnalysisSink
}

func main() {
	baseLogger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer baseLogger.Sync()
	logger := baseLogger.Sugar()

	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Warnw("failed loading .env files", "error", err)
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalw("invalid configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos, repoCloser := setupRepositories(ctx, cfg, logger)
	defer repoCloser()

	store, storeCloser := setupStore(ctx, cfg, logger)
	defer storeCloser()

	if cfg.SecretsKey == "dev-insecure-secrets-key" {
		logger.Warnw("SECRETS_KEY not configured, using insecure development key")
	}
	codec, err := secrets.NewCodec(cfg.SecretsKey)
	if err != nil {
		logger.Fatalw("secrets codec init failed", "error", err)
	}

	router := ai.NewRouter(repos.settings, codec, ai.RouterConfig{
		CacheTTL:       cfg.ProviderCacheTTL,
		DirectAPIKey:   cfg.DirectAPIKey,
		DirectBaseURL:  cfg.DirectBaseURL,
		DirectModel:    cfg.DirectModel,
		DirectTimeout:  cfg.DirectTimeout,
		GatewayModel:   cfg.GatewayModel,
		GatewayTimeout: cfg.GatewayTimeout,
		MaxRetries:     cfg.AIMaxRetries,
	}, logger)

	assembler := prompt.NewAssembler(repos.overrides, cfg.PromptContentCap, logger)
	fetcher := webcontent.NewFetcher(webcontent.FetcherConfig{
		Timeout:  cfg.WebFetchTimeout,
		MaxBytes: cfg.WebFetchMaxBytes,
	}, logger)
	analysisCache := cache.NewAnalysisCache(cache.Config{
		TTL:        cfg.AnalysisCacheTTL,
		MaxEntries: cfg.AnalysisCacheMaxEntries,
	})

	enrichment := service.NewEnrichment(store, repos.prospects, repos.sink, router, assembler, fetcher, analysisCache, logger)
	admin := service.NewAdmin(store, router, logger)

	var pools []*worker.Pool
	if cfg.WorkerEnabled {
		pools = startPools(ctx, cfg, store, enrichment, logger)
	} else {
		logger.Infow("workers disabled by configuration")
	}

	api := handlers.NewAPI(enrichment, admin)
	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Infow("api listening", "port", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Infow("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("graceful server shutdown failed", "error", err)
	}
	for _, pool := range pools {
		if err := pool.Shutdown(cfg.ShutdownTimeout); err != nil {
			logger.Errorw("worker pool shutdown timed out", "error", err)
		}
	}
}

func setupRepositories(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (repositories, func()) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Warnw("DATABASE_URL not configured, using in-memory repository")
		memory := repository.NewMemoryRepository()
		return repositories{prospects: memory, settings: memory, overrides: memory, sink: memory}, func() {}
	}

	pg, err := repository.NewPostgresRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Warnw("postgres init failed, falling back to in-memory repository", "error", err)
		memory := repository.NewMemoryRepository()
		return repositories{prospects: memory, settings: memory, overrides: memory, sink: memory}, func() {}
	}
	logger.Infow("postgres repository initialized")
	return repositories{prospects: pg, settings: pg, overrides: pg, sink: pg}, pg.Close
}

func setupStore(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (queue.Store, func()) {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		logger.Warnw("REDIS_ADDR not configured, using in-memory job store")
		return queue.NewMemoryStore(), func() {}
	}

	store, err := queue.NewRedisStore(ctx, queue.RedisConfig{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		LockTimeout: cfg.QueueLockTimeout,
	}, logger)
	if err != nil {
		logger.Warnw("redis init failed, falling back to in-memory job store", "error", err)
		return queue.NewMemoryStore(), func() {}
	}
	logger.Infow("redis job store initialized")
	return store, func() { _ = store.Close() }
}

func startPools(ctx context.Context, cfg config.Config, store queue.Store, enrichment *service.Enrichment, logger *zap.SugaredLogger) []*worker.Pool {
	poolDefs := []struct {
		jobType     domain.JobType
		handler     worker.Handler
		concurrency int
		rateMax     int
		rateWindow  time.Duration
	}{
		{domain.JobTypeAnalysis, enrichment.HandleAnalysisJob, cfg.AnalysisConcurrency, cfg.AnalysisRateMax, cfg.AnalysisRateWindow},
		{domain.JobTypeDemo, enrichment.HandleDemoJob, cfg.DemoConcurrency, cfg.DemoRateMax, cfg.DemoRateWindow},
		{domain.JobTypeBatch, enrichment.HandleBatchJob, cfg.BatchConcurrency, cfg.BatchRateMax, cfg.BatchRateWindow},
	}

	pools := make([]*worker.Pool, 0, len(poolDefs))
	for _, def := range poolDefs {
		pool := worker.NewPool(store, def.handler, worker.PoolConfig{
			Type:        def.jobType,
			Concurrency: def.concurrency,
			Limiter: worker.LimiterConfig{
				Max:    def.rateMax,
				Window: def.rateWindow,
			},
			PollInterval: cfg.PollInterval,
		}, logger)
		pool.Start(ctx)
		pools = append(pools, pool)
		logger.Infow("worker pool started",
			"queue", def.jobType,
			"concurrency", def.concurrency,
			"rate_max", def.rateMax,
			"rate_window", def.rateWindow,
		)
	}
	return pools
}
