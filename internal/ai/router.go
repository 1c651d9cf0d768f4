package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prospectia/enrichment-back/internal/domain"
	"github.com/prospectia/enrichment-back/internal/repository"
	"github.com/prospectia/enrichment-back/internal/secrets"
)

type RouterConfig struct {
	// CacheTTL bounds how long a resolved mode is reused before the settings
	// store is consulted again. Default 60s.
	CacheTTL time.Duration

	DirectAPIKey  string
	DirectBaseURL string
	DirectModel   string
	DirectTimeout time.Duration

	GatewayModel   string
	GatewayTimeout time.Duration

	MaxRetries int
}

type cachedProvider struct {
	mode     Mode
	provider Provider
	expiry   time.Time
}

// Router decides which backend executes a request. The cached mode and
// provider instance are the only mutable shared state outside the job store;
// staleness up to CacheTTL is tolerable, so a TTL plus explicit invalidation
// guards them instead of long-held locks.
type Router struct {
	settings repository.SettingsRepository
	codec    *secrets.Codec
	logger   *zap.SugaredLogger
	cfg      RouterConfig

	mu     sync.Mutex
	cached *cachedProvider
	now    func() time.Time
}

func NewRouter(
	settings repository.SettingsRepository,
	codec *secrets.Codec,
	cfg RouterConfig,
	logger *zap.SugaredLogger,
) *Router {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 60 * time.Second
	}
	return &Router{
		settings: settings,
		codec:    codec,
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ActiveProvider resolves the backend for the current mode, reloading from
// the settings store only when the cache expired.
func (r *Router) ActiveProvider(ctx context.Context) (Provider, Mode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && r.now().Before(r.cached.expiry) {
		return r.cached.provider, r.cached.mode, nil
	}

	mode := r.loadMode(ctx)
	provider, err := r.buildProvider(ctx, mode)
	if err != nil {
		return nil, "", err
	}

	r.cached = &cachedProvider{
		mode:     mode,
		provider: provider,
		expiry:   r.now().Add(r.cfg.CacheTTL),
	}
	return provider, mode, nil
}

// Invalidate drops the cached provider so the next call reloads config.
func (r *Router) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = nil
}

// SetMode persists the new mode (and gateway credentials when provided) and
// invalidates the cache immediately, no process restart needed.
func (r *Router) SetMode(ctx context.Context, mode Mode, gateway *GatewaySettings) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}

	if mode == ModeGateway && gateway != nil {
		if strings.TrimSpace(gateway.URL) == "" {
			return fmt.Errorf("%w: gateway url is required", ErrConfigurationMissing)
		}
		if err := r.settings.SetSetting(ctx, repository.SettingGatewayURL, strings.TrimSpace(gateway.URL), "string"); err != nil {
			return fmt.Errorf("persist gateway url: %w", err)
		}
		if strings.TrimSpace(gateway.APIKey) != "" {
			encrypted, err := r.codec.Encrypt(strings.TrimSpace(gateway.APIKey))
			if err != nil {
				return fmt.Errorf("encrypt gateway api key: %w", err)
			}
			if err := r.settings.SetSetting(ctx, repository.SettingGatewayAPIKey, encrypted, "encrypted"); err != nil {
				return fmt.Errorf("persist gateway api key: %w", err)
			}
		}
	}

	if err := r.settings.SetSetting(ctx, repository.SettingProviderMode, string(mode), "string"); err != nil {
		return fmt.Errorf("persist provider mode: %w", err)
	}

	r.Invalidate()
	r.logger.Infow("provider mode switched", "mode", mode)
	return nil
}

type GatewaySettings struct {
	URL    string
	APIKey string
}

// AnalyzeProspect executes the request against the active backend. A gateway
// failure is retried transparently against the direct backend so gateway
// outages never block enrichment.
func (r *Router) AnalyzeProspect(ctx context.Context, req AnalyzeRequest) (*domain.AnalysisResult, error) {
	provider, mode, err := r.ActiveProvider(ctx)
	if err != nil {
		return nil, err
	}

	result, err := provider.AnalyzeProspect(ctx, req)
	if err == nil {
		return result, nil
	}
	if mode != ModeGateway {
		return nil, err
	}

	r.logger.Warnw("gateway analyze failed, falling back to direct", "error", err)
	direct := r.buildDirect(ctx)
	result, directErr := direct.AnalyzeProspect(ctx, req)
	if directErr != nil {
		return nil, fmt.Errorf("gateway failed: %v; direct fallback failed: %w", err, directErr)
	}
	return result, nil
}

// GenerateContent routes to the active backend with the same gateway→direct
// fallback as AnalyzeProspect.
func (r *Router) GenerateContent(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	provider, mode, err := r.ActiveProvider(ctx)
	if err != nil {
		return GenerateResult{}, err
	}

	result, err := provider.GenerateContent(ctx, req)
	if err == nil || mode != ModeGateway {
		return result, err
	}

	r.logger.Warnw("gateway generate failed, falling back to direct", "error", err)
	return r.buildDirect(ctx).GenerateContent(ctx, req)
}

func (r *Router) RefinePrompt(ctx context.Context, prompt string) (string, error) {
	provider, mode, err := r.ActiveProvider(ctx)
	if err != nil {
		return "", err
	}

	refined, err := provider.RefinePrompt(ctx, prompt)
	if err == nil || mode != ModeGateway {
		return refined, err
	}

	r.logger.Warnw("gateway refine failed, falling back to direct", "error", err)
	return r.buildDirect(ctx).RefinePrompt(ctx, prompt)
}

// TestReport is the outcome of probing every configured backend.
type TestReport struct {
	Direct     ConnectionStatus `json:"direct"`
	Gateway    ConnectionStatus `json:"gateway"`
	ActiveMode Mode             `json:"active_mode"`
}

// TestAll probes both backends concurrently regardless of the active mode.
func (r *Router) TestAll(ctx context.Context) TestReport {
	report := TestReport{ActiveMode: r.loadMode(ctx)}

	direct := r.buildDirect(ctx)
	gateway := r.buildGateway(ctx)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		report.Direct = direct.TestConnection(groupCtx)
		return nil
	})
	group.Go(func() error {
		report.Gateway = gateway.TestConnection(groupCtx)
		return nil
	})
	_ = group.Wait()
	return report
}

func (r *Router) loadMode(ctx context.Context) Mode {
	value, err := r.settings.GetSetting(ctx, repository.SettingProviderMode)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			r.logger.Warnw("load provider mode failed, defaulting to direct", "error", err)
		}
		return ModeDirect
	}
	mode, err := ParseMode(value)
	if err != nil {
		r.logger.Warnw("stored provider mode is invalid, defaulting to direct", "value", value)
		return ModeDirect
	}
	return mode
}

func (r *Router) buildProvider(ctx context.Context, mode Mode) (Provider, error) {
	switch mode {
	case ModeGateway:
		return r.buildGateway(ctx), nil
	case ModeDirect:
		return r.buildDirect(ctx), nil
	default:
		return nil, fmt.Errorf("unknown provider mode %q", mode)
	}
}

func (r *Router) buildDirect(ctx context.Context) *DirectClient {
	apiKey := r.cfg.DirectAPIKey
	if stored, err := r.settings.GetSetting(ctx, repository.SettingDirectAPIKey); err == nil && stored != "" {
		decrypted, decErr := r.codec.Decrypt(stored)
		if decErr != nil {
			r.logger.Warnw("stored direct api key cannot be decrypted, using configured key", "error", decErr)
		} else {
			apiKey = decrypted
		}
	}
	return NewDirectClient(DirectConfig{
		APIKey:     apiKey,
		BaseURL:    r.cfg.DirectBaseURL,
		Model:      r.cfg.DirectModel,
		Timeout:    r.cfg.DirectTimeout,
		MaxRetries: r.cfg.MaxRetries,
	})
}

func (r *Router) buildGateway(ctx context.Context) *GatewayClient {
	url, err := r.settings.GetSetting(ctx, repository.SettingGatewayURL)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		r.logger.Warnw("load gateway url failed", "error", err)
	}

	apiKey := ""
	if stored, err := r.settings.GetSetting(ctx, repository.SettingGatewayAPIKey); err == nil && stored != "" {
		decrypted, decErr := r.codec.Decrypt(stored)
		if decErr != nil {
			r.logger.Warnw("stored gateway api key cannot be decrypted", "error", decErr)
		} else {
			apiKey = decrypted
		}
	}

	return NewGatewayClient(GatewayConfig{
		URL:        url,
		APIKey:     apiKey,
		Model:      r.cfg.GatewayModel,
		Timeout:    r.cfg.GatewayTimeout,
		MaxRetries: r.cfg.MaxRetries,
	})
}
