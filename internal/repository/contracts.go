package repository

import (
	"context"
	"errors"

	"github.com/prospectia/enrichment-back/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// Setting keys owned by the provider layer.
const (
	SettingProviderMode  = "ai_provider_mode"
	SettingGatewayURL    = "ai_gateway_url"
	SettingGatewayAPIKey = "ai_gateway_api_key"
	SettingDirectAPIKey  = "ai_direct_api_key"
)

// ProspectsRepository is the narrow read contract onto scraped prospect data.
type ProspectsRepository interface {
	GetProspect(ctx context.Context, prospectID string) (*domain.Prospect, error)
}

// SettingsRepository is the durable config store.
type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value, valueType string) error
}

// OverridesRepository resolves operator-authored prompt overrides. A missing
// override returns ErrNotFound; any other error means the store is
// unreachable and the caller falls back to defaults.
type OverridesRepository interface {
	GetActiveOverride(ctx context.Context, category string) (string, error)
}

// AnalysisSink is the single state-mutating boundary the pipeline writes
// through: analysis blob, denormalized fields, processed flag, and the
// per-user per-day usage counter in one atomic commit.
type AnalysisSink interface {
	UpdateProspectAnalysis(ctx context.Context, prospectID, userID string, analysis *domain.AnalysisResult) error
}
