package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/prospectia/enrichment-back/internal/domain"
)

var (
	// ErrProviderUnavailable means the backend call itself failed (transport,
	// non-2xx, timeout). Recovered via fallback or job backoff.
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	// ErrConfigurationMissing means the selected backend has no credentials.
	// Surfaced immediately, never retried indefinitely.
	ErrConfigurationMissing = errors.New("ai provider configuration missing")
	// ErrMalformedResponse means the backend answered but the output does not
	// parse into the expected shape. A hard failure, never coerced.
	ErrMalformedResponse = errors.New("ai provider returned malformed output")
)

type Mode string

const (
	ModeDirect  Mode = "direct"
	ModeGateway Mode = "gateway"
)

func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeDirect:
		return ModeDirect, nil
	case ModeGateway:
		return ModeGateway, nil
	default:
		return "", fmt.Errorf("unknown provider mode %q: must be direct or gateway", value)
	}
}

type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

type GenerateRequest struct {
	Instructions    string
	Input           string
	Temperature     float64
	MaxOutputTokens int
}

type GenerateResult struct {
	Text    string
	ModelID string
	Usage   TokenUsage
}

type AnalyzeRequest struct {
	// Prompt is the fully assembled text from the prompt assembler.
	Prompt string
}

// ConnectionStatus is the structured outcome of a connectivity probe. A
// backend with no credentials reports OK=false here, it never errors.
type ConnectionStatus struct {
	Provider  string `json:"provider"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
}

// Provider is the capability surface every backend implements so the router
// can swap them without branching on backend-specific types.
type Provider interface {
	Name() string
	AnalyzeProspect(ctx context.Context, req AnalyzeRequest) (*domain.AnalysisResult, error)
	GenerateContent(ctx context.Context, req GenerateRequest) (GenerateResult, error)
	RefinePrompt(ctx context.Context, prompt string) (string, error)
	TestConnection(ctx context.Context) ConnectionStatus
}

const analysisInstructions = "You are a B2B sales analyst. Return only valid JSON matching the requested shape. Do not use markdown code fences."

const refineInstructions = "Rewrite the following sales prompt to be clearer and more specific. Return only the rewritten prompt text, nothing else."

// parseAnalysis turns raw model text into a validated analysis result.
func parseAnalysis(providerName string, result GenerateResult) (*domain.AnalysisResult, error) {
	rawJSON, err := extractJSON(result.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	analysis, err := domain.ParseAnalysisResult(rawJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	analysis.Provider = providerName
	analysis.ModelID = result.ModelID
	return analysis, nil
}

// extractJSON tolerates models that wrap JSON in fences or prose.
func extractJSON(text string) ([]byte, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, errors.New("empty model output")
	}
	if strings.HasPrefix(trimmed, "```") {
		trimmed = stripCodeFence(trimmed)
	}

	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
		return []byte(trimmed), nil
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		candidate := trimmed[start : end+1]
		if err := json.Unmarshal([]byte(candidate), &decoded); err == nil {
			return []byte(candidate), nil
		}
	}

	return nil, errors.New("model output is not valid JSON")
}

func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimPrefix(trimmed, "json")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

type providerHTTPError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *providerHTTPError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func isRetryableProviderError(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *providerHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "timeout") || strings.Contains(message, "tempor")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
