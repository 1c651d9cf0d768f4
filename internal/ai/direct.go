package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prospectia/enrichment-back/internal/domain"
)

type DirectConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

// DirectClient talks straight to the model vendor's Responses API.
type DirectClient struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
}

func NewDirectClient(cfg DirectConfig) *DirectClient {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-4.1-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	return &DirectClient{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		httpClient: cfg.HTTPClient,
	}
}

func (c *DirectClient) Name() string {
	return string(ModeDirect)
}

func (c *DirectClient) AnalyzeProspect(ctx context.Context, req AnalyzeRequest) (*domain.AnalysisResult, error) {
	result, err := c.GenerateContent(ctx, GenerateRequest{
		Instructions:    analysisInstructions,
		Input:           req.Prompt,
		Temperature:     0.3,
		MaxOutputTokens: 1400,
	})
	if err != nil {
		return nil, err
	}
	return parseAnalysis(c.Name(), result)
}

func (c *DirectClient) GenerateContent(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	if c.apiKey == "" {
		return GenerateResult{}, fmt.Errorf("%w: direct api key not set", ErrConfigurationMissing)
	}
	if strings.TrimSpace(req.Input) == "" {
		return GenerateResult{}, errors.New("input is required")
	}
	if req.MaxOutputTokens <= 0 {
		req.MaxOutputTokens = 700
	}

	payload := map[string]any{
		"model":             c.model,
		"input":             req.Input,
		"instructions":      req.Instructions,
		"temperature":       req.Temperature,
		"max_output_tokens": req.MaxOutputTokens,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("marshal direct payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		result, callErr := c.callResponsesAPI(ctx, encoded)
		if callErr == nil {
			return result, nil
		}
		lastErr = callErr

		if !isRetryableProviderError(callErr) || attempt == c.maxRetries {
			break
		}
		backoff := time.Duration(350*(attempt+1)) * time.Millisecond
		select {
		case <-ctx.Done():
			return GenerateResult{}, ctx.Err()
		case <-time.After(backoff):
		}
	}

	if lastErr == nil {
		lastErr = errors.New("unknown direct provider error")
	}
	return GenerateResult{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr)
}

func (c *DirectClient) RefinePrompt(ctx context.Context, prompt string) (string, error) {
	result, err := c.GenerateContent(ctx, GenerateRequest{
		Instructions:    refineInstructions,
		Input:           prompt,
		Temperature:     0.4,
		MaxOutputTokens: 800,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Text), nil
}

func (c *DirectClient) TestConnection(ctx context.Context) ConnectionStatus {
	status := ConnectionStatus{Provider: c.Name()}
	if c.apiKey == "" {
		status.Error = "api key not configured"
		return status
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	started := time.Now()
	_, err := c.GenerateContent(probeCtx, GenerateRequest{
		Input:           "ping",
		MaxOutputTokens: 16,
	})
	status.LatencyMS = time.Since(started).Milliseconds()
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.OK = true
	return status
}

func (c *DirectClient) callResponsesAPI(ctx context.Context, payload []byte) (GenerateResult, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(payload))
	if err != nil {
		return GenerateResult{}, fmt.Errorf("create direct request: %w", err)
	}
	httpRequest.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "application/json")

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return GenerateResult{}, fmt.Errorf("direct timeout: %w", err)
		}
		return GenerateResult{}, fmt.Errorf("direct transport error: %w", err)
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("read direct body: %w", err)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		message := strings.TrimSpace(string(body))
		if len(message) > 700 {
			message = message[:700]
		}
		return GenerateResult{}, &providerHTTPError{
			Provider:   c.Name(),
			StatusCode: httpResponse.StatusCode,
			Message:    message,
		}
	}

	var raw responsesAPIResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return GenerateResult{}, fmt.Errorf("decode direct response: %w", err)
	}

	text := extractResponseText(raw)
	if strings.TrimSpace(text) == "" {
		return GenerateResult{}, errors.New("direct response without text output")
	}

	return GenerateResult{
		Text:    text,
		ModelID: firstNonEmpty(raw.Model, c.model),
		Usage: TokenUsage{
			InputTokens:  raw.Usage.InputTokens,
			OutputTokens: raw.Usage.OutputTokens,
			TotalTokens:  raw.Usage.TotalTokens,
		},
	}, nil
}

type responsesAPIResponse struct {
	Model  string `json:"model"`
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	OutputText string `json:"output_text"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

func extractResponseText(response responsesAPIResponse) string {
	if strings.TrimSpace(response.OutputText) != "" {
		return strings.TrimSpace(response.OutputText)
	}

	fragments := make([]string, 0)
	for _, output := range response.Output {
		for _, content := range output.Content {
			if content.Type != "output_text" && content.Type != "text" {
				continue
			}
			if strings.TrimSpace(content.Text) == "" {
				continue
			}
			fragments = append(fragments, strings.TrimSpace(content.Text))
		}
	}
	return strings.TrimSpace(strings.Join(fragments, "\n"))
}
