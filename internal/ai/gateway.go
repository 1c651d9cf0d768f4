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

type GatewayConfig struct {
	URL        string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	AppName    string
}

// GatewayClient routes requests through an intermediary AI gateway speaking
// the chat-completions dialect.
type GatewayClient struct {
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
	appName    string
}

func NewGatewayClient(cfg GatewayConfig) *GatewayClient {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "default"
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
	if strings.TrimSpace(cfg.AppName) == "" {
		cfg.AppName = "Prospectia CRM"
	}

	return &GatewayClient{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(cfg.URL), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		httpClient: cfg.HTTPClient,
		appName:    cfg.AppName,
	}
}

func (c *GatewayClient) Name() string {
	return string(ModeGateway)
}

func (c *GatewayClient) AnalyzeProspect(ctx context.Context, req AnalyzeRequest) (*domain.AnalysisResult, error) {
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

func (c *GatewayClient) GenerateContent(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	if c.baseURL == "" || c.apiKey == "" {
		return GenerateResult{}, fmt.Errorf("%w: gateway url or api key not set", ErrConfigurationMissing)
	}
	if strings.TrimSpace(req.Input) == "" {
		return GenerateResult{}, errors.New("input is required")
	}
	if req.MaxOutputTokens <= 0 {
		req.MaxOutputTokens = 700
	}

	messages := make([]map[string]string, 0, 2)
	if strings.TrimSpace(req.Instructions) != "" {
		messages = append(messages, map[string]string{
			"role":    "system",
			"content": strings.TrimSpace(req.Instructions),
		})
	}
	messages = append(messages, map[string]string{
		"role":    "user",
		"content": req.Input,
	})

	payload := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": req.Temperature,
		"max_tokens":  req.MaxOutputTokens,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("marshal gateway payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		result, callErr := c.callChatCompletionsAPI(ctx, encoded)
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
		lastErr = errors.New("unknown gateway error")
	}
	return GenerateResult{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr)
}

func (c *GatewayClient) RefinePrompt(ctx context.Context, prompt string) (string, error) {
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

func (c *GatewayClient) TestConnection(ctx context.Context) ConnectionStatus {
	status := ConnectionStatus{Provider: c.Name()}
	if c.baseURL == "" || c.apiKey == "" {
		status.Error = "gateway url or api key not configured"
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

func (c *GatewayClient) callChatCompletionsAPI(ctx context.Context, payload []byte) (GenerateResult, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(
		timeoutCtx,
		http.MethodPost,
		c.baseURL+"/chat/completions",
		bytes.NewReader(payload),
	)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("create gateway request: %w", err)
	}
	httpRequest.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "application/json")
	httpRequest.Header.Set("X-Title", c.appName)

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return GenerateResult{}, fmt.Errorf("gateway timeout: %w", err)
		}
		return GenerateResult{}, fmt.Errorf("gateway transport error: %w", err)
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("read gateway body: %w", err)
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

	var raw chatCompletionsResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return GenerateResult{}, fmt.Errorf("decode gateway response: %w", err)
	}

	text := extractChatText(raw)
	if strings.TrimSpace(text) == "" {
		return GenerateResult{}, errors.New("gateway response without text output")
	}

	return GenerateResult{
		Text:    text,
		ModelID: firstNonEmpty(raw.Model, c.model),
		Usage: TokenUsage{
			InputTokens:  raw.Usage.PromptTokens,
			OutputTokens: raw.Usage.CompletionTokens,
			TotalTokens:  raw.Usage.TotalTokens,
		},
	}, nil
}

type chatCompletionsResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func extractChatText(response chatCompletionsResponse) string {
	if len(response.Choices) == 0 {
		return ""
	}
	content := response.Choices[0].Message.Content
	switch typed := content.(type) {
	case string:
		return strings.TrimSpace(typed)
	case []any:
		fragments := make([]string, 0, len(typed))
		for _, item := range typed {
			fragment, ok := item.(map[string]any)
			if !ok {
				continue
			}
			textValue, _ := fragment["text"].(string)
			if strings.TrimSpace(textValue) == "" {
				continue
			}
			fragments = append(fragments, strings.TrimSpace(textValue))
		}
		return strings.TrimSpace(strings.Join(fragments, "\n"))
	default:
		return ""
	}
}
