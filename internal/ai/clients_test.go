package ai

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

	"github.com/prospectia/enrichment-back/internal/domain"
)

const validAnalysisJSON = `{
	"tags": ["hot-lead", "no-website"],
	"priority": "high",
	"message": {"subject": "Quick question", "body": "Saw your reviews.", "channel": "email"},
	"opportunity_map": {"strengths": ["reputation"], "weaknesses": ["no site"], "pain_points": ["visibility"], "solutions": ["landing page"]},
	"reasoning": "Strong rating but no web presence."
}`

func responsesBody(text string) string {
	encoded, _ := json.Marshal(text)
	return `{"model":"gpt-4.1-mini","output_text":` + string(encoded) + `,"usage":{"input_tokens":100,"output_tokens":50,"total_tokens":150}}`
}

func TestDirectClientAnalyzeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/responses", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(responsesBody(validAnalysisJSON)))
	}))
	defer server.Close()

	client := NewDirectClient(DirectConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 2 * time.Second,
	})

	analysis, err := client.AnalyzeProspect(context.Background(), AnalyzeRequest{Prompt: "analyze this"})
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityHigh, analysis.Priority)
	assert.Equal(t, []string{"hot-lead", "no-website"}, analysis.Tags)
	assert.Equal(t, "direct", analysis.Provider)
}

func TestDirectClientRetriesOnServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limited"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(responsesBody("hello")))
	}))
	defer server.Close()

	client := NewDirectClient(DirectConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		Timeout:    2 * time.Second,
		MaxRetries: 2,
	})

	result, err := client.GenerateContent(context.Background(), GenerateRequest{Input: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDirectClientDoesNotRetryBadRequest(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad_request"}`))
	}))
	defer server.Close()

	client := NewDirectClient(DirectConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		Timeout:    2 * time.Second,
		MaxRetries: 3,
	})

	_, err := client.GenerateContent(context.Background(), GenerateRequest{Input: "hi"})
	require.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDirectClientMissingKeyIsConfigurationError(t *testing.T) {
	client := NewDirectClient(DirectConfig{})

	_, err := client.GenerateContent(context.Background(), GenerateRequest{Input: "hi"})
	assert.ErrorIs(t, err, ErrConfigurationMissing)
}

func TestDirectClientMalformedAnalysisIsNotCoerced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(responsesBody(`{"tags": [], "priority": "whenever"}`)))
	}))
	defer server.Close()

	client := NewDirectClient(DirectConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 2 * time.Second,
	})

	_, err := client.AnalyzeProspect(context.Background(), AnalyzeRequest{Prompt: "analyze"})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestDirectClientParsesCodeFencedJSON(t *testing.T) {
	fenced := "```json\n" + validAnalysisJSON + "\n```"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(responsesBody(fenced)))
	}))
	defer server.Close()

	client := NewDirectClient(DirectConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 2 * time.Second,
	})

	analysis, err := client.AnalyzeProspect(context.Background(), AnalyzeRequest{Prompt: "analyze"})
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityHigh, analysis.Priority)
}

func TestDirectClientTestConnectionWithoutKey(t *testing.T) {
	client := NewDirectClient(DirectConfig{})

	status := client.TestConnection(context.Background())
	assert.False(t, status.OK)
	assert.Equal(t, "api key not configured", status.Error)
}

func TestGatewayClientGenerateSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer gw-key", r.Header.Get("Authorization"))
		require.NotEmpty(t, r.Header.Get("X-Title"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model":"openai/gpt-4.1-mini",
			"choices":[{"message":{"role":"assistant","content":"generated text"}}],
			"usage":{"prompt_tokens":80,"completion_tokens":40,"total_tokens":120}
		}`))
	}))
	defer server.Close()

	client := NewGatewayClient(GatewayConfig{
		URL:     server.URL,
		APIKey:  "gw-key",
		Timeout: 2 * time.Second,
	})

	result, err := client.GenerateContent(context.Background(), GenerateRequest{Input: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "generated text", result.Text)
	assert.Equal(t, 120, result.Usage.TotalTokens)
}

func TestGatewayClientHandlesContentFragments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model":"m",
			"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"part one"},{"type":"text","text":"part two"}]}}],
			"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}
		}`))
	}))
	defer server.Close()

	client := NewGatewayClient(GatewayConfig{URL: server.URL, APIKey: "gw-key", Timeout: 2 * time.Second})

	result, err := client.GenerateContent(context.Background(), GenerateRequest{Input: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "part one\npart two", result.Text)
}

func TestGatewayClientMissingConfigIsConfigurationError(t *testing.T) {
	client := NewGatewayClient(GatewayConfig{})

	_, err := client.GenerateContent(context.Background(), GenerateRequest{Input: "hi"})
	assert.ErrorIs(t, err, ErrConfigurationMissing)
}

func TestGatewayClientTestConnectionWithoutConfig(t *testing.T) {
	client := NewGatewayClient(GatewayConfig{})

	status := client.TestConnection(context.Background())
	assert.False(t, status.OK)
	assert.NotEmpty(t, status.Error)
}
