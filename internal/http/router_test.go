package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prospectia/enrichment-back/internal/ai"
	"github.com/prospectia/enrichment-back/internal/cache"
	"github.com/prospectia/enrichment-back/internal/http/handlers"
	"github.com/prospectia/enrichment-back/internal/prompt"
	"github.com/prospectia/enrichment-back/internal/queue"
	"github.com/prospectia/enrichment-back/internal/repository"
	"github.com/prospectia/enrichment-back/internal/secrets"
	"github.com/prospectia/enrichment-back/internal/service"
)

func newTestHandler(t *testing.T, authToken string) http.Handler {
	t.Helper()

	repo := repository.NewMemoryRepository()
	codec, err := secrets.NewCodec("test-passphrase")
	require.NoError(t, err)
	// No credentials configured: provider probes report structured failures
	// without leaving the process.
	router := ai.NewRouter(repo, codec, ai.RouterConfig{}, zap.NewNop().Sugar())

	store := queue.NewMemoryStore()
	enrichment := service.NewEnrichment(
		store,
		repo,
		repo,
		router,
		prompt.NewAssembler(repo, 0, zap.NewNop().Sugar()),
		nil,
		cache.NewAnalysisCache(cache.Config{TTL: time.Minute}),
		zap.NewNop().Sugar(),
	)
	admin := service.NewAdmin(store, router, zap.NewNop().Sugar())

	return NewRouter(RouterDependencies{
		API:            handlers.NewAPI(enrichment, admin),
		AuthToken:      authToken,
		CORSOrigins:    "*",
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	})
}

func TestHealthzIsPublic(t *testing.T) {
	handler := newTestHandler(t, "secret")

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.NotEmpty(t, recorder.Header().Get("X-Request-Id"))
}

func TestV1RequiresBearerToken(t *testing.T) {
	handler := newTestHandler(t, "secret")

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/v1/queues/analysis/stats", nil)
	handler.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodGet, "/v1/queues/analysis/stats", nil)
	request.Header.Set("Authorization", "Bearer wrong")
	handler.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodGet, "/v1/queues/analysis/stats", nil)
	request.Header.Set("Authorization", "Bearer secret")
	handler.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestCreateAnalysisReturnsJobID(t *testing.T) {
	handler := newTestHandler(t, "")

	body := `{"prospect_id":"p1","user_id":"u1","strategy":"verifactu","business":{"name":"Panaderia Sol"}}`
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/v1/enrichments/analysis", strings.NewReader(body))
	handler.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusAccepted, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "job_id")
}

func TestCreateAnalysisRejectsMissingFields(t *testing.T) {
	handler := newTestHandler(t, "")

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/v1/enrichments/analysis", strings.NewReader(`{"user_id":"u1"}`))
	handler.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "invalid_payload")
}

func TestQueueStatsUnknownQueueIs404(t *testing.T) {
	handler := newTestHandler(t, "")

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/v1/queues/ouija/stats", nil)
	handler.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestSetProviderModeRejectsUnknownMode(t *testing.T) {
	handler := newTestHandler(t, "")

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPut, "/v1/providers/mode", strings.NewReader(`{"mode":"ouija"}`))
	handler.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestSetProviderModeGatewayPersists(t *testing.T) {
	handler := newTestHandler(t, "")

	body := `{"mode":"gateway","gateway":{"url":"https://gw.internal","api_key":"gw-key"}}`
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPut, "/v1/providers/mode", strings.NewReader(body))
	handler.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "gateway")
}

func TestTestProvidersReportsBothBackends(t *testing.T) {
	handler := newTestHandler(t, "")

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/v1/providers/test", strings.NewReader(`{}`))
	handler.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"direct"`)
	assert.Contains(t, recorder.Body.String(), `"gateway"`)
	assert.Contains(t, recorder.Body.String(), `"active_mode"`)
}

func TestCORSPreflight(t *testing.T) {
	handler := newTestHandler(t, "secret")

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodOptions, "/v1/providers/test", nil)
	request.Header.Set("Origin", "https://app.example")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	handler.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusNoContent, recorder.Code)
	assert.Equal(t, "*", recorder.Header().Get("Access-Control-Allow-Origin"))
}
