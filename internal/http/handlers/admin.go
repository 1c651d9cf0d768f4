package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/prospectia/enrichment-back/internal/ai"
	"github.com/prospectia/enrichment-back/internal/queue"
)

type setModeRequest struct {
	Mode    string `json:"mode"`
	Gateway *struct {
		URL    string `json:"url"`
		APIKey string `json:"api_key,omitempty"`
	} `json:"gateway,omitempty"`
}

// SetProviderMode switches between the direct and gateway backends at
// runtime.
func (a *API) SetProviderMode(w http.ResponseWriter, r *http.Request) {
	var payload setModeRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_payload", "request body is not valid JSON")
		return
	}

	var gateway *ai.GatewaySettings
	if payload.Gateway != nil {
		gateway = &ai.GatewaySettings{
			URL:    payload.Gateway.URL,
			APIKey: payload.Gateway.APIKey,
		}
	}

	if err := a.admin.SetProviderMode(r.Context(), payload.Mode, gateway); err != nil {
		if errors.Is(err, ai.ErrConfigurationMissing) {
			writeError(w, r, http.StatusBadRequest, "configuration_missing", err.Error())
			return
		}
		if strings.Contains(err.Error(), "unknown provider mode") {
			writeError(w, r, http.StatusBadRequest, "invalid_mode", err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to switch provider mode")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mode": payload.Mode})
}

// TestProviders probes every configured backend and reports per-backend
// status. Probing never mutates settings.
func (a *API) TestProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.admin.TestProviders(r.Context()))
}

type refineRequest struct {
	Prompt string `json:"prompt"`
}

// RefinePrompt rewrites an operator-authored prompt through the active
// backend.
func (a *API) RefinePrompt(w http.ResponseWriter, r *http.Request) {
	var payload refineRequest
	if err := decodeJSON(r, &payload); err != nil || strings.TrimSpace(payload.Prompt) == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_payload", "prompt is required")
		return
	}

	refined, err := a.admin.RefinePrompt(r.Context(), payload.Prompt)
	if err != nil {
		writeError(w, r, http.StatusBadGateway, "provider_unavailable", "prompt refinement failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"prompt": refined})
}

// QueueStats reports per-state depths for one queue.
func (a *API) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.admin.QueueStats(r.Context(), chi.URLParam(r, "queue"))
	if err != nil {
		writeQueueError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ListFailedJobs returns retained failed jobs for one queue, newest first.
func (a *API) ListFailedJobs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	jobs, err := a.admin.ListFailed(r.Context(), chi.URLParam(r, "queue"), limit)
	if err != nil {
		writeQueueError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func writeQueueError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case strings.Contains(err.Error(), "unknown queue"):
		writeError(w, r, http.StatusNotFound, "unknown_queue", err.Error())
	case errors.Is(err, queue.ErrBrokerUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "broker_unavailable", "job broker is unreachable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal_error", "queue inspection failed")
	}
}
