package handlers

import (
	"errors"
	"net/http"

	"github.com/prospectia/enrichment-back/internal/domain"
	"github.com/prospectia/enrichment-back/internal/queue"
	"github.com/prospectia/enrichment-back/internal/service"
)

type enqueueResponse struct {
	JobID string `json:"job_id"`
}

// CreateAnalysis accepts one prospect for asynchronous analysis and returns
// the queued job id immediately.
func (a *API) CreateAnalysis(w http.ResponseWriter, r *http.Request) {
	var payload domain.AnalysisJobPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_payload", "request body is not valid JSON")
		return
	}

	jobID, err := a.enrichment.EnqueueAnalysis(r.Context(), payload)
	if err != nil {
		writeEnqueueError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{JobID: jobID})
}

// CreateDemo accepts a demo-content generation request.
func (a *API) CreateDemo(w http.ResponseWriter, r *http.Request) {
	var payload domain.AnalysisJobPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_payload", "request body is not valid JSON")
		return
	}

	jobID, err := a.enrichment.EnqueueDemo(r.Context(), payload)
	if err != nil {
		writeEnqueueError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{JobID: jobID})
}

// CreateBatch accepts a list of prospects that will fan out into individual
// analysis jobs at batch priority.
func (a *API) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var payload domain.BatchJobPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_payload", "request body is not valid JSON")
		return
	}

	jobID, err := a.enrichment.EnqueueBatch(r.Context(), payload)
	if err != nil {
		writeEnqueueError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{JobID: jobID})
}

func writeEnqueueError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidPayload):
		writeError(w, r, http.StatusBadRequest, "invalid_payload", err.Error())
	case errors.Is(err, queue.ErrBrokerUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "broker_unavailable", "job broker is unreachable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to enqueue job")
	}
}
