package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/prospectia/enrichment-back/internal/http/handlers"
	"github.com/prospectia/enrichment-back/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	AuthToken      string
	CORSOrigins    string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter builds the full middleware stack and route table.
func NewRouter(deps RouterDependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: strings.Split(deps.CORSOrigins, ","),
	}))
	r.Use(middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst))
	r.Use(middleware.Auth(deps.AuthToken))

	r.Get("/healthz", deps.API.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/enrichments/analysis", deps.API.CreateAnalysis)
		r.Post("/enrichments/demo", deps.API.CreateDemo)
		r.Post("/enrichments/batch", deps.API.CreateBatch)

		r.Get("/queues/{queue}/stats", deps.API.QueueStats)
		r.Get("/queues/{queue}/failed", deps.API.ListFailedJobs)

		r.Put("/providers/mode", deps.API.SetProviderMode)
		r.Post("/providers/test", deps.API.TestProviders)
		r.Post("/prompts/refine", deps.API.RefinePrompt)
	})

	return r
}
