package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cardvault/reconciler/internal/engine"
	"github.com/cardvault/reconciler/internal/ingestion"
	"github.com/cardvault/reconciler/internal/reconcile"
	"github.com/cardvault/reconciler/internal/repository"
)

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(
	vaultRepo *repository.VaultRepo,
	batchRepo *repository.BatchRepo,
	resultRepo *repository.ResultRepo,
	orchestrator *engine.BatchOrchestrator,
	reconciler *reconcile.Service,
	feedSvc *ingestion.Service,
) http.Handler {
	h := &Handlers{
		vaultRepo:    vaultRepo,
		batchRepo:    batchRepo,
		resultRepo:   resultRepo,
		orchestrator: orchestrator,
		reconciler:   reconciler,
		feedSvc:      feedSvc,
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))

		// Vault exports.
		r.Post("/vault-export", h.ProcessVaultExport)
		r.Get("/vault-export/{exportID}/status", h.GetExportStatus)

		// Card updates.
		r.Post("/card-updates", h.ProcessCardUpdates)
		r.Get("/card-updates/{batchID}/status", h.GetBatchStatus)
		r.Post("/card-updates/retry", h.RetryCardUpdates)
		r.Post("/card-updates/validate", h.ValidateCardUpdates)
		r.Post("/card-updates/ingest-file", h.IngestFeed)

		r.Get("/health", h.Health)
	})

	return r
}
