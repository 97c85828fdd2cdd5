package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cardvault/reconciler/internal/api"
	"github.com/cardvault/reconciler/internal/config"
	"github.com/cardvault/reconciler/internal/engine"
	"github.com/cardvault/reconciler/internal/ingestion"
	"github.com/cardvault/reconciler/internal/notify"
	"github.com/cardvault/reconciler/internal/reconcile"
	"github.com/cardvault/reconciler/internal/repository"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Initializing database at %s", cfg.DBPath)
	db, err := repository.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init DB: %v", err)
	}
	defer db.Close()

	// Create repositories.
	vaultRepo := repository.NewVaultRepo(db)
	backupRepo := repository.NewBackupRepo(db)
	batchRepo := repository.NewBatchRepo(db)
	resultRepo := repository.NewResultRepo(db)

	// Create services.
	appEngine := engine.NewApplicationEngine(vaultRepo, backupRepo, resultRepo)
	orchestrator := engine.NewBatchOrchestrator(vaultRepo, resultRepo, appEngine,
		notify.LogDispatcher{}, engine.OrchestratorConfig{
			ChunkSize: cfg.ChunkSize,
			Cooldown:  cfg.Cooldown(),
		})
	reconciler := reconcile.NewService(vaultRepo)
	feedSvc := ingestion.NewService(batchRepo, resultRepo, orchestrator)

	count, err := vaultRepo.Count()
	if err != nil {
		log.Fatalf("Failed to count vault records: %v", err)
	}
	log.Printf("Vault store holds %d records", count)

	// Create router.
	router := api.NewRouter(vaultRepo, batchRepo, resultRepo, orchestrator, reconciler, feedSvc)

	log.Printf("Vault Reconciliation Engine")
	log.Printf("Listening on http://localhost:%s", cfg.Port)
	log.Printf("API base: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("")
	log.Printf("Endpoints:")
	log.Printf("  POST   /api/v1/vault-export")
	log.Printf("  GET    /api/v1/vault-export/{exportID}/status")
	log.Printf("  POST   /api/v1/card-updates")
	log.Printf("  GET    /api/v1/card-updates/{batchID}/status")
	log.Printf("  POST   /api/v1/card-updates/retry")
	log.Printf("  POST   /api/v1/card-updates/validate")
	log.Printf("  POST   /api/v1/card-updates/ingest-file")
	log.Printf("  GET    /api/v1/health")
	log.Printf("  GET    /metrics")

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// In-flight batches finish their current chunk; new chunks stop when the
	// request context is cancelled by Shutdown.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-done
	log.Printf("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("WARNING: shutdown: %v", err)
	}
}
