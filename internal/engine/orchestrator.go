package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cardvault/reconciler/internal/domain"
	"github.com/cardvault/reconciler/internal/metrics"
	"github.com/cardvault/reconciler/internal/notify"
	"github.com/cardvault/reconciler/internal/repository"
	"github.com/cardvault/reconciler/internal/validation"
)

// ErrBatchCountMismatch marks a batch whose declared size does not match the
// number of submitted records. It is fatal to the whole request and nothing
// is processed.
var ErrBatchCountMismatch = errors.New("declared batch size does not match record count")

const (
	defaultChunkSize = 10
	defaultCooldown  = 250 * time.Millisecond
)

// OrchestratorConfig tunes chunking. Zero values select the defaults.
type OrchestratorConfig struct {
	ChunkSize int
	Cooldown  time.Duration
}

// BatchOrchestrator runs a batch of card updates through the full pipeline:
// validate, score, decide, and (for approved records) apply. Records within
// a chunk run concurrently; chunks run sequentially with a cooldown so the
// vault store is not hammered.
type BatchOrchestrator struct {
	vaultRepo  *repository.VaultRepo
	resultRepo *repository.ResultRepo
	app        *ApplicationEngine
	dispatcher notify.Dispatcher
	chunkSize  int
	cooldown   time.Duration
	now        func() time.Time
}

func NewBatchOrchestrator(
	vaultRepo *repository.VaultRepo,
	resultRepo *repository.ResultRepo,
	app *ApplicationEngine,
	dispatcher notify.Dispatcher,
	cfg OrchestratorConfig,
) *BatchOrchestrator {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	return &BatchOrchestrator{
		vaultRepo:  vaultRepo,
		resultRepo: resultRepo,
		app:        app,
		dispatcher: dispatcher,
		chunkSize:  cfg.ChunkSize,
		cooldown:   cfg.Cooldown,
		now:        time.Now,
	}
}

// ProcessBatch validates the declared count, then processes records in
// fixed-size chunks. Results come back in submission order regardless of
// completion order within a chunk. Pass declared < 0 to skip the count check
// (used by retries, which operate on a subset).
//
// Cancellation stops further chunks from starting; the chunk in flight runs
// to completion, and records that never started are reported FAILED with an
// explicit next action.
func (o *BatchOrchestrator) ProcessBatch(
	ctx context.Context,
	batchID string,
	records []domain.CardUpdateRecord,
	declared int,
	opts domain.ProcessingOptions,
) (*domain.BatchSummary, []domain.ProcessingResult, error) {
	if declared >= 0 && len(records) != declared {
		return nil, nil, fmt.Errorf("%w: declared %d, got %d",
			ErrBatchCountMismatch, declared, len(records))
	}

	start := o.now()
	results := make([]domain.ProcessingResult, len(records))

	for base := 0; base < len(records); base += o.chunkSize {
		if err := ctx.Err(); err != nil {
			for i := base; i < len(records); i++ {
				results[i] = domain.ProcessingResult{
					UpdateID:    records[i].UpdateID,
					Status:      domain.StatusFailed,
					ProcessedAt: o.now(),
					NextAction:  "not processed: shutdown requested before this chunk started",
				}
			}
			log.Printf("[orchestrator] batch %s cancelled after %d records", batchID, base)
			break
		}

		end := base + o.chunkSize
		if end > len(records) {
			end = len(records)
		}

		var wg sync.WaitGroup
		for i := base; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				results[idx] = o.processRecord(ctx, &records[idx], opts)
			}(i)
		}
		wg.Wait()

		// Cooldown between chunks to respect the vault store's rate limits.
		if end < len(records) {
			select {
			case <-ctx.Done():
			case <-time.After(o.cooldown):
			}
		}
	}

	summary := &domain.BatchSummary{BatchID: batchID, ProcessedAt: o.now()}
	for i := range results {
		summary.Tally(&results[i])
		metrics.RecordsProcessed.WithLabelValues(string(results[i].Status)).Inc()
	}
	metrics.BatchDuration.Observe(o.now().Sub(start).Seconds())

	log.Printf("[orchestrator] batch %s: total=%d success=%d failed=%d review=%d verify=%d",
		batchID, summary.Total, summary.Succeeded, summary.Failed,
		summary.PendingReview, summary.RequiresValidation)

	return summary, results, nil
}

// processRecord runs one record through the pipeline. All failures are
// contained here; a record can never abort the batch.
func (o *BatchOrchestrator) processRecord(ctx context.Context, rec *domain.CardUpdateRecord, opts domain.ProcessingOptions) domain.ProcessingResult {
	res := domain.ProcessingResult{
		UpdateID:    rec.UpdateID,
		ProcessedAt: o.now(),
	}

	// Idempotency gate: a previously applied update id is a no-op replay.
	applied, err := o.resultRepo.WasApplied(rec.UpdateID)
	if err != nil {
		res.Status = domain.StatusFailed
		res.NextAction = "retry: idempotency check failed: " + err.Error()
		return res
	}
	if applied {
		res.Status = domain.StatusSuccess
		res.Validation = domain.ValidationResult{
			IsValid:              true,
			ConfidenceAssessment: domain.ConfidenceHigh,
			RecommendedAction:    domain.ActionApply,
		}
		res.NextAction = "duplicate update - previously applied"
		return res
	}

	vault, err := o.vaultRepo.Get(nil, rec.VaultID)
	if err != nil {
		res.Status = domain.StatusFailed
		res.NextAction = "retry: vault lookup failed: " + err.Error()
		return res
	}

	res.Validation = validation.Assess(rec, vault, o.now())

	switch res.Validation.RecommendedAction {
	case domain.ActionReject:
		res.Status = domain.StatusFailed
		res.NextAction = "rejected: " + res.Validation.Errors[0]

	case domain.ActionVerifyWithCustomer:
		res.Status = domain.StatusRequiresValidation
		res.NextAction = "contact customer to verify card details"

	case domain.ActionReview:
		res.Status = domain.StatusPendingReview
		res.NextAction = "queued for manual review"

	case domain.ActionApply:
		outcome, err := o.app.Apply(ctx, rec, opts)
		switch {
		case errors.Is(err, ErrAlreadyApplied):
			res.Status = domain.StatusSuccess
			res.NextAction = "duplicate update - previously applied"
		case err != nil:
			// Application faults downgrade this record only.
			res.Status = domain.StatusFailed
			res.Application = outcome
			res.NextAction = "application fault, retry eligible: " + err.Error()
			log.Printf("[orchestrator] WARNING: apply failed for %s: %v", rec.UpdateID, err)
		default:
			res.Status = domain.StatusSuccess
			res.Application = outcome
		}
	}

	if opts.NotifyCustomers && o.dispatcher != nil {
		if n, ok := notify.Decide(rec, &res); ok {
			if err := o.dispatcher.Dispatch(ctx, n); err != nil {
				log.Printf("[orchestrator] WARNING: notification failed for %s: %v", rec.UpdateID, err)
			} else {
				res.NotificationSent = true
			}
		}
	}

	return res
}

// ValidateOnly runs the pure pipeline for each record without touching the
// vault. Used by the dry-run endpoint.
func (o *BatchOrchestrator) ValidateOnly(records []domain.CardUpdateRecord) []domain.ValidationResult {
	out := make([]domain.ValidationResult, len(records))
	for i := range records {
		vault, err := o.vaultRepo.Get(nil, records[i].VaultID)
		if err != nil {
			vault = nil
		}
		out[i] = validation.Assess(&records[i], vault, o.now())
	}
	return out
}
