package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/cardvault/reconciler/internal/domain"
	"github.com/cardvault/reconciler/internal/repository"
)

// ErrAlreadyApplied is returned when an update id is replayed after a
// successful application. Callers treat it as a no-op, not a failure.
var ErrAlreadyApplied = errors.New("update already applied")

// ApplicationEngine is the only component allowed to mutate vault state. It
// applies an approved card update as backup -> mutate -> billing adjustment,
// with each sub-step reported independently in the outcome.
type ApplicationEngine struct {
	vaultRepo  *repository.VaultRepo
	backupRepo *repository.BackupRepo
	resultRepo *repository.ResultRepo
}

func NewApplicationEngine(
	vaultRepo *repository.VaultRepo,
	backupRepo *repository.BackupRepo,
	resultRepo *repository.ResultRepo,
) *ApplicationEngine {
	return &ApplicationEngine{
		vaultRepo:  vaultRepo,
		backupRepo: backupRepo,
		resultRepo: resultRepo,
	}
}

// Apply executes an approved update against the vault. The backup must
// succeed before any mutation; if it fails the record is left untouched.
// The whole read-backup-write sequence runs in one transaction, so a record
// is never left backed up but half-written. The returned outcome is non-nil
// even on error and reports exactly which sub-steps completed.
func (e *ApplicationEngine) Apply(ctx context.Context, rec *domain.CardUpdateRecord, opts domain.ProcessingOptions) (*domain.ApplicationOutcome, error) {
	outcome := &domain.ApplicationOutcome{SubscriptionImpact: domain.ImpactNone}

	if err := ctx.Err(); err != nil {
		return outcome, err
	}

	tx, err := e.vaultRepo.Begin()
	if err != nil {
		return outcome, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	current, err := e.vaultRepo.Get(tx, rec.VaultID)
	if err != nil {
		return outcome, fmt.Errorf("load vault record: %w", err)
	}
	if current == nil {
		return outcome, fmt.Errorf("vault record %s not found", rec.VaultID)
	}

	// Step (a): backup before any write.
	backup := &repository.Backup{
		BackupID:  uuid.NewString(),
		VaultID:   rec.VaultID,
		UpdateID:  rec.UpdateID,
		Snapshot:  *current,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.backupRepo.Insert(tx, backup); err != nil {
		return outcome, fmt.Errorf("backup vault record: %w", err)
	}
	outcome.BackedUp = true
	outcome.BackupID = backup.BackupID
	outcome.RollbackAvailable = true

	// Step (b): write the new card data.
	updated := mutateVaultRecord(current, rec)
	if err := e.vaultRepo.Upsert(tx, updated); err != nil {
		return outcome, fmt.Errorf("write vault record: %w", err)
	}

	// The applied-updates ledger rides in the same transaction, so a racing
	// duplicate either sees the mutation and the ledger entry, or neither.
	inserted, err := e.resultRepo.MarkApplied(tx, rec.UpdateID, rec.VaultID, backup.BackupID)
	if err != nil {
		return outcome, fmt.Errorf("record applied update: %w", err)
	}
	if !inserted {
		return &domain.ApplicationOutcome{SubscriptionImpact: domain.ImpactNone}, ErrAlreadyApplied
	}

	if err := tx.Commit(); err != nil {
		return outcome, fmt.Errorf("commit: %w", err)
	}
	outcome.VaultUpdated = true

	// Step (c): billing adjustment.
	switch {
	case rec.UpdateDetails.UpdateType == domain.UpdateAccountClosure:
		outcome.BillingStatusChanged = true
		outcome.SubscriptionImpact = domain.ImpactSuspended
		log.Printf("[engine] billing suspended for customer %s (account closure on vault %s)",
			rec.CustomerID, rec.VaultID)
	case opts.PauseBillingDuringUpdate:
		outcome.BillingStatusChanged = true
		outcome.SubscriptionImpact = domain.ImpactPausedTemporary
		log.Printf("[engine] billing paused temporarily for customer %s during update %s",
			rec.CustomerID, rec.UpdateID)
	}

	return outcome, nil
}

// Rollback restores the pre-mutation snapshot taken for an applied update.
func (e *ApplicationEngine) Rollback(ctx context.Context, updateID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	backup, err := e.backupRepo.GetByUpdateID(updateID)
	if err != nil {
		return fmt.Errorf("load backup: %w", err)
	}
	if backup == nil {
		return fmt.Errorf("no backup found for update %s", updateID)
	}

	if err := e.vaultRepo.Upsert(nil, &backup.Snapshot); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}

	log.Printf("[engine] rolled back vault %s to backup %s (update %s)",
		backup.VaultID, backup.BackupID, updateID)
	return nil
}

// mutateVaultRecord builds the post-update vault record from the current one
// and the approved card update.
func mutateVaultRecord(current *domain.VaultRecord, rec *domain.CardUpdateRecord) *domain.VaultRecord {
	now := time.Now().UTC()
	updated := *current

	var changed []string
	if current.PaymentMethod.MaskedNumber != maskedNumber(rec.UpdatedCard.Last4) {
		changed = append(changed, "masked_number")
	}
	if current.PaymentMethod.ExpMonth != rec.UpdatedCard.ExpMonth ||
		current.PaymentMethod.ExpYear != rec.UpdatedCard.ExpYear {
		changed = append(changed, "exp")
	}

	updated.PaymentMethod.MaskedNumber = maskedNumber(rec.UpdatedCard.Last4)
	updated.PaymentMethod.ExpMonth = rec.UpdatedCard.ExpMonth
	updated.PaymentMethod.ExpYear = rec.UpdatedCard.ExpYear

	updated.ACUData = domain.ACUData{
		LastUpdateDate: now,
		Source:         "acu",
		PreviousExp:    formatExp(current.PaymentMethod.ExpMonth, current.PaymentMethod.ExpYear),
		Confidence:     rec.UpdatedCard.UpdateConfidence,
	}

	updated.Status = domain.VaultActive
	if rec.UpdateDetails.UpdateType == domain.UpdateAccountClosure {
		updated.Status = domain.VaultDisabled
		changed = append(changed, "status")
	}

	updated.DeltaInfo = domain.DeltaInfo{
		ChangeType:      domain.ChangeUpdated,
		ChangedFields:   changed,
		ChangeTimestamp: now,
	}

	return &updated
}

func maskedNumber(last4 string) string {
	return "****-****-****-" + last4
}

func formatExp(month, year int) string {
	return fmt.Sprintf("%02d/%04d", month, year)
}
