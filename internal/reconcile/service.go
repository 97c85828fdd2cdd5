package reconcile

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/cardvault/reconciler/internal/domain"
	"github.com/cardvault/reconciler/internal/metrics"
	"github.com/cardvault/reconciler/internal/repository"
)

// Service reconciles vault-export delta streams against current vault state.
// Deltas are consumed once; records are never hard-deleted, a DELETE only
// disables the credential.
type Service struct {
	vaultRepo *repository.VaultRepo
}

func NewService(vaultRepo *repository.VaultRepo) *Service {
	return &Service{vaultRepo: vaultRepo}
}

// Reconcile applies a batch of insert/update/delete changes. Each change is
// checked and applied inside its own transaction, so the conflict check and
// the write cannot be interleaved with another writer (no lost updates).
//
// A change with a missing record id, change type, or timestamp is routed to
// manual review instead of being guessed at. An UPDATE conflicts when either
// an earlier delta in this pass already wrote the record, or the stored
// record carries a newer change timestamp than the delta; both resolve
// last-writer-wins on the delta timestamp.
func (s *Service) Reconcile(ctx context.Context, changes []domain.DeltaChange) (*domain.DeltaSummary, error) {
	summary := &domain.DeltaSummary{Total: len(changes)}
	written := make(map[string]time.Time) // record id -> timestamp applied this pass

	for i := range changes {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		change := &changes[i]

		if change.RecordID == "" || change.ChangeType == "" || change.Timestamp.IsZero() {
			summary.ManualReviewRequired++
			log.Printf("[reconcile] WARNING: delta %d missing required fields (id=%q type=%q)",
				i, change.RecordID, change.ChangeType)
			continue
		}

		var err error
		switch change.ChangeType {
		case domain.DeltaInsert:
			err = s.applyInsert(change)
			if err == nil {
				summary.Inserts++
			}
		case domain.DeltaUpdate:
			var conflicted bool
			conflicted, err = s.applyUpdate(change, written)
			if err == nil {
				summary.Updates++
				if conflicted {
					summary.ConflictsResolved++
					metrics.ConflictsResolved.Inc()
				}
			}
		case domain.DeltaDelete:
			err = s.applyDelete(change)
			if err == nil {
				summary.Deletes++
			}
		default:
			summary.ManualReviewRequired++
			log.Printf("[reconcile] WARNING: delta %d has unknown change type %q",
				i, change.ChangeType)
			continue
		}

		if err != nil {
			summary.ManualReviewRequired++
			log.Printf("[reconcile] WARNING: delta for %s failed: %v", change.RecordID, err)
			continue
		}
		metrics.DeltasProcessed.WithLabelValues(string(change.ChangeType)).Inc()
	}

	log.Printf("[reconcile] pass done: total=%d inserts=%d updates=%d deletes=%d conflicts=%d review=%d",
		summary.Total, summary.Inserts, summary.Updates, summary.Deletes,
		summary.ConflictsResolved, summary.ManualReviewRequired)

	return summary, nil
}

func (s *Service) applyInsert(change *domain.DeltaChange) error {
	tx, err := s.vaultRepo.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	current, err := s.vaultRepo.Get(tx, change.RecordID)
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}

	if current == nil {
		rec := recordFromInsert(change)
		if err := s.vaultRepo.Upsert(tx, rec); err != nil {
			return err
		}
		return tx.Commit()
	}

	// Exports can replay history: an INSERT for a known record is merged
	// under the same last-writer-wins rule as an update.
	if change.Timestamp.After(current.DeltaInfo.ChangeTimestamp) {
		applyFields(current, change, domain.ChangeUpdated)
		if err := s.vaultRepo.Upsert(tx, current); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Service) applyUpdate(change *domain.DeltaChange, written map[string]time.Time) (conflicted bool, err error) {
	tx, err := s.vaultRepo.Begin()
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	current, err := s.vaultRepo.Get(tx, change.RecordID)
	if err != nil {
		return false, fmt.Errorf("load record: %w", err)
	}
	if current == nil {
		return false, fmt.Errorf("update for unknown record %s", change.RecordID)
	}

	_, writtenThisPass := written[change.RecordID]
	staleAgainstStore := current.DeltaInfo.ChangeTimestamp.After(change.Timestamp)
	conflicted = writtenThisPass || staleAgainstStore

	// Last writer wins: apply only if the delta is the newest information
	// about this record.
	if change.Timestamp.After(current.DeltaInfo.ChangeTimestamp) {
		applyFields(current, change, domain.ChangeUpdated)
		if err := s.vaultRepo.Upsert(tx, current); err != nil {
			return conflicted, err
		}
		written[change.RecordID] = change.Timestamp
	} else if conflicted {
		log.Printf("[reconcile] conflict on %s: keeping state from %s over delta at %s",
			change.RecordID,
			current.DeltaInfo.ChangeTimestamp.Format(time.RFC3339),
			change.Timestamp.Format(time.RFC3339))
	}

	return conflicted, tx.Commit()
}

func (s *Service) applyDelete(change *domain.DeltaChange) error {
	tx, err := s.vaultRepo.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	current, err := s.vaultRepo.Get(tx, change.RecordID)
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}
	if current == nil {
		return fmt.Errorf("delete for unknown record %s", change.RecordID)
	}

	// Soft delete only; history stays for audit.
	current.Status = domain.VaultDisabled
	current.DeltaInfo = domain.DeltaInfo{
		ChangeType:      domain.ChangeDeleted,
		ChangedFields:   []string{"status"},
		ChangeTimestamp: change.Timestamp,
	}
	if err := s.vaultRepo.Upsert(tx, current); err != nil {
		return err
	}
	return tx.Commit()
}

// applyFields copies the delta's changed fields onto the record and stamps
// its delta info. Unknown field names are ignored rather than guessed.
func applyFields(rec *domain.VaultRecord, change *domain.DeltaChange, ct domain.ChangeType) {
	var applied []string
	for field, value := range change.ChangedFields {
		switch field {
		case "status":
			rec.Status = domain.VaultStatus(value)
		case "customer_id":
			rec.CustomerID = value
		case "type":
			rec.PaymentMethod.Type = value
		case "masked_number":
			rec.PaymentMethod.MaskedNumber = value
		case "exp_month":
			if v, err := strconv.Atoi(value); err == nil && v >= 1 && v <= 12 {
				rec.PaymentMethod.ExpMonth = v
			} else {
				continue
			}
		case "exp_year":
			if v, err := strconv.Atoi(value); err == nil && v > 0 {
				rec.PaymentMethod.ExpYear = v
			} else {
				continue
			}
		case "billing_address":
			rec.PaymentMethod.BillingAddress = value
		default:
			continue
		}
		applied = append(applied, field)
	}
	sort.Strings(applied)

	rec.DeltaInfo = domain.DeltaInfo{
		ChangeType:      ct,
		ChangedFields:   applied,
		ChangeTimestamp: change.Timestamp,
	}
}

func recordFromInsert(change *domain.DeltaChange) *domain.VaultRecord {
	rec := &domain.VaultRecord{
		VaultID: change.RecordID,
		Status:  domain.VaultActive,
		PaymentMethod: domain.PaymentMethod{
			Type: "card",
		},
		ACUData: domain.ACUData{
			Source: change.Source,
		},
	}
	applyFields(rec, change, domain.ChangeNew)
	return rec
}
