package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardvault/reconciler/internal/domain"
	"github.com/cardvault/reconciler/internal/repository"
)

func newTestService(t *testing.T) (*Service, *repository.VaultRepo) {
	t.Helper()
	db, err := repository.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	vaultRepo := repository.NewVaultRepo(db)
	return NewService(vaultRepo), vaultRepo
}

func seedRecord(t *testing.T, repo *repository.VaultRepo, vaultID string, changedAt time.Time) {
	t.Helper()
	rec := &domain.VaultRecord{
		VaultID:    vaultID,
		CustomerID: "CUS-" + vaultID,
		Status:     domain.VaultActive,
		PaymentMethod: domain.PaymentMethod{
			Type:         "card",
			MaskedNumber: "****-****-****-4242",
			ExpMonth:     6,
			ExpYear:      2027,
		},
		DeltaInfo: domain.DeltaInfo{
			ChangeType:      domain.ChangeNew,
			ChangeTimestamp: changedAt,
		},
	}
	require.NoError(t, repo.Upsert(nil, rec))
}

var baseTime = time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)

func TestReconcile_MissingFieldsGoToManualReview(t *testing.T) {
	svc, _ := newTestService(t)

	changes := []domain.DeltaChange{
		{ChangeType: domain.DeltaUpdate, Timestamp: baseTime},            // no record id
		{RecordID: "VLT-001", Timestamp: baseTime},                       // no change type
		{RecordID: "VLT-001", ChangeType: domain.DeltaUpdate},            // no timestamp
		{RecordID: "VLT-001", ChangeType: "UPSERT", Timestamp: baseTime}, // unknown type
	}

	summary, err := svc.Reconcile(context.Background(), changes)
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 4, summary.ManualReviewRequired)
	assert.Zero(t, summary.Inserts+summary.Updates+summary.Deletes)
}

func TestReconcile_InsertCreatesRecord(t *testing.T) {
	svc, vaultRepo := newTestService(t)

	changes := []domain.DeltaChange{{
		RecordID:   "VLT-NEW",
		ChangeType: domain.DeltaInsert,
		Timestamp:  baseTime,
		Source:     "nightly-export",
		ChangedFields: map[string]string{
			"customer_id":   "CUS-77",
			"masked_number": "****-****-****-9999",
			"exp_month":     "9",
			"exp_year":      "2028",
		},
	}}

	summary, err := svc.Reconcile(context.Background(), changes)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Inserts)

	rec, err := vaultRepo.Get(nil, "VLT-NEW")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.VaultActive, rec.Status)
	assert.Equal(t, "CUS-77", rec.CustomerID)
	assert.Equal(t, 9, rec.PaymentMethod.ExpMonth)
	assert.Equal(t, domain.ChangeNew, rec.DeltaInfo.ChangeType)
}

func TestReconcile_DeleteDisablesButRetains(t *testing.T) {
	svc, vaultRepo := newTestService(t)
	seedRecord(t, vaultRepo, "VLT-001", baseTime.Add(-time.Hour))

	changes := []domain.DeltaChange{{
		RecordID:   "VLT-001",
		ChangeType: domain.DeltaDelete,
		Timestamp:  baseTime,
	}}

	summary, err := svc.Reconcile(context.Background(), changes)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deletes)

	rec, err := vaultRepo.Get(nil, "VLT-001")
	require.NoError(t, err)
	require.NotNil(t, rec, "delete must not remove the row")
	assert.Equal(t, domain.VaultDisabled, rec.Status)
	assert.Equal(t, domain.ChangeDeleted, rec.DeltaInfo.ChangeType)
}

func TestReconcile_UpdateAppliesFields(t *testing.T) {
	svc, vaultRepo := newTestService(t)
	seedRecord(t, vaultRepo, "VLT-001", baseTime.Add(-time.Hour))

	changes := []domain.DeltaChange{{
		RecordID:   "VLT-001",
		ChangeType: domain.DeltaUpdate,
		Timestamp:  baseTime,
		ChangedFields: map[string]string{
			"exp_month": "12",
			"exp_year":  "2030",
		},
	}}

	summary, err := svc.Reconcile(context.Background(), changes)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updates)
	assert.Zero(t, summary.ConflictsResolved)

	rec, err := vaultRepo.Get(nil, "VLT-001")
	require.NoError(t, err)
	assert.Equal(t, 12, rec.PaymentMethod.ExpMonth)
	assert.Equal(t, 2030, rec.PaymentMethod.ExpYear)
	assert.Equal(t, []string{"exp_month", "exp_year"}, rec.DeltaInfo.ChangedFields)
}

func TestReconcile_UpdateUnknownRecord(t *testing.T) {
	svc, _ := newTestService(t)

	changes := []domain.DeltaChange{{
		RecordID:      "VLT-GHOST",
		ChangeType:    domain.DeltaUpdate,
		Timestamp:     baseTime,
		ChangedFields: map[string]string{"exp_year": "2030"},
	}}

	summary, err := svc.Reconcile(context.Background(), changes)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ManualReviewRequired)
	assert.Zero(t, summary.Updates)
}

// Two updates for the same record in one pass are a conflict, resolved
// last-writer-wins on the delta timestamp, counted exactly once.
func TestReconcile_ConflictLastWriterWins(t *testing.T) {
	earlier := domain.DeltaChange{
		RecordID:      "VLT-001",
		ChangeType:    domain.DeltaUpdate,
		Timestamp:     baseTime.Add(time.Minute),
		ChangedFields: map[string]string{"exp_year": "2028"},
	}
	later := domain.DeltaChange{
		RecordID:      "VLT-001",
		ChangeType:    domain.DeltaUpdate,
		Timestamp:     baseTime.Add(2 * time.Minute),
		ChangedFields: map[string]string{"exp_year": "2031"},
	}

	orders := map[string][]domain.DeltaChange{
		"earlier first": {earlier, later},
		"later first":   {later, earlier},
	}

	for name, changes := range orders {
		t.Run(name, func(t *testing.T) {
			svc, vaultRepo := newTestService(t)
			seedRecord(t, vaultRepo, "VLT-001", baseTime)

			summary, err := svc.Reconcile(context.Background(), changes)
			require.NoError(t, err)

			assert.Equal(t, 2, summary.Updates)
			assert.Equal(t, 1, summary.ConflictsResolved, "conflict counted exactly once")

			rec, err := vaultRepo.Get(nil, "VLT-001")
			require.NoError(t, err)
			assert.Equal(t, 2031, rec.PaymentMethod.ExpYear, "later timestamp wins")
			assert.True(t, rec.DeltaInfo.ChangeTimestamp.Equal(later.Timestamp))
		})
	}
}

func TestReconcile_StaleUpdateSkipped(t *testing.T) {
	svc, vaultRepo := newTestService(t)
	// Record already carries state newer than the incoming delta.
	seedRecord(t, vaultRepo, "VLT-001", baseTime.Add(time.Hour))

	changes := []domain.DeltaChange{{
		RecordID:      "VLT-001",
		ChangeType:    domain.DeltaUpdate,
		Timestamp:     baseTime,
		ChangedFields: map[string]string{"exp_year": "2028"},
	}}

	summary, err := svc.Reconcile(context.Background(), changes)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updates)
	assert.Equal(t, 1, summary.ConflictsResolved)

	rec, err := vaultRepo.Get(nil, "VLT-001")
	require.NoError(t, err)
	assert.Equal(t, 2027, rec.PaymentMethod.ExpYear, "stale delta must not overwrite newer state")
}

func TestReconcile_InsertForExistingRecordMerges(t *testing.T) {
	svc, vaultRepo := newTestService(t)
	seedRecord(t, vaultRepo, "VLT-001", baseTime.Add(-time.Hour))

	changes := []domain.DeltaChange{{
		RecordID:      "VLT-001",
		ChangeType:    domain.DeltaInsert,
		Timestamp:     baseTime,
		ChangedFields: map[string]string{"billing_address": "12 New Street"},
	}}

	summary, err := svc.Reconcile(context.Background(), changes)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Inserts)

	rec, err := vaultRepo.Get(nil, "VLT-001")
	require.NoError(t, err)
	assert.Equal(t, "12 New Street", rec.PaymentMethod.BillingAddress)
	assert.Equal(t, "****-****-****-4242", rec.PaymentMethod.MaskedNumber, "existing fields survive a merge")
}
