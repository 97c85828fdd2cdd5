package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardvault/reconciler/internal/domain"
	"github.com/cardvault/reconciler/internal/notify"
)

// stubDispatcher records notifications handed across the boundary.
type stubDispatcher struct {
	mu    sync.Mutex
	notes []notify.Notification
}

func (d *stubDispatcher) Dispatch(_ context.Context, n notify.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notes = append(d.notes, n)
	return nil
}

func (d *stubDispatcher) kinds() map[notify.Kind]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[notify.Kind]int)
	for _, n := range d.notes {
		out[n.Kind]++
	}
	return out
}

func newTestOrchestrator(t *testing.T) (*BatchOrchestrator, testRepos, *stubDispatcher) {
	t.Helper()
	repos := newTestRepos(t)
	app := NewApplicationEngine(repos.vault, repos.backup, repos.result)
	dispatcher := &stubDispatcher{}
	o := NewBatchOrchestrator(repos.vault, repos.result, app, dispatcher,
		OrchestratorConfig{ChunkSize: 10, Cooldown: time.Millisecond})
	return o, repos, dispatcher
}

func TestProcessBatch_CountMismatch(t *testing.T) {
	o, repos, _ := newTestOrchestrator(t)
	seedVault(t, repos.vault, "VLT-001")
	records := []domain.CardUpdateRecord{
		makeUpdate("UPD-001", "VLT-001"),
		makeUpdate("UPD-002", "VLT-001"),
		makeUpdate("UPD-003", "VLT-001"),
		makeUpdate("UPD-004", "VLT-001"),
	}

	_, _, err := o.ProcessBatch(context.Background(), "B-1", records, 5, domain.ProcessingOptions{})
	require.ErrorIs(t, err, ErrBatchCountMismatch)

	// Nothing ran before the count check.
	applied, err := repos.result.WasApplied("UPD-001")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestProcessBatch_SubmissionOrderPreserved(t *testing.T) {
	o, repos, _ := newTestOrchestrator(t)

	var records []domain.CardUpdateRecord
	for i := 0; i < 25; i++ {
		vaultID := fmt.Sprintf("VLT-%03d", i)
		seedVault(t, repos.vault, vaultID)
		records = append(records, makeUpdate(fmt.Sprintf("UPD-%03d", i), vaultID))
	}

	_, results, err := o.ProcessBatch(context.Background(), "B-1", records, 25, domain.ProcessingOptions{})
	require.NoError(t, err)
	require.Len(t, results, 25)

	for i, res := range results {
		assert.Equal(t, records[i].UpdateID, res.UpdateID, "result %d out of order", i)
		assert.Equal(t, domain.StatusSuccess, res.Status)
	}
}

func TestProcessBatch_StatusMapping(t *testing.T) {
	o, repos, _ := newTestOrchestrator(t)
	seedVault(t, repos.vault, "VLT-001")
	seedVault(t, repos.vault, "VLT-002")
	seedVault(t, repos.vault, "VLT-003")

	clean := makeUpdate("UPD-OK", "VLT-001")

	broken := makeUpdate("UPD-BAD", "VLT-002")
	broken.UpdatedCard.ExpYear = 2020 // past expiry: structural error

	lowConf := makeUpdate("UPD-VERIFY", "VLT-003")
	lowConf.UpdatedCard.UpdateConfidence = 60

	risky := makeUpdate("UPD-REVIEW", "VLT-001")
	risky.VaultID = "VLT-001"
	risky.RiskIndicators.FraudScore = 55 // review threshold, below fraud-warning threshold

	records := []domain.CardUpdateRecord{clean, broken, lowConf, risky}
	summary, results, err := o.ProcessBatch(context.Background(), "B-1", records, 4, domain.ProcessingOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusSuccess, results[0].Status)
	assert.Equal(t, domain.StatusFailed, results[1].Status)
	assert.Contains(t, results[1].NextAction, "rejected")
	assert.Equal(t, domain.StatusRequiresValidation, results[2].Status)
	assert.Equal(t, domain.StatusPendingReview, results[3].Status)

	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.RequiresValidation)
	assert.Equal(t, 1, summary.PendingReview)
}

func TestProcessBatch_IdempotentReplay(t *testing.T) {
	o, repos, _ := newTestOrchestrator(t)
	seedVault(t, repos.vault, "VLT-001")
	records := []domain.CardUpdateRecord{makeUpdate("UPD-001", "VLT-001")}

	_, first, err := o.ProcessBatch(context.Background(), "B-1", records, 1, domain.ProcessingOptions{})
	require.NoError(t, err)
	require.Equal(t, domain.StatusSuccess, first[0].Status)

	stateAfterFirst, err := repos.vault.Get(nil, "VLT-001")
	require.NoError(t, err)

	_, second, err := o.ProcessBatch(context.Background(), "B-2", records, 1, domain.ProcessingOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, second[0].Status)
	assert.Contains(t, second[0].NextAction, "duplicate")
	assert.Nil(t, second[0].Application)

	stateAfterSecond, err := repos.vault.Get(nil, "VLT-001")
	require.NoError(t, err)
	assert.Equal(t, stateAfterFirst, stateAfterSecond)
}

func TestProcessBatch_CancelledBeforeStart(t *testing.T) {
	o, repos, _ := newTestOrchestrator(t)
	seedVault(t, repos.vault, "VLT-001")
	records := []domain.CardUpdateRecord{
		makeUpdate("UPD-001", "VLT-001"),
		makeUpdate("UPD-002", "VLT-001"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, results, err := o.ProcessBatch(ctx, "B-1", records, 2, domain.ProcessingOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, domain.StatusFailed, res.Status)
		assert.Contains(t, res.NextAction, "not processed")
	}
	assert.Equal(t, 2, summary.Failed)
}

func TestProcessBatch_NotificationDecisions(t *testing.T) {
	o, repos, dispatcher := newTestOrchestrator(t)
	seedVault(t, repos.vault, "VLT-001")
	seedVault(t, repos.vault, "VLT-002")

	clean := makeUpdate("UPD-OK", "VLT-001")
	lowConf := makeUpdate("UPD-VERIFY", "VLT-002")
	lowConf.UpdatedCard.UpdateConfidence = 60

	records := []domain.CardUpdateRecord{clean, lowConf}
	_, results, err := o.ProcessBatch(context.Background(), "B-1", records, 2,
		domain.ProcessingOptions{NotifyCustomers: true})
	require.NoError(t, err)

	assert.True(t, results[0].NotificationSent)
	assert.True(t, results[1].NotificationSent)

	kinds := dispatcher.kinds()
	assert.Equal(t, 1, kinds[notify.KindCardUpdated])
	assert.Equal(t, 1, kinds[notify.KindVerificationNeeded])
}

func TestProcessBatch_NotificationsOffByDefault(t *testing.T) {
	o, repos, dispatcher := newTestOrchestrator(t)
	seedVault(t, repos.vault, "VLT-001")
	records := []domain.CardUpdateRecord{makeUpdate("UPD-OK", "VLT-001")}

	_, results, err := o.ProcessBatch(context.Background(), "B-1", records, 1, domain.ProcessingOptions{})
	require.NoError(t, err)

	assert.False(t, results[0].NotificationSent)
	assert.Empty(t, dispatcher.kinds())
}

func TestValidateOnly_NoSideEffects(t *testing.T) {
	o, repos, _ := newTestOrchestrator(t)
	seedVault(t, repos.vault, "VLT-001")
	records := []domain.CardUpdateRecord{makeUpdate("UPD-001", "VLT-001")}

	assessments := o.ValidateOnly(records)
	require.Len(t, assessments, 1)
	assert.Equal(t, domain.ActionApply, assessments[0].RecommendedAction)

	applied, err := repos.result.WasApplied("UPD-001")
	require.NoError(t, err)
	assert.False(t, applied, "dry run must not apply")
}
