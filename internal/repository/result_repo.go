package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cardvault/reconciler/internal/domain"
)

// ResultRepo persists per-record processing results and the applied-update
// ledger that backs idempotent replay.
type ResultRepo struct {
	db *sql.DB
}

func NewResultRepo(db *sql.DB) *ResultRepo {
	return &ResultRepo{db: db}
}

// SaveResults stores the ordered results of a batch run. Retries overwrite
// the previous result for the same (batch, update) pair.
func (r *ResultRepo) SaveResults(batchID string, results []domain.ProcessingResult) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO processing_results
		(batch_id, update_id, seq, status, validation, application,
		 notification_sent, processed_at, next_action)
		VALUES (?,?,?,?,?,?,?,?,?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i := range results {
		res := &results[i]
		validation, err := json.Marshal(res.Validation)
		if err != nil {
			return fmt.Errorf("marshal validation %d: %w", i, err)
		}
		var application any
		if res.Application != nil {
			b, err := json.Marshal(res.Application)
			if err != nil {
				return fmt.Errorf("marshal application %d: %w", i, err)
			}
			application = string(b)
		}
		notified := 0
		if res.NotificationSent {
			notified = 1
		}
		if _, err := stmt.Exec(
			batchID, res.UpdateID, i, string(res.Status), string(validation),
			application, notified,
			res.ProcessedAt.UTC().Format(time.RFC3339Nano), res.NextAction,
		); err != nil {
			return fmt.Errorf("insert result %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetByBatch returns a batch's results in submission order.
func (r *ResultRepo) GetByBatch(batchID string) ([]domain.ProcessingResult, error) {
	rows, err := r.db.Query(
		`SELECT update_id, status, validation, application, notification_sent,
		 processed_at, next_action
		FROM processing_results WHERE batch_id = ? ORDER BY seq`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []domain.ProcessingResult
	for rows.Next() {
		var res domain.ProcessingResult
		var status, validation, processedAt string
		var application, nextAction sql.NullString
		var notified int
		if err := rows.Scan(
			&res.UpdateID, &status, &validation, &application,
			&notified, &processedAt, &nextAction,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		res.Status = domain.ProcessingStatus(status)
		if err := json.Unmarshal([]byte(validation), &res.Validation); err != nil {
			return nil, fmt.Errorf("unmarshal validation: %w", err)
		}
		if application.Valid && application.String != "" {
			var outcome domain.ApplicationOutcome
			if err := json.Unmarshal([]byte(application.String), &outcome); err != nil {
				return nil, fmt.Errorf("unmarshal application: %w", err)
			}
			res.Application = &outcome
		}
		res.NotificationSent = notified != 0
		res.ProcessedAt = parseTimeString(processedAt)
		res.NextAction = nextAction.String
		results = append(results, res)
	}
	return results, rows.Err()
}

// MarkApplied records an update id as applied. Returns false if the id was
// already present, which is how replays are detected.
func (r *ResultRepo) MarkApplied(q execer, updateID, vaultID, backupID string) (bool, error) {
	if q == nil {
		q = r.db
	}
	res, err := q.Exec(
		`INSERT OR IGNORE INTO applied_updates (update_id, vault_id, backup_id, applied_at)
		VALUES (?,?,?,?)`,
		updateID, vaultID, backupID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("mark applied: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// WasApplied reports whether an update id has already been applied.
func (r *ResultRepo) WasApplied(updateID string) (bool, error) {
	var n int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM applied_updates WHERE update_id = ?", updateID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check applied: %w", err)
	}
	return n > 0, nil
}
