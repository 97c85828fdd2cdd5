package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cardvault/reconciler/internal/domain"
)

// BatchInfo is the stored header of a submitted batch.
type BatchInfo struct {
	BatchID       string    `json:"batch_id"`
	Kind          string    `json:"kind"` // "card_updates" or "vault_export"
	DeclaredCount int       `json:"declared_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// BatchRepo stores submitted batch payloads so the retry and status
// endpoints can operate on the original records.
type BatchRepo struct {
	db *sql.DB
}

func NewBatchRepo(db *sql.DB) *BatchRepo {
	return &BatchRepo{db: db}
}

func (r *BatchRepo) Insert(batchID, kind string, declared int, records []domain.CardUpdateRecord) error {
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = r.db.Exec(
		`INSERT OR REPLACE INTO batches (batch_id, kind, declared_count, payload, created_at)
		VALUES (?,?,?,?,?)`,
		batchID, kind, declared, string(payload),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// Get returns the batch header, or (nil, nil) if unknown.
func (r *BatchRepo) Get(batchID string) (*BatchInfo, error) {
	row := r.db.QueryRow(
		"SELECT batch_id, kind, declared_count, created_at FROM batches WHERE batch_id = ?",
		batchID,
	)
	var info BatchInfo
	var createdAt string
	err := row.Scan(&info.BatchID, &info.Kind, &info.DeclaredCount, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	info.CreatedAt = parseTimeString(createdAt)
	return &info, nil
}

// Records returns the original card update records submitted with a batch.
func (r *BatchRepo) Records(batchID string) ([]domain.CardUpdateRecord, error) {
	var payload string
	err := r.db.QueryRow("SELECT payload FROM batches WHERE batch_id = ?", batchID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query batch payload: %w", err)
	}
	var records []domain.CardUpdateRecord
	if err := json.Unmarshal([]byte(payload), &records); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return records, nil
}

// FeedExistsByHash reports whether an ACU feed file with this content hash
// was already ingested.
func (r *BatchRepo) FeedExistsByHash(hash string) (bool, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM ingested_feeds WHERE file_hash = ?", hash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check feed hash: %w", err)
	}
	return n > 0, nil
}

func (r *BatchRepo) InsertFeed(feedID, hash string, recordCount int) error {
	_, err := r.db.Exec(
		`INSERT INTO ingested_feeds (file_hash, feed_id, record_count, ingested_at)
		VALUES (?,?,?,?)`,
		hash, feedID, recordCount, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert feed: %w", err)
	}
	return nil
}
