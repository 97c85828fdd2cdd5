package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cardvault/reconciler/internal/domain"
)

// Backup is a point-in-time snapshot of a vault record taken before an
// approved update mutates it. It is what makes rollback possible.
type Backup struct {
	BackupID  string             `json:"backup_id"`
	VaultID   string             `json:"vault_id"`
	UpdateID  string             `json:"update_id"`
	Snapshot  domain.VaultRecord `json:"snapshot"`
	CreatedAt time.Time          `json:"created_at"`
}

type BackupRepo struct {
	db *sql.DB
}

func NewBackupRepo(db *sql.DB) *BackupRepo {
	return &BackupRepo{db: db}
}

func (r *BackupRepo) Insert(q execer, b *Backup) error {
	if q == nil {
		q = r.db
	}
	snapshot, err := json.Marshal(b.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = q.Exec(
		`INSERT INTO vault_backups (backup_id, vault_id, update_id, snapshot, created_at)
		VALUES (?,?,?,?,?)`,
		b.BackupID, b.VaultID, b.UpdateID, string(snapshot),
		b.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert backup: %w", err)
	}
	return nil
}

// GetByUpdateID returns the most recent backup taken for the given update,
// or (nil, nil) if none exists.
func (r *BackupRepo) GetByUpdateID(updateID string) (*Backup, error) {
	row := r.db.QueryRow(
		`SELECT backup_id, vault_id, update_id, snapshot, created_at
		FROM vault_backups WHERE update_id = ? ORDER BY created_at DESC LIMIT 1`,
		updateID,
	)

	var b Backup
	var snapshot, createdAt string
	err := row.Scan(&b.BackupID, &b.VaultID, &b.UpdateID, &snapshot, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan backup: %w", err)
	}
	if err := json.Unmarshal([]byte(snapshot), &b.Snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	b.CreatedAt = parseTimeString(createdAt)
	return &b, nil
}
