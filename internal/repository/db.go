package repository

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// InitDB opens (or creates) a SQLite database at the given path and ensures
// all required tables exist. Pass ":memory:" for an in-memory database.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite allows one writer; a single pooled connection serializes the
	// concurrent chunk workers instead of surfacing SQLITE_BUSY, and keeps
	// ":memory:" databases shared across the pool.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS vault_records (
			vault_id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			status TEXT NOT NULL,
			pm_type TEXT NOT NULL,
			masked_number TEXT NOT NULL,
			exp_month INTEGER NOT NULL,
			exp_year INTEGER NOT NULL,
			billing_address TEXT,
			acu_last_update DATETIME,
			acu_source TEXT,
			acu_previous_exp TEXT,
			acu_confidence INTEGER NOT NULL DEFAULT 0,
			change_type TEXT,
			changed_fields TEXT,
			change_timestamp DATETIME,
			risk_score INTEGER NOT NULL DEFAULT 0,
			risk_flags TEXT,
			compliance_flags TEXT,
			txn_total INTEGER NOT NULL DEFAULT 0,
			txn_successful INTEGER NOT NULL DEFAULT 0,
			txn_failed INTEGER NOT NULL DEFAULT 0,
			txn_last_date DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vault_records_customer ON vault_records(customer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_vault_records_status ON vault_records(status)`,

		`CREATE TABLE IF NOT EXISTS vault_backups (
			backup_id TEXT PRIMARY KEY,
			vault_id TEXT NOT NULL,
			update_id TEXT NOT NULL,
			snapshot TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vault_backups_vault ON vault_backups(vault_id)`,
		`CREATE INDEX IF NOT EXISTS idx_vault_backups_update ON vault_backups(update_id)`,

		`CREATE TABLE IF NOT EXISTS applied_updates (
			update_id TEXT PRIMARY KEY,
			vault_id TEXT NOT NULL,
			backup_id TEXT,
			applied_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS batches (
			batch_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			declared_count INTEGER NOT NULL,
			payload TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS processing_results (
			batch_id TEXT NOT NULL,
			update_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			status TEXT NOT NULL,
			validation TEXT NOT NULL,
			application TEXT,
			notification_sent INTEGER NOT NULL DEFAULT 0,
			processed_at DATETIME NOT NULL,
			next_action TEXT,
			PRIMARY KEY (batch_id, update_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_processing_results_batch ON processing_results(batch_id)`,

		`CREATE TABLE IF NOT EXISTS ingested_feeds (
			file_hash TEXT PRIMARY KEY,
			feed_id TEXT NOT NULL,
			record_count INTEGER NOT NULL,
			ingested_at DATETIME NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:60], err)
		}
	}

	return nil
}
