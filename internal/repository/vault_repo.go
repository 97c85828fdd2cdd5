package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cardvault/reconciler/internal/domain"
)

// execer is satisfied by both *sql.DB and *sql.Tx so repo methods can run
// standalone or inside a caller-owned transaction. The reconciler relies on
// this for its atomic check-then-apply per record.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
}

type VaultRepo struct {
	db *sql.DB
}

func NewVaultRepo(db *sql.DB) *VaultRepo {
	return &VaultRepo{db: db}
}

// Begin starts a transaction for callers that need read-check-write atomicity.
func (r *VaultRepo) Begin() (*sql.Tx, error) {
	return r.db.Begin()
}

const vaultColumns = `vault_id, customer_id, status, pm_type, masked_number,
	exp_month, exp_year, billing_address, acu_last_update, acu_source,
	acu_previous_exp, acu_confidence, change_type, changed_fields,
	change_timestamp, risk_score, risk_flags, compliance_flags,
	txn_total, txn_successful, txn_failed, txn_last_date`

// Upsert writes a full vault record, replacing any existing row.
func (r *VaultRepo) Upsert(q execer, rec *domain.VaultRecord) error {
	if q == nil {
		q = r.db
	}
	_, err := q.Exec(
		`INSERT OR REPLACE INTO vault_records (`+vaultColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.VaultID, rec.CustomerID, string(rec.Status),
		rec.PaymentMethod.Type, rec.PaymentMethod.MaskedNumber,
		rec.PaymentMethod.ExpMonth, rec.PaymentMethod.ExpYear,
		rec.PaymentMethod.BillingAddress,
		formatTime(rec.ACUData.LastUpdateDate), rec.ACUData.Source,
		rec.ACUData.PreviousExp, rec.ACUData.Confidence,
		string(rec.DeltaInfo.ChangeType), marshalStrings(rec.DeltaInfo.ChangedFields),
		formatTime(rec.DeltaInfo.ChangeTimestamp),
		rec.RiskAssessment.RiskScore, marshalStrings(rec.RiskAssessment.RiskFlags),
		marshalStrings(rec.RiskAssessment.ComplianceFlags),
		rec.TransactionSummary.Total, rec.TransactionSummary.Successful,
		rec.TransactionSummary.Failed, formatNullableTime(rec.TransactionSummary.LastDate),
	)
	if err != nil {
		return fmt.Errorf("upsert vault record: %w", err)
	}
	return nil
}

// Get returns the vault record for the given id, or (nil, nil) if it does
// not exist.
func (r *VaultRepo) Get(q execer, vaultID string) (*domain.VaultRecord, error) {
	if q == nil {
		q = r.db
	}
	row := q.QueryRow(
		"SELECT "+vaultColumns+" FROM vault_records WHERE vault_id = ?", vaultID,
	)
	rec, err := scanVaultRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (r *VaultRepo) Count() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM vault_records").Scan(&count)
	return count, err
}

// CountByStatus returns the number of records per lifecycle status.
func (r *VaultRepo) CountByStatus() (map[domain.VaultStatus]int, error) {
	rows, err := r.db.Query("SELECT status, COUNT(*) FROM vault_records GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.VaultStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.VaultStatus(status)] = n
	}
	return counts, rows.Err()
}

func scanVaultRecord(row *sql.Row) (*domain.VaultRecord, error) {
	var rec domain.VaultRecord
	var status, changeType string
	var billingAddr, acuSource, acuPrevExp sql.NullString
	var acuLastUpdate, changedFields, changeTS sql.NullString
	var riskFlags, complianceFlags sql.NullString
	var txnLastDate sql.NullString

	err := row.Scan(
		&rec.VaultID, &rec.CustomerID, &status,
		&rec.PaymentMethod.Type, &rec.PaymentMethod.MaskedNumber,
		&rec.PaymentMethod.ExpMonth, &rec.PaymentMethod.ExpYear,
		&billingAddr, &acuLastUpdate, &acuSource, &acuPrevExp,
		&rec.ACUData.Confidence, &changeType, &changedFields, &changeTS,
		&rec.RiskAssessment.RiskScore, &riskFlags, &complianceFlags,
		&rec.TransactionSummary.Total, &rec.TransactionSummary.Successful,
		&rec.TransactionSummary.Failed, &txnLastDate,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = domain.VaultStatus(status)
	rec.PaymentMethod.BillingAddress = billingAddr.String
	rec.ACUData.Source = acuSource.String
	rec.ACUData.PreviousExp = acuPrevExp.String
	rec.ACUData.LastUpdateDate = parseTimeString(acuLastUpdate.String)
	rec.DeltaInfo.ChangeType = domain.ChangeType(changeType)
	rec.DeltaInfo.ChangedFields = unmarshalStrings(changedFields.String)
	rec.DeltaInfo.ChangeTimestamp = parseTimeString(changeTS.String)
	rec.RiskAssessment.RiskFlags = unmarshalStrings(riskFlags.String)
	rec.RiskAssessment.ComplianceFlags = unmarshalStrings(complianceFlags.String)
	if txnLastDate.Valid && txnLastDate.String != "" {
		t := parseTimeString(txnLastDate.String)
		rec.TransactionSummary.LastDate = &t
	}
	return &rec, nil
}

// --- serialization helpers ---

func marshalStrings(ss []string) string {
	if len(ss) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(ss)
	return string(b)
}

func unmarshalStrings(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(s), &ss); err != nil {
		return nil
	}
	return ss
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTimeString(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
