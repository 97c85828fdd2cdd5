package domain

import "time"

type VaultStatus string

const (
	VaultActive        VaultStatus = "active"
	VaultDisabled      VaultStatus = "disabled"
	VaultExpired       VaultStatus = "expired"
	VaultPendingUpdate VaultStatus = "pending_update"
)

type ChangeType string

const (
	ChangeNew         ChangeType = "new"
	ChangeUpdated     ChangeType = "updated"
	ChangeDeleted     ChangeType = "deleted"
	ChangeReactivated ChangeType = "reactivated"
)

type PaymentMethod struct {
	Type           string `json:"type"`
	MaskedNumber   string `json:"masked_number"`
	ExpMonth       int    `json:"exp_month"`
	ExpYear        int    `json:"exp_year"`
	BillingAddress string `json:"billing_address,omitempty"`
}

type ACUData struct {
	LastUpdateDate time.Time `json:"last_update_date"`
	Source         string    `json:"source,omitempty"`
	PreviousExp    string    `json:"previous_exp,omitempty"` // MM/YYYY
	Confidence     int       `json:"confidence"`
}

type DeltaInfo struct {
	ChangeType      ChangeType `json:"change_type"`
	ChangedFields   []string   `json:"changed_fields,omitempty"`
	ChangeTimestamp time.Time  `json:"change_timestamp"`
}

type RiskAssessment struct {
	RiskScore       int      `json:"risk_score"`
	RiskFlags       []string `json:"risk_flags,omitempty"`
	ComplianceFlags []string `json:"compliance_flags,omitempty"`
}

type TransactionSummary struct {
	Total      int        `json:"total"`
	Successful int        `json:"successful"`
	Failed     int        `json:"failed"`
	LastDate   *time.Time `json:"last_date,omitempty"`
}

// VaultRecord is a stored, tokenized payment credential. Records are never
// hard-deleted: a delete delta transitions Status to disabled and the row is
// retained for audit.
type VaultRecord struct {
	VaultID            string             `json:"vault_id"`
	CustomerID         string             `json:"customer_id"`
	Status             VaultStatus        `json:"status"`
	PaymentMethod      PaymentMethod      `json:"payment_method"`
	ACUData            ACUData            `json:"acu_data"`
	DeltaInfo          DeltaInfo          `json:"delta_info"`
	RiskAssessment     RiskAssessment     `json:"risk_assessment"`
	TransactionSummary TransactionSummary `json:"transaction_summary"`
}
