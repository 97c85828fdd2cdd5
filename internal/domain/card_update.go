package domain

type UpdateType string

const (
	UpdateExpiryChange   UpdateType = "expiry_change"
	UpdateReissue        UpdateType = "reissue"
	UpdateAccountClosure UpdateType = "account_closure"
	UpdateIssuerUpdate   UpdateType = "issuer_update"
	UpdateCustomerUpdate UpdateType = "customer_update"
)

// CardInfo describes a card as reported by the updater network. Only the
// last four digits ever leave the vault; full PANs never enter this system.
type CardInfo struct {
	Last4            string `json:"last4"`
	ExpMonth         int    `json:"exp_month"`
	ExpYear          int    `json:"exp_year"`
	Brand            string `json:"brand,omitempty"`
	UpdateConfidence int    `json:"update_confidence,omitempty"` // 0-100, updated card only
}

type UpdateDetails struct {
	UpdateType         UpdateType `json:"update_type"`
	RequiresValidation bool       `json:"requires_validation"`
}

type CustomerInfo struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
}

type TransactionContext struct {
	RecentFailedAttempts int     `json:"recent_failed_attempts"`
	LastAmount           float64 `json:"last_amount,omitempty"`
	SubscriptionStatus   string  `json:"subscription_status,omitempty"`
}

type RiskIndicators struct {
	FraudScore           int      `json:"fraud_score"`
	RiskFlags            []string `json:"risk_flags,omitempty"`
	RequiresManualReview bool     `json:"requires_manual_review"`
}

// CardUpdateRecord is one ACU-sourced update candidate. UpdateID is unique
// within a batch and doubles as the idempotency key: replaying an already
// applied id must not mutate the vault again.
type CardUpdateRecord struct {
	UpdateID           string             `json:"update_id"`
	VaultID            string             `json:"vault_id"`
	CustomerID         string             `json:"customer_id"`
	PreviousCard       CardInfo           `json:"previous_card"`
	UpdatedCard        CardInfo           `json:"updated_card"`
	UpdateDetails      UpdateDetails      `json:"update_details"`
	CustomerInfo       CustomerInfo       `json:"customer_info"`
	TransactionContext TransactionContext `json:"transaction_context"`
	RiskIndicators     RiskIndicators     `json:"risk_indicators"`
}

// ProcessingOptions are caller-supplied knobs for a single batch run.
type ProcessingOptions struct {
	PauseBillingDuringUpdate bool `json:"pause_billing_during_update"`
	NotifyCustomers          bool `json:"notify_customers"`
}
