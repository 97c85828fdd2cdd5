package domain

import "time"

type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// confidenceRank orders levels for downgrade-only comparisons; lower is worse.
var confidenceRank = map[ConfidenceLevel]int{
	ConfidenceLow:    0,
	ConfidenceMedium: 1,
	ConfidenceHigh:   2,
}

// Downgrade returns the lower of c and target. Confidence moves only
// downward within a validation pass, so the result is independent of the
// order the rules fire in.
func (c ConfidenceLevel) Downgrade(target ConfidenceLevel) ConfidenceLevel {
	if confidenceRank[target] < confidenceRank[c] {
		return target
	}
	return c
}

type RecommendedAction string

const (
	ActionApply              RecommendedAction = "apply"
	ActionReview             RecommendedAction = "review"
	ActionReject             RecommendedAction = "reject"
	ActionVerifyWithCustomer RecommendedAction = "verify_with_customer"
)

// ValidationResult is the pure output of Validator + RiskScorer. It is never
// persisted on its own, only as part of a ProcessingResult.
type ValidationResult struct {
	IsValid              bool              `json:"is_valid"`
	ConfidenceAssessment ConfidenceLevel   `json:"confidence_assessment"`
	Errors               []string          `json:"errors,omitempty"`
	Warnings             []string          `json:"warnings,omitempty"`
	RiskScore            int               `json:"risk_score"`
	RecommendedAction    RecommendedAction `json:"recommended_action,omitempty"`
}

type ProcessingStatus string

const (
	StatusSuccess            ProcessingStatus = "SUCCESS"
	StatusFailed             ProcessingStatus = "FAILED"
	StatusPendingReview      ProcessingStatus = "PENDING_REVIEW"
	StatusRequiresValidation ProcessingStatus = "REQUIRES_VALIDATION"
)

type SubscriptionImpact string

const (
	ImpactNone            SubscriptionImpact = "no_impact"
	ImpactPausedTemporary SubscriptionImpact = "billing_paused_temporarily"
	ImpactSuspended       SubscriptionImpact = "billing_suspended"
)

// ApplicationOutcome reports which apply sub-steps completed, so a fault
// mid-mutation never leaves the record's state ambiguous.
type ApplicationOutcome struct {
	VaultUpdated         bool               `json:"vault_updated"`
	BackedUp             bool               `json:"backed_up"`
	BackupID             string             `json:"backup_id,omitempty"`
	BillingStatusChanged bool               `json:"billing_status_changed"`
	RollbackAvailable    bool               `json:"rollback_available"`
	SubscriptionImpact   SubscriptionImpact `json:"subscription_impact"`
}

// ProcessingResult is the immutable per-record outcome of one batch run.
type ProcessingResult struct {
	UpdateID         string              `json:"update_id"`
	Status           ProcessingStatus    `json:"status"`
	Validation       ValidationResult    `json:"validation"`
	Application      *ApplicationOutcome `json:"application_outcome,omitempty"`
	NotificationSent bool                `json:"notification_sent"`
	ProcessedAt      time.Time           `json:"processed_at"`
	NextAction       string              `json:"next_action,omitempty"`
}

// BatchSummary aggregates ProcessingResults by final status.
type BatchSummary struct {
	BatchID            string    `json:"batch_id"`
	Total              int       `json:"total"`
	Succeeded          int       `json:"succeeded"`
	Failed             int       `json:"failed"`
	PendingReview      int       `json:"pending_review"`
	RequiresValidation int       `json:"requires_validation"`
	ProcessedAt        time.Time `json:"processed_at"`
}

// Tally folds one result into the summary counts.
func (s *BatchSummary) Tally(r *ProcessingResult) {
	s.Total++
	switch r.Status {
	case StatusSuccess:
		s.Succeeded++
	case StatusFailed:
		s.Failed++
	case StatusPendingReview:
		s.PendingReview++
	case StatusRequiresValidation:
		s.RequiresValidation++
	}
}
