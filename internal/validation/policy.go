package validation

import "github.com/cardvault/reconciler/internal/domain"

// Thresholds for the review branch of the decision table.
const (
	maxWarningsBeforeReview = 2
	maxRiskBeforeReview     = 50
)

// Decide maps a validation result to the recommended action. The table is
// evaluated top to bottom, first match wins, and the precedence is
// load-bearing: structural validity dominates confidence, confidence
// dominates warning volume and risk.
func Decide(v *domain.ValidationResult, requiresValidation bool) domain.RecommendedAction {
	switch {
	case len(v.Errors) > 0:
		return domain.ActionReject
	case requiresValidation || v.ConfidenceAssessment == domain.ConfidenceLow:
		return domain.ActionVerifyWithCustomer
	case len(v.Warnings) > maxWarningsBeforeReview || v.RiskScore > maxRiskBeforeReview:
		return domain.ActionReview
	default:
		return domain.ActionApply
	}
}
