package validation

import (
	"fmt"
	"time"

	"github.com/cardvault/reconciler/internal/domain"
)

// Validate runs the structural and semantic checks for a single card update
// candidate. It is a pure function: processing time is injected so the expiry
// boundary check is deterministic in tests.
//
// Errors are fatal to the record; warnings are advisory and feed the decision
// policy. Confidence starts at high and is only ever lowered by individual
// rules, never raised, so the result does not depend on rule ordering.
func Validate(rec *domain.CardUpdateRecord, now time.Time) domain.ValidationResult {
	res := domain.ValidationResult{
		ConfidenceAssessment: domain.ConfidenceHigh,
	}

	// Required fields.
	if rec.VaultID == "" {
		res.Errors = append(res.Errors, "vault_id is required")
	}
	if rec.UpdatedCard.Last4 == "" {
		res.Errors = append(res.Errors, "updated card last4 is required")
	}
	if rec.UpdatedCard.ExpMonth == 0 && rec.UpdatedCard.ExpYear == 0 {
		res.Errors = append(res.Errors, "updated card expiry is required")
	} else if !expiryInFuture(rec.UpdatedCard.ExpMonth, rec.UpdatedCard.ExpYear, now) {
		// Strictly future: an expiry equal to the current month is already
		// unusable for the next billing cycle.
		res.Errors = append(res.Errors, "updated card expiry invalid or past")
	}

	last4Changed := rec.PreviousCard.Last4 != "" &&
		rec.PreviousCard.Last4 != rec.UpdatedCard.Last4
	expiryChanged := rec.PreviousCard.ExpMonth != rec.UpdatedCard.ExpMonth ||
		rec.PreviousCard.ExpYear != rec.UpdatedCard.ExpYear

	// A new card number should only arrive as a reissue.
	if last4Changed && rec.UpdateDetails.UpdateType != domain.UpdateReissue {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"card number changed but update type is %q, expected %q",
			rec.UpdateDetails.UpdateType, domain.UpdateReissue,
		))
		res.ConfidenceAssessment = stepDown(res.ConfidenceAssessment)
	}

	// No-op updates from the network are suspicious enough to distrust.
	if !last4Changed && !expiryChanged {
		res.Warnings = append(res.Warnings, "no detectable change between previous and updated card")
		res.ConfidenceAssessment = res.ConfidenceAssessment.Downgrade(domain.ConfidenceLow)
	}

	// Source confidence from the updater network.
	switch uc := rec.UpdatedCard.UpdateConfidence; {
	case uc < 70:
		res.Warnings = append(res.Warnings, fmt.Sprintf("low updater confidence (%d)", uc))
		res.ConfidenceAssessment = res.ConfidenceAssessment.Downgrade(domain.ConfidenceLow)
	case uc < 85:
		res.ConfidenceAssessment = res.ConfidenceAssessment.Downgrade(domain.ConfidenceMedium)
	}

	if rec.RiskIndicators.FraudScore > 70 {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"elevated fraud score (%d)", rec.RiskIndicators.FraudScore,
		))
		res.ConfidenceAssessment = res.ConfidenceAssessment.Downgrade(domain.ConfidenceLow)
	}

	if rec.TransactionContext.RecentFailedAttempts > 3 {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"%d recent failed billing attempts", rec.TransactionContext.RecentFailedAttempts,
		))
	}

	if rec.UpdateDetails.UpdateType == domain.UpdateAccountClosure {
		res.Warnings = append(res.Warnings, "account closed by issuer, billing should be suspended")
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

// Assess runs the full pure pipeline for one record: validation, risk
// scoring, and the action decision. The vault record may be nil when the
// credential is not yet known to the store.
func Assess(rec *domain.CardUpdateRecord, vault *domain.VaultRecord, now time.Time) domain.ValidationResult {
	res := Validate(rec, now)
	res.RiskScore = Score(rec, vault)
	res.RecommendedAction = Decide(&res, rec.UpdateDetails.RequiresValidation)
	return res
}

func expiryInFuture(month, year int, now time.Time) bool {
	if month < 1 || month > 12 {
		return false
	}
	if year != now.Year() {
		return year > now.Year()
	}
	return month > int(now.Month())
}

// stepDown lowers confidence exactly one level, flooring at low.
func stepDown(c domain.ConfidenceLevel) domain.ConfidenceLevel {
	switch c {
	case domain.ConfidenceHigh:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}
