package validation

import "github.com/cardvault/reconciler/internal/domain"

// flagWeight is the score added per distinct risk or compliance flag.
const flagWeight = 15

// Score computes the bounded 0-100 risk score for an update candidate. The
// base is the updater-reported fraud score; each distinct flag across the
// record's risk flags and the vault record's compliance flags adds a fixed
// weight. A flag present on both sides counts once.
func Score(rec *domain.CardUpdateRecord, vault *domain.VaultRecord) int {
	score := rec.RiskIndicators.FraudScore

	seen := make(map[string]struct{})
	for _, f := range rec.RiskIndicators.RiskFlags {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		score += flagWeight
	}
	if vault != nil {
		for _, f := range vault.RiskAssessment.ComplianceFlags {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			score += flagWeight
		}
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
