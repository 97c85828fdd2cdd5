package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cardvault/reconciler/internal/domain"
)

func TestScore_BaseIsFraudScore(t *testing.T) {
	rec := cleanRecord()
	rec.RiskIndicators.FraudScore = 37

	assert.Equal(t, 37, Score(rec, nil))
}

func TestScore_FlagsAddWeight(t *testing.T) {
	rec := cleanRecord()
	rec.RiskIndicators.FraudScore = 10
	rec.RiskIndicators.RiskFlags = []string{"velocity", "geo_mismatch"}

	assert.Equal(t, 40, Score(rec, nil))
}

func TestScore_VaultComplianceFlagsCount(t *testing.T) {
	rec := cleanRecord()
	rec.RiskIndicators.FraudScore = 10
	rec.RiskIndicators.RiskFlags = []string{"velocity"}
	vault := &domain.VaultRecord{
		RiskAssessment: domain.RiskAssessment{
			ComplianceFlags: []string{"sanctions_review", "velocity"},
		},
	}

	// "velocity" appears on both sides and counts once.
	assert.Equal(t, 40, Score(rec, vault))
}

func TestScore_DuplicateFlagsCountOnce(t *testing.T) {
	rec := cleanRecord()
	rec.RiskIndicators.FraudScore = 0
	rec.RiskIndicators.RiskFlags = []string{"velocity", "velocity", "velocity"}

	assert.Equal(t, 15, Score(rec, nil))
}

func TestScore_ClampedToUpperBound(t *testing.T) {
	rec := cleanRecord()
	rec.RiskIndicators.FraudScore = 100
	rec.RiskIndicators.RiskFlags = []string{"a", "b", "c", "d"}

	assert.Equal(t, 100, Score(rec, nil))
}

func TestScore_NeverNegative(t *testing.T) {
	rec := cleanRecord()
	rec.RiskIndicators.FraudScore = -20

	assert.Equal(t, 0, Score(rec, nil))
}
