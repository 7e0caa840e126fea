package compliance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultEstimator(t *testing.T) {
	t.Parallel()
	high := []OffenseMatch{{Entry: OffenseCatalogEntry{BaseRiskLevel: SeverityHigh}}}
	critical := []OffenseMatch{{Entry: OffenseCatalogEntry{BaseRiskLevel: SeverityCritical}}}

	tests := []struct {
		name    string
		attrs   CaseAttributes
		matches []OffenseMatch
		p, i    int
	}{
		{"bare", CaseAttributes{}, nil, 2, 1},
		{"anonymous only", CaseAttributes{Anonymous: true}, nil, 1, 1},
		{"all aggravating", CaseAttributes{HasEvidence: true, Recurrent: true, WitnessCount: 2}, high, 5, 4},
		{"evidence count counts", CaseAttributes{EvidenceCount: 3}, nil, 3, 1},
		{"executive critical clamps", CaseAttributes{InvolvedHierarchy: HierarchyExecutive}, critical, 2, 5},
		{"manager bumps impact", CaseAttributes{InvolvedHierarchy: HierarchyManager}, high, 2, 5},
		{"supervisor does not", CaseAttributes{InvolvedHierarchy: HierarchySupervisor}, high, 2, 4},
		{"anonymous with evidence", CaseAttributes{Anonymous: true, HasEvidence: true}, nil, 2, 1},
	}
	e := DefaultEstimator{}
	assert.Equal(t, "default_estimator", e.Name())
	for _, tt := range tests {
		p, i := e.Estimate(tt.attrs, tt.matches)
		assert.Equal(t, tt.p, p, tt.name)
		assert.Equal(t, tt.i, i, tt.name)
	}
}
