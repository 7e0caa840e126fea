//go:build e2e

package e2e_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/karin-compliance/pkg/client"
)

func TestRiskAnalyze(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p, i := 4, 5
	res, err := env.sdk.As(intake).Risk().Analyze(ctx, &client.AnalyzeRequest{
		CaseID:      caseID(t),
		Narrative:   "El gerente exigió un soborno a un funcionario público para adjudicar el contrato.",
		Probability: &p,
		Impact:      &i,
		Attributes:  client.CaseAttributes{HasEvidence: true, EvidenceCount: 2, InvolvedHierarchy: "Manager"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AnalysisID)
	assert.Equal(t, 20, res.ComplianceEvaluation.RiskValue)

	var ids []string
	for _, m := range res.ComplianceEvaluation.MatchedOffenses {
		ids = append(ids, m.Entry.ID)
	}
	assert.Contains(t, ids, "cohecho")
	assert.NotEmpty(t, res.UnifiedLevel)
	if res.Degraded() {
		assert.Equal(t, res.ComplianceScore, res.UnifiedScore)
	}
}

func TestRiskAnalyze_EmptyNarrative(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := env.sdk.As(intake).Risk().Analyze(ctx, &client.AnalyzeRequest{Narrative: "  "})
	require.Error(t, err)
}
