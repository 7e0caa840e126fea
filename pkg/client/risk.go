package client

import (
	"context"
	"time"

	"github.com/turtacn/karin-compliance/pkg/errors"
)

// CaseAttributes feed the probability and impact estimate.
type CaseAttributes struct {
	Anonymous         bool   `json:"anonymous"`
	HasEvidence       bool   `json:"has_evidence"`
	EvidenceCount     int    `json:"evidence_count"`
	Recurrent         bool   `json:"recurrent"`
	InvolvedHierarchy string `json:"involved_hierarchy,omitempty"`
	WitnessCount      int    `json:"witness_count"`
}

// AISignal is a model-produced severity estimate.  Both values are in [0,1].
type AISignal struct {
	Severity   float64  `json:"severity"`
	Confidence float64  `json:"confidence"`
	Indicators []string `json:"indicators,omitempty"`
	Model      string   `json:"model,omitempty"`
}

// AnalyzeRequest asks for a unified risk analysis of a narrative.
type AnalyzeRequest struct {
	CaseID      string            `json:"case_id,omitempty"`
	Narrative   string            `json:"narrative"`
	Probability *int              `json:"probability,omitempty"`
	Impact      *int              `json:"impact,omitempty"`
	Attributes  CaseAttributes    `json:"attributes"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	AISignal    *AISignal         `json:"ai_signal,omitempty"`
}

// Offense is a catalogue entry matched in the narrative.
type Offense struct {
	ID                    string   `json:"id"`
	Category              string   `json:"category"`
	Statute               string   `json:"statute"`
	Article               string   `json:"article"`
	Description           string   `json:"description"`
	AppliesToOrganization bool     `json:"applies_to_organization"`
	BaseRiskLevel         string   `json:"base_risk_level"`
	Keywords              []string `json:"keywords"`
}

// OffenseMatch is a matched offense with the keywords that triggered it.
type OffenseMatch struct {
	Entry           Offense  `json:"entry"`
	MatchedKeywords []string `json:"matched_keywords"`
	Relevance       float64  `json:"relevance"`
}

// ComplianceEvaluation is the rule-based half of an analysis.
type ComplianceEvaluation struct {
	MatchedOffenses    []OffenseMatch `json:"matched_offenses"`
	Probability        int            `json:"probability"`
	Impact             int            `json:"impact"`
	RiskValue          int            `json:"risk_value"`
	RiskLevel          string         `json:"risk_level"`
	Urgency            string         `json:"urgency"`
	SuggestedControls  []string       `json:"suggested_controls"`
	RecommendedActions []string       `json:"recommended_actions"`
	EstimatedBy        string         `json:"estimated_by"`
}

// RiskResult combines the compliance evaluation with the AI signal.  A nil
// AISignal means the analysis fell back to compliance only.
type RiskResult struct {
	AnalysisID           string               `json:"analysis_id"`
	CaseID               string               `json:"case_id,omitempty"`
	ComplianceEvaluation ComplianceEvaluation `json:"compliance_evaluation"`
	AISignal             *AISignal            `json:"ai_signal"`
	ComplianceScore      float64              `json:"compliance_score"`
	UnifiedScore         float64              `json:"unified_score"`
	UnifiedLevel         string               `json:"unified_level"`
	Urgency              string               `json:"urgency"`
	Explanation          []string             `json:"explanation"`
	ProcessingTimeMs     int64                `json:"processing_time_ms"`
	EvaluatedAt          time.Time            `json:"evaluated_at"`
}

// Degraded reports whether the AI signal was unavailable.
func (r *RiskResult) Degraded() bool { return r.AISignal == nil }

// RiskClient runs risk analyses.
type RiskClient struct {
	client *Client
}

// Analyze runs a unified analysis.
func (rc *RiskClient) Analyze(ctx context.Context, req *AnalyzeRequest) (*RiskResult, error) {
	if req == nil || req.Narrative == "" {
		return nil, errors.Validation("narrative is required")
	}
	for name, v := range map[string]*int{"probability": req.Probability, "impact": req.Impact} {
		if v != nil && (*v < 1 || *v > 5) {
			return nil, errors.Validation(name + " must be between 1 and 5")
		}
	}
	var out RiskResult
	if err := rc.client.post(ctx, "/api/v1/risk/analyze", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
