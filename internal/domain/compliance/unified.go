package compliance

import (
	"fmt"
	"math"
	"time"

	"github.com/turtacn/karin-compliance/pkg/errors"
	"github.com/turtacn/karin-compliance/pkg/types/common"
)

// AISignal is the opaque output of the external AI scorer.
type AISignal struct {
	Severity   float64  `json:"severity"`
	Confidence float64  `json:"confidence"`
	Indicators []string `json:"indicators,omitempty"`
	Model      string   `json:"model,omitempty"`
}

// Validate checks severity in [0,100] and confidence in [0,1].
func (s AISignal) Validate() error {
	if math.IsNaN(s.Severity) || s.Severity < 0 || s.Severity > 100 {
		return errors.Validation(fmt.Sprintf("ai severity %v outside [0,100]", s.Severity))
	}
	if math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 1 {
		return errors.Validation(fmt.Sprintf("ai confidence %v outside [0,1]", s.Confidence))
	}
	return nil
}

// AILevel maps an AI severity onto the matrix levels: <25 acceptable,
// <50 tolerable, <75 important, otherwise intolerable.
func AILevel(severity float64) RiskLevel {
	switch {
	case severity < 25:
		return RiskAcceptable
	case severity < 50:
		return RiskTolerable
	case severity < 75:
		return RiskImportant
	default:
		return RiskIntolerable
	}
}

// Weights blends the compliance and AI scores.  They must be non-negative
// and sum to 1.
type Weights struct {
	Compliance float64 `json:"compliance" mapstructure:"compliance"`
	AI         float64 `json:"ai" mapstructure:"ai"`
}

// DefaultWeights returns 60% compliance, 40% AI.
func DefaultWeights() Weights { return Weights{Compliance: 0.6, AI: 0.4} }

func (w Weights) Validate() error {
	if w.Compliance < 0 || w.AI < 0 {
		return errors.Validation("risk weights must not be negative")
	}
	if math.Abs(w.Compliance+w.AI-1) > 1e-9 {
		return errors.Validation("risk weights must sum to 1")
	}
	return nil
}

// UnifiedRiskResult is created fresh for each analysis and never mutated.
// AISignal is nil whenever the result was computed from compliance alone.
type UnifiedRiskResult struct {
	AnalysisID           string               `json:"analysis_id"`
	CaseID               string               `json:"case_id,omitempty"`
	ComplianceEvaluation ComplianceEvaluation `json:"compliance_evaluation"`
	AISignal             *AISignal            `json:"ai_signal"`
	ComplianceScore      float64              `json:"compliance_score"`
	UnifiedScore         float64              `json:"unified_score"`
	UnifiedLevel         RiskLevel            `json:"unified_level"`
	Urgency              Severity             `json:"urgency"`
	Explanation          []string             `json:"explanation"`
	ProcessingTimeMs     int64                `json:"processing_time_ms"`
	EvaluatedAt          time.Time            `json:"evaluated_at"`
}

// Degraded reports whether the AI signal was not used.
func (r UnifiedRiskResult) Degraded() bool { return r.AISignal == nil }

// Scorer merges a compliance evaluation with an AI signal.
type Scorer struct {
	weights       Weights
	minConfidence float64
}

// NewScorer validates weights.  Signals with confidence below minConfidence
// are treated as unavailable.
func NewScorer(weights Weights, minConfidence float64) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if minConfidence < 0 || minConfidence > 1 {
		return nil, errors.Validation("minimum AI confidence must be within [0,1]")
	}
	return &Scorer{weights: weights, minConfidence: minConfidence}, nil
}

// NormalizedComplianceScore maps riskValue in [1,25] onto [0,100].
func NormalizedComplianceScore(riskValue int) float64 {
	return clampScore(float64(riskValue) / 25 * 100)
}

// Merge combines eval with signal.  When signal is nil, unavailableReason
// explains why and the result falls back to the compliance evaluation
// alone.  The unified level is never less severe than either source.
func (s *Scorer) Merge(eval ComplianceEvaluation, signal *AISignal, unavailableReason string) (UnifiedRiskResult, error) {
	complianceScore := NormalizedComplianceScore(eval.RiskValue)
	res := UnifiedRiskResult{
		AnalysisID:           common.GenerateID("ana"),
		ComplianceEvaluation: eval,
		ComplianceScore:      complianceScore,
	}
	res.Explanation = append(res.Explanation,
		fmt.Sprintf("compliance: %d matched offense(s), probability %d x impact %d = %d -> %s",
			len(eval.MatchedOffenses), eval.Probability, eval.Impact, eval.RiskValue, eval.RiskLevel))
	if HasCritical(eval.MatchedOffenses) {
		res.Explanation = append(res.Explanation, "compliance: critical offense matched, urgency at least high")
	}

	if signal != nil {
		if err := signal.Validate(); err != nil {
			return UnifiedRiskResult{}, err
		}
		if signal.Confidence < s.minConfidence {
			unavailableReason = fmt.Sprintf("confidence %.2f below minimum %.2f", signal.Confidence, s.minConfidence)
			signal = nil
		}
	}

	if signal == nil {
		if unavailableReason == "" {
			unavailableReason = "no signal source configured"
		}
		res.UnifiedScore = complianceScore
		res.UnifiedLevel = eval.RiskLevel
		res.Urgency = eval.Urgency
		res.Explanation = append(res.Explanation,
			"ai: unavailable ("+unavailableReason+"), compliance-only result",
			fmt.Sprintf("unified: score %.1f, level %s from compliance", res.UnifiedScore, res.UnifiedLevel))
		return res, nil
	}

	sig := *signal
	sig.Indicators = append([]string(nil), signal.Indicators...)
	aiLevel := AILevel(sig.Severity)
	res.AISignal = &sig
	res.UnifiedScore = clampScore(s.weights.Compliance*complianceScore + s.weights.AI*sig.Severity)
	res.UnifiedLevel = MaxRiskLevel(eval.RiskLevel, aiLevel)
	res.Urgency = MaxSeverity(eval.Urgency, UrgencyFor(res.UnifiedLevel))

	source := "compliance"
	switch {
	case aiLevel.Rank() > eval.RiskLevel.Rank():
		source = "ai"
	case aiLevel == eval.RiskLevel:
		source = "both"
	}
	res.Explanation = append(res.Explanation,
		fmt.Sprintf("ai: severity %.1f (confidence %.2f) -> %s", sig.Severity, sig.Confidence, aiLevel),
		fmt.Sprintf("unified: score %.2f*%.1f + %.2f*%.1f = %.1f, level %s (more severe source: %s)",
			s.weights.Compliance, complianceScore, s.weights.AI, sig.Severity, res.UnifiedScore, res.UnifiedLevel, source))
	return res, nil
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
