package compliance

import "github.com/turtacn/karin-compliance/pkg/types/common"

// EventRiskEvaluated is published after every unified analysis.
const EventRiskEvaluated = "karin.risk.evaluated"

// RiskEvaluatedEvent summarizes a unified analysis for downstream consumers.
type RiskEvaluatedEvent struct {
	common.BaseEvent
	AnalysisID   string    `json:"analysis_id"`
	UnifiedLevel RiskLevel `json:"unified_level"`
	UnifiedScore float64   `json:"unified_score"`
	Urgency      Severity  `json:"urgency"`
	Degraded     bool      `json:"degraded"`
	OffenseIDs   []string  `json:"offense_ids,omitempty"`
}

// NewRiskEvaluatedEvent builds the event for r.  The aggregate is the case
// when one is known and the analysis otherwise.
func NewRiskEvaluatedEvent(r UnifiedRiskResult) *RiskEvaluatedEvent {
	agg := r.CaseID
	if agg == "" {
		agg = r.AnalysisID
	}
	ids := make([]string, 0, len(r.ComplianceEvaluation.MatchedOffenses))
	for _, m := range r.ComplianceEvaluation.MatchedOffenses {
		ids = append(ids, m.Entry.ID)
	}
	return &RiskEvaluatedEvent{
		BaseEvent:    common.NewBaseEvent(EventRiskEvaluated, agg, r.EvaluatedAt),
		AnalysisID:   r.AnalysisID,
		UnifiedLevel: r.UnifiedLevel,
		UnifiedScore: r.UnifiedScore,
		Urgency:      r.Urgency,
		Degraded:     r.Degraded(),
		OffenseIDs:   ids,
	}
}
