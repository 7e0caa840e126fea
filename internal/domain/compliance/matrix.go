package compliance

import (
	"fmt"

	"github.com/turtacn/karin-compliance/pkg/errors"
)

const (
	acc = RiskAcceptable
	tol = RiskTolerable
	imp = RiskImportant
	itl = RiskIntolerable
)

// riskMatrix[p-1][i-1] classifies probability p against impact i.  Rows and
// columns are non-decreasing.
var riskMatrix = [5][5]RiskLevel{
	//      1    2    3    4    5     impact
	/*1*/ {acc, acc, acc, tol, tol},
	/*2*/ {acc, tol, tol, imp, imp},
	/*3*/ {acc, tol, imp, imp, itl},
	/*4*/ {tol, imp, imp, itl, itl},
	/*5*/ {tol, imp, itl, itl, itl},
}

// ClassifyRisk looks up the matrix.  Both axes must be within [1,5].
func ClassifyRisk(probability, impact int) (RiskLevel, error) {
	if probability < 1 || probability > 5 {
		return "", errors.Validation(fmt.Sprintf("probability %d outside [1,5]", probability))
	}
	if impact < 1 || impact > 5 {
		return "", errors.Validation(fmt.Sprintf("impact %d outside [1,5]", impact))
	}
	return riskMatrix[probability-1][impact-1], nil
}

// UrgencyFor maps a risk level onto its base urgency.
func UrgencyFor(level RiskLevel) Severity {
	switch level {
	case RiskTolerable:
		return SeverityMedium
	case RiskImportant:
		return SeverityHigh
	case RiskIntolerable:
		return SeverityCritical
	default:
		return SeverityLow
	}
}

// ComplianceEvaluation is the deterministic classification of a case.  A new
// evaluation supersedes the previous one; evaluations are never merged.
type ComplianceEvaluation struct {
	MatchedOffenses    []OffenseMatch `json:"matched_offenses"`
	Probability        int            `json:"probability"`
	Impact             int            `json:"impact"`
	RiskValue          int            `json:"risk_value"`
	RiskLevel          RiskLevel      `json:"risk_level"`
	Urgency            Severity       `json:"urgency"`
	SuggestedControls  []string       `json:"suggested_controls"`
	RecommendedActions []string       `json:"recommended_actions"`
	// EstimatedBy names the strategy that produced probability and impact,
	// or "caller" when they were supplied.
	EstimatedBy string `json:"estimated_by"`
}

// Evaluate classifies matches at the given probability and impact.  Any
// critical offense raises urgency to at least high.
func Evaluate(matches []OffenseMatch, probability, impact int) (ComplianceEvaluation, error) {
	level, err := ClassifyRisk(probability, impact)
	if err != nil {
		return ComplianceEvaluation{}, err
	}
	urgency := UrgencyFor(level)
	if HasCritical(matches) {
		urgency = MaxSeverity(urgency, SeverityHigh)
	}
	return ComplianceEvaluation{
		MatchedOffenses:    append([]OffenseMatch(nil), matches...),
		Probability:        probability,
		Impact:             impact,
		RiskValue:          probability * impact,
		RiskLevel:          level,
		Urgency:            urgency,
		SuggestedControls:  SuggestedControls(level),
		RecommendedActions: RecommendedActions(level),
		EstimatedBy:        "caller",
	}, nil
}
