package compliance

import "github.com/turtacn/karin-compliance/pkg/errors"

// Severity is used both for an offense's base risk level and for urgency.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

func (s Severity) IsValid() bool { return s.Rank() > 0 }

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// RiskLevel is the classification produced by the probability x impact
// matrix.
type RiskLevel string

const (
	RiskAcceptable  RiskLevel = "acceptable"
	RiskTolerable   RiskLevel = "tolerable"
	RiskImportant   RiskLevel = "important"
	RiskIntolerable RiskLevel = "intolerable"
)

func (l RiskLevel) Rank() int {
	switch l {
	case RiskAcceptable:
		return 1
	case RiskTolerable:
		return 2
	case RiskImportant:
		return 3
	case RiskIntolerable:
		return 4
	default:
		return 0
	}
}

func (l RiskLevel) IsValid() bool { return l.Rank() > 0 }

// MaxRiskLevel returns the more severe of a and b.
func MaxRiskLevel(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseRiskLevel validates a level name.
func ParseRiskLevel(s string) (RiskLevel, error) {
	l := RiskLevel(s)
	if !l.IsValid() {
		return "", errors.Validation("unknown risk level").WithDetail(s)
	}
	return l, nil
}
