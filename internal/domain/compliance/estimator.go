package compliance

// Hierarchy is the organizational position of the accused person.
type Hierarchy string

const (
	HierarchyPeer       Hierarchy = "peer"
	HierarchySupervisor Hierarchy = "supervisor"
	HierarchyManager    Hierarchy = "manager"
	HierarchyExecutive  Hierarchy = "executive"
)

// CaseAttributes are the case facts a probability/impact estimator may use.
type CaseAttributes struct {
	Anonymous         bool      `json:"anonymous"`
	HasEvidence       bool      `json:"has_evidence"`
	EvidenceCount     int       `json:"evidence_count"`
	Recurrent         bool      `json:"recurrent"`
	InvolvedHierarchy Hierarchy `json:"involved_hierarchy,omitempty"`
	WitnessCount      int       `json:"witness_count"`
}

// Estimator derives probability and impact when the caller supplies neither.
type Estimator interface {
	Name() string
	Estimate(attrs CaseAttributes, matches []OffenseMatch) (probability, impact int)
}

// DefaultEstimator is the documented heuristic:
//
//	probability = 2 +1 evidence +1 recurrence +1 witnesses -1 anonymous
//	impact      = base level of the most severe match (none 1, low 2,
//	              medium 3, high 4, critical 5) +1 manager or executive
//
// Both are clamped to [1,5].
type DefaultEstimator struct{}

func (DefaultEstimator) Name() string { return "default_estimator" }

func (DefaultEstimator) Estimate(attrs CaseAttributes, matches []OffenseMatch) (int, int) {
	p := 2
	if attrs.HasEvidence || attrs.EvidenceCount > 0 {
		p++
	}
	if attrs.Recurrent {
		p++
	}
	if attrs.WitnessCount > 0 {
		p++
	}
	if attrs.Anonymous {
		p--
	}

	impact := 1
	if best := HighestBaseLevel(matches); best != "" {
		impact = best.Rank() + 1
	}
	if attrs.InvolvedHierarchy == HierarchyManager || attrs.InvolvedHierarchy == HierarchyExecutive {
		impact++
	}
	return clampAxis(p), clampAxis(impact)
}

func clampAxis(v int) int {
	if v < 1 {
		return 1
	}
	if v > 5 {
		return 5
	}
	return v
}
