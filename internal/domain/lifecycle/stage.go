// Package lifecycle models the Ley Karin investigation process: the ordered
// stages a case moves through, the statutory deadline attached to each stage,
// extension requests and the deadline alerts derived from a case's clock.
//
// Everything in this package is a pure function over an explicit case
// snapshot.  Persistence, notification and scheduling live in the
// application and infrastructure layers.
package lifecycle

import (
	"strings"
	"unicode"

	"github.com/turtacn/karin-compliance/pkg/errors"
)

// ProcessStage is a closed enumeration of the process stages.  Values are
// produced only by the constants below or by ParseStage, which also backs
// UnmarshalText so decoded and scanned stages are normalized.
type ProcessStage string

const (
	StageComplaintFiled        ProcessStage = "complaint_filed"
	StageReception             ProcessStage = "reception"
	StageSubsanation           ProcessStage = "subsanation"
	StageDTNotification        ProcessStage = "dt_notification"
	StageSUSESONotification    ProcessStage = "suseso_notification"
	StagePrecautionaryMeasures ProcessStage = "precautionary_measures"
	StageDecisionToInvestigate ProcessStage = "decision_to_investigate"
	StageInvestigation         ProcessStage = "investigation"
	StageReportCreation        ProcessStage = "report_creation"
	StageReportApproval        ProcessStage = "report_approval"
	StageInvestigationComplete ProcessStage = "investigation_complete"
	StageFinalReport           ProcessStage = "final_report"
	StageDTSubmission          ProcessStage = "dt_submission"
	StageDTResolution          ProcessStage = "dt_resolution"
	StageMeasuresAdoption      ProcessStage = "measures_adoption"
	StageSanctions             ProcessStage = "sanctions"
	StageThirdParty            ProcessStage = "third_party"
	StageSubcontracting        ProcessStage = "subcontracting"
	StageClosed                ProcessStage = "closed"
)

// allStages lists every stage in process order.
var allStages = []ProcessStage{
	StageComplaintFiled,
	StageReception,
	StageSubsanation,
	StageDTNotification,
	StageSUSESONotification,
	StagePrecautionaryMeasures,
	StageDecisionToInvestigate,
	StageInvestigation,
	StageReportCreation,
	StageReportApproval,
	StageInvestigationComplete,
	StageFinalReport,
	StageDTSubmission,
	StageDTResolution,
	StageMeasuresAdoption,
	StageSanctions,
	StageThirdParty,
	StageSubcontracting,
	StageClosed,
}

// legacyAliases maps historical stage names onto their canonical stage.
var legacyAliases = map[string]ProcessStage{
	"orientation":        StageComplaintFiled,
	"preliminary_report": StageReportCreation,
}

var stageIndex = func() map[ProcessStage]int {
	m := make(map[ProcessStage]int, len(allStages))
	for i, s := range allStages {
		m[s] = i
	}
	return m
}()

// AllStages returns a copy of every stage in process order.
func AllStages() []ProcessStage {
	out := make([]ProcessStage, len(allStages))
	copy(out, allStages)
	return out
}

// String implements fmt.Stringer.
func (s ProcessStage) String() string { return string(s) }

// IsValid reports whether s is one of the canonical stages.
func (s ProcessStage) IsValid() bool {
	_, ok := stageIndex[s]
	return ok
}

// IsTerminal reports whether s is the closed stage.
func (s ProcessStage) IsTerminal() bool { return s == StageClosed }

// Ordinal returns the position of s in process order, or -1.
func (s ProcessStage) Ordinal() int {
	if i, ok := stageIndex[s]; ok {
		return i
	}
	return -1
}

// ParseStage normalizes an ingested stage name.  It accepts the canonical
// snake_case ids, camelCase spellings (dtNotification) and the legacy aliases
// orientation and preliminaryReport.  Unknown names are a validation error.
func ParseStage(raw string) (ProcessStage, error) {
	name := toSnake(strings.TrimSpace(raw))
	if name == "" {
		return "", errors.Validation("stage must not be empty")
	}
	if s, ok := legacyAliases[name]; ok {
		return s, nil
	}
	if s := ProcessStage(name); s.IsValid() {
		return s, nil
	}
	return "", errors.Validation("unknown process stage").WithDetail(raw)
}

// UnmarshalText implements encoding.TextUnmarshaler through ParseStage, so
// stored history written under a legacy name decodes to its canonical stage.
func (s *ProcessStage) UnmarshalText(text []byte) error {
	parsed, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// toSnake lower-cases raw and turns camelCase humps, dashes and spaces into
// underscores.  "dtNotification" and "DT-Notification" both become
// "dt_notification".
func toSnake(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) + 4)
	runes := []rune(raw)
	for i, r := range runes {
		switch {
		case r == '-' || r == ' ':
			b.WriteByte('_')
		case unicode.IsUpper(r):
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
