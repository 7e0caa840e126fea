package lifecycle

import (
	"fmt"

	"github.com/turtacn/karin-compliance/pkg/errors"
)

// DeadlineUnit names the day arithmetic a rule uses.
type DeadlineUnit string

const (
	UnitBusinessDays DeadlineUnit = "business_days"
	UnitCalendarDays DeadlineUnit = "calendar_days"
)

// DeadlineRule is the statutory timing rule for one stage.  Rules are
// immutable reference data.
type DeadlineRule struct {
	Stage            ProcessStage `json:"stage" yaml:"stage"`
	Days             int          `json:"days" yaml:"days"`
	IsCalendarDays   bool         `json:"is_calendar_days" yaml:"is_calendar_days"`
	Extendable       bool         `json:"extendable" yaml:"extendable"`
	MaxExtensionDays int          `json:"max_extension_days" yaml:"max_extension_days"`
	ExternallyGated  bool         `json:"externally_gated" yaml:"externally_gated"`
	Article          string       `json:"article" yaml:"article"`
}

// Unit returns the day unit of the rule.
func (r DeadlineRule) Unit() DeadlineUnit {
	if r.IsCalendarDays {
		return UnitCalendarDays
	}
	return UnitBusinessDays
}

func (r DeadlineRule) validate() error {
	if !r.Stage.IsValid() {
		return fmt.Errorf("rule for unknown stage %q", r.Stage)
	}
	if r.Days <= 0 {
		return fmt.Errorf("stage %s: days must be positive", r.Stage)
	}
	if r.MaxExtensionDays < 0 {
		return fmt.Errorf("stage %s: max extension days must not be negative", r.Stage)
	}
	if !r.Extendable && r.MaxExtensionDays != 0 {
		return fmt.Errorf("stage %s: non-extendable rule declares max extension days", r.Stage)
	}
	if r.Extendable && r.MaxExtensionDays == 0 {
		return fmt.Errorf("stage %s: extendable rule without max extension days", r.Stage)
	}
	return nil
}

// RuleTable is the complete, read-only DeadlineRule catalogue.
type RuleTable struct {
	rules map[ProcessStage]DeadlineRule
}

// NewRuleTable validates rules and builds a table.  Every stage must have
// exactly one rule; an incomplete or malformed table is a catalogue
// integrity error and must stop startup.
func NewRuleTable(rules []DeadlineRule) (*RuleTable, error) {
	m := make(map[ProcessStage]DeadlineRule, len(rules))
	for _, r := range rules {
		if err := r.validate(); err != nil {
			return nil, errors.CatalogueIntegrity("invalid deadline rule").WithDetail(err.Error())
		}
		if _, dup := m[r.Stage]; dup {
			return nil, errors.CatalogueIntegrity("duplicate deadline rule").WithDetail(string(r.Stage))
		}
		m[r.Stage] = r
	}
	for _, s := range allStages {
		if _, ok := m[s]; !ok {
			return nil, errors.CatalogueIntegrity("missing deadline rule").WithDetail(string(s))
		}
	}
	return &RuleTable{rules: m}, nil
}

// Rule returns the rule for stage.  A stage outside the enumeration is a
// validation error; a table built by NewRuleTable covers every valid stage.
func (t *RuleTable) Rule(stage ProcessStage) (DeadlineRule, error) {
	r, ok := t.rules[stage]
	if !ok {
		return DeadlineRule{}, errors.Validation("no deadline rule for stage").WithDetail(string(stage))
	}
	return r, nil
}

// Rules returns all rules in process order.
func (t *RuleTable) Rules() []DeadlineRule {
	out := make([]DeadlineRule, 0, len(allStages))
	for _, s := range allStages {
		out = append(out, t.rules[s])
	}
	return out
}

// DefaultRules returns the statutory rule set.  Business-day rules skip
// weekends (and holidays, when a HolidayCalendar is configured).
func DefaultRules() []DeadlineRule {
	return []DeadlineRule{
		{Stage: StageComplaintFiled, Days: 3, Article: "Art. 211-A Código del Trabajo"},
		{Stage: StageReception, Days: 3, Article: "Art. 211-B Código del Trabajo"},
		{Stage: StageSubsanation, Days: 5, Extendable: true, MaxExtensionDays: 5, Article: "Art. 15 D.S. 21/2024"},
		{Stage: StageDTNotification, Days: 3, Article: "Art. 211-B Código del Trabajo"},
		{Stage: StageSUSESONotification, Days: 5, Article: "Art. 211-B Código del Trabajo; Ley 16.744"},
		{Stage: StagePrecautionaryMeasures, Days: 3, Article: "Art. 211-B Código del Trabajo"},
		{Stage: StageDecisionToInvestigate, Days: 3, Article: "Art. 211-B Código del Trabajo"},
		{Stage: StageInvestigation, Days: 30, Extendable: true, MaxExtensionDays: 15, Article: "Art. 211-C Código del Trabajo"},
		{Stage: StageReportCreation, Days: 5, Extendable: true, MaxExtensionDays: 5, Article: "Art. 211-C Código del Trabajo"},
		{Stage: StageReportApproval, Days: 3, Article: "Art. 211-C Código del Trabajo"},
		{Stage: StageInvestigationComplete, Days: 2, Article: "Art. 211-C Código del Trabajo"},
		{Stage: StageFinalReport, Days: 5, Article: "Art. 211-C Código del Trabajo"},
		{Stage: StageDTSubmission, Days: 2, Article: "Art. 211-C Código del Trabajo"},
		{Stage: StageDTResolution, Days: 30, ExternallyGated: true, Article: "Art. 211-C Código del Trabajo"},
		{Stage: StageMeasuresAdoption, Days: 15, IsCalendarDays: true, Article: "Art. 211-C Código del Trabajo"},
		{Stage: StageSanctions, Days: 15, IsCalendarDays: true, Article: "Art. 211-C Código del Trabajo; Reglamento Interno"},
		{Stage: StageThirdParty, Days: 30, Extendable: true, MaxExtensionDays: 15, Article: "Art. 211-B bis Código del Trabajo"},
		{Stage: StageSubcontracting, Days: 30, Extendable: true, MaxExtensionDays: 15, Article: "Art. 183-E Código del Trabajo"},
		{Stage: StageClosed, Days: 1, ExternallyGated: true, Article: "Art. 211-C Código del Trabajo"},
	}
}

// DefaultRuleTable builds the statutory table.  It panics only if the
// built-in rules are themselves inconsistent.
func DefaultRuleTable() *RuleTable {
	t, err := NewRuleTable(DefaultRules())
	if err != nil {
		panic(err)
	}
	return t
}
