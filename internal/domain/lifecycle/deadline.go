package lifecycle

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/turtacn/karin-compliance/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// AlertLevel
// ─────────────────────────────────────────────────────────────────────────────

// AlertLevel classifies how close a stage is to its deadline.
type AlertLevel string

const (
	AlertOK          AlertLevel = "ok"
	AlertApproaching AlertLevel = "approaching"
	AlertUrgent      AlertLevel = "urgent"
	AlertOverdue     AlertLevel = "overdue"
)

// Severity orders levels; higher is more severe.
func (l AlertLevel) Severity() int {
	switch l {
	case AlertApproaching:
		return 1
	case AlertUrgent:
		return 2
	case AlertOverdue:
		return 3
	default:
		return 0
	}
}

// IsAlerting reports whether the level warrants a notification.
func (l AlertLevel) IsAlerting() bool { return l.Severity() > 0 }

// ─────────────────────────────────────────────────────────────────────────────
// AlertThresholds
// ─────────────────────────────────────────────────────────────────────────────

// AlertThresholds maps remaining days onto an AlertLevel.
type AlertThresholds struct {
	// UrgentDays is the minimum urgent window in days.
	UrgentDays int `json:"urgent_days" mapstructure:"urgent_days"`
	// UrgentFraction widens the urgent window to this share of the total
	// stage duration when that is larger than UrgentDays.
	UrgentFraction float64 `json:"urgent_fraction" mapstructure:"urgent_fraction"`
	// ApproachingDays is the approaching window in days.
	ApproachingDays int `json:"approaching_days" mapstructure:"approaching_days"`
}

// DefaultAlertThresholds returns 2 days / 20% / 5 days.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{UrgentDays: 2, UrgentFraction: 0.2, ApproachingDays: 5}
}

// Validate rejects negative windows and fractions outside [0,1].
func (t AlertThresholds) Validate() error {
	if t.UrgentDays < 0 || t.ApproachingDays < 0 {
		return errors.Validation("alert thresholds must not be negative")
	}
	if t.UrgentFraction < 0 || t.UrgentFraction > 1 {
		return errors.Validation("urgent fraction must be within [0,1]")
	}
	return nil
}

// UrgentWindow returns max(UrgentDays, ceil(UrgentFraction*totalDays)).
func (t AlertThresholds) UrgentWindow(totalDays int) int {
	frac := int(math.Ceil(t.UrgentFraction * float64(totalDays)))
	if frac > t.UrgentDays {
		return frac
	}
	return t.UrgentDays
}

// Level classifies daysRemaining.  When the urgent window is wider than the
// approaching window the approaching band is empty.
func (t AlertThresholds) Level(daysRemaining, totalDays int) AlertLevel {
	switch {
	case daysRemaining < 0:
		return AlertOverdue
	case daysRemaining <= t.UrgentWindow(totalDays):
		return AlertUrgent
	case daysRemaining <= t.ApproachingDays:
		return AlertApproaching
	default:
		return AlertOK
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// DeadlineInfo
// ─────────────────────────────────────────────────────────────────────────────

// DeadlineInfo is the computed deadline of a case's current stage.  When
// HasDeadline is false the stage waits on an outside party and Deadline,
// DaysRemaining and TotalDays are zero.
type DeadlineInfo struct {
	CaseID        string       `json:"case_id"`
	Stage         ProcessStage `json:"stage"`
	HasDeadline   bool         `json:"has_deadline"`
	Deadline      time.Time    `json:"deadline,omitempty"`
	TotalDays     int          `json:"total_days"`
	DaysRemaining int          `json:"days_remaining"`
	Unit          DeadlineUnit `json:"unit"`
	Level         AlertLevel   `json:"level"`
	Rule          DeadlineRule `json:"rule"`
}

// ─────────────────────────────────────────────────────────────────────────────
// DeadlineCalculator
// ─────────────────────────────────────────────────────────────────────────────

// DeadlineCalculator computes deadlines.  The rule table is fixed; the
// calendar, zone and thresholds can be swapped with Reconfigure.  It is safe
// for concurrent use.
type DeadlineCalculator struct {
	rules    *RuleTable
	settings atomic.Pointer[calcSettings]
}

type calcSettings struct {
	calendar   BusinessCalendar
	loc        *time.Location
	thresholds AlertThresholds
}

// CalculatorOption configures a DeadlineCalculator.
type CalculatorOption func(*calcSettings)

// WithCalendar sets the business-day policy.
func WithCalendar(cal BusinessCalendar) CalculatorOption {
	return func(s *calcSettings) {
		if cal != nil {
			s.calendar = cal
		}
	}
}

// WithLocation sets the zone in which day boundaries are drawn.
func WithLocation(loc *time.Location) CalculatorOption {
	return func(s *calcSettings) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithThresholds overrides the alert thresholds.
func WithThresholds(t AlertThresholds) CalculatorOption {
	return func(s *calcSettings) { s.thresholds = t }
}

// NewDeadlineCalculator defaults to the weekends-only calendar, UTC and the
// default thresholds.
func NewDeadlineCalculator(rules *RuleTable, opts ...CalculatorOption) *DeadlineCalculator {
	c := &DeadlineCalculator{rules: rules}
	c.Reconfigure(opts...)
	return c
}

// Reconfigure replaces the calendar, zone and thresholds, starting from the
// defaults.  Computations already in flight finish with the old settings.
func (c *DeadlineCalculator) Reconfigure(opts ...CalculatorOption) {
	s := &calcSettings{
		calendar:   WeekendCalendar{},
		loc:        time.UTC,
		thresholds: DefaultAlertThresholds(),
	}
	for _, o := range opts {
		o(s)
	}
	c.settings.Store(s)
}

// Rules returns the calculator's rule table.
func (c *DeadlineCalculator) Rules() *RuleTable { return c.rules }

// Thresholds returns the active alert thresholds.
func (c *DeadlineCalculator) Thresholds() AlertThresholds { return c.settings.Load().thresholds }

// Location returns the zone day boundaries are drawn in.
func (c *DeadlineCalculator) Location() *time.Location { return c.settings.Load().loc }

// Compute derives the DeadlineInfo of cs at now.  The result depends only on
// the rule, StageEnteredAt, ApprovedExtensionDays and now.
func (c *DeadlineCalculator) Compute(cs *Case, now time.Time) (DeadlineInfo, error) {
	if cs == nil {
		return DeadlineInfo{}, errors.Validation("case must not be nil")
	}
	return c.ComputeClock(cs.ID, cs.CaseClock, now)
}

// ComputeClock is Compute over a bare clock.
func (c *DeadlineCalculator) ComputeClock(caseID string, clock CaseClock, now time.Time) (DeadlineInfo, error) {
	rule, err := c.rules.Rule(clock.CurrentStage)
	if err != nil {
		return DeadlineInfo{}, err
	}
	if clock.ApprovedExtensionDays < 0 {
		return DeadlineInfo{}, errors.Validation("approved extension days must not be negative")
	}
	info := DeadlineInfo{
		CaseID: caseID,
		Stage:  clock.CurrentStage,
		Unit:   rule.Unit(),
		Level:  AlertOK,
		Rule:   rule,
	}
	if rule.ExternallyGated {
		return info, nil
	}

	set := c.settings.Load()
	total := rule.Days + clock.ApprovedExtensionDays
	entered := startOfDay(clock.StageEnteredAt, set.loc)
	today := startOfDay(now, set.loc)

	var deadline time.Time
	var remaining int
	if rule.IsCalendarDays {
		deadline = entered.AddDate(0, 0, total)
		remaining = calendarDaysBetween(today, deadline)
	} else {
		deadline = addBusinessDays(set.calendar, entered, total)
		if !today.After(deadline) {
			remaining = countBusinessDays(set.calendar, today, deadline)
		} else {
			late := countBusinessDays(set.calendar, deadline, today)
			if late < 1 {
				late = 1
			}
			remaining = -late
		}
	}

	info.HasDeadline = true
	info.Deadline = deadline
	info.TotalDays = total
	info.DaysRemaining = remaining
	info.Level = set.thresholds.Level(remaining, total)
	return info, nil
}

// DeadlineWithExtension returns the deadline c would have if extraDays more
// extension days were approved.  Used to preview extension decisions.
func (c *DeadlineCalculator) DeadlineWithExtension(cs *Case, extraDays int, now time.Time) (DeadlineInfo, error) {
	if cs == nil {
		return DeadlineInfo{}, errors.Validation("case must not be nil")
	}
	clock := cs.CaseClock
	clock.ApprovedExtensionDays += extraDays
	return c.ComputeClock(cs.ID, clock, now)
}
