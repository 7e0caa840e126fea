package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func caseAt(stage ProcessStage, entered time.Time, ext int) *Case {
	return &Case{
		ID: "case-1",
		CaseClock: CaseClock{
			CurrentStage:          stage,
			StageEnteredAt:        entered,
			ApprovedExtensionDays: ext,
			History:               []StageEntry{{Stage: stage, EnteredAt: entered}},
		},
	}
}

func TestCompute_InvestigationExample(t *testing.T) {
	t.Parallel()
	calc := NewDeadlineCalculator(DefaultRuleTable())
	entered := time.Date(2025, 3, 3, 9, 30, 0, 0, time.UTC) // Monday
	now := addBusinessDays(WeekendCalendar{}, day(2025, 3, 3), 29).Add(15 * time.Hour)

	info, err := calc.Compute(caseAt(StageInvestigation, entered, 0), now)
	require.NoError(t, err)
	assert.True(t, info.HasDeadline)
	assert.Equal(t, 30, info.TotalDays)
	assert.Equal(t, 1, info.DaysRemaining)
	assert.Equal(t, AlertUrgent, info.Level)
	assert.Equal(t, UnitBusinessDays, info.Unit)
	assert.Equal(t, day(2025, 4, 14), info.Deadline)
}

func TestCompute_Deterministic(t *testing.T) {
	t.Parallel()
	calc := NewDeadlineCalculator(DefaultRuleTable())
	c := caseAt(StageReportCreation, time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC), 3)
	now := time.Date(2025, 6, 5, 8, 0, 0, 0, time.UTC)

	a, err := calc.Compute(c, now)
	require.NoError(t, err)
	b, err := calc.Compute(c.Clone(), now)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCompute_ExternallyGated(t *testing.T) {
	t.Parallel()
	calc := NewDeadlineCalculator(DefaultRuleTable())
	info, err := calc.Compute(caseAt(StageDTResolution, day(2025, 1, 6), 0), day(2026, 1, 6))
	require.NoError(t, err)
	assert.False(t, info.HasDeadline)
	assert.Equal(t, AlertOK, info.Level)
	assert.True(t, info.Deadline.IsZero())
	assert.Zero(t, info.DaysRemaining)
}

func TestCompute_CalendarDays(t *testing.T) {
	t.Parallel()
	calc := NewDeadlineCalculator(DefaultRuleTable())
	entered := day(2025, 3, 7) // Friday

	info, err := calc.Compute(caseAt(StageSanctions, entered, 0), day(2025, 3, 10))
	require.NoError(t, err)
	assert.Equal(t, day(2025, 3, 22), info.Deadline)
	assert.Equal(t, 12, info.DaysRemaining)
	assert.Equal(t, UnitCalendarDays, info.Unit)
	assert.Equal(t, AlertOK, info.Level)

	info, err = calc.Compute(caseAt(StageSanctions, entered, 0), day(2025, 3, 24))
	require.NoError(t, err)
	assert.Equal(t, -2, info.DaysRemaining)
	assert.Equal(t, AlertOverdue, info.Level)
}

func TestCompute_BusinessDaysOverdueOverWeekend(t *testing.T) {
	t.Parallel()
	calc := NewDeadlineCalculator(DefaultRuleTable())
	// complaint_filed: 3 business days from Tuesday = Friday.
	c := caseAt(StageComplaintFiled, day(2025, 3, 4), 0)

	info, err := calc.Compute(c, day(2025, 3, 7))
	require.NoError(t, err)
	assert.Equal(t, day(2025, 3, 7), info.Deadline)
	assert.Equal(t, 0, info.DaysRemaining)
	assert.Equal(t, AlertUrgent, info.Level)

	info, err = calc.Compute(c, day(2025, 3, 8)) // Saturday
	require.NoError(t, err)
	assert.Equal(t, -1, info.DaysRemaining)
	assert.Equal(t, AlertOverdue, info.Level)

	info, err = calc.Compute(c, day(2025, 3, 11)) // Tuesday
	require.NoError(t, err)
	assert.Equal(t, -2, info.DaysRemaining)
}

func TestCompute_ExtensionsMoveDeadline(t *testing.T) {
	t.Parallel()
	calc := NewDeadlineCalculator(DefaultRuleTable())
	entered := day(2025, 3, 3)
	now := day(2025, 3, 5)

	base, err := calc.Compute(caseAt(StageSubsanation, entered, 0), now)
	require.NoError(t, err)
	extended, err := calc.Compute(caseAt(StageSubsanation, entered, 5), now)
	require.NoError(t, err)
	assert.Equal(t, base.TotalDays+5, extended.TotalDays)
	assert.Equal(t, base.DaysRemaining+5, extended.DaysRemaining)

	preview, err := calc.DeadlineWithExtension(caseAt(StageSubsanation, entered, 0), 5, now)
	require.NoError(t, err)
	assert.Equal(t, extended, preview)
}

func TestCompute_HolidayCalendarAndLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("CLT", -3*3600)
	cal, err := NewHolidayCalendar([]string{"2025-03-05"})
	require.NoError(t, err)
	calc := NewDeadlineCalculator(DefaultRuleTable(), WithCalendar(cal), WithLocation(loc))

	// 02:00 UTC Tuesday is still Monday evening in CLT.
	entered := time.Date(2025, 3, 4, 2, 0, 0, 0, time.UTC)
	info, err := calc.Compute(caseAt(StageReception, entered, 0), entered)
	require.NoError(t, err)
	// Monday + 3 business days skipping Wednesday's holiday = Friday.
	assert.Equal(t, time.Date(2025, 3, 7, 0, 0, 0, 0, loc), info.Deadline)
	assert.Equal(t, 3, info.DaysRemaining)
}

func TestReconfigure(t *testing.T) {
	t.Parallel()
	calc := NewDeadlineCalculator(DefaultRuleTable())
	entered := day(2025, 3, 3) // Monday
	before, err := calc.Compute(caseAt(StageReception, entered, 0), entered)
	require.NoError(t, err)
	assert.Equal(t, day(2025, 3, 6), before.Deadline)

	cal, err := NewHolidayCalendar([]string{"2025-03-04"})
	require.NoError(t, err)
	th := AlertThresholds{UrgentDays: 4, UrgentFraction: 0.2, ApproachingDays: 6}
	calc.Reconfigure(WithCalendar(cal), WithThresholds(th))

	after, err := calc.Compute(caseAt(StageReception, entered, 0), entered)
	require.NoError(t, err)
	assert.Equal(t, day(2025, 3, 7), after.Deadline)
	assert.Equal(t, AlertUrgent, after.Level)
	assert.Equal(t, th, calc.Thresholds())
	assert.Equal(t, time.UTC, calc.Location())

	calc.Reconfigure()
	assert.Equal(t, DefaultAlertThresholds(), calc.Thresholds())
}

func TestCompute_Errors(t *testing.T) {
	t.Parallel()
	calc := NewDeadlineCalculator(DefaultRuleTable())
	_, err := calc.Compute(nil, time.Now())
	assert.Error(t, err)
	_, err = calc.Compute(caseAt("bogus", day(2025, 1, 1), 0), time.Now())
	assert.Error(t, err)
	_, err = calc.Compute(caseAt(StageInvestigation, day(2025, 1, 1), -1), time.Now())
	assert.Error(t, err)
}

func TestAlertThresholds_Level(t *testing.T) {
	t.Parallel()
	th := DefaultAlertThresholds()
	tests := []struct {
		remaining, total int
		want             AlertLevel
	}{
		{-1, 5, AlertOverdue},
		{0, 5, AlertUrgent},
		{2, 5, AlertUrgent},
		{3, 5, AlertApproaching},
		{5, 5, AlertApproaching},
		{6, 10, AlertOK},
		{6, 30, AlertUrgent}, // ceil(0.2*30) = 6
		{7, 30, AlertOK},     // approaching band is empty for long stages
		{9, 45, AlertUrgent},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, th.Level(tt.remaining, tt.total), "%d/%d", tt.remaining, tt.total)
	}
}

func TestAlertThresholds_Validate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, DefaultAlertThresholds().Validate())
	assert.Error(t, AlertThresholds{UrgentDays: -1}.Validate())
	assert.Error(t, AlertThresholds{UrgentFraction: 1.5}.Validate())
}

func TestAlertLevel_Severity(t *testing.T) {
	t.Parallel()
	assert.Less(t, AlertOK.Severity(), AlertApproaching.Severity())
	assert.Less(t, AlertApproaching.Severity(), AlertUrgent.Severity())
	assert.Less(t, AlertUrgent.Severity(), AlertOverdue.Severity())
	assert.False(t, AlertOK.IsAlerting())
	assert.True(t, AlertApproaching.IsAlerting())
}
