package lifecycle

import (
	"sort"
	"time"

	"github.com/turtacn/karin-compliance/pkg/errors"
)

// BusinessCalendar decides which days count toward a business-day deadline.
// Implementations must be safe for concurrent use and deterministic.
type BusinessCalendar interface {
	IsBusinessDay(day time.Time) bool
}

// WeekendCalendar treats every Monday to Friday as a business day.
type WeekendCalendar struct{}

func (WeekendCalendar) IsBusinessDay(day time.Time) bool {
	wd := day.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// HolidayCalendar excludes weekends and a fixed set of public holidays.
type HolidayCalendar struct {
	holidays map[civilDate]struct{}
}

type civilDate struct {
	y int
	m time.Month
	d int
}

func dateOf(t time.Time) civilDate {
	y, m, d := t.Date()
	return civilDate{y, m, d}
}

// NewHolidayCalendar builds a calendar from ISO dates (2006-01-02).
func NewHolidayCalendar(isoDates []string) (*HolidayCalendar, error) {
	c := &HolidayCalendar{holidays: make(map[civilDate]struct{}, len(isoDates))}
	for _, raw := range isoDates {
		t, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return nil, errors.Validation("invalid holiday date").WithDetail(raw).WithCause(err)
		}
		c.holidays[dateOf(t)] = struct{}{}
	}
	return c, nil
}

func (c *HolidayCalendar) IsBusinessDay(day time.Time) bool {
	if !(WeekendCalendar{}).IsBusinessDay(day) {
		return false
	}
	_, holiday := c.holidays[dateOf(day)]
	return !holiday
}

// Holidays returns the configured holidays in ascending order.
func (c *HolidayCalendar) Holidays() []string {
	out := make([]string, 0, len(c.holidays))
	for d := range c.holidays {
		out = append(out, time.Date(d.y, d.m, d.d, 0, 0, 0, 0, time.UTC).Format(time.DateOnly))
	}
	sort.Strings(out)
	return out
}

// CalendarFor returns a HolidayCalendar when holidays are configured and the
// weekends-only policy otherwise.
func CalendarFor(isoDates []string) (BusinessCalendar, error) {
	if len(isoDates) == 0 {
		return WeekendCalendar{}, nil
	}
	return NewHolidayCalendar(isoDates)
}

// startOfDay truncates t to local midnight in loc.
func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// addBusinessDays advances from start one day at a time until n business
// days have been counted.  start itself never counts.
func addBusinessDays(cal BusinessCalendar, start time.Time, n int) time.Time {
	d := start
	for counted := 0; counted < n; {
		d = d.AddDate(0, 0, 1)
		if cal.IsBusinessDay(d) {
			counted++
		}
	}
	return d
}

// countBusinessDays counts business days in the half-open interval (from, to].
func countBusinessDays(cal BusinessCalendar, from, to time.Time) int {
	n := 0
	for d := from.AddDate(0, 0, 1); !d.After(to); d = d.AddDate(0, 0, 1) {
		if cal.IsBusinessDay(d) {
			n++
		}
	}
	return n
}

// calendarDaysBetween returns the whole-day difference to - from for two
// midnights in the same location, robust to DST shifts.
func calendarDaysBetween(from, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
