/*
dates.go - Calendar dates, date selections, and the holiday calendar

PURPOSE:
  Leave requests come in two shapes: a contiguous range ("July 10-14") or an
  explicit list of non-consecutive dates ("every Friday in August"). Both must
  behave identically everywhere - conflict intersection, day counting, storage.
  This file defines the tagged DateSelection variant and the single
  normalization path (Set()) that the rest of the core uses.

KEY CONCEPTS:
  - Date:          A calendar day (UTC midnight), comparable and sortable
  - DateRange:     Inclusive [Start, End] span
  - DateSelection: Range OR explicit dates - exactly one is set
  - DateSet:       Sorted, de-duplicated normal form used for all comparisons
  - HolidayCalendar: Pluggable source of blocked company holidays

DAY COUNTING:
  A request's total day count is the number of dates in its normalized set
  that are working days: not a weekend and not a blocked holiday.

SEE ALSO:
  - conflict.go: Intersection-based availability classification
  - workflow.go: Day counting at submission time
*/
package leave

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// =============================================================================
// DATE - A calendar day
// =============================================================================

// Date is a calendar day, normalized to UTC midnight.
type Date struct {
	t time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a timestamp to its calendar day.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a date in 2006-01-02 form.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func Today() Date { return DateOf(time.Now().UTC()) }

// Comparison
func (d Date) Before(other Date) bool        { return d.t.Before(other.t) }
func (d Date) After(other Date) bool         { return d.t.After(other.t) }
func (d Date) Equal(other Date) bool         { return d.t.Equal(other.t) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.t.After(other.t) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.t.Before(other.t) }

// Arithmetic and properties
func (d Date) AddDays(n int) Date      { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) Year() int               { return d.t.Year() }
func (d Date) Month() time.Month       { return d.t.Month() }
func (d Date) Day() int                { return d.t.Day() }
func (d Date) Weekday() time.Weekday   { return d.t.Weekday() }
func (d Date) IsZero() bool            { return d.t.IsZero() }
func (d Date) Time() time.Time         { return d.t }
func (d Date) String() string          { return d.t.Format("2006-01-02") }

func (d Date) IsWeekend() bool {
	wd := d.t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// IsWorkingDay reports whether the date is neither a weekend nor a blocked
// holiday. A nil calendar blocks nothing.
func (d Date) IsWorkingDay(cal HolidayCalendar) bool {
	if d.IsWeekend() {
		return false
	}
	if cal != nil && cal.IsHoliday(d) {
		return false
	}
	return true
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(d.String())), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// YearDays returns the number of calendar days in a year (365 or 366).
func YearDays(year int) int {
	return int(NewDate(year+1, time.January, 1).t.Sub(NewDate(year, time.January, 1).t).Hours() / 24)
}

// =============================================================================
// DATE RANGE - Inclusive span
// =============================================================================

type DateRange struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

func (r DateRange) Contains(d Date) bool {
	return d.AfterOrEqual(r.Start) && d.BeforeOrEqual(r.End)
}

// Days enumerates every calendar day in the range, inclusive.
func (r DateRange) Days() []Date {
	var days []Date
	for cur := r.Start; cur.BeforeOrEqual(r.End); cur = cur.AddDays(1) {
		days = append(days, cur)
	}
	return days
}

func (r DateRange) Length() int {
	if r.End.Before(r.Start) {
		return 0
	}
	return int(r.End.t.Sub(r.Start.t).Hours()/24) + 1
}

func (r DateRange) Overlaps(other DateRange) bool {
	return r.Start.BeforeOrEqual(other.End) && other.Start.BeforeOrEqual(r.End)
}

func (r DateRange) String() string {
	return r.Start.String() + ".." + r.End.String()
}

// =============================================================================
// DATE SELECTION - Tagged variant: contiguous range OR explicit dates
// =============================================================================

// DateSelection is the request-facing date representation. Exactly one of
// Range and Dates is set; Set() is the single normalization path.
type DateSelection struct {
	Range *DateRange `json:"range,omitempty"`
	Dates []Date     `json:"dates,omitempty"`
}

func SelectRange(start, end Date) DateSelection {
	return DateSelection{Range: &DateRange{Start: start, End: end}}
}

func SelectDates(dates ...Date) DateSelection {
	return DateSelection{Dates: dates}
}

func (s DateSelection) IsZero() bool {
	return s.Range == nil && len(s.Dates) == 0
}

// Validate rejects malformed selections: both or neither representation set,
// or a range ending before it starts.
func (s DateSelection) Validate() error {
	if s.Range != nil && len(s.Dates) > 0 {
		return fmt.Errorf("%w: both range and explicit dates set", ErrInvalidDateSelection)
	}
	if s.IsZero() {
		return fmt.Errorf("%w: no dates selected", ErrInvalidDateSelection)
	}
	if s.Range != nil && s.Range.End.Before(s.Range.Start) {
		return fmt.Errorf("%w: range end %s before start %s", ErrInvalidDateSelection, s.Range.End, s.Range.Start)
	}
	return nil
}

// Set normalizes either representation to the sorted, de-duplicated form.
func (s DateSelection) Set() DateSet {
	if s.Range != nil {
		return DateSet(s.Range.Days())
	}
	return NewDateSet(s.Dates...)
}

// Window returns the [min, max] envelope of the selection. Used for coarse
// overlap queries before exact set intersection.
func (s DateSelection) Window() DateRange {
	set := s.Set()
	if len(set) == 0 {
		return DateRange{}
	}
	return DateRange{Start: set[0], End: set[len(set)-1]}
}

// =============================================================================
// DATE SET - Normal form for all comparisons
// =============================================================================

// DateSet is a sorted, de-duplicated slice of dates.
type DateSet []Date

func NewDateSet(dates ...Date) DateSet {
	if len(dates) == 0 {
		return nil
	}
	sorted := make([]Date, len(dates))
	copy(sorted, dates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	set := sorted[:1]
	for _, d := range sorted[1:] {
		if !d.Equal(set[len(set)-1]) {
			set = append(set, d)
		}
	}
	return DateSet(set)
}

func (ds DateSet) Contains(d Date) bool {
	i := sort.Search(len(ds), func(i int) bool { return ds[i].AfterOrEqual(d) })
	return i < len(ds) && ds[i].Equal(d)
}

// Intersect returns the dates present in both sets.
func (ds DateSet) Intersect(other DateSet) DateSet {
	var out DateSet
	i, j := 0, 0
	for i < len(ds) && j < len(other) {
		switch {
		case ds[i].Before(other[j]):
			i++
		case other[j].Before(ds[i]):
			j++
		default:
			out = append(out, ds[i])
			i++
			j++
		}
	}
	return out
}

// WorkingDays filters the set down to working days (no weekends, no holidays).
func (ds DateSet) WorkingDays(cal HolidayCalendar) DateSet {
	var out DateSet
	for _, d := range ds {
		if d.IsWorkingDay(cal) {
			out = append(out, d)
		}
	}
	return out
}

func (ds DateSet) Strings() []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	return out
}

// =============================================================================
// HOLIDAY CALENDAR
// =============================================================================

// Holiday is a blocked company day that never counts against leave.
type Holiday struct {
	ID        string `json:"id"`
	Date      Date   `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"` // same month/day every year
}

type HolidayCalendar interface {
	IsHoliday(d Date) bool
	Holidays(year int) []Holiday
}

// NoHolidays is the calendar used when holiday blocking is disabled.
type NoHolidays struct{}

func (NoHolidays) IsHoliday(Date) bool       { return false }
func (NoHolidays) Holidays(int) []Holiday    { return nil }

// StaticCalendar is a fixed in-memory holiday list.
type StaticCalendar struct {
	Entries []Holiday
}

func (c *StaticCalendar) IsHoliday(d Date) bool {
	for _, h := range c.Entries {
		if h.Date.Equal(d) {
			return true
		}
		if h.Recurring && h.Date.Month() == d.Month() && h.Date.Day() == d.Day() {
			return true
		}
	}
	return false
}

func (c *StaticCalendar) Holidays(year int) []Holiday {
	var out []Holiday
	for _, h := range c.Entries {
		if h.Date.Year() == year || h.Recurring {
			out = append(out, h)
		}
	}
	return out
}
