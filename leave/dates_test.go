package leave_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// DATE SELECTION VALIDATION
// =============================================================================

func TestDateSelection_Validate(t *testing.T) {
	start, end := july(10), july(12)

	tests := []struct {
		name    string
		sel     leave.DateSelection
		wantErr bool
	}{
		{"valid range", leave.SelectRange(start, end), false},
		{"valid explicit dates", leave.SelectDates(start, end), false},
		{"single-day range", leave.SelectRange(start, start), false},
		{"empty selection", leave.DateSelection{}, true},
		{"end before start", leave.SelectRange(end, start), true},
		{"both representations", leave.DateSelection{
			Range: &leave.DateRange{Start: start, End: end},
			Dates: []leave.Date{start},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sel.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, leave.ErrInvalidDateSelection)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// =============================================================================
// NORMALIZATION
// =============================================================================

func TestDateSelection_Set_RangeAndExplicitAgree(t *testing.T) {
	// A contiguous range and the equivalent explicit list normalize to the
	// same set.
	fromRange := leave.SelectRange(july(10), july(12)).Set()
	fromDates := leave.SelectDates(july(12), july(10), july(11)).Set()

	assert.Equal(t, fromRange.Strings(), fromDates.Strings())
}

func TestDateSet_DeduplicatesAndSorts(t *testing.T) {
	set := leave.NewDateSet(july(12), july(10), july(12), july(11))
	assert.Equal(t, []string{"2025-07-10", "2025-07-11", "2025-07-12"}, set.Strings())
}

func TestDateSet_Intersect(t *testing.T) {
	a := leave.NewDateSet(july(10), july(11), july(12))
	b := leave.NewDateSet(july(11), july(12), july(13))

	assert.Equal(t, []string{"2025-07-11", "2025-07-12"}, a.Intersect(b).Strings())
	assert.Empty(t, a.Intersect(leave.NewDateSet(july(20))))
}

func TestDateSet_Contains(t *testing.T) {
	set := leave.NewDateSet(july(10), july(12))
	assert.True(t, set.Contains(july(10)))
	assert.False(t, set.Contains(july(11)))
}

func TestDateSelection_Window(t *testing.T) {
	window := leave.SelectDates(july(20), july(10), july(15)).Window()
	assert.Equal(t, july(10), window.Start)
	assert.Equal(t, july(20), window.End)
}

// =============================================================================
// WORKING DAYS
// =============================================================================

func TestDateSet_WorkingDays_SkipsWeekendsAndHolidays(t *testing.T) {
	// GIVEN: Mon-Sun 2026-03-02..08 with a holiday on Wednesday
	// WHEN: Filtering to working days
	// THEN: Mon, Tue, Thu, Fri remain

	cal := &leave.StaticCalendar{Entries: []leave.Holiday{
		{Date: leave.NewDate(2026, time.March, 4), Name: "Founders Day"},
	}}
	week := leave.SelectRange(leave.NewDate(2026, time.March, 2), leave.NewDate(2026, time.March, 8))

	working := week.Set().WorkingDays(cal)
	assert.Equal(t, []string{"2026-03-02", "2026-03-03", "2026-03-05", "2026-03-06"}, working.Strings())
}

func TestStaticCalendar_RecurringHoliday(t *testing.T) {
	cal := &leave.StaticCalendar{Entries: []leave.Holiday{
		{Date: leave.NewDate(2020, time.December, 25), Name: "Christmas", Recurring: true},
	}}

	assert.True(t, cal.IsHoliday(leave.NewDate(2026, time.December, 25)))
	assert.False(t, cal.IsHoliday(leave.NewDate(2026, time.December, 24)))
}

// =============================================================================
// RANGES AND PARSING
// =============================================================================

func TestDateRange_OverlapsAndLength(t *testing.T) {
	r := leave.DateRange{Start: july(10), End: july(12)}

	assert.Equal(t, 3, r.Length())
	assert.True(t, r.Overlaps(leave.DateRange{Start: july(12), End: july(20)}))
	assert.False(t, r.Overlaps(leave.DateRange{Start: july(13), End: july(20)}))
}

func TestParseDate(t *testing.T) {
	d, err := leave.ParseDate("2025-07-10")
	require.NoError(t, err)
	assert.Equal(t, july(10), d)

	_, err = leave.ParseDate("10/07/2025")
	assert.Error(t, err)
}

func TestYearDays(t *testing.T) {
	assert.Equal(t, 365, leave.YearDays(2025))
	assert.Equal(t, 366, leave.YearDays(2024))
}
