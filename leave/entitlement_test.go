package leave_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func annualLeave(base float64) leave.LeaveTypeDefinition {
	return leave.LeaveTypeDefinition{
		Code:          "annual",
		Name:          "Annual Leave",
		BaseAllowance: decimal.NewFromFloat(base),
		Granularity:   leave.GranularityWholeDay,
		Active:        true,
	}
}

func profile(pattern leave.WorkingPattern, daysPerWeek int, hoursPerWeek float64) leave.WorkingProfile {
	return leave.WorkingProfile{
		UserID:        "emp-1",
		Pattern:       pattern,
		DaysPerWeek:   daysPerWeek,
		HoursPerWeek:  decimal.NewFromFloat(hoursPerWeek),
		ContractStart: leave.NewDate(2020, time.January, 1),
	}
}

func jan1(year int) leave.Date { return leave.NewDate(year, time.January, 1) }

// =============================================================================
// PRO-RATA CALCULATION
// =============================================================================

func TestEntitlement_FullTime_FullYear(t *testing.T) {
	// GIVEN: Full-time employee, 25-day allowance, employed all year
	// WHEN: Calculating the 2026 entitlement
	// THEN: The full 25 days, FTE 1

	engine := leave.EntitlementEngine{}
	result, err := engine.Calculate(profile(leave.PatternFullTime, 5, 40), annualLeave(25), 2026, jan1(2026))

	require.NoError(t, err)
	assert.True(t, result.Entitled.Equal(decimal.NewFromInt(25)), "got %s", result.Entitled)
	assert.True(t, result.FTE.Equal(decimal.NewFromInt(1)))
	assert.Contains(t, result.Reason, "standard pro-rata")
}

func TestEntitlement_PartTime_ThreeDays(t *testing.T) {
	// GIVEN: Part-time 3 days/week, 25-day allowance
	// WHEN: Calculating a full year
	// THEN: 25 * 0.6 = 15 days

	engine := leave.EntitlementEngine{}
	result, err := engine.Calculate(profile(leave.PatternPartTime, 3, 24), annualLeave(25), 2026, jan1(2026))

	require.NoError(t, err)
	assert.True(t, result.Entitled.Equal(decimal.NewFromInt(15)), "got %s", result.Entitled)
}

func TestEntitlement_PartTime_QuarterDayRounding(t *testing.T) {
	// GIVEN: Part-time 2 days/week (FTE 0.4), 26-day allowance
	// WHEN: Calculating a full year
	// THEN: Raw 10.4 rounds half-up at the quarter-day step to 10.5

	engine := leave.EntitlementEngine{}
	result, err := engine.Calculate(profile(leave.PatternPartTime, 2, 16), annualLeave(26), 2026, jan1(2026))

	require.NoError(t, err)
	assert.True(t, result.Entitled.Equal(decimal.NewFromFloat(10.5)), "got %s", result.Entitled)
}

func TestEntitlement_MidYearStart(t *testing.T) {
	// GIVEN: Full-time employee starting July 1, 2025, 20-day allowance
	// WHEN: Calculating the 2025 entitlement
	// THEN: 20 * 184/365 = 10.08... rounds to 10 whole days

	engine := leave.EntitlementEngine{}
	p := profile(leave.PatternFullTime, 5, 40)
	p.ContractStart = leave.NewDate(2025, time.July, 1)

	result, err := engine.Calculate(p, annualLeave(20), 2025, p.ContractStart)

	require.NoError(t, err)
	assert.True(t, result.Entitled.Equal(decimal.NewFromInt(10)), "got %s", result.Entitled)
	assert.Contains(t, result.Reason, "mid-year start: 184/365")
}

func TestEntitlement_MidYearStart_Deterministic(t *testing.T) {
	// GIVEN: The same mid-year inputs
	// WHEN: Calculating twice
	// THEN: Identical results - the calculation is pure

	engine := leave.EntitlementEngine{}
	p := profile(leave.PatternPartTime, 3, 24)
	p.ContractStart = leave.NewDate(2025, time.September, 15)

	first, err := engine.Calculate(p, annualLeave(25), 2025, p.ContractStart)
	require.NoError(t, err)
	second, err := engine.Calculate(p, annualLeave(25), 2025, p.ContractStart)
	require.NoError(t, err)

	assert.True(t, first.Entitled.Equal(second.Entitled))
	assert.Equal(t, first.Reason, second.Reason)
}

// =============================================================================
// COMPRESSED HOURS EXCEPTION
// =============================================================================

func TestEntitlement_CompressedHours_FullTimeEquivalent(t *testing.T) {
	// GIVEN: Compressed pattern, 4 days/week but 36 hours
	// WHEN: Calculating the entitlement
	// THEN: Treated as full-time - no FTE discount

	engine := leave.EntitlementEngine{}
	result, err := engine.Calculate(profile(leave.PatternCompressedHours, 4, 36), annualLeave(25), 2026, jan1(2026))

	require.NoError(t, err)
	assert.True(t, result.Entitled.Equal(decimal.NewFromInt(25)), "got %s", result.Entitled)
	assert.True(t, result.FTE.Equal(decimal.NewFromInt(1)))
	assert.Contains(t, result.Reason, "compressed-hours treated as full-time")
}

func TestEntitlement_CompressedHours_BelowThreshold(t *testing.T) {
	// GIVEN: Compressed pattern, 4 days/week at 32 hours (below 35)
	// WHEN: Calculating the entitlement
	// THEN: Normal FTE 0.8 applies: 25 * 0.8 = 20

	engine := leave.EntitlementEngine{}
	result, err := engine.Calculate(profile(leave.PatternCompressedHours, 4, 32), annualLeave(25), 2026, jan1(2026))

	require.NoError(t, err)
	assert.True(t, result.Entitled.Equal(decimal.NewFromInt(20)), "got %s", result.Entitled)
}

// =============================================================================
// STATUTORY FLOOR
// =============================================================================

func TestEntitlement_StatutoryFloor_FTEScaled(t *testing.T) {
	// GIVEN: One day/week (FTE 0.2), 10-day allowance, statutory base 20
	// WHEN: Calculating the entitlement
	// THEN: Raw 2 is lifted to the floor max(20*0.2, 3) = 4

	def := annualLeave(10)
	def.StatutoryBase = decimal.NewFromInt(20)
	def.StatutoryMinimum = decimal.NewFromInt(3)

	engine := leave.EntitlementEngine{}
	result, err := engine.Calculate(profile(leave.PatternPartTime, 1, 8), def, 2026, jan1(2026))

	require.NoError(t, err)
	assert.True(t, result.Entitled.Equal(decimal.NewFromInt(4)), "got %s", result.Entitled)
	assert.Contains(t, result.Reason, "statutory floor applied")
}

func TestEntitlement_StatutoryMinimum_Wins(t *testing.T) {
	// GIVEN: FTE 0.2 with statutory base 10 but absolute minimum 5
	// WHEN: Calculating the entitlement
	// THEN: The absolute minimum 5 beats the scaled floor 2

	def := annualLeave(5)
	def.StatutoryBase = decimal.NewFromInt(10)
	def.StatutoryMinimum = decimal.NewFromInt(5)

	engine := leave.EntitlementEngine{}
	result, err := engine.Calculate(profile(leave.PatternPartTime, 1, 8), def, 2026, jan1(2026))

	require.NoError(t, err)
	assert.True(t, result.Entitled.Equal(decimal.NewFromInt(5)), "got %s", result.Entitled)
}

// =============================================================================
// INVALID INPUTS
// =============================================================================

func TestEntitlement_InvalidWorkingPattern(t *testing.T) {
	engine := leave.EntitlementEngine{}

	for _, days := range []int{0, -1, 8} {
		_, err := engine.Calculate(profile(leave.PatternPartTime, days, 8), annualLeave(25), 2026, jan1(2026))
		assert.ErrorIs(t, err, leave.ErrInvalidWorkingPattern, "days=%d", days)
	}
}

func TestEntitlement_InactiveType(t *testing.T) {
	def := annualLeave(25)
	def.Active = false

	engine := leave.EntitlementEngine{}
	_, err := engine.Calculate(profile(leave.PatternFullTime, 5, 40), def, 2026, jan1(2026))
	assert.ErrorIs(t, err, leave.ErrUnknownLeaveType)
}

func TestEntitlement_StartAfterYearEnd(t *testing.T) {
	// GIVEN: A contract starting after the requested year
	// WHEN: Calculating that year's entitlement
	// THEN: Zero days (no statutory floor configured)

	engine := leave.EntitlementEngine{}
	result, err := engine.Calculate(profile(leave.PatternFullTime, 5, 40), annualLeave(25), 2025,
		leave.NewDate(2026, time.February, 1))

	require.NoError(t, err)
	assert.True(t, result.Entitled.IsZero(), "got %s", result.Entitled)
}
