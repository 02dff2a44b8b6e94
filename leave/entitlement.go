/*
entitlement.go - Pure pro-rata entitlement calculation

PURPOSE:
  Answers "how many leave days is this employee entitled to this year?"
  given a fractional working pattern and a possibly mid-year start date.
  Pure function of its inputs: same inputs, same result, no I/O.

ALGORITHM:
  1. fte = workingDaysPerWeek / 5
  2. yearFraction = remaining calendar days / total calendar days
     (inclusive, calendar days not working days) for mid-year starts
  3. raw = baseAllowance * fte * yearFraction
  4. Compressed hours at >= 35h/week waives the FTE discount
     (deliberate policy exception, not a rounding artifact)
  5. Statutory floor: max(statutoryBase * fte, statutoryMinimum)
  6. Round half-up at the pattern's granularity
  7. Reason string documents which rule fired - it lands in the ledger's
     seeding metadata for audit, not just in logs

SEE ALSO:
  - ledger.go: EnsureSeeded consumes the result once per user/type/year
*/
package leave

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// fullTimeReferenceDays is the standard full-time working week used as the
// FTE denominator.
const fullTimeReferenceDays = 5

// compressedFullTimeHours is the weekly-hours threshold above which a
// compressed-hours pattern is treated as full-time for allocation.
var compressedFullTimeHours = decimal.NewFromInt(35)

// ProRataResult is the outcome of an entitlement calculation.
type ProRataResult struct {
	Entitled decimal.Decimal `json:"entitled"`
	FTE      decimal.Decimal `json:"fte"`
	Reason   string          `json:"reason"`
}

// EntitlementEngine computes pro-rata entitlements. Stateless.
type EntitlementEngine struct{}

// Calculate computes the entitlement for one user, leave type, and year.
// effectiveFrom is the date entitlement starts accruing (contract start for
// new joiners, Jan 1 otherwise).
func (EntitlementEngine) Calculate(profile WorkingProfile, def LeaveTypeDefinition, year int, effectiveFrom Date) (ProRataResult, error) {
	if profile.DaysPerWeek <= 0 || profile.DaysPerWeek > 7 {
		return ProRataResult{}, fmt.Errorf("%w: %d working days/week for %s",
			ErrInvalidWorkingPattern, profile.DaysPerWeek, profile.UserID)
	}
	if !def.Active {
		return ProRataResult{}, fmt.Errorf("%w: %s is inactive", ErrUnknownLeaveType, def.Code)
	}

	var reasons []string

	// 1. FTE from working days, with the compressed-hours exception.
	fte := decimal.NewFromInt(int64(profile.DaysPerWeek)).
		Div(decimal.NewFromInt(fullTimeReferenceDays))
	if profile.Pattern == PatternCompressedHours && profile.HoursPerWeek.GreaterThanOrEqual(compressedFullTimeHours) {
		fte = decimal.NewFromInt(1)
		reasons = append(reasons, "compressed-hours treated as full-time")
	}

	// 2. Year fraction for mid-year starts, inclusive calendar-day counting.
	yearFraction := decimal.NewFromInt(1)
	yearStart := NewDate(year, time.January, 1)
	yearEnd := NewDate(year, time.December, 31)
	switch {
	case effectiveFrom.After(yearEnd):
		yearFraction = decimal.Zero
		reasons = append(reasons, fmt.Sprintf("start after %d", year))
	case effectiveFrom.After(yearStart):
		total := YearDays(year)
		remaining := DateRange{Start: effectiveFrom, End: yearEnd}.Length()
		yearFraction = decimal.NewFromInt(int64(remaining)).Div(decimal.NewFromInt(int64(total)))
		reasons = append(reasons, fmt.Sprintf("mid-year start: %d/%d calendar days", remaining, total))
	}

	// 3. Raw pro-rata and rounding.
	raw := def.BaseAllowance.Mul(fte).Mul(yearFraction)
	step := entitlementStep(profile, def)
	entitled := roundHalfUp(raw, step)

	// 4. Statutory floor as a function of FTE.
	floor := decimal.Max(def.StatutoryBase.Mul(fte), def.StatutoryMinimum)
	if entitled.LessThan(floor) {
		entitled = floor
		reasons = append(reasons, fmt.Sprintf("statutory floor applied (%s days)", floor))
	}

	if len(reasons) == 0 {
		reasons = append(reasons, "standard pro-rata")
	}
	reason := fmt.Sprintf("%s; FTE %s, base %s", strings.Join(reasons, "; "), fte.Round(2), def.BaseAllowance)

	return ProRataResult{Entitled: entitled, FTE: fte, Reason: reason}, nil
}

// entitlementStep picks the rounding granularity: whole day for full-time
// and full-time-equivalent compressed hours, half day for other compressed
// patterns, quarter day for part-time and job-share. The leave type's own
// granularity wins when it is finer.
func entitlementStep(profile WorkingProfile, def LeaveTypeDefinition) decimal.Decimal {
	var g Granularity
	switch profile.Pattern {
	case PatternPartTime, PatternJobShare:
		g = GranularityQuarterDay
	case PatternCompressedHours:
		if profile.HoursPerWeek.GreaterThanOrEqual(compressedFullTimeHours) {
			g = GranularityWholeDay
		} else {
			g = GranularityHalfDay
		}
	default:
		g = GranularityWholeDay
	}

	step := g.Step()
	if typeStep := def.Granularity.Step(); typeStep.LessThan(step) {
		step = typeStep
	}
	return step
}

// roundHalfUp rounds v to the nearest multiple of step, halves away from zero.
func roundHalfUp(v, step decimal.Decimal) decimal.Decimal {
	return v.Div(step).Round(0).Mul(step)
}
