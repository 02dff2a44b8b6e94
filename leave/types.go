/*
Package leave implements the leave entitlement and approval core.

PURPOSE:
  This package contains the four tightly-coupled pieces behind a corporate
  leave system: entitlement calculation (pro-rata, statutory floors), the
  balance ledger (entitled/used/pending/carried-forward per user, leave type,
  and year), the multi-step approval workflow, and conflict detection.

KEY CONCEPTS IN THIS FILE (types.go):
  - WorkingProfile:      Fractional working pattern per user
  - LeaveTypeDefinition: Immutable reference data per leave type
  - BalanceRecord:       The ledger entry and its non-negativity invariant
  - LeaveRequest:        A request moving through the approval state machine

DESIGN PRINCIPLES:
  1. Precision: day quantities are decimal.Decimal, never floats
  2. Explicit ports: storage and reference data are injected interfaces
  3. Append-only history: approval steps are appended, never rewritten
  4. One invariant, one place: available >= 0 is enforced by the ledger only

SEE ALSO:
  - entitlement.go: Pro-rata calculation
  - ledger.go:      Reserve/commit/release primitives
  - workflow.go:    State machine and transitions
*/
package leave

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type LeaveTypeCode string
type RequestID string

// =============================================================================
// WORKING PROFILE - Fractional working pattern per user
// =============================================================================

type WorkingPattern string

const (
	PatternFullTime        WorkingPattern = "full_time"
	PatternPartTime        WorkingPattern = "part_time"
	PatternCompressedHours WorkingPattern = "compressed_hours"
	PatternJobShare        WorkingPattern = "job_share"
)

// WorkingProfile describes how a user works. Mutated only by HR pattern-change
// events; every change triggers entitlement recalculation for the current and
// next calendar year.
type WorkingProfile struct {
	UserID        UserID          `json:"user_id"`
	Pattern       WorkingPattern  `json:"pattern"`
	DaysPerWeek   int             `json:"days_per_week"`
	HoursPerWeek  decimal.Decimal `json:"hours_per_week"`
	ContractStart Date            `json:"contract_start"`
}

// =============================================================================
// LEAVE TYPE DEFINITION - Immutable reference data
// =============================================================================

// Granularity is the rounding step for entitlement amounts.
type Granularity string

const (
	GranularityWholeDay   Granularity = "whole_day"
	GranularityHalfDay    Granularity = "half_day"
	GranularityQuarterDay Granularity = "quarter_day"
)

func (g Granularity) Step() decimal.Decimal {
	switch g {
	case GranularityHalfDay:
		return decimal.NewFromFloat(0.5)
	case GranularityQuarterDay:
		return decimal.NewFromFloat(0.25)
	default:
		return decimal.NewFromInt(1)
	}
}

// ApprovalLevel is one authority in a leave type's approval chain.
type ApprovalLevel string

const (
	LevelManager   ApprovalLevel = "manager"
	LevelDirector  ApprovalLevel = "director"
	LevelHR        ApprovalLevel = "hr"
	LevelExecutive ApprovalLevel = "executive"
)

// escalationOrder ranks authorities for SLA escalation: an unanswered step
// moves to the next level in this order.
var escalationOrder = []ApprovalLevel{LevelManager, LevelDirector, LevelHR, LevelExecutive}

// NextAuthority returns the authority above the given level, or "" when the
// level is already at the top of the escalation order.
func NextAuthority(level ApprovalLevel) ApprovalLevel {
	for i, l := range escalationOrder {
		if l == level && i+1 < len(escalationOrder) {
			return escalationOrder[i+1]
		}
	}
	return ""
}

// CarryForwardPolicy controls how much unused balance moves into the next
// year. Disabled types carry nothing.
type CarryForwardPolicy struct {
	Enabled bool            `json:"enabled"`
	MaxDays decimal.Decimal `json:"max_days"`
}

// LeaveTypeDefinition is reference data for one leave type. Rarely mutated,
// only by admins.
type LeaveTypeDefinition struct {
	Code             LeaveTypeCode      `json:"code"`
	Name             string             `json:"name"`
	BaseAllowance    decimal.Decimal    `json:"base_allowance"`     // full-time days per year
	StatutoryBase    decimal.Decimal    `json:"statutory_base"`     // legal base for the FTE floor
	StatutoryMinimum decimal.Decimal    `json:"statutory_minimum"`  // absolute legal minimum in days
	RequiresDocument bool               `json:"requires_document"`  // HR verification gates final approval
	Granularity      Granularity        `json:"granularity"`
	CarryForward     CarryForwardPolicy `json:"carry_forward"`
	ApprovalChain    []ApprovalLevel    `json:"approval_chain"`
	Active           bool               `json:"active"`
}

// Chain returns the required approval levels, defaulting to a single manager
// step when the definition does not configure one.
func (d *LeaveTypeDefinition) Chain() []ApprovalLevel {
	if len(d.ApprovalChain) == 0 {
		return []ApprovalLevel{LevelManager}
	}
	return d.ApprovalChain
}

// =============================================================================
// BALANCE RECORD - The ledger entry and its invariant
// =============================================================================

// BalanceKey identifies one ledger record. All ledger operations are
// serialized per key; different keys proceed in parallel.
type BalanceKey struct {
	User      UserID        `json:"user"`
	LeaveType LeaveTypeCode `json:"leave_type"`
	Year      int           `json:"year"`
}

func (k BalanceKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.User, k.LeaveType, k.Year)
}

// BalanceRecord tracks entitled/used/pending/carried-forward days for one
// (user, leaveType, year). Created lazily via the entitlement engine, updated
// by workflow transitions, never deleted.
type BalanceRecord struct {
	Key            BalanceKey      `json:"key"`
	Entitled       decimal.Decimal `json:"entitled"`
	Used           decimal.Decimal `json:"used"`
	Pending        decimal.Decimal `json:"pending"`
	CarriedForward decimal.Decimal `json:"carried_forward"`

	// SeedReason documents which entitlement rule fired when the record was
	// created. Required for audit, not just logging.
	SeedReason string `json:"seed_reason"`

	// Version supports optimistic check-and-put at the store.
	Version int64 `json:"version"`
}

// Available is the derived value guarded by the core invariant:
// entitled + carriedForward - used - pending, never negative.
func (r *BalanceRecord) Available() decimal.Decimal {
	return r.Entitled.Add(r.CarriedForward).Sub(r.Used).Sub(r.Pending)
}

// invariantViolated reports whether any mutation left the record in an
// illegal state. Checked before every store write.
func (r *BalanceRecord) invariantViolated() bool {
	return r.Available().IsNegative() ||
		r.Used.IsNegative() ||
		r.Pending.IsNegative() ||
		r.CarriedForward.IsNegative()
}

func (r *BalanceRecord) Clone() *BalanceRecord {
	c := *r
	return &c
}

// =============================================================================
// LEAVE REQUEST - The workflow subject
// =============================================================================

type RequestState string

const (
	StateDraft             RequestState = "draft"
	StatePendingApproval   RequestState = "pending_approval"
	StatePartiallyApproved RequestState = "partially_approved"
	StateApproved          RequestState = "approved"
	StateRejected          RequestState = "rejected"
	StateCancelled         RequestState = "cancelled"
)

// Terminal reports whether no further transition is legal.
func (s RequestState) Terminal() bool {
	return s == StateApproved || s == StateRejected || s == StateCancelled
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ApprovalStep is one decision in the request's append-only history.
type ApprovalStep struct {
	Approver  UserID        `json:"approver"`
	Level     ApprovalLevel `json:"level"`
	Decision  Decision      `json:"decision"`
	Comment   string        `json:"comment,omitempty"`
	DecidedAt time.Time     `json:"decided_at"`
}

// LeaveRequest moves through the approval state machine. Once it leaves
// DRAFT it is never deleted; cancellation is a terminal state.
type LeaveRequest struct {
	ID          RequestID     `json:"id"`
	Requester   UserID        `json:"requester"`
	LeaveType   LeaveTypeCode `json:"leave_type"`
	Dates       DateSelection `json:"dates"`
	TotalDays   decimal.Decimal `json:"total_days"` // working days, computed at submission
	Substitutes []UserID      `json:"substitutes,omitempty"`
	Reason      string        `json:"reason,omitempty"`

	State RequestState   `json:"state"`
	Steps []ApprovalStep `json:"steps"` // append-only

	// ChainIndex is the position of the next required level in the leave
	// type's approval chain. CurrentLevel is who must decide now; escalation
	// may raise it above the chain level without touching the ledger.
	ChainIndex   int           `json:"chain_index"`
	CurrentLevel ApprovalLevel `json:"current_level,omitempty"`

	// DocumentVerified is set by the external HR verification workflow and
	// gates final approval for leave types that require it.
	DocumentVerified bool `json:"document_verified"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// BalanceKey returns the ledger key this request draws from. The year is
// taken from the first requested date.
func (r *LeaveRequest) BalanceKey() BalanceKey {
	return BalanceKey{
		User:      r.Requester,
		LeaveType: r.LeaveType,
		Year:      r.Dates.Window().Start.Year(),
	}
}

func (r *LeaveRequest) Clone() *LeaveRequest {
	c := *r
	c.Substitutes = append([]UserID(nil), r.Substitutes...)
	c.Steps = append([]ApprovalStep(nil), r.Steps...)
	if r.Dates.Range != nil {
		rng := *r.Dates.Range
		c.Dates.Range = &rng
	}
	c.Dates.Dates = append([]Date(nil), r.Dates.Dates...)
	return &c
}
