/*
dto.go - Request/response shapes for the HTTP API

PURPOSE:
  JSON contracts between handlers and clients, kept separate from the domain
  types so the wire format can evolve without breaking clients. Incoming
  bodies are validated with go-playground/validator before any domain call.

DATE SHAPES:
  A request carries either a contiguous range or an explicit date list,
  never both. Dates are 2006-01-02 strings; toSelection converts and lets
  the core's own validation reject malformed combinations.

SEE ALSO:
  - handlers.go: Decode/validate/respond plumbing
  - leave/types.go: The domain types these map onto
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// REQUEST BODIES
// =============================================================================

type dateRangeDTO struct {
	Start string `json:"start" validate:"required,datetime=2006-01-02"`
	End   string `json:"end" validate:"required,datetime=2006-01-02"`
}

type submitRequestDTO struct {
	ID          string        `json:"id,omitempty"`
	Requester   string        `json:"requester" validate:"required"`
	LeaveType   string        `json:"leave_type" validate:"required"`
	Range       *dateRangeDTO `json:"range,omitempty"`
	Dates       []string      `json:"dates,omitempty" validate:"dive,datetime=2006-01-02"`
	Substitutes []string      `json:"substitutes,omitempty"`
	Reason      string        `json:"reason,omitempty" validate:"max=1000"`
}

func (d submitRequestDTO) toRequest() (*leave.LeaveRequest, error) {
	sel, err := toSelection(d.Range, d.Dates)
	if err != nil {
		return nil, err
	}
	subs := make([]leave.UserID, len(d.Substitutes))
	for i, s := range d.Substitutes {
		subs[i] = leave.UserID(s)
	}
	return &leave.LeaveRequest{
		ID:          leave.RequestID(d.ID),
		Requester:   leave.UserID(d.Requester),
		LeaveType:   leave.LeaveTypeCode(d.LeaveType),
		Dates:       sel,
		Substitutes: subs,
		Reason:      d.Reason,
	}, nil
}

type decideDTO struct {
	Approver string `json:"approver" validate:"required"`
	Comment  string `json:"comment,omitempty" validate:"max=1000"`
}

type cancelDTO struct {
	Actor string `json:"actor" validate:"required"`
}

type adjustBalanceDTO struct {
	Actor  string `json:"actor" validate:"required"`
	Delta  string `json:"delta" validate:"required"`
	Reason string `json:"reason" validate:"required,max=1000"`
}

type availabilityDTO struct {
	Persons []string      `json:"persons" validate:"required,min=1,dive,required"`
	Range   *dateRangeDTO `json:"range,omitempty"`
	Dates   []string      `json:"dates,omitempty" validate:"dive,datetime=2006-01-02"`
}

type plannedLeaveDTO struct {
	User  string        `json:"user" validate:"required"`
	Range *dateRangeDTO `json:"range,omitempty"`
	Dates []string      `json:"dates,omitempty" validate:"dive,datetime=2006-01-02"`
}

type planningDTO struct {
	Plans []plannedLeaveDTO `json:"plans" validate:"required,dive"`
	// Period bounds coverage-gap analysis; ignored for overlap clustering.
	Period *dateRangeDTO `json:"period,omitempty"`
}

type leaveTypeDTO struct {
	Code             string   `json:"code" validate:"required"`
	Name             string   `json:"name" validate:"required"`
	BaseAllowance    string   `json:"base_allowance" validate:"required"`
	StatutoryBase    string   `json:"statutory_base,omitempty"`
	StatutoryMinimum string   `json:"statutory_minimum,omitempty"`
	RequiresDocument bool     `json:"requires_document"`
	Granularity      string   `json:"granularity,omitempty" validate:"omitempty,oneof=whole_day half_day quarter_day"`
	CarryEnabled     bool     `json:"carry_enabled"`
	CarryMaxDays     string   `json:"carry_max_days,omitempty"`
	ApprovalChain    []string `json:"approval_chain,omitempty" validate:"dive,oneof=manager director hr executive"`
	Active           bool     `json:"active"`
}

func (d leaveTypeDTO) toDefinition() (leave.LeaveTypeDefinition, error) {
	def := leave.LeaveTypeDefinition{
		Code:             leave.LeaveTypeCode(d.Code),
		Name:             d.Name,
		RequiresDocument: d.RequiresDocument,
		Granularity:      leave.Granularity(d.Granularity),
		Active:           d.Active,
	}
	if def.Granularity == "" {
		def.Granularity = leave.GranularityWholeDay
	}
	var err error
	if def.BaseAllowance, err = decimal.NewFromString(d.BaseAllowance); err != nil {
		return def, err
	}
	if def.StatutoryBase, err = parseDecimalOrZero(d.StatutoryBase); err != nil {
		return def, err
	}
	if def.StatutoryMinimum, err = parseDecimalOrZero(d.StatutoryMinimum); err != nil {
		return def, err
	}
	maxDays, err := parseDecimalOrZero(d.CarryMaxDays)
	if err != nil {
		return def, err
	}
	def.CarryForward = leave.CarryForwardPolicy{Enabled: d.CarryEnabled, MaxDays: maxDays}
	for _, lvl := range d.ApprovalChain {
		def.ApprovalChain = append(def.ApprovalChain, leave.ApprovalLevel(lvl))
	}
	return def, nil
}

type profileDTO struct {
	UserID        string `json:"user_id" validate:"required"`
	Pattern       string `json:"pattern" validate:"required,oneof=full_time part_time compressed_hours job_share"`
	DaysPerWeek   int    `json:"days_per_week" validate:"required,min=1,max=7"`
	HoursPerWeek  string `json:"hours_per_week,omitempty"`
	ContractStart string `json:"contract_start" validate:"required,datetime=2006-01-02"`
	// Actor is the HR user making the change; recorded when the upsert
	// triggers an entitlement recalculation.
	Actor string `json:"actor,omitempty"`
}

func (d profileDTO) actor() string {
	if d.Actor == "" {
		return "system"
	}
	return d.Actor
}

func (d profileDTO) toProfile() (leave.WorkingProfile, error) {
	hours, err := parseDecimalOrZero(d.HoursPerWeek)
	if err != nil {
		return leave.WorkingProfile{}, err
	}
	start, err := leave.ParseDate(d.ContractStart)
	if err != nil {
		return leave.WorkingProfile{}, err
	}
	return leave.WorkingProfile{
		UserID:        leave.UserID(d.UserID),
		Pattern:       leave.WorkingPattern(d.Pattern),
		DaysPerWeek:   d.DaysPerWeek,
		HoursPerWeek:  hours,
		ContractStart: start,
	}, nil
}

type holidayDTO struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	Name      string `json:"name" validate:"required"`
	Recurring bool   `json:"recurring"`
}

// =============================================================================
// RESPONSE BODIES
// =============================================================================

type requestResponse struct {
	ID               string               `json:"id"`
	Requester        string               `json:"requester"`
	LeaveType        string               `json:"leave_type"`
	Dates            leave.DateSelection  `json:"dates"`
	TotalDays        string               `json:"total_days"`
	Substitutes      []leave.UserID       `json:"substitutes,omitempty"`
	Reason           string               `json:"reason,omitempty"`
	State            string               `json:"state"`
	Steps            []leave.ApprovalStep `json:"steps,omitempty"`
	CurrentLevel     string               `json:"current_level,omitempty"`
	DocumentVerified bool                 `json:"document_verified"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

func toRequestResponse(req *leave.LeaveRequest) requestResponse {
	return requestResponse{
		ID:               string(req.ID),
		Requester:        string(req.Requester),
		LeaveType:        string(req.LeaveType),
		Dates:            req.Dates,
		TotalDays:        req.TotalDays.String(),
		Substitutes:      req.Substitutes,
		Reason:           req.Reason,
		State:            string(req.State),
		Steps:            req.Steps,
		CurrentLevel:     string(req.CurrentLevel),
		DocumentVerified: req.DocumentVerified,
		CreatedAt:        req.CreatedAt,
		UpdatedAt:        req.UpdatedAt,
	}
}

type submitResponse struct {
	Request  requestResponse        `json:"request"`
	Warnings []leave.ConflictReport `json:"warnings,omitempty"`
}

type balanceResponse struct {
	User           string `json:"user"`
	LeaveType      string `json:"leave_type"`
	Year           int    `json:"year"`
	Entitled       string `json:"entitled"`
	Used           string `json:"used"`
	Pending        string `json:"pending"`
	CarriedForward string `json:"carried_forward"`
	Available      string `json:"available"`
	SeedReason     string `json:"seed_reason,omitempty"`
}

func toBalanceResponse(rec *leave.BalanceRecord) balanceResponse {
	return balanceResponse{
		User:           string(rec.Key.User),
		LeaveType:      string(rec.Key.LeaveType),
		Year:           rec.Key.Year,
		Entitled:       rec.Entitled.String(),
		Used:           rec.Used.String(),
		Pending:        rec.Pending.String(),
		CarriedForward: rec.CarriedForward.String(),
		Available:      rec.Available().String(),
		SeedReason:     rec.SeedReason,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	// Retryable marks optimistic-concurrency losses the client may replay.
	Retryable bool `json:"retryable,omitempty"`
}

// =============================================================================
// HELPERS
// =============================================================================

func toSelection(r *dateRangeDTO, dates []string) (leave.DateSelection, error) {
	if r != nil {
		start, err := leave.ParseDate(r.Start)
		if err != nil {
			return leave.DateSelection{}, err
		}
		end, err := leave.ParseDate(r.End)
		if err != nil {
			return leave.DateSelection{}, err
		}
		return leave.SelectRange(start, end), nil
	}
	parsed := make([]leave.Date, 0, len(dates))
	for _, s := range dates {
		d, err := leave.ParseDate(s)
		if err != nil {
			return leave.DateSelection{}, err
		}
		parsed = append(parsed, d)
	}
	return leave.SelectDates(parsed...), nil
}

func parseDecimalOrZero(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
