/*
handlers.go - HTTP handlers for the leave engine

PURPOSE:
  Exposes the entitlement/ledger/workflow/conflict core over REST. Handles
  HTTP request/response, JSON serialization, input validation, and delegates
  every business decision to the core.

ENDPOINTS:
  Requests:
    POST   /api/requests                     Submit (or submit a stored draft)
    POST   /api/requests/draft               Save a draft
    GET    /api/requests/{id}                Fetch one request
    GET    /api/requests/pending             List pending/partially-approved
    POST   /api/requests/{id}/approve        Approve at the current level
    POST   /api/requests/{id}/reject         Reject
    POST   /api/requests/{id}/cancel         Cancel (pre-approval only)
    POST   /api/requests/{id}/escalate       Move to the next authority
    POST   /api/requests/{id}/document       Mark HR document verified

  Balances:
    GET    /api/balances/{user}/{type}/{year}        Read (seeds lazily)
    POST   /api/balances/{user}/{type}/{year}/adjust Manual HR adjustment

  Availability and planning:
    POST   /api/availability                 Classify candidates for a window
    POST   /api/planning/overlaps            Team overlap clusters
    POST   /api/planning/gaps                Coverage gaps in a period

  Reference data:
    GET    /api/leave-types                  List definitions
    POST   /api/leave-types                  Upsert a definition
    POST   /api/profiles                     Upsert a working profile
                                             (re-prices seeded balances for
                                             the current and next year)
    GET    /api/holidays?year=2026           List holidays
    POST   /api/holidays                     Add a holiday

  Audit:
    GET    /api/audit?actor=&request=        Query the audit log

ERROR HANDLING:
  Domain errors map to status codes through the core's error taxonomy:
  - 400: validation, malformed dates, config errors
  - 402-free zone; insufficient balance is a 409 with detail
  - 404: unknown request or balance record
  - 409: conflicts (scheduling, optimistic version, state machine)
  - 500: integrity errors (also logged at error level)

SECURITY NOTE:
  No authentication middleware. Actor identity comes from the request body
  and is trusted; an auth layer belongs in front of this service.

SEE ALSO:
  - dto.go:    Wire shapes
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// AdminStore covers the reference-data writes the API needs beyond the core's
// read-only ports. Both store implementations satisfy it.
type AdminStore interface {
	leave.HolidayCalendar
	PutLeaveType(ctx context.Context, def leave.LeaveTypeDefinition) error
	LeaveTypes(ctx context.Context) ([]leave.LeaveTypeDefinition, error)
	PutProfile(ctx context.Context, p leave.WorkingProfile) error
	AddHoliday(ctx context.Context, h leave.Holiday) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger   *leave.BalanceLedger
	Workflow *leave.ApprovalWorkflow
	Detector *leave.ConflictDetector
	Admin    AdminStore
	Audit    leave.AuditLog

	// Thresholds and MinGapDays parameterize the planning endpoints.
	Thresholds leave.ClusterThresholds
	MinGapDays int

	validate *validator.Validate
	logger   *zap.Logger
}

func NewHandler(ledger *leave.BalanceLedger, workflow *leave.ApprovalWorkflow, detector *leave.ConflictDetector, admin AdminStore, audit leave.AuditLog, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Ledger:     ledger,
		Workflow:   workflow,
		Detector:   detector,
		Admin:      admin,
		Audit:      audit,
		Thresholds: leave.DefaultClusterThresholds(),
		MinGapDays: 5,
		validate:   validator.New(),
		logger:     logger,
	}
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var dto submitRequestDTO
	if !h.decode(w, r, &dto) {
		return
	}
	req, err := dto.toRequest()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.Workflow.Submit(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, submitResponse{
		Request:  toRequestResponse(result.Request),
		Warnings: result.Warnings,
	})
}

func (h *Handler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	var dto submitRequestDTO
	if !h.decode(w, r, &dto) {
		return
	}
	req, err := dto.toRequest()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	saved, err := h.Workflow.SaveDraft(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toRequestResponse(saved))
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id := leave.RequestID(chi.URLParam(r, "id"))
	req, err := h.Workflow.Request(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRequestResponse(req))
}

func (h *Handler) ListPendingRequests(w http.ResponseWriter, r *http.Request) {
	pending, err := h.Workflow.Pending(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out := make([]requestResponse, 0, len(pending))
	for _, req := range pending {
		out = append(out, toRequestResponse(req))
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, leave.DecisionApprove)
}

func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, leave.DecisionReject)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, decision leave.Decision) {
	id := leave.RequestID(chi.URLParam(r, "id"))
	var dto decideDTO
	if !h.decode(w, r, &dto) {
		return
	}

	req, err := h.Workflow.Decide(r.Context(), id, leave.UserID(dto.Approver), decision, dto.Comment)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRequestResponse(req))
}

func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	id := leave.RequestID(chi.URLParam(r, "id"))
	var dto cancelDTO
	if !h.decode(w, r, &dto) {
		return
	}

	req, err := h.Workflow.Cancel(r.Context(), id, leave.UserID(dto.Actor))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRequestResponse(req))
}

func (h *Handler) EscalateRequest(w http.ResponseWriter, r *http.Request) {
	id := leave.RequestID(chi.URLParam(r, "id"))
	var dto cancelDTO
	if !h.decode(w, r, &dto) {
		return
	}

	req, err := h.Workflow.Escalate(r.Context(), id, dto.Actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRequestResponse(req))
}

func (h *Handler) MarkDocumentVerified(w http.ResponseWriter, r *http.Request) {
	id := leave.RequestID(chi.URLParam(r, "id"))
	var dto cancelDTO
	if !h.decode(w, r, &dto) {
		return
	}

	req, err := h.Workflow.MarkDocumentVerified(r.Context(), id, dto.Actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRequestResponse(req))
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	user, code, year, ok := h.balanceKey(w, r)
	if !ok {
		return
	}

	// Reads seed lazily so a fresh user sees their entitlement immediately.
	rec, err := h.Ledger.EnsureSeeded(r.Context(), user, code, year)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toBalanceResponse(rec))
}

func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	user, code, year, ok := h.balanceKey(w, r)
	if !ok {
		return
	}
	var dto adjustBalanceDTO
	if !h.decode(w, r, &dto) {
		return
	}
	delta, err := decimal.NewFromString(dto.Delta)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	key := leave.BalanceKey{User: user, LeaveType: code, Year: year}
	if _, err := h.Ledger.EnsureSeeded(r.Context(), user, code, year); err != nil {
		h.writeDomainError(w, err)
		return
	}
	if err := h.Ledger.AdjustManually(r.Context(), key, delta, dto.Actor, dto.Reason); err != nil {
		h.writeDomainError(w, err)
		return
	}

	rec, err := h.Ledger.Balance(r.Context(), key)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toBalanceResponse(rec))
}

func (h *Handler) balanceKey(w http.ResponseWriter, r *http.Request) (leave.UserID, leave.LeaveTypeCode, int, bool) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 1900 || year > 9999 {
		h.writeError(w, http.StatusBadRequest, errors.New("invalid year"))
		return "", "", 0, false
	}
	return leave.UserID(chi.URLParam(r, "user")), leave.LeaveTypeCode(chi.URLParam(r, "type")), year, true
}

// =============================================================================
// AVAILABILITY AND PLANNING HANDLERS
// =============================================================================

func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	var dto availabilityDTO
	if !h.decode(w, r, &dto) {
		return
	}
	sel, err := toSelection(dto.Range, dto.Dates)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	persons := make([]leave.UserID, len(dto.Persons))
	for i, p := range dto.Persons {
		persons[i] = leave.UserID(p)
	}
	reports, err := h.Detector.CheckAvailability(r.Context(), persons, sel)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, reports)
}

func (h *Handler) OverlapClusters(w http.ResponseWriter, r *http.Request) {
	plans, _, ok := h.decodePlans(w, r, false)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, h.Detector.OverlapClusters(plans, h.Thresholds))
}

func (h *Handler) CoverageGaps(w http.ResponseWriter, r *http.Request) {
	plans, period, ok := h.decodePlans(w, r, true)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, h.Detector.CoverageGaps(plans, period, h.MinGapDays))
}

func (h *Handler) decodePlans(w http.ResponseWriter, r *http.Request, needPeriod bool) ([]leave.PlannedLeave, leave.DateRange, bool) {
	var dto planningDTO
	if !h.decode(w, r, &dto) {
		return nil, leave.DateRange{}, false
	}

	var period leave.DateRange
	if needPeriod {
		if dto.Period == nil {
			h.writeError(w, http.StatusBadRequest, errors.New("period is required"))
			return nil, period, false
		}
		start, err := leave.ParseDate(dto.Period.Start)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return nil, period, false
		}
		end, err := leave.ParseDate(dto.Period.End)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return nil, period, false
		}
		period = leave.DateRange{Start: start, End: end}
	}

	plans := make([]leave.PlannedLeave, 0, len(dto.Plans))
	for _, p := range dto.Plans {
		sel, err := toSelection(p.Range, p.Dates)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return nil, period, false
		}
		plans = append(plans, leave.PlannedLeave{User: leave.UserID(p.User), Dates: sel})
	}
	return plans, period, true
}

// =============================================================================
// REFERENCE DATA HANDLERS
// =============================================================================

func (h *Handler) ListLeaveTypes(w http.ResponseWriter, r *http.Request) {
	defs, err := h.Admin.LeaveTypes(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, defs)
}

func (h *Handler) PutLeaveType(w http.ResponseWriter, r *http.Request) {
	var dto leaveTypeDTO
	if !h.decode(w, r, &dto) {
		return
	}
	def, err := dto.toDefinition()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Admin.PutLeaveType(r.Context(), def); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, def)
}

func (h *Handler) PutProfile(w http.ResponseWriter, r *http.Request) {
	var dto profileDTO
	if !h.decode(w, r, &dto) {
		return
	}
	profile, err := dto.toProfile()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Admin.PutProfile(r.Context(), profile); err != nil {
		h.writeDomainError(w, err)
		return
	}

	// A pattern change re-prices balances already seeded for the current and
	// next calendar year. Unseeded keys and retired types are skipped.
	defs, err := h.Admin.LeaveTypes(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	year := leave.Today().Year()
	for _, def := range defs {
		for _, y := range []int{year, year + 1} {
			key := leave.BalanceKey{User: profile.UserID, LeaveType: def.Code, Year: y}
			_, err := h.Ledger.RecalculateEntitlement(r.Context(), key, dto.actor())
			if err != nil && !leave.IsNotFound(err) && !errors.Is(err, leave.ErrUnknownLeaveType) {
				h.writeDomainError(w, err)
				return
			}
		}
	}
	h.writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	year := leave.Today().Year()
	if q := r.URL.Query().Get("year"); q != "" {
		parsed, err := strconv.Atoi(q)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, errors.New("invalid year"))
			return
		}
		year = parsed
	}
	holidays := h.Admin.Holidays(year)
	if holidays == nil {
		holidays = []leave.Holiday{}
	}
	h.writeJSON(w, http.StatusOK, holidays)
}

func (h *Handler) AddHoliday(w http.ResponseWriter, r *http.Request) {
	var dto holidayDTO
	if !h.decode(w, r, &dto) {
		return
	}
	date, err := leave.ParseDate(dto.Date)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	holiday := leave.Holiday{
		ID:        uuid.NewString(),
		Date:      date,
		Name:      dto.Name,
		Recurring: dto.Recurring,
	}
	if err := h.Admin.AddHoliday(r.Context(), holiday); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, holiday)
}

// =============================================================================
// AUDIT HANDLER
// =============================================================================

func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	filter := leave.AuditFilter{
		Actor:     r.URL.Query().Get("actor"),
		RequestID: leave.RequestID(r.URL.Query().Get("request")),
	}
	entries, err := h.Audit.Query(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []leave.AuditEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// =============================================================================
// PLUMBING
// =============================================================================

// decode unmarshals and validates the body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

// writeDomainError maps the core's error taxonomy onto status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case leave.IsNotFound(err):
		h.writeError(w, http.StatusNotFound, err)
	case leave.IsRetryable(err):
		h.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Retryable: true})
	case errors.Is(err, leave.ErrInsufficientBalance),
		errors.Is(err, leave.ErrConflictBlocked),
		errors.Is(err, leave.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, err)
	case leave.IsClientError(err), leave.IsConfigError(err):
		h.writeError(w, http.StatusBadRequest, err)
	default:
		h.logger.Error("internal error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
