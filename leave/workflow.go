/*
workflow.go - The approval state machine

PURPOSE:
  Drives a leave request through

    DRAFT -> PENDING_APPROVAL -> {PARTIALLY_APPROVED} -> APPROVED | REJECTED

  with CANCELLED reachable from DRAFT / PENDING_APPROVAL / PARTIALLY_APPROVED
  only. Every transition is the single place that touches the ledger:

    submit            -> Reserve(totalDays)
    final approval    -> Commit(totalDays)
    reject / cancel   -> Release(totalDays)

  Intermediate approvals in a multi-level chain move the request to
  PARTIALLY_APPROVED without any ledger change.

GATING AT SUBMISSION:
  The conflict detector runs first. Overlapping same-user leave is always a
  hard block; substitute unavailability blocks only when the policy says so
  (warning by default). Non-blocking findings come back as warnings.

ESCALATION:
  When an approver misses the SLA, the pending step moves to the next
  authority level. Escalation changes WHO must decide, never the ledger.
  Detecting "SLA expired" is a collaborator's job (see api's sweeper);
  this core only exposes the transition.

SERIALIZATION:
  Each transition takes the ledger's key lock for the whole unit of work, so
  a request cannot be approved and rejected concurrently and the request
  mutation travels with its ledger mutation.

SEE ALSO:
  - ledger.go:   Reserve/Commit/Release primitives
  - conflict.go: Submission gating
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// WORKFLOW POLICY
// =============================================================================

// WorkflowPolicy holds the configurable behavior the source system left
// inconsistent: whether substitute unavailability blocks submission, and the
// SLA after which a pending step escalates.
type WorkflowPolicy struct {
	SubstituteHardBlock bool
	EscalationSLA       time.Duration
}

func DefaultWorkflowPolicy() WorkflowPolicy {
	return WorkflowPolicy{
		SubstituteHardBlock: false,
		EscalationSLA:       72 * time.Hour,
	}
}

// =============================================================================
// APPROVAL WORKFLOW
// =============================================================================

type ApprovalWorkflow struct {
	ledger   *BalanceLedger
	requests RequestStore
	detector *ConflictDetector
	refs     ReferenceSource
	calendar HolidayCalendar
	events   EventSink
	audit    AuditLog
	policy   WorkflowPolicy
	logger   *zap.Logger
	now      func() time.Time
}

type WorkflowOption func(*ApprovalWorkflow)

func WithWorkflowPolicy(p WorkflowPolicy) WorkflowOption {
	return func(w *ApprovalWorkflow) { w.policy = p }
}
func WithCalendar(c HolidayCalendar) WorkflowOption {
	return func(w *ApprovalWorkflow) { w.calendar = c }
}
func WithWorkflowEvents(s EventSink) WorkflowOption {
	return func(w *ApprovalWorkflow) { w.events = s }
}
func WithWorkflowAudit(a AuditLog) WorkflowOption {
	return func(w *ApprovalWorkflow) { w.audit = a }
}
func WithWorkflowLogger(lg *zap.Logger) WorkflowOption {
	return func(w *ApprovalWorkflow) { w.logger = lg }
}

func NewApprovalWorkflow(ledger *BalanceLedger, requests RequestStore, detector *ConflictDetector, refs ReferenceSource, opts ...WorkflowOption) *ApprovalWorkflow {
	w := &ApprovalWorkflow{
		ledger:   ledger,
		requests: requests,
		detector: detector,
		refs:     refs,
		calendar: NoHolidays{},
		events:   NopSink{},
		audit:    NopAudit{},
		policy:   DefaultWorkflowPolicy(),
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SubmissionResult carries the submitted request plus the non-blocking
// conflict findings the requester should see.
type SubmissionResult struct {
	Request  *LeaveRequest
	Warnings []ConflictReport
}

// =============================================================================
// SUBMIT
// =============================================================================

// SaveDraft stores a request in DRAFT without touching the ledger.
func (w *ApprovalWorkflow) SaveDraft(ctx context.Context, req *LeaveRequest) (*LeaveRequest, error) {
	if err := req.Dates.Validate(); err != nil {
		return nil, err
	}
	if req.ID == "" {
		req.ID = RequestID(uuid.NewString())
		req.CreatedAt = w.now()
	}
	req.State = StateDraft
	req.UpdatedAt = w.now()
	if err := w.requests.PutRequest(ctx, req, req.Version); err != nil {
		return nil, err
	}
	return req, nil
}

// Submit runs conflict gating, seeds the ledger for the request's year if
// needed, reserves the working-day total, and moves the request to
// PENDING_APPROVAL.
func (w *ApprovalWorkflow) Submit(ctx context.Context, req *LeaveRequest) (*SubmissionResult, error) {
	if err := req.Dates.Validate(); err != nil {
		return nil, err
	}

	// A stored request may only be submitted from DRAFT.
	if req.ID != "" {
		stored, err := w.requests.GetRequest(ctx, req.ID)
		if err == nil {
			if stored.State != StateDraft {
				return nil, w.transitionError(stored, "submit")
			}
			req.Version = stored.Version
			req.CreatedAt = stored.CreatedAt
		} else if !errors.Is(err, ErrRequestNotFound) {
			return nil, err
		}
	} else {
		req.ID = RequestID(uuid.NewString())
		req.CreatedAt = w.now()
	}

	def, err := w.leaveType(ctx, req.LeaveType)
	if err != nil {
		return nil, err
	}

	// Day count excludes weekends and blocked holidays.
	workingDays := req.Dates.Set().WorkingDays(w.calendar)
	if len(workingDays) == 0 {
		return nil, fmt.Errorf("%w: no working days in selection", ErrInvalidDateSelection)
	}
	req.TotalDays = decimal.NewFromInt(int64(len(workingDays)))

	// The conflict gate runs under the balance-key lock: two overlapping
	// submissions by the same user serialize here, so the second one sees
	// the first request stored and is blocked instead of slipping through.
	key := req.BalanceKey()
	unlock := w.ledger.keys.lock(key)
	defer unlock()

	warnings, err := w.gateConflicts(ctx, req)
	if err != nil {
		return nil, err
	}

	if _, err := w.ledger.ensureSeededLocked(ctx, key); err != nil {
		return nil, err
	}
	if err := w.ledger.reserveLocked(ctx, key, req.TotalDays); err != nil {
		return nil, err
	}

	chain := def.Chain()
	req.State = StatePendingApproval
	req.ChainIndex = 0
	req.CurrentLevel = chain[0]
	req.UpdatedAt = w.now()
	if err := w.requests.PutRequest(ctx, req, req.Version); err != nil {
		// Compensate the reservation so the ledger does not leak pending days.
		if relErr := w.ledger.releaseLocked(ctx, key, req.TotalDays); relErr != nil {
			w.logger.Error("failed to compensate reservation",
				zap.String("request", string(req.ID)), zap.Error(relErr))
		}
		return nil, err
	}

	w.appendAudit(ctx, AuditEntry{
		Action:    AuditSubmitted,
		Actor:     string(req.Requester),
		RequestID: req.ID,
		Key:       &key,
		Detail:    fmt.Sprintf("%s days, level %s", req.TotalDays, req.CurrentLevel),
	})
	w.events.Emit(ctx, newEvent(EventSubmitted, req.ID, req.Requester, req.LeaveType,
		fmt.Sprintf("%s working days", req.TotalDays)))

	return &SubmissionResult{Request: req, Warnings: warnings}, nil
}

// gateConflicts checks the requester and proposed substitutes. Overlapping
// same-user leave always blocks; substitute unavailability blocks only under
// the hard-block policy. Everything else is returned as warnings.
func (w *ApprovalWorkflow) gateConflicts(ctx context.Context, req *LeaveRequest) ([]ConflictReport, error) {
	persons := append([]UserID{req.Requester}, req.Substitutes...)
	reports, err := w.detector.CheckAvailability(ctx, persons, req.Dates)
	if err != nil {
		return nil, err
	}

	var warnings []ConflictReport
	for i, report := range reports {
		isRequester := i == 0
		if isRequester {
			var leaveConflicts []ConflictEntry
			for _, c := range report.Conflicts {
				if c.Kind == ConflictLeave {
					leaveConflicts = append(leaveConflicts, c)
				}
			}
			if len(leaveConflicts) > 0 {
				return nil, &ConflictBlockedError{User: req.Requester, Conflicts: leaveConflicts}
			}
			if len(report.Conflicts) > 0 {
				warnings = append(warnings, report)
			}
			continue
		}

		if report.Classification == Unavailable && w.policy.SubstituteHardBlock {
			return nil, &ConflictBlockedError{User: report.Person, Conflicts: report.Conflicts}
		}
		if report.Classification != Available {
			warnings = append(warnings, report)
		}
	}
	return warnings, nil
}

// =============================================================================
// DECIDE
// =============================================================================

// Decide records an approval or rejection by the current authority level.
// Rejection releases the reservation; the final approval commits it, gated
// on document verification for leave types that require it.
func (w *ApprovalWorkflow) Decide(ctx context.Context, id RequestID, approver UserID, decision Decision, comment string) (*LeaveRequest, error) {
	req, key, unlock, err := w.loadLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if req.State != StatePendingApproval && req.State != StatePartiallyApproved {
		return nil, w.transitionError(req, "decide")
	}

	def, err := w.leaveType(ctx, req.LeaveType)
	if err != nil {
		return nil, err
	}
	chain := def.Chain()
	final := req.ChainIndex+1 >= len(chain)

	if decision == DecisionApprove && final && def.RequiresDocument && !req.DocumentVerified {
		// Blocks the approval without consuming the approver's action: no
		// step is appended and the request stays where it is.
		return nil, fmt.Errorf("%w: %s requires a verified document", ErrDocumentVerificationPending, req.LeaveType)
	}

	step := ApprovalStep{
		Approver:  approver,
		Level:     req.CurrentLevel,
		Decision:  decision,
		Comment:   comment,
		DecidedAt: w.now(),
	}

	switch decision {
	case DecisionReject:
		if err := w.ledger.releaseLocked(ctx, key, req.TotalDays); err != nil {
			return nil, err
		}
		req.Steps = append(req.Steps, step)
		req.State = StateRejected

	case DecisionApprove:
		if final {
			if err := w.ledger.commitLocked(ctx, key, req.TotalDays); err != nil {
				return nil, err
			}
			req.Steps = append(req.Steps, step)
			req.State = StateApproved
		} else {
			req.Steps = append(req.Steps, step)
			req.ChainIndex++
			req.CurrentLevel = chain[req.ChainIndex]
			req.State = StatePartiallyApproved
		}

	default:
		return nil, fmt.Errorf("%w: unknown decision %q", ErrInvalidTransition, decision)
	}

	req.UpdatedAt = w.now()
	if err := w.requests.PutRequest(ctx, req, req.Version); err != nil {
		return nil, err
	}

	w.appendAudit(ctx, AuditEntry{
		Action:    AuditDecided,
		Actor:     string(approver),
		RequestID: req.ID,
		Key:       &key,
		Detail:    fmt.Sprintf("%s at level %s -> %s", decision, step.Level, req.State),
	})
	switch req.State {
	case StateApproved:
		w.events.Emit(ctx, newEvent(EventApproved, req.ID, req.Requester, req.LeaveType, comment))
	case StateRejected:
		w.events.Emit(ctx, newEvent(EventRejected, req.ID, req.Requester, req.LeaveType, comment))
	}
	return req, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel is valid from DRAFT, PENDING_APPROVAL, and PARTIALLY_APPROVED only.
// An approved request cannot be cancelled here; that is a compensating action
// outside this core.
func (w *ApprovalWorkflow) Cancel(ctx context.Context, id RequestID, actor UserID) (*LeaveRequest, error) {
	req, key, unlock, err := w.loadLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	switch req.State {
	case StateDraft:
		// Nothing reserved yet.
	case StatePendingApproval, StatePartiallyApproved:
		if err := w.ledger.releaseLocked(ctx, key, req.TotalDays); err != nil {
			return nil, err
		}
	default:
		return nil, w.transitionError(req, "cancel")
	}

	req.State = StateCancelled
	req.UpdatedAt = w.now()
	if err := w.requests.PutRequest(ctx, req, req.Version); err != nil {
		return nil, err
	}

	w.appendAudit(ctx, AuditEntry{
		Action:    AuditCancelled,
		Actor:     string(actor),
		RequestID: req.ID,
		Key:       &key,
	})
	w.events.Emit(ctx, newEvent(EventCancelled, req.ID, req.Requester, req.LeaveType, ""))
	return req, nil
}

// =============================================================================
// ESCALATE
// =============================================================================

// Escalate moves the pending step to the next authority level, leaving the
// reservation untouched. A request already at the highest authority is
// returned unchanged.
func (w *ApprovalWorkflow) Escalate(ctx context.Context, id RequestID, actor string) (*LeaveRequest, error) {
	req, key, unlock, err := w.loadLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if req.State != StatePendingApproval && req.State != StatePartiallyApproved {
		return nil, w.transitionError(req, "escalate")
	}

	next := NextAuthority(req.CurrentLevel)
	if next == "" {
		w.logger.Info("escalation skipped: already at highest authority",
			zap.String("request", string(req.ID)), zap.String("level", string(req.CurrentLevel)))
		return req, nil
	}

	from := req.CurrentLevel
	req.CurrentLevel = next
	req.UpdatedAt = w.now()
	if err := w.requests.PutRequest(ctx, req, req.Version); err != nil {
		return nil, err
	}

	w.appendAudit(ctx, AuditEntry{
		Action:    AuditEscalated,
		Actor:     actor,
		RequestID: req.ID,
		Key:       &key,
		Detail:    fmt.Sprintf("%s -> %s", from, next),
	})
	w.events.Emit(ctx, newEvent(EventEscalated, req.ID, req.Requester, req.LeaveType,
		fmt.Sprintf("escalated from %s to %s", from, next)))
	return req, nil
}

// =============================================================================
// DOCUMENT VERIFICATION
// =============================================================================

// MarkDocumentVerified sets the HR verification flag consumed by the final
// approval gate. Settable on any non-terminal request.
func (w *ApprovalWorkflow) MarkDocumentVerified(ctx context.Context, id RequestID, actor string) (*LeaveRequest, error) {
	req, _, unlock, err := w.loadLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if req.State.Terminal() {
		return nil, w.transitionError(req, "verify document")
	}
	req.DocumentVerified = true
	req.UpdatedAt = w.now()
	if err := w.requests.PutRequest(ctx, req, req.Version); err != nil {
		return nil, err
	}
	w.appendAudit(ctx, AuditEntry{
		Action:    AuditDocVerified,
		Actor:     actor,
		RequestID: req.ID,
	})
	return req, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// loadLocked resolves the request, takes its balance-key lock, and re-reads
// under the lock so the transition sees the latest version.
func (w *ApprovalWorkflow) loadLocked(ctx context.Context, id RequestID) (*LeaveRequest, BalanceKey, func(), error) {
	req, err := w.requests.GetRequest(ctx, id)
	if err != nil {
		return nil, BalanceKey{}, nil, err
	}
	key := req.BalanceKey()
	unlock := w.ledger.keys.lock(key)

	req, err = w.requests.GetRequest(ctx, id)
	if err != nil {
		unlock()
		return nil, BalanceKey{}, nil, err
	}
	return req, key, unlock, nil
}

func (w *ApprovalWorkflow) leaveType(ctx context.Context, code LeaveTypeCode) (*LeaveTypeDefinition, error) {
	def, err := w.refs.LeaveType(ctx, code)
	if err != nil {
		return nil, err
	}
	if !def.Active {
		return nil, fmt.Errorf("%w: %s is inactive", ErrUnknownLeaveType, code)
	}
	return def, nil
}

func (w *ApprovalWorkflow) transitionError(req *LeaveRequest, action string) error {
	err := &InvalidTransitionError{RequestID: req.ID, From: req.State, Action: action}
	// Integrity errors are never silently ignored.
	w.logger.Error("invalid transition attempted",
		zap.String("request", string(req.ID)),
		zap.String("state", string(req.State)),
		zap.String("action", action),
	)
	return err
}

func (w *ApprovalWorkflow) appendAudit(ctx context.Context, entry AuditEntry) {
	entry.ID = uuid.NewString()
	entry.At = w.now()
	if err := w.audit.Append(ctx, entry); err != nil {
		w.logger.Error("audit append failed", zap.Error(err), zap.String("action", string(entry.Action)))
	}
}

// Request returns the stored request without mutating anything.
func (w *ApprovalWorkflow) Request(ctx context.Context, id RequestID) (*LeaveRequest, error) {
	return w.requests.GetRequest(ctx, id)
}

// Pending returns every request awaiting a decision.
func (w *ApprovalWorkflow) Pending(ctx context.Context) ([]*LeaveRequest, error) {
	return w.requests.RequestsByState(ctx, StatePendingApproval, StatePartiallyApproved)
}

// PendingOlderThan returns pending/partially-approved requests whose last
// activity predates the cutoff. Used by external SLA sweeps; the core does
// not decide when the SLA has expired.
func (w *ApprovalWorkflow) PendingOlderThan(ctx context.Context, cutoff time.Time) ([]*LeaveRequest, error) {
	pending, err := w.requests.RequestsByState(ctx, StatePendingApproval, StatePartiallyApproved)
	if err != nil {
		return nil, err
	}
	var overdue []*LeaveRequest
	for _, req := range pending {
		if req.UpdatedAt.Before(cutoff) {
			overdue = append(overdue, req)
		}
	}
	return overdue, nil
}
