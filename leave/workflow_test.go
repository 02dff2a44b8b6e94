package leave_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestWorkflow(t *testing.T, opts ...leave.WorkflowOption) (*leave.ApprovalWorkflow, *leave.BalanceLedger, *memory.Store) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.PutProfile(ctx, profile(leave.PatternFullTime, 5, 40)))
	require.NoError(t, store.PutLeaveType(ctx, annualLeave(25)))

	ledger := leave.NewBalanceLedger(store, store, leave.WithAudit(store))
	detector := leave.NewConflictDetector(store, nil)
	workflow := leave.NewApprovalWorkflow(ledger, store, detector, store,
		append([]leave.WorkflowOption{leave.WithWorkflowAudit(store), leave.WithCalendar(store)}, opts...)...)
	return workflow, ledger, store
}

// marchWeek is Monday 2026-03-02 through Friday 2026-03-06: 5 working days.
func marchWeek() leave.DateSelection {
	return leave.SelectRange(leave.NewDate(2026, time.March, 2), leave.NewDate(2026, time.March, 6))
}

func newRequest(dates leave.DateSelection) *leave.LeaveRequest {
	return &leave.LeaveRequest{
		Requester: "emp-1",
		LeaveType: "annual",
		Dates:     dates,
	}
}

func mustSubmit(t *testing.T, w *leave.ApprovalWorkflow, req *leave.LeaveRequest) *leave.LeaveRequest {
	t.Helper()
	result, err := w.Submit(context.Background(), req)
	require.NoError(t, err)
	return result.Request
}

// =============================================================================
// SUBMISSION
// =============================================================================

func TestWorkflow_Submit_ReservesWorkingDays(t *testing.T) {
	// GIVEN: A fresh employee with 25 days
	// WHEN: Submitting Monday through Friday
	// THEN: 5 days pending, request at the manager level

	workflow, ledger, _ := newTestWorkflow(t)
	ctx := context.Background()

	req := mustSubmit(t, workflow, newRequest(marchWeek()))

	assert.Equal(t, leave.StatePendingApproval, req.State)
	assert.Equal(t, leave.LevelManager, req.CurrentLevel)
	assert.True(t, req.TotalDays.Equal(days(5)))

	rec, err := ledger.Balance(ctx, key2026())
	require.NoError(t, err)
	assert.True(t, rec.Pending.Equal(days(5)))
	assert.True(t, rec.Available().Equal(days(20)))
}

func TestWorkflow_Submit_SkipsWeekends(t *testing.T) {
	// GIVEN: A range covering Friday through Monday
	// WHEN: Submitting
	// THEN: Only the two working days are counted

	workflow, _, _ := newTestWorkflow(t)

	req := mustSubmit(t, workflow, newRequest(
		leave.SelectRange(leave.NewDate(2026, time.March, 6), leave.NewDate(2026, time.March, 9))))
	assert.True(t, req.TotalDays.Equal(days(2)), "got %s", req.TotalDays)
}

func TestWorkflow_Submit_SkipsHolidays(t *testing.T) {
	// GIVEN: A company holiday on Wednesday of the requested week
	// WHEN: Submitting Monday through Friday
	// THEN: Only 4 days are counted

	workflow, _, store := newTestWorkflow(t)
	require.NoError(t, store.AddHoliday(context.Background(), leave.Holiday{
		ID: "h-1", Date: leave.NewDate(2026, time.March, 4), Name: "Founders Day",
	}))

	req := mustSubmit(t, workflow, newRequest(marchWeek()))
	assert.True(t, req.TotalDays.Equal(days(4)), "got %s", req.TotalDays)
}

func TestWorkflow_Submit_ExplicitDates(t *testing.T) {
	// GIVEN: Non-consecutive explicit dates (two Fridays)
	// WHEN: Submitting
	// THEN: Both count; the request behaves like any range request

	workflow, _, _ := newTestWorkflow(t)

	req := mustSubmit(t, workflow, newRequest(leave.SelectDates(
		leave.NewDate(2026, time.March, 6), leave.NewDate(2026, time.March, 13))))
	assert.True(t, req.TotalDays.Equal(days(2)))
}

func TestWorkflow_Submit_InsufficientBalance(t *testing.T) {
	// GIVEN: 25 days entitled
	// WHEN: Requesting 30 working days
	// THEN: Blocked before any state change

	workflow, ledger, _ := newTestWorkflow(t)
	ctx := context.Background()

	_, err := workflow.Submit(ctx, newRequest(
		leave.SelectRange(leave.NewDate(2026, time.March, 2), leave.NewDate(2026, time.April, 10))))
	assert.ErrorIs(t, err, leave.ErrInsufficientBalance)

	rec, err := ledger.Balance(ctx, key2026())
	require.NoError(t, err)
	assert.True(t, rec.Pending.IsZero())
}

func TestWorkflow_Submit_OverlappingOwnLeave_Blocked(t *testing.T) {
	// GIVEN: An already-pending request for the same week
	// WHEN: Submitting an overlapping one
	// THEN: Hard conflict block naming the leave overlap

	workflow, _, _ := newTestWorkflow(t)

	mustSubmit(t, workflow, newRequest(marchWeek()))

	_, err := workflow.Submit(context.Background(), newRequest(
		leave.SelectRange(leave.NewDate(2026, time.March, 4), leave.NewDate(2026, time.March, 10))))
	require.Error(t, err)
	assert.ErrorIs(t, err, leave.ErrConflictBlocked)

	var blocked *leave.ConflictBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, leave.UserID("emp-1"), blocked.User)
}

func TestWorkflow_Submit_SubstituteConflict_WarnsByDefault(t *testing.T) {
	// GIVEN: A proposed substitute who is on WFH during the window
	// WHEN: Submitting with the default (soft) policy
	// THEN: The submission succeeds with a warning for the substitute

	workflow, _, store := newTestWorkflow(t)
	ctx := context.Background()
	require.NoError(t, store.PutProfile(ctx, leave.WorkingProfile{
		UserID: "emp-2", Pattern: leave.PatternFullTime, DaysPerWeek: 5,
		ContractStart: leave.NewDate(2020, time.January, 1),
	}))
	require.NoError(t, store.AddWFH(ctx, leave.WFHAssignment{User: "emp-2", Dates: marchWeek()}))

	req := newRequest(marchWeek())
	req.Substitutes = []leave.UserID{"emp-2"}
	result, err := workflow.Submit(ctx, req)
	require.NoError(t, err)

	require.Len(t, result.Warnings, 1)
	assert.Equal(t, leave.UserID("emp-2"), result.Warnings[0].Person)
	assert.Equal(t, leave.Partial, result.Warnings[0].Classification)
}

// =============================================================================
// DECISIONS
// =============================================================================

func TestWorkflow_Reject_ReleasesReservation(t *testing.T) {
	// GIVEN: A pending 5-day request
	// WHEN: The manager rejects it
	// THEN: used and pending are both zero, state is rejected

	workflow, ledger, _ := newTestWorkflow(t)
	ctx := context.Background()
	req := mustSubmit(t, workflow, newRequest(marchWeek()))

	decided, err := workflow.Decide(ctx, req.ID, "mgr-1", leave.DecisionReject, "coverage too thin")
	require.NoError(t, err)
	assert.Equal(t, leave.StateRejected, decided.State)
	require.Len(t, decided.Steps, 1)
	assert.Equal(t, leave.DecisionReject, decided.Steps[0].Decision)

	rec, err := ledger.Balance(ctx, key2026())
	require.NoError(t, err)
	assert.True(t, rec.Used.IsZero())
	assert.True(t, rec.Pending.IsZero())
	assert.True(t, rec.Available().Equal(days(25)))
}

func TestWorkflow_Decide_Terminal_InvalidTransition(t *testing.T) {
	// GIVEN: A rejected request
	// WHEN: Deciding it again
	// THEN: ErrInvalidTransition - terminal states accept nothing

	workflow, _, _ := newTestWorkflow(t)
	ctx := context.Background()
	req := mustSubmit(t, workflow, newRequest(marchWeek()))

	_, err := workflow.Decide(ctx, req.ID, "mgr-1", leave.DecisionReject, "")
	require.NoError(t, err)

	_, err = workflow.Decide(ctx, req.ID, "mgr-1", leave.DecisionApprove, "")
	assert.ErrorIs(t, err, leave.ErrInvalidTransition)
}

func TestWorkflow_Approve_SingleLevel_Commits(t *testing.T) {
	// GIVEN: A pending request with a single-manager chain
	// WHEN: The manager approves
	// THEN: Days move from pending to used, state approved

	workflow, ledger, _ := newTestWorkflow(t)
	ctx := context.Background()
	req := mustSubmit(t, workflow, newRequest(marchWeek()))

	decided, err := workflow.Decide(ctx, req.ID, "mgr-1", leave.DecisionApprove, "enjoy")
	require.NoError(t, err)
	assert.Equal(t, leave.StateApproved, decided.State)

	rec, err := ledger.Balance(ctx, key2026())
	require.NoError(t, err)
	assert.True(t, rec.Used.Equal(days(5)))
	assert.True(t, rec.Pending.IsZero())
	assert.True(t, rec.Available().Equal(days(20)))
}

func TestWorkflow_MultiLevelChain_PartialThenApproved(t *testing.T) {
	// GIVEN: A leave type requiring manager then director approval
	// WHEN: Each level approves in turn
	// THEN: PARTIALLY_APPROVED in between, ledger touched only at the end

	workflow, ledger, store := newTestWorkflow(t)
	ctx := context.Background()

	def := annualLeave(25)
	def.Code = "sabbatical"
	def.ApprovalChain = []leave.ApprovalLevel{leave.LevelManager, leave.LevelDirector}
	require.NoError(t, store.PutLeaveType(ctx, def))

	req := newRequest(marchWeek())
	req.LeaveType = "sabbatical"
	submitted := mustSubmit(t, workflow, req)
	assert.Equal(t, leave.LevelManager, submitted.CurrentLevel)

	mid, err := workflow.Decide(ctx, submitted.ID, "mgr-1", leave.DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, leave.StatePartiallyApproved, mid.State)
	assert.Equal(t, leave.LevelDirector, mid.CurrentLevel)

	key := leave.BalanceKey{User: "emp-1", LeaveType: "sabbatical", Year: 2026}
	rec, err := ledger.Balance(ctx, key)
	require.NoError(t, err)
	assert.True(t, rec.Used.IsZero(), "intermediate approval must not commit")
	assert.True(t, rec.Pending.Equal(days(5)))

	final, err := workflow.Decide(ctx, mid.ID, "dir-1", leave.DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, leave.StateApproved, final.State)
	require.Len(t, final.Steps, 2)

	rec, err = ledger.Balance(ctx, key)
	require.NoError(t, err)
	assert.True(t, rec.Used.Equal(days(5)))
}

func TestWorkflow_DocumentGate_BlocksFinalApproval(t *testing.T) {
	// GIVEN: A leave type requiring a verified document
	// WHEN: The final approver acts before verification
	// THEN: Blocked without consuming the approval; verifying unblocks it

	workflow, _, store := newTestWorkflow(t)
	ctx := context.Background()

	def := annualLeave(25)
	def.Code = "sick_extended"
	def.RequiresDocument = true
	require.NoError(t, store.PutLeaveType(ctx, def))

	req := newRequest(marchWeek())
	req.LeaveType = "sick_extended"
	submitted := mustSubmit(t, workflow, req)

	_, err := workflow.Decide(ctx, submitted.ID, "mgr-1", leave.DecisionApprove, "")
	assert.ErrorIs(t, err, leave.ErrDocumentVerificationPending)

	// The failed gate must not have recorded an approval step.
	stored, err := workflow.Request(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Steps)
	assert.Equal(t, leave.StatePendingApproval, stored.State)

	_, err = workflow.MarkDocumentVerified(ctx, submitted.ID, "hr-admin")
	require.NoError(t, err)

	decided, err := workflow.Decide(ctx, submitted.ID, "mgr-1", leave.DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, leave.StateApproved, decided.State)
}

func TestWorkflow_DocumentGate_RejectionNeedsNoDocument(t *testing.T) {
	// GIVEN: An unverified document-requiring request
	// WHEN: Rejecting it
	// THEN: Rejection proceeds - the gate only guards approval

	workflow, _, store := newTestWorkflow(t)
	ctx := context.Background()

	def := annualLeave(25)
	def.Code = "sick_extended"
	def.RequiresDocument = true
	require.NoError(t, store.PutLeaveType(ctx, def))

	req := newRequest(marchWeek())
	req.LeaveType = "sick_extended"
	submitted := mustSubmit(t, workflow, req)

	decided, err := workflow.Decide(ctx, submitted.ID, "mgr-1", leave.DecisionReject, "no certificate")
	require.NoError(t, err)
	assert.Equal(t, leave.StateRejected, decided.State)
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestWorkflow_Cancel_PendingReleasesReservation(t *testing.T) {
	workflow, ledger, _ := newTestWorkflow(t)
	ctx := context.Background()
	req := mustSubmit(t, workflow, newRequest(marchWeek()))

	cancelled, err := workflow.Cancel(ctx, req.ID, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, leave.StateCancelled, cancelled.State)

	rec, err := ledger.Balance(ctx, key2026())
	require.NoError(t, err)
	assert.True(t, rec.Pending.IsZero())
	assert.True(t, rec.Available().Equal(days(25)))
}

func TestWorkflow_Cancel_Approved_InvalidTransition(t *testing.T) {
	// GIVEN: An approved request
	// WHEN: Cancelling it
	// THEN: Rejected - approved leave needs a compensating flow, not cancel

	workflow, _, _ := newTestWorkflow(t)
	ctx := context.Background()
	req := mustSubmit(t, workflow, newRequest(marchWeek()))
	_, err := workflow.Decide(ctx, req.ID, "mgr-1", leave.DecisionApprove, "")
	require.NoError(t, err)

	_, err = workflow.Cancel(ctx, req.ID, "emp-1")
	assert.ErrorIs(t, err, leave.ErrInvalidTransition)
}

// =============================================================================
// ESCALATION
// =============================================================================

func TestWorkflow_Escalate_MovesUpTheChain(t *testing.T) {
	// GIVEN: A request waiting at the manager level
	// WHEN: The SLA sweep escalates it
	// THEN: The director must now decide; the reservation is untouched

	workflow, ledger, _ := newTestWorkflow(t)
	ctx := context.Background()
	req := mustSubmit(t, workflow, newRequest(marchWeek()))

	escalated, err := workflow.Escalate(ctx, req.ID, "sla-sweeper")
	require.NoError(t, err)
	assert.Equal(t, leave.LevelDirector, escalated.CurrentLevel)
	assert.Equal(t, leave.StatePendingApproval, escalated.State)

	rec, err := ledger.Balance(ctx, key2026())
	require.NoError(t, err)
	assert.True(t, rec.Pending.Equal(days(5)))
}

func TestWorkflow_Escalate_AtTopAuthority_NoOp(t *testing.T) {
	// GIVEN: A request already escalated to the executive level
	// WHEN: Escalating again
	// THEN: Unchanged, no error - the sweep may safely revisit it

	workflow, _, _ := newTestWorkflow(t)
	ctx := context.Background()
	req := mustSubmit(t, workflow, newRequest(marchWeek()))

	for _, want := range []leave.ApprovalLevel{leave.LevelDirector, leave.LevelHR, leave.LevelExecutive} {
		escalated, err := workflow.Escalate(ctx, req.ID, "sla-sweeper")
		require.NoError(t, err)
		assert.Equal(t, want, escalated.CurrentLevel)
	}

	same, err := workflow.Escalate(ctx, req.ID, "sla-sweeper")
	require.NoError(t, err)
	assert.Equal(t, leave.LevelExecutive, same.CurrentLevel)
}

func TestWorkflow_PendingOlderThan_FiltersByActivity(t *testing.T) {
	// GIVEN: One pending request updated just now
	// WHEN: Asking for requests idle since an hour ago vs. a future cutoff
	// THEN: Only the future cutoff catches it

	workflow, _, _ := newTestWorkflow(t)
	ctx := context.Background()
	mustSubmit(t, workflow, newRequest(marchWeek()))

	overdue, err := workflow.PendingOlderThan(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, overdue)

	overdue, err = workflow.PendingOlderThan(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, overdue, 1)
}

// =============================================================================
// DRAFTS
// =============================================================================

func TestWorkflow_Draft_SubmitLater(t *testing.T) {
	// GIVEN: A saved draft
	// WHEN: Submitting it
	// THEN: It transitions normally; the draft never touched the ledger

	workflow, ledger, _ := newTestWorkflow(t)
	ctx := context.Background()

	draft, err := workflow.SaveDraft(ctx, newRequest(marchWeek()))
	require.NoError(t, err)
	assert.Equal(t, leave.StateDraft, draft.State)

	_, err = ledger.Balance(ctx, key2026())
	assert.ErrorIs(t, err, leave.ErrRecordNotFound, "drafts must not seed or reserve")

	result, err := workflow.Submit(ctx, draft)
	require.NoError(t, err)
	assert.Equal(t, leave.StatePendingApproval, result.Request.State)
}

func TestWorkflow_Submit_NonDraftStored_InvalidTransition(t *testing.T) {
	workflow, _, _ := newTestWorkflow(t)
	ctx := context.Background()
	req := mustSubmit(t, workflow, newRequest(marchWeek()))

	_, err := workflow.Submit(ctx, req)
	assert.ErrorIs(t, err, leave.ErrInvalidTransition)
}

func TestWorkflow_ConcurrentOverlappingSubmissions_OneBlocked(t *testing.T) {
	// GIVEN: Two identical overlapping submissions racing each other
	// WHEN: Both run concurrently
	// THEN: The conflict gate serializes on the balance key - exactly one
	//       request lands and exactly one reservation exists

	workflow, ledger, _ := newTestWorkflow(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = workflow.Submit(ctx, newRequest(marchWeek()))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, leave.ErrConflictBlocked)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one overlapping submission may land")

	rec, err := ledger.Balance(ctx, key2026())
	require.NoError(t, err)
	assert.True(t, rec.Pending.Equal(days(5)), "got %s pending", rec.Pending)
}
