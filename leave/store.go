/*
store.go - Storage and reference-data ports

PURPOSE:
  Defines the interfaces between the core and its collaborators. The core
  consumes a transactional per-key read/write store for balance records and
  requests; everything is injected, so the core is testable without any
  database.

OPTIMISTIC VERSIONING:
  Every Put carries the version the caller read. The store rejects the write
  with ErrVersionConflict when the stored version differs. Combined with the
  ledger's per-key mutex this makes the invariant check and the mutation
  atomic with respect to other operations on the same key.

IMPLEMENTATIONS:
  - store/memory: in-memory, for tests and development
  - store/sqlite: SQLite with a version column checked on UPDATE
*/
package leave

import (
	"context"
	"time"
)

// =============================================================================
// BALANCE AND REQUEST STORES - Versioned per-key read/write
// =============================================================================

// RecordStore persists balance records.
type RecordStore interface {
	// GetBalance returns the record or ErrRecordNotFound.
	GetBalance(ctx context.Context, key BalanceKey) (*BalanceRecord, error)

	// PutBalance writes the record. expectedVersion 0 creates; any other
	// value must match the stored version or ErrVersionConflict is returned.
	// On success the record's Version is advanced.
	PutBalance(ctx context.Context, rec *BalanceRecord, expectedVersion int64) error
}

// RequestStore persists leave requests.
type RequestStore interface {
	// GetRequest returns the request or ErrRequestNotFound.
	GetRequest(ctx context.Context, id RequestID) (*LeaveRequest, error)

	// PutRequest writes the request with the same versioning contract as
	// PutBalance.
	PutRequest(ctx context.Context, req *LeaveRequest, expectedVersion int64) error

	// RequestsByState returns all requests in any of the given states.
	// Used by the escalation sweep.
	RequestsByState(ctx context.Context, states ...RequestState) ([]*LeaveRequest, error)
}

// =============================================================================
// REFERENCE DATA - Working profiles and leave type definitions
// =============================================================================

// ReferenceSource provides the rarely-changing reference data the engine
// needs: working profiles and leave type definitions.
type ReferenceSource interface {
	WorkingProfile(ctx context.Context, user UserID) (*WorkingProfile, error)
	LeaveType(ctx context.Context, code LeaveTypeCode) (*LeaveTypeDefinition, error)
}

// =============================================================================
// COMMITMENTS - Read model for conflict detection
// =============================================================================

// WFHAssignment is an approved work-from-home commitment.
type WFHAssignment struct {
	User  UserID        `json:"user"`
	Dates DateSelection `json:"dates"`
	Note  string        `json:"note,omitempty"`
}

// SubstituteCommitment records that a user covers for someone else's leave.
type SubstituteCommitment struct {
	User      UserID        `json:"user"`
	RequestID RequestID     `json:"request_id"`
	Dates     DateSelection `json:"dates"`
}

// CommitmentSource gathers everything that can make a person unavailable.
// Read-only; calls may run concurrently.
type CommitmentSource interface {
	// RequestsOverlapping returns the user's non-terminal and approved leave
	// requests whose window intersects the given one.
	RequestsOverlapping(ctx context.Context, user UserID, window DateRange) ([]*LeaveRequest, error)

	WFHOverlapping(ctx context.Context, user UserID, window DateRange) ([]WFHAssignment, error)

	SubstituteOverlapping(ctx context.Context, user UserID, window DateRange) ([]SubstituteCommitment, error)
}

// =============================================================================
// AUDIT LOG - Append-only, separate from the ledger
// =============================================================================

type AuditAction string

const (
	AuditSeeded       AuditAction = "balance_seeded"
	AuditAdjusted     AuditAction = "manual_adjustment"
	AuditRecalculated AuditAction = "entitlement_recalculated"
	AuditSubmitted    AuditAction = "request_submitted"
	AuditDecided      AuditAction = "request_decided"
	AuditCancelled    AuditAction = "request_cancelled"
	AuditEscalated    AuditAction = "request_escalated"
	AuditDocVerified  AuditAction = "document_verified"
)

// AuditEntry records who did what when. Append-only.
type AuditEntry struct {
	ID        string      `json:"id"`
	At        time.Time   `json:"at"`
	Actor     string      `json:"actor"`
	Action    AuditAction `json:"action"`
	Key       *BalanceKey `json:"key,omitempty"`
	RequestID RequestID   `json:"request_id,omitempty"`
	Detail    string      `json:"detail,omitempty"`
}

type AuditFilter struct {
	Actor     string
	Actions   []AuditAction
	RequestID RequestID
}

// AuditLog stores audit entries.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
	Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// NopAudit drops entries. Used when no audit collaborator is wired.
type NopAudit struct{}

func (NopAudit) Append(context.Context, AuditEntry) error { return nil }
func (NopAudit) Query(context.Context, AuditFilter) ([]AuditEntry, error) {
	return nil, nil
}
