/*
ledger.go - The balance ledger: reserve / commit / release primitives

PURPOSE:
  One stateful record per (user, leaveType, year) with the core invariant

      entitled + carriedForward - used - pending >= 0

  enforced here and nowhere else. Route handlers never read-compute-write
  balances themselves; they call these primitives.

LIFECYCLE OF DAYS:
  submit   -> Reserve:  pending += days   (gate: available >= days)
  approve  -> Commit:   pending -= days, used += days
  reject/
  cancel   -> Release:  pending -= days

SERIALIZATION PER KEY:
  Two concurrent reserves against the same record must not interleave, or the
  check-then-act races and allows overdraft. Every mutation:
    1. takes an in-process mutex for the key, and
    2. writes through an optimistic version check at the store.
  Different keys proceed fully in parallel. The workflow reuses the same key
  lock so a request transition and its ledger mutation form one atomic unit.

SEEDING:
  Records are created lazily. EnsureSeeded consults the entitlement engine
  once per user/type/year and computes carry-forward from the prior year's
  unused balance under the type's carry-forward policy. The entitlement
  reason string is stored on the record for audit.

SEE ALSO:
  - entitlement.go: The calculation behind EnsureSeeded
  - workflow.go:    The only caller of Reserve/Commit/Release
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// KEYED MUTEX - In-process serialization per balance key
// =============================================================================

type keyedMutex struct {
	mu    sync.Mutex
	locks map[BalanceKey]*sync.Mutex
}

func (km *keyedMutex) lock(k BalanceKey) (unlock func()) {
	km.mu.Lock()
	if km.locks == nil {
		km.locks = make(map[BalanceKey]*sync.Mutex)
	}
	m, ok := km.locks[k]
	if !ok {
		m = &sync.Mutex{}
		km.locks[k] = m
	}
	km.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// =============================================================================
// BALANCE LEDGER
// =============================================================================

type BalanceLedger struct {
	records RecordStore
	refs    ReferenceSource
	engine  EntitlementEngine
	audit   AuditLog
	events  EventSink
	logger  *zap.Logger
	keys    keyedMutex

	// defaultCarryCap applies when a type enables carry-forward without its
	// own cap.
	defaultCarryCap decimal.Decimal
}

type LedgerOption func(*BalanceLedger)

func WithAudit(a AuditLog) LedgerOption          { return func(l *BalanceLedger) { l.audit = a } }
func WithEvents(s EventSink) LedgerOption        { return func(l *BalanceLedger) { l.events = s } }
func WithLedgerLogger(lg *zap.Logger) LedgerOption { return func(l *BalanceLedger) { l.logger = lg } }
func WithCarryForwardCap(days decimal.Decimal) LedgerOption {
	return func(l *BalanceLedger) { l.defaultCarryCap = days }
}

func NewBalanceLedger(records RecordStore, refs ReferenceSource, opts ...LedgerOption) *BalanceLedger {
	l := &BalanceLedger{
		records: records,
		refs:    refs,
		audit:   NopAudit{},
		events:  NopSink{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Balance returns the current record without mutating anything.
func (l *BalanceLedger) Balance(ctx context.Context, key BalanceKey) (*BalanceRecord, error) {
	return l.records.GetBalance(ctx, key)
}

// EnsureSeeded creates the record for the key when it does not exist yet,
// consulting the entitlement engine and the prior year's carry-forward.
// Idempotent: an existing record is returned untouched.
func (l *BalanceLedger) EnsureSeeded(ctx context.Context, user UserID, leaveType LeaveTypeCode, year int) (*BalanceRecord, error) {
	key := BalanceKey{User: user, LeaveType: leaveType, Year: year}
	unlock := l.keys.lock(key)
	defer unlock()
	return l.ensureSeededLocked(ctx, key)
}

func (l *BalanceLedger) ensureSeededLocked(ctx context.Context, key BalanceKey) (*BalanceRecord, error) {
	rec, err := l.records.GetBalance(ctx, key)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}

	profile, err := l.refs.WorkingProfile(ctx, key.User)
	if err != nil {
		return nil, fmt.Errorf("load working profile for %s: %w", key.User, err)
	}
	def, err := l.refs.LeaveType(ctx, key.LeaveType)
	if err != nil {
		return nil, fmt.Errorf("load leave type %s: %w", key.LeaveType, err)
	}

	result, err := l.engine.Calculate(*profile, *def, key.Year, effectiveFrom(profile, key.Year))
	if err != nil {
		return nil, err
	}

	carried, err := l.carryForward(ctx, key, def)
	if err != nil {
		return nil, err
	}

	rec = &BalanceRecord{
		Key:            key,
		Entitled:       result.Entitled,
		CarriedForward: carried,
		SeedReason:     result.Reason,
	}
	if err := l.records.PutBalance(ctx, rec, 0); err != nil {
		return nil, err
	}

	l.logger.Info("balance seeded",
		zap.String("key", key.String()),
		zap.String("entitled", result.Entitled.String()),
		zap.String("carried_forward", carried.String()),
		zap.String("reason", result.Reason),
	)
	l.appendAudit(ctx, AuditEntry{
		Action: AuditSeeded,
		Actor:  "system",
		Key:    &key,
		Detail: result.Reason,
	})
	l.events.Emit(ctx, newEvent(EventSeeded, "", key.User, key.LeaveType, result.Reason))
	return rec, nil
}

// effectiveFrom is the date entitlement starts accruing: Jan 1 unless the
// contract starts mid-year.
func effectiveFrom(profile *WorkingProfile, year int) Date {
	from := NewDate(year, time.January, 1)
	if profile.ContractStart.After(from) {
		from = profile.ContractStart
	}
	return from
}

// RecalculateEntitlement re-prices an existing record against the current
// working profile, preserving used, pending, and carried days. Invoked when
// a working-pattern change must flow into already-seeded years. Returns
// ErrRecordNotFound when nothing was seeded for the key; a recalculation
// that would leave the record overdrawn is rejected, never clamped.
func (l *BalanceLedger) RecalculateEntitlement(ctx context.Context, key BalanceKey, actor string) (*BalanceRecord, error) {
	unlock := l.keys.lock(key)
	defer unlock()

	rec, err := l.records.GetBalance(ctx, key)
	if err != nil {
		return nil, err
	}

	profile, err := l.refs.WorkingProfile(ctx, key.User)
	if err != nil {
		return nil, fmt.Errorf("load working profile for %s: %w", key.User, err)
	}
	def, err := l.refs.LeaveType(ctx, key.LeaveType)
	if err != nil {
		return nil, fmt.Errorf("load leave type %s: %w", key.LeaveType, err)
	}

	result, err := l.engine.Calculate(*profile, *def, key.Year, effectiveFrom(profile, key.Year))
	if err != nil {
		return nil, err
	}
	if rec.Entitled.Equal(result.Entitled) {
		return rec, nil
	}

	updated := rec.Clone()
	updated.Entitled = result.Entitled
	updated.SeedReason = result.Reason
	if err := l.putChecked(ctx, updated); err != nil {
		return nil, err
	}

	l.logger.Info("entitlement recalculated",
		zap.String("key", key.String()),
		zap.String("from", rec.Entitled.String()),
		zap.String("to", result.Entitled.String()),
	)
	l.appendAudit(ctx, AuditEntry{
		Action: AuditRecalculated,
		Actor:  actor,
		Key:    &key,
		Detail: fmt.Sprintf("entitled %s -> %s: %s", rec.Entitled, result.Entitled, result.Reason),
	})
	l.events.Emit(ctx, newEvent(EventRecalculated, "", key.User, key.LeaveType, result.Reason))
	return updated, nil
}

// carryForward computes the carry-in from the prior year's unused balance
// under the type's policy. Default is zero unless the type enables it.
func (l *BalanceLedger) carryForward(ctx context.Context, key BalanceKey, def *LeaveTypeDefinition) (decimal.Decimal, error) {
	if !def.CarryForward.Enabled {
		return decimal.Zero, nil
	}

	prior, err := l.records.GetBalance(ctx, BalanceKey{User: key.User, LeaveType: key.LeaveType, Year: key.Year - 1})
	if errors.Is(err, ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}

	unused := prior.Available()
	if unused.IsNegative() {
		return decimal.Zero, nil
	}

	maxDays := def.CarryForward.MaxDays
	if maxDays.IsZero() {
		maxDays = l.defaultCarryCap
	}
	return decimal.Min(unused, maxDays), nil
}

// Reserve holds days as pending. The gate invoked at submission time:
// requires available >= days, otherwise InsufficientBalanceError.
func (l *BalanceLedger) Reserve(ctx context.Context, key BalanceKey, days decimal.Decimal) error {
	unlock := l.keys.lock(key)
	defer unlock()
	return l.reserveLocked(ctx, key, days)
}

func (l *BalanceLedger) reserveLocked(ctx context.Context, key BalanceKey, days decimal.Decimal) error {
	if !days.IsPositive() {
		return fmt.Errorf("%w: reserve of non-positive amount %s on %s", ErrLedgerIntegrity, days, key)
	}
	rec, err := l.records.GetBalance(ctx, key)
	if err != nil {
		return err
	}
	if rec.Available().LessThan(days) {
		return &InsufficientBalanceError{Key: key, Available: rec.Available(), Requested: days}
	}
	rec.Pending = rec.Pending.Add(days)
	return l.putChecked(ctx, rec)
}

// Commit moves days from pending to used on final approval. A commit that
// exceeds the reservation is a programmer error, not a user-facing failure.
func (l *BalanceLedger) Commit(ctx context.Context, key BalanceKey, days decimal.Decimal) error {
	unlock := l.keys.lock(key)
	defer unlock()
	return l.commitLocked(ctx, key, days)
}

func (l *BalanceLedger) commitLocked(ctx context.Context, key BalanceKey, days decimal.Decimal) error {
	rec, err := l.records.GetBalance(ctx, key)
	if err != nil {
		return err
	}
	if rec.Pending.LessThan(days) {
		err := fmt.Errorf("%w: commit %s exceeds pending %s on %s", ErrLedgerIntegrity, days, rec.Pending, key)
		l.logger.Error("ledger integrity violation", zap.Error(err))
		return err
	}
	rec.Pending = rec.Pending.Sub(days)
	rec.Used = rec.Used.Add(days)
	return l.putChecked(ctx, rec)
}

// Release drops a pending reservation without touching used. Invoked on
// rejection, cancellation, and expiry.
func (l *BalanceLedger) Release(ctx context.Context, key BalanceKey, days decimal.Decimal) error {
	unlock := l.keys.lock(key)
	defer unlock()
	return l.releaseLocked(ctx, key, days)
}

func (l *BalanceLedger) releaseLocked(ctx context.Context, key BalanceKey, days decimal.Decimal) error {
	rec, err := l.records.GetBalance(ctx, key)
	if err != nil {
		return err
	}
	if rec.Pending.LessThan(days) {
		err := fmt.Errorf("%w: release %s exceeds pending %s on %s", ErrLedgerIntegrity, days, rec.Pending, key)
		l.logger.Error("ledger integrity violation", zap.Error(err))
		return err
	}
	rec.Pending = rec.Pending.Sub(days)
	return l.putChecked(ctx, rec)
}

// AdjustManually applies an HR-only override to the entitled amount. The
// invariant still holds: an adjustment that would make available negative is
// rejected. Always audited.
func (l *BalanceLedger) AdjustManually(ctx context.Context, key BalanceKey, delta decimal.Decimal, actor, reason string) error {
	unlock := l.keys.lock(key)
	defer unlock()

	rec, err := l.records.GetBalance(ctx, key)
	if err != nil {
		return err
	}
	adjusted := rec.Clone()
	adjusted.Entitled = adjusted.Entitled.Add(delta)
	if adjusted.invariantViolated() {
		return &InsufficientBalanceError{Key: key, Available: rec.Available(), Requested: delta.Neg()}
	}
	if err := l.putChecked(ctx, adjusted); err != nil {
		return err
	}

	l.appendAudit(ctx, AuditEntry{
		Action: AuditAdjusted,
		Actor:  actor,
		Key:    &key,
		Detail: fmt.Sprintf("entitled %s%s: %s", sign(delta), delta.Abs(), reason),
	})
	l.events.Emit(ctx, newEvent(EventAdjusted, "", key.User, key.LeaveType, reason))
	return nil
}

// putChecked enforces the invariant before any write reaches the store.
// Violations are rejected, never clamped.
func (l *BalanceLedger) putChecked(ctx context.Context, rec *BalanceRecord) error {
	if rec.invariantViolated() {
		return fmt.Errorf("%w: record %s would become negative (available %s)",
			ErrLedgerIntegrity, rec.Key, rec.Available())
	}
	return l.records.PutBalance(ctx, rec, rec.Version)
}

func (l *BalanceLedger) appendAudit(ctx context.Context, entry AuditEntry) {
	entry.ID = uuid.NewString()
	entry.At = time.Now().UTC()
	if err := l.audit.Append(ctx, entry); err != nil {
		l.logger.Error("audit append failed", zap.Error(err), zap.String("action", string(entry.Action)))
	}
}

func sign(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-"
	}
	return "+"
}
