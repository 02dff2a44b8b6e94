/*
Package sqlite provides the SQLite-backed implementation of the leave core's
storage ports.

PURPOSE:
  Implements RecordStore, RequestStore, ReferenceSource, CommitmentSource,
  AuditLog, and HolidayCalendar on a single SQLite database. In production
  the same patterns apply to PostgreSQL - only minor SQL dialect differences.

OPTIMISTIC VERSIONING:
  balances and requests carry a version column. Updates run
  UPDATE ... WHERE version = ? and report ErrVersionConflict when no row
  matched; creates INSERT with version 1 and map a unique-constraint failure
  to the same error. Combined with the ledger's per-key mutex this gives the
  check-and-act atomicity the core requires.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so readers never block on
  the single writer, and with foreign keys on.

KEY TABLES:
  balances                 one row per (user, leave_type, year)
  requests                 workflow state + JSON-encoded dates and steps
  leave_types              reference data
  working_profiles         reference data
  wfh_assignments          conflict inputs
  substitute_commitments   conflict inputs
  holidays                 blocked company days
  audit_log                append-only audit entries

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - leave/store.go: Port definitions
  - store/memory:   In-memory implementation with the same semantics
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/leave"
)

type Store struct {
	db *sql.DB
}

// New opens (and migrates) the database at path. Use ":memory:" for tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS balances (
		user_id         TEXT NOT NULL,
		leave_type      TEXT NOT NULL,
		year            INTEGER NOT NULL,
		entitled        TEXT NOT NULL,
		used            TEXT NOT NULL,
		pending         TEXT NOT NULL,
		carried_forward TEXT NOT NULL,
		seed_reason     TEXT NOT NULL DEFAULT '',
		version         INTEGER NOT NULL,
		PRIMARY KEY (user_id, leave_type, year)
	);

	CREATE TABLE IF NOT EXISTS requests (
		id                TEXT PRIMARY KEY,
		requester         TEXT NOT NULL,
		leave_type        TEXT NOT NULL,
		dates             TEXT NOT NULL,
		window_start      TEXT NOT NULL,
		window_end        TEXT NOT NULL,
		total_days        TEXT NOT NULL,
		substitutes       TEXT NOT NULL DEFAULT '[]',
		reason            TEXT NOT NULL DEFAULT '',
		state             TEXT NOT NULL,
		steps             TEXT NOT NULL DEFAULT '[]',
		chain_index       INTEGER NOT NULL DEFAULT 0,
		current_level     TEXT NOT NULL DEFAULT '',
		document_verified INTEGER NOT NULL DEFAULT 0,
		created_at        TEXT NOT NULL,
		updated_at        TEXT NOT NULL,
		version           INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_requests_requester_window
		ON requests(requester, window_start, window_end);
	CREATE INDEX IF NOT EXISTS idx_requests_state ON requests(state);

	CREATE TABLE IF NOT EXISTS leave_types (
		code              TEXT PRIMARY KEY,
		name              TEXT NOT NULL,
		base_allowance    TEXT NOT NULL,
		statutory_base    TEXT NOT NULL DEFAULT '0',
		statutory_minimum TEXT NOT NULL DEFAULT '0',
		requires_document INTEGER NOT NULL DEFAULT 0,
		granularity       TEXT NOT NULL DEFAULT 'whole_day',
		carry_enabled     INTEGER NOT NULL DEFAULT 0,
		carry_max_days    TEXT NOT NULL DEFAULT '0',
		approval_chain    TEXT NOT NULL DEFAULT '[]',
		active            INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS working_profiles (
		user_id        TEXT PRIMARY KEY,
		pattern        TEXT NOT NULL,
		days_per_week  INTEGER NOT NULL,
		hours_per_week TEXT NOT NULL,
		contract_start TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS wfh_assignments (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id      TEXT NOT NULL,
		dates        TEXT NOT NULL,
		window_start TEXT NOT NULL,
		window_end   TEXT NOT NULL,
		note         TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_wfh_user_window
		ON wfh_assignments(user_id, window_start, window_end);

	CREATE TABLE IF NOT EXISTS substitute_commitments (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id      TEXT NOT NULL,
		request_id   TEXT NOT NULL,
		dates        TEXT NOT NULL,
		window_start TEXT NOT NULL,
		window_end   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_subs_user_window
		ON substitute_commitments(user_id, window_start, window_end);

	CREATE TABLE IF NOT EXISTS holidays (
		id        TEXT PRIMARY KEY,
		date      TEXT NOT NULL,
		name      TEXT NOT NULL,
		recurring INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id         TEXT PRIMARY KEY,
		at         TEXT NOT NULL,
		actor      TEXT NOT NULL,
		action     TEXT NOT NULL,
		user_id    TEXT,
		leave_type TEXT,
		year       INTEGER,
		request_id TEXT,
		detail     TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RECORD STORE
// =============================================================================

func (s *Store) GetBalance(ctx context.Context, key leave.BalanceKey) (*leave.BalanceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entitled, used, pending, carried_forward, seed_reason, version
		FROM balances WHERE user_id = ? AND leave_type = ? AND year = ?`,
		string(key.User), string(key.LeaveType), key.Year)

	var entitled, used, pending, carried, reason string
	var version int64
	if err := row.Scan(&entitled, &used, &pending, &carried, &reason, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, leave.ErrRecordNotFound
		}
		return nil, err
	}

	rec := &leave.BalanceRecord{Key: key, SeedReason: reason, Version: version}
	var err error
	if rec.Entitled, err = decimal.NewFromString(entitled); err != nil {
		return nil, fmt.Errorf("corrupt entitled for %s: %w", key, err)
	}
	if rec.Used, err = decimal.NewFromString(used); err != nil {
		return nil, fmt.Errorf("corrupt used for %s: %w", key, err)
	}
	if rec.Pending, err = decimal.NewFromString(pending); err != nil {
		return nil, fmt.Errorf("corrupt pending for %s: %w", key, err)
	}
	if rec.CarriedForward, err = decimal.NewFromString(carried); err != nil {
		return nil, fmt.Errorf("corrupt carried_forward for %s: %w", key, err)
	}
	return rec, nil
}

func (s *Store) PutBalance(ctx context.Context, rec *leave.BalanceRecord, expectedVersion int64) error {
	if expectedVersion == 0 {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO balances (user_id, leave_type, year, entitled, used, pending, carried_forward, seed_reason, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			string(rec.Key.User), string(rec.Key.LeaveType), rec.Key.Year,
			rec.Entitled.String(), rec.Used.String(), rec.Pending.String(),
			rec.CarriedForward.String(), rec.SeedReason)
		if err != nil {
			if isUniqueViolation(err) {
				return leave.ErrVersionConflict
			}
			return err
		}
		rec.Version = 1
		return nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE balances
		SET entitled = ?, used = ?, pending = ?, carried_forward = ?, seed_reason = ?, version = version + 1
		WHERE user_id = ? AND leave_type = ? AND year = ? AND version = ?`,
		rec.Entitled.String(), rec.Used.String(), rec.Pending.String(),
		rec.CarriedForward.String(), rec.SeedReason,
		string(rec.Key.User), string(rec.Key.LeaveType), rec.Key.Year, expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return leave.ErrVersionConflict
	}
	rec.Version = expectedVersion + 1
	return nil
}

// =============================================================================
// REQUEST STORE
// =============================================================================

func (s *Store) GetRequest(ctx context.Context, id leave.RequestID) (*leave.LeaveRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, requester, leave_type, dates, total_days, substitutes, reason,
		       state, steps, chain_index, current_level, document_verified,
		       created_at, updated_at, version
		FROM requests WHERE id = ?`, string(id))
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, leave.ErrRequestNotFound
		}
		return nil, err
	}
	return req, nil
}

func (s *Store) PutRequest(ctx context.Context, req *leave.LeaveRequest, expectedVersion int64) error {
	dates, err := json.Marshal(req.Dates)
	if err != nil {
		return err
	}
	subs, err := json.Marshal(req.Substitutes)
	if err != nil {
		return err
	}
	steps, err := json.Marshal(req.Steps)
	if err != nil {
		return err
	}
	window := req.Dates.Window()

	if expectedVersion == 0 {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO requests (id, requester, leave_type, dates, window_start, window_end,
				total_days, substitutes, reason, state, steps, chain_index, current_level,
				document_verified, created_at, updated_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			string(req.ID), string(req.Requester), string(req.LeaveType), string(dates),
			window.Start.String(), window.End.String(), req.TotalDays.String(),
			string(subs), req.Reason, string(req.State), string(steps),
			req.ChainIndex, string(req.CurrentLevel), boolToInt(req.DocumentVerified),
			req.CreatedAt.UTC().Format(time.RFC3339), req.UpdatedAt.UTC().Format(time.RFC3339))
		if err != nil {
			if isUniqueViolation(err) {
				return leave.ErrVersionConflict
			}
			return err
		}
		req.Version = 1
		return nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE requests
		SET dates = ?, window_start = ?, window_end = ?, total_days = ?, substitutes = ?,
		    reason = ?, state = ?, steps = ?, chain_index = ?, current_level = ?,
		    document_verified = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		string(dates), window.Start.String(), window.End.String(), req.TotalDays.String(),
		string(subs), req.Reason, string(req.State), string(steps),
		req.ChainIndex, string(req.CurrentLevel), boolToInt(req.DocumentVerified),
		req.UpdatedAt.UTC().Format(time.RFC3339), string(req.ID), expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return leave.ErrVersionConflict
	}
	req.Version = expectedVersion + 1
	return nil
}

func (s *Store) RequestsByState(ctx context.Context, states ...leave.RequestState) ([]*leave.LeaveRequest, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(states)), ",")
	args := make([]any, len(states))
	for i, st := range states {
		args[i] = string(st)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, requester, leave_type, dates, total_days, substitutes, reason,
		       state, steps, chain_index, current_level, document_verified,
		       created_at, updated_at, version
		FROM requests WHERE state IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequests(rows)
}

// =============================================================================
// COMMITMENT SOURCE
// =============================================================================

func (s *Store) RequestsOverlapping(ctx context.Context, user leave.UserID, window leave.DateRange) ([]*leave.LeaveRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, requester, leave_type, dates, total_days, substitutes, reason,
		       state, steps, chain_index, current_level, document_verified,
		       created_at, updated_at, version
		FROM requests
		WHERE requester = ?
		  AND state IN (?, ?, ?)
		  AND window_start <= ? AND window_end >= ?`,
		string(user),
		string(leave.StatePendingApproval), string(leave.StatePartiallyApproved), string(leave.StateApproved),
		window.End.String(), window.Start.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (s *Store) WFHOverlapping(ctx context.Context, user leave.UserID, window leave.DateRange) ([]leave.WFHAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dates, note FROM wfh_assignments
		WHERE user_id = ? AND window_start <= ? AND window_end >= ?`,
		string(user), window.End.String(), window.Start.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []leave.WFHAssignment
	for rows.Next() {
		var datesJSON, note string
		if err := rows.Scan(&datesJSON, &note); err != nil {
			return nil, err
		}
		var dates leave.DateSelection
		if err := json.Unmarshal([]byte(datesJSON), &dates); err != nil {
			return nil, err
		}
		out = append(out, leave.WFHAssignment{User: user, Dates: dates, Note: note})
	}
	return out, rows.Err()
}

func (s *Store) SubstituteOverlapping(ctx context.Context, user leave.UserID, window leave.DateRange) ([]leave.SubstituteCommitment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, dates FROM substitute_commitments
		WHERE user_id = ? AND window_start <= ? AND window_end >= ?`,
		string(user), window.End.String(), window.Start.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []leave.SubstituteCommitment
	for rows.Next() {
		var requestID, datesJSON string
		if err := rows.Scan(&requestID, &datesJSON); err != nil {
			return nil, err
		}
		var dates leave.DateSelection
		if err := json.Unmarshal([]byte(datesJSON), &dates); err != nil {
			return nil, err
		}
		out = append(out, leave.SubstituteCommitment{
			User: user, RequestID: leave.RequestID(requestID), Dates: dates,
		})
	}
	return out, rows.Err()
}

// AddWFH records an approved work-from-home assignment.
func (s *Store) AddWFH(ctx context.Context, a leave.WFHAssignment) error {
	dates, err := json.Marshal(a.Dates)
	if err != nil {
		return err
	}
	window := a.Dates.Window()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO wfh_assignments (user_id, dates, window_start, window_end, note)
		VALUES (?, ?, ?, ?, ?)`,
		string(a.User), string(dates), window.Start.String(), window.End.String(), a.Note)
	return err
}

// AddSubstitute records a substitute commitment.
func (s *Store) AddSubstitute(ctx context.Context, c leave.SubstituteCommitment) error {
	dates, err := json.Marshal(c.Dates)
	if err != nil {
		return err
	}
	window := c.Dates.Window()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO substitute_commitments (user_id, request_id, dates, window_start, window_end)
		VALUES (?, ?, ?, ?, ?)`,
		string(c.User), string(c.RequestID), string(dates), window.Start.String(), window.End.String())
	return err
}

// =============================================================================
// REFERENCE SOURCE
// =============================================================================

func (s *Store) WorkingProfile(ctx context.Context, user leave.UserID) (*leave.WorkingProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT pattern, days_per_week, hours_per_week, contract_start
		FROM working_profiles WHERE user_id = ?`, string(user))

	var pattern, hours, start string
	var daysPerWeek int
	if err := row.Scan(&pattern, &daysPerWeek, &hours, &start); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, leave.ErrRecordNotFound
		}
		return nil, err
	}

	hoursDec, err := decimal.NewFromString(hours)
	if err != nil {
		return nil, fmt.Errorf("corrupt hours_per_week for %s: %w", user, err)
	}
	startDate, err := leave.ParseDate(start)
	if err != nil {
		return nil, err
	}
	return &leave.WorkingProfile{
		UserID:        user,
		Pattern:       leave.WorkingPattern(pattern),
		DaysPerWeek:   daysPerWeek,
		HoursPerWeek:  hoursDec,
		ContractStart: startDate,
	}, nil
}

func (s *Store) LeaveType(ctx context.Context, code leave.LeaveTypeCode) (*leave.LeaveTypeDefinition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, base_allowance, statutory_base, statutory_minimum, requires_document,
		       granularity, carry_enabled, carry_max_days, approval_chain, active
		FROM leave_types WHERE code = ?`, string(code))

	var name, base, statBase, statMin, granularity, carryMax, chainJSON string
	var requiresDoc, carryEnabled, active int
	if err := row.Scan(&name, &base, &statBase, &statMin, &requiresDoc,
		&granularity, &carryEnabled, &carryMax, &chainJSON, &active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, leave.ErrUnknownLeaveType
		}
		return nil, err
	}

	def := &leave.LeaveTypeDefinition{
		Code:             code,
		Name:             name,
		RequiresDocument: requiresDoc != 0,
		Granularity:      leave.Granularity(granularity),
		Active:           active != 0,
	}
	var err error
	if def.BaseAllowance, err = decimal.NewFromString(base); err != nil {
		return nil, fmt.Errorf("corrupt base_allowance for %s: %w", code, err)
	}
	if def.StatutoryBase, err = decimal.NewFromString(statBase); err != nil {
		return nil, fmt.Errorf("corrupt statutory_base for %s: %w", code, err)
	}
	if def.StatutoryMinimum, err = decimal.NewFromString(statMin); err != nil {
		return nil, fmt.Errorf("corrupt statutory_minimum for %s: %w", code, err)
	}
	maxDays, err := decimal.NewFromString(carryMax)
	if err != nil {
		return nil, fmt.Errorf("corrupt carry_max_days for %s: %w", code, err)
	}
	def.CarryForward = leave.CarryForwardPolicy{Enabled: carryEnabled != 0, MaxDays: maxDays}
	if err := json.Unmarshal([]byte(chainJSON), &def.ApprovalChain); err != nil {
		return nil, fmt.Errorf("corrupt approval_chain for %s: %w", code, err)
	}
	return def, nil
}

// PutLeaveType upserts reference data.
func (s *Store) PutLeaveType(ctx context.Context, def leave.LeaveTypeDefinition) error {
	chain, err := json.Marshal(def.ApprovalChain)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO leave_types (code, name, base_allowance, statutory_base, statutory_minimum,
			requires_document, granularity, carry_enabled, carry_max_days, approval_chain, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name, base_allowance = excluded.base_allowance,
			statutory_base = excluded.statutory_base, statutory_minimum = excluded.statutory_minimum,
			requires_document = excluded.requires_document, granularity = excluded.granularity,
			carry_enabled = excluded.carry_enabled, carry_max_days = excluded.carry_max_days,
			approval_chain = excluded.approval_chain, active = excluded.active`,
		string(def.Code), def.Name, def.BaseAllowance.String(), def.StatutoryBase.String(),
		def.StatutoryMinimum.String(), boolToInt(def.RequiresDocument), string(def.Granularity),
		boolToInt(def.CarryForward.Enabled), def.CarryForward.MaxDays.String(), string(chain),
		boolToInt(def.Active))
	return err
}

// LeaveTypes lists all reference definitions, active and retired.
func (s *Store) LeaveTypes(ctx context.Context) ([]leave.LeaveTypeDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code FROM leave_types ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []leave.LeaveTypeCode
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, leave.LeaveTypeCode(code))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]leave.LeaveTypeDefinition, 0, len(codes))
	for _, code := range codes {
		def, err := s.LeaveType(ctx, code)
		if err != nil {
			return nil, err
		}
		out = append(out, *def)
	}
	return out, nil
}

// PutProfile upserts a working profile.
func (s *Store) PutProfile(ctx context.Context, p leave.WorkingProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO working_profiles (user_id, pattern, days_per_week, hours_per_week, contract_start)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			pattern = excluded.pattern, days_per_week = excluded.days_per_week,
			hours_per_week = excluded.hours_per_week, contract_start = excluded.contract_start`,
		string(p.UserID), string(p.Pattern), p.DaysPerWeek, p.HoursPerWeek.String(),
		p.ContractStart.String())
	return err
}

// =============================================================================
// HOLIDAY CALENDAR
// =============================================================================

func (s *Store) IsHoliday(d leave.Date) bool {
	row := s.db.QueryRow(`
		SELECT COUNT(1) FROM holidays
		WHERE date = ? OR (recurring = 1 AND substr(date, 6) = ?)`,
		d.String(), d.String()[5:])
	var n int
	if err := row.Scan(&n); err != nil {
		return false
	}
	return n > 0
}

func (s *Store) Holidays(year int) []leave.Holiday {
	rows, err := s.db.Query(`
		SELECT id, date, name, recurring FROM holidays
		WHERE substr(date, 1, 4) = ? OR recurring = 1
		ORDER BY date`, fmt.Sprintf("%04d", year))
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []leave.Holiday
	for rows.Next() {
		var id, date, name string
		var recurring int
		if err := rows.Scan(&id, &date, &name, &recurring); err != nil {
			return out
		}
		d, err := leave.ParseDate(date)
		if err != nil {
			continue
		}
		out = append(out, leave.Holiday{ID: id, Date: d, Name: name, Recurring: recurring != 0})
	}
	return out
}

// AddHoliday inserts a blocked day.
func (s *Store) AddHoliday(ctx context.Context, h leave.Holiday) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO holidays (id, date, name, recurring) VALUES (?, ?, ?, ?)`,
		h.ID, h.Date.String(), h.Name, boolToInt(h.Recurring))
	return err
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *Store) Append(ctx context.Context, entry leave.AuditEntry) error {
	var user, leaveType, year any
	if entry.Key != nil {
		user = string(entry.Key.User)
		leaveType = string(entry.Key.LeaveType)
		year = entry.Key.Year
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, at, actor, action, user_id, leave_type, year, request_id, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.At.UTC().Format(time.RFC3339), entry.Actor, string(entry.Action),
		user, leaveType, year, string(entry.RequestID), entry.Detail)
	return err
}

func (s *Store) Query(ctx context.Context, filter leave.AuditFilter) ([]leave.AuditEntry, error) {
	query := `SELECT id, at, actor, action, user_id, leave_type, year, request_id, detail
		FROM audit_log WHERE 1=1`
	var args []any
	if filter.Actor != "" {
		query += " AND actor = ?"
		args = append(args, filter.Actor)
	}
	if filter.RequestID != "" {
		query += " AND request_id = ?"
		args = append(args, string(filter.RequestID))
	}
	if len(filter.Actions) > 0 {
		query += fmt.Sprintf(" AND action IN (%s)",
			strings.TrimSuffix(strings.Repeat("?,", len(filter.Actions)), ","))
		for _, a := range filter.Actions {
			args = append(args, string(a))
		}
	}
	query += " ORDER BY at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []leave.AuditEntry
	for rows.Next() {
		var e leave.AuditEntry
		var at, requestID string
		var user, leaveType sql.NullString
		var year sql.NullInt64
		var action string
		if err := rows.Scan(&e.ID, &at, &e.Actor, &action, &user, &leaveType, &year, &requestID, &e.Detail); err != nil {
			return nil, err
		}
		e.Action = leave.AuditAction(action)
		if t, err := time.Parse(time.RFC3339, at); err == nil {
			e.At = t
		}
		if user.Valid {
			e.Key = &leave.BalanceKey{
				User:      leave.UserID(user.String),
				LeaveType: leave.LeaveTypeCode(leaveType.String),
				Year:      int(year.Int64),
			}
		}
		e.RequestID = leave.RequestID(requestID)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*leave.LeaveRequest, error) {
	var req leave.LeaveRequest
	var id, requester, leaveType, datesJSON, totalDays, subsJSON, state, stepsJSON, level, createdAt, updatedAt string
	var docVerified int
	if err := row.Scan(&id, &requester, &leaveType, &datesJSON, &totalDays, &subsJSON,
		&req.Reason, &state, &stepsJSON, &req.ChainIndex, &level, &docVerified,
		&createdAt, &updatedAt, &req.Version); err != nil {
		return nil, err
	}

	req.ID = leave.RequestID(id)
	req.Requester = leave.UserID(requester)
	req.LeaveType = leave.LeaveTypeCode(leaveType)
	req.State = leave.RequestState(state)
	req.CurrentLevel = leave.ApprovalLevel(level)
	req.DocumentVerified = docVerified != 0

	if err := json.Unmarshal([]byte(datesJSON), &req.Dates); err != nil {
		return nil, fmt.Errorf("corrupt dates for request %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(subsJSON), &req.Substitutes); err != nil {
		return nil, fmt.Errorf("corrupt substitutes for request %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(stepsJSON), &req.Steps); err != nil {
		return nil, fmt.Errorf("corrupt steps for request %s: %w", id, err)
	}
	var err error
	if req.TotalDays, err = decimal.NewFromString(totalDays); err != nil {
		return nil, fmt.Errorf("corrupt total_days for request %s: %w", id, err)
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		req.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		req.UpdatedAt = t
	}
	return &req, nil
}

func scanRequests(rows *sql.Rows) ([]*leave.LeaveRequest, error) {
	var out []*leave.LeaveRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
