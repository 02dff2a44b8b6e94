// Package memory provides an in-memory store implementing every port the
// leave core consumes. Used in tests and development; the versioning
// semantics match the SQLite store exactly.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Store struct {
	mu       sync.RWMutex
	balances map[leave.BalanceKey]*leave.BalanceRecord
	requests map[leave.RequestID]*leave.LeaveRequest
	profiles map[leave.UserID]*leave.WorkingProfile
	types    map[leave.LeaveTypeCode]*leave.LeaveTypeDefinition
	wfh      map[leave.UserID][]leave.WFHAssignment
	subs     map[leave.UserID][]leave.SubstituteCommitment
	holidays []leave.Holiday
	audit    []leave.AuditEntry
}

func New() *Store {
	return &Store{
		balances: make(map[leave.BalanceKey]*leave.BalanceRecord),
		requests: make(map[leave.RequestID]*leave.LeaveRequest),
		profiles: make(map[leave.UserID]*leave.WorkingProfile),
		types:    make(map[leave.LeaveTypeCode]*leave.LeaveTypeDefinition),
		wfh:      make(map[leave.UserID][]leave.WFHAssignment),
		subs:     make(map[leave.UserID][]leave.SubstituteCommitment),
	}
}

// =============================================================================
// RECORD STORE
// =============================================================================

func (s *Store) GetBalance(_ context.Context, key leave.BalanceKey) (*leave.BalanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.balances[key]
	if !ok {
		return nil, leave.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) PutBalance(_ context.Context, rec *leave.BalanceRecord, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.balances[rec.Key]
	switch {
	case expectedVersion == 0 && exists:
		return leave.ErrVersionConflict
	case expectedVersion != 0 && (!exists || current.Version != expectedVersion):
		return leave.ErrVersionConflict
	}

	rec.Version = expectedVersion + 1
	s.balances[rec.Key] = rec.Clone()
	return nil
}

// =============================================================================
// REQUEST STORE
// =============================================================================

func (s *Store) GetRequest(_ context.Context, id leave.RequestID) (*leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, leave.ErrRequestNotFound
	}
	return req.Clone(), nil
}

func (s *Store) PutRequest(_ context.Context, req *leave.LeaveRequest, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.requests[req.ID]
	switch {
	case expectedVersion == 0 && exists:
		return leave.ErrVersionConflict
	case expectedVersion != 0 && (!exists || current.Version != expectedVersion):
		return leave.ErrVersionConflict
	}

	req.Version = expectedVersion + 1
	s.requests[req.ID] = req.Clone()
	return nil
}

func (s *Store) RequestsByState(_ context.Context, states ...leave.RequestState) ([]*leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[leave.RequestState]bool, len(states))
	for _, st := range states {
		wanted[st] = true
	}
	var out []*leave.LeaveRequest
	for _, req := range s.requests {
		if wanted[req.State] {
			out = append(out, req.Clone())
		}
	}
	return out, nil
}

// =============================================================================
// REFERENCE SOURCE
// =============================================================================

func (s *Store) WorkingProfile(_ context.Context, user leave.UserID) (*leave.WorkingProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[user]
	if !ok {
		return nil, leave.ErrRecordNotFound
	}
	c := *p
	return &c, nil
}

func (s *Store) LeaveType(_ context.Context, code leave.LeaveTypeCode) (*leave.LeaveTypeDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.types[code]
	if !ok {
		return nil, leave.ErrUnknownLeaveType
	}
	c := *d
	return &c, nil
}

func (s *Store) PutProfile(_ context.Context, p leave.WorkingProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = &p
	return nil
}

func (s *Store) PutLeaveType(_ context.Context, d leave.LeaveTypeDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types[d.Code] = &d
	return nil
}

func (s *Store) LeaveTypes(_ context.Context) ([]leave.LeaveTypeDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]leave.LeaveTypeDefinition, 0, len(s.types))
	for _, d := range s.types {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// =============================================================================
// COMMITMENT SOURCE
// =============================================================================

func (s *Store) RequestsOverlapping(_ context.Context, user leave.UserID, window leave.DateRange) ([]*leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*leave.LeaveRequest
	for _, req := range s.requests {
		if req.Requester != user {
			continue
		}
		switch req.State {
		case leave.StatePendingApproval, leave.StatePartiallyApproved, leave.StateApproved:
		default:
			continue
		}
		if req.Dates.Window().Overlaps(window) {
			out = append(out, req.Clone())
		}
	}
	return out, nil
}

func (s *Store) WFHOverlapping(_ context.Context, user leave.UserID, window leave.DateRange) ([]leave.WFHAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []leave.WFHAssignment
	for _, a := range s.wfh[user] {
		if a.Dates.Window().Overlaps(window) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) SubstituteOverlapping(_ context.Context, user leave.UserID, window leave.DateRange) ([]leave.SubstituteCommitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []leave.SubstituteCommitment
	for _, c := range s.subs[user] {
		if c.Dates.Window().Overlaps(window) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) AddWFH(_ context.Context, a leave.WFHAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wfh[a.User] = append(s.wfh[a.User], a)
	return nil
}

func (s *Store) AddSubstitute(_ context.Context, c leave.SubstituteCommitment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[c.User] = append(s.subs[c.User], c)
	return nil
}

// =============================================================================
// HOLIDAY CALENDAR
// =============================================================================

func (s *Store) AddHoliday(_ context.Context, h leave.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holidays = append(s.holidays, h)
	return nil
}

func (s *Store) IsHoliday(d leave.Date) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.holidays {
		if h.Date.Equal(d) {
			return true
		}
		if h.Recurring && h.Date.Month() == d.Month() && h.Date.Day() == d.Day() {
			return true
		}
	}
	return false
}

func (s *Store) Holidays(year int) []leave.Holiday {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []leave.Holiday
	for _, h := range s.holidays {
		if h.Date.Year() == year || h.Recurring {
			out = append(out, h)
		}
	}
	return out
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *Store) Append(_ context.Context, entry leave.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

func (s *Store) Query(_ context.Context, filter leave.AuditFilter) ([]leave.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []leave.AuditEntry
	for _, e := range s.audit {
		if filter.Actor != "" && e.Actor != filter.Actor {
			continue
		}
		if filter.RequestID != "" && e.RequestID != filter.RequestID {
			continue
		}
		if len(filter.Actions) > 0 {
			match := false
			for _, a := range filter.Actions {
				if e.Action == a {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, e)
	}
	return out, nil
}
