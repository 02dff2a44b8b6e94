/*
conflict.go - Availability classification, overlap clustering, coverage gaps

PURPOSE:
  Answers "can these people be away / cover for someone on these dates?"
  before a request is allowed to proceed. Read-only and side-effect-free;
  candidate persons are checked in parallel.

CLASSIFICATION (per candidate, per date window):
  unavailable - an APPROVED leave overlap exists on at least one date
  partial     - only pending leave, WFH, or substitute-role overlaps exist
  available   - otherwise

  Both date representations (range, explicit set) are normalized to date
  sets before intersection, so they behave identically.

TEAM-WIDE USE:
  The same primitive applied across a team's submitted plans yields overlap
  clusters (how many people are away together) and coverage gaps (stretches
  with nobody planning leave).

SEE ALSO:
  - workflow.go: Submission gating on requester/substitute conflicts
  - dates.go:    DateSelection normalization
*/
package leave

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// CONFLICT REPORT - Ephemeral, never persisted
// =============================================================================

type Availability string

const (
	Available   Availability = "available"
	Partial     Availability = "partial"
	Unavailable Availability = "unavailable"
)

type ConflictKind string

const (
	ConflictLeave      ConflictKind = "leave"
	ConflictWFH        ConflictKind = "wfh"
	ConflictSubstitute ConflictKind = "substitute"
)

// ConflictEntry is one overlapping commitment.
type ConflictEntry struct {
	Kind   ConflictKind `json:"kind"`
	Dates  DateSet      `json:"dates"`
	Detail string       `json:"detail"`

	// Approved marks overlaps that make the person hard-unavailable
	// (approved leave, as opposed to pending or substitute roles).
	Approved bool `json:"approved"`
}

// ConflictReport classifies one candidate for one date window.
type ConflictReport struct {
	Person         UserID          `json:"person"`
	Classification Availability    `json:"classification"`
	Conflicts      []ConflictEntry `json:"conflicts,omitempty"`
}

// =============================================================================
// CONFLICT DETECTOR
// =============================================================================

type ConflictDetector struct {
	commitments CommitmentSource
	logger      *zap.Logger
}

func NewConflictDetector(commitments CommitmentSource, logger *zap.Logger) *ConflictDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConflictDetector{commitments: commitments, logger: logger}
}

// CheckAvailability classifies each candidate against the date window.
// Candidates are checked concurrently; result order matches input order.
func (d *ConflictDetector) CheckAvailability(ctx context.Context, persons []UserID, window DateSelection) ([]ConflictReport, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}

	reports := make([]ConflictReport, len(persons))
	g, gctx := errgroup.WithContext(ctx)
	for i, person := range persons {
		i, person := i, person
		g.Go(func() error {
			report, err := d.checkPerson(gctx, person, window)
			if err != nil {
				return err
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func (d *ConflictDetector) checkPerson(ctx context.Context, person UserID, window DateSelection) (ConflictReport, error) {
	requested := window.Set()
	envelope := window.Window()

	var conflicts []ConflictEntry

	requests, err := d.commitments.RequestsOverlapping(ctx, person, envelope)
	if err != nil {
		return ConflictReport{}, fmt.Errorf("load leave requests for %s: %w", person, err)
	}
	for _, req := range requests {
		overlap := req.Dates.Set().Intersect(requested)
		if len(overlap) == 0 {
			continue
		}
		conflicts = append(conflicts, ConflictEntry{
			Kind:     ConflictLeave,
			Dates:    overlap,
			Approved: req.State == StateApproved,
			Detail: fmt.Sprintf("%s leave (%s) on %s",
				req.State, req.LeaveType, strings.Join(overlap.Strings(), ", ")),
		})
	}

	wfh, err := d.commitments.WFHOverlapping(ctx, person, envelope)
	if err != nil {
		return ConflictReport{}, fmt.Errorf("load wfh assignments for %s: %w", person, err)
	}
	for _, a := range wfh {
		overlap := a.Dates.Set().Intersect(requested)
		if len(overlap) == 0 {
			continue
		}
		conflicts = append(conflicts, ConflictEntry{
			Kind:   ConflictWFH,
			Dates:  overlap,
			Detail: fmt.Sprintf("work-from-home on %s", strings.Join(overlap.Strings(), ", ")),
		})
	}

	subs, err := d.commitments.SubstituteOverlapping(ctx, person, envelope)
	if err != nil {
		return ConflictReport{}, fmt.Errorf("load substitute commitments for %s: %w", person, err)
	}
	for _, s := range subs {
		overlap := s.Dates.Set().Intersect(requested)
		if len(overlap) == 0 {
			continue
		}
		conflicts = append(conflicts, ConflictEntry{
			Kind:   ConflictSubstitute,
			Dates:  overlap,
			Detail: fmt.Sprintf("substitute for request %s on %s", s.RequestID, strings.Join(overlap.Strings(), ", ")),
		})
	}

	return ConflictReport{
		Person:         person,
		Classification: classify(conflicts),
		Conflicts:      conflicts,
	}, nil
}

func classify(conflicts []ConflictEntry) Availability {
	if len(conflicts) == 0 {
		return Available
	}
	for _, c := range conflicts {
		if c.Kind == ConflictLeave && c.Approved {
			return Unavailable
		}
	}
	return Partial
}

// =============================================================================
// TEAM PLANNING - Overlap clusters and coverage gaps
// =============================================================================

type ConflictLevel string

const (
	ConflictLevelNone   ConflictLevel = "none"
	ConflictLevelMedium ConflictLevel = "medium"
	ConflictLevelHigh   ConflictLevel = "high"
)

// ClusterThresholds maps overlapping-people counts to conflict levels:
// counts >= High are HIGH, counts >= Medium are MEDIUM, below is none.
type ClusterThresholds struct {
	High   int
	Medium int
}

func DefaultClusterThresholds() ClusterThresholds {
	return ClusterThresholds{High: 4, Medium: 2}
}

func (t ClusterThresholds) levelFor(count int) ConflictLevel {
	switch {
	case count >= t.High:
		return ConflictLevelHigh
	case count >= t.Medium:
		return ConflictLevelMedium
	default:
		return ConflictLevelNone
	}
}

// PlannedLeave is one team member's submitted date set for planning analysis.
type PlannedLeave struct {
	User  UserID        `json:"user"`
	Dates DateSelection `json:"dates"`
}

// OverlapCluster is a run of consecutive dates sharing the same set of
// overlapping people.
type OverlapCluster struct {
	Dates DateSet       `json:"dates"`
	Users []UserID      `json:"users"`
	Level ConflictLevel `json:"level"`
}

// OverlapClusters groups the team's planned dates by day and merges
// consecutive days with identical participant sets into clusters.
func (d *ConflictDetector) OverlapClusters(plans []PlannedLeave, thresholds ClusterThresholds) []OverlapCluster {
	byDate := make(map[Date][]UserID)
	for _, plan := range plans {
		for _, day := range plan.Dates.Set() {
			byDate[day] = append(byDate[day], plan.User)
		}
	}
	if len(byDate) == 0 {
		return nil
	}

	dates := make([]Date, 0, len(byDate))
	for day := range byDate {
		dates = append(dates, day)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	var clusters []OverlapCluster
	for _, day := range dates {
		users := sortedUsers(byDate[day])
		last := len(clusters) - 1
		if last >= 0 &&
			clusters[last].Dates[len(clusters[last].Dates)-1].AddDays(1).Equal(day) &&
			sameUsers(clusters[last].Users, users) {
			clusters[last].Dates = append(clusters[last].Dates, day)
			continue
		}
		clusters = append(clusters, OverlapCluster{
			Dates: DateSet{day},
			Users: users,
			Level: thresholds.levelFor(len(users)),
		})
	}
	return clusters
}

// CoverageGaps finds runs of consecutive calendar days inside the period
// where nobody has planned leave, flagging runs of at least minGapDays.
func (d *ConflictDetector) CoverageGaps(plans []PlannedLeave, period DateRange, minGapDays int) []DateRange {
	if minGapDays <= 0 {
		minGapDays = 1
	}
	planned := make(map[Date]bool)
	for _, plan := range plans {
		for _, day := range plan.Dates.Set() {
			planned[day] = true
		}
	}

	var gaps []DateRange
	var runStart *Date
	flush := func(end Date) {
		if runStart == nil {
			return
		}
		run := DateRange{Start: *runStart, End: end}
		if run.Length() >= minGapDays {
			gaps = append(gaps, run)
		}
		runStart = nil
	}

	for cur := period.Start; cur.BeforeOrEqual(period.End); cur = cur.AddDays(1) {
		if planned[cur] {
			flush(cur.AddDays(-1))
			continue
		}
		if runStart == nil {
			start := cur
			runStart = &start
		}
	}
	flush(period.End)
	return gaps
}

func sortedUsers(users []UserID) []UserID {
	out := append([]UserID(nil), users...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	// De-duplicate: a user may submit several plans touching the same day.
	dedup := out[:0]
	for i, u := range out {
		if i == 0 || u != out[i-1] {
			dedup = append(dedup, u)
		}
	}
	return dedup
}

func sameUsers(a, b []UserID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
