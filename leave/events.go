// events.go - Domain events emitted for external notification and audit
// collaborators. This core never performs delivery; it hands events to an
// injected sink and moves on.
package leave

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EventType string

const (
	EventSeeded       EventType = "balance_seeded"
	EventAdjusted     EventType = "balance_adjusted"
	EventRecalculated EventType = "entitlement_recalculated"
	EventSubmitted    EventType = "request_submitted"
	EventApproved     EventType = "request_approved"
	EventRejected     EventType = "request_rejected"
	EventCancelled    EventType = "request_cancelled"
	EventEscalated    EventType = "request_escalated"
)

type Event struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	RequestID RequestID     `json:"request_id,omitempty"`
	User      UserID        `json:"user"`
	LeaveType LeaveTypeCode `json:"leave_type,omitempty"`
	At        time.Time     `json:"at"`
	Detail    string        `json:"detail,omitempty"`
}

// EventSink consumes domain events. Implementations must not block the
// calling transition; slow delivery belongs behind a queue outside the core.
type EventSink interface {
	Emit(ctx context.Context, e Event)
}

// NopSink drops events.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}

// LogSink writes events to a structured logger. The default sink in
// development setups.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Emit(_ context.Context, e Event) {
	s.Logger.Info("domain event",
		zap.String("type", string(e.Type)),
		zap.String("request_id", string(e.RequestID)),
		zap.String("user", string(e.User)),
		zap.String("leave_type", string(e.LeaveType)),
		zap.String("detail", e.Detail),
	)
}

// CaptureSink collects events for assertions in tests.
type CaptureSink struct {
	Events []Event
}

func (s *CaptureSink) Emit(_ context.Context, e Event) {
	s.Events = append(s.Events, e)
}

func newEvent(t EventType, reqID RequestID, user UserID, lt LeaveTypeCode, detail string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		RequestID: reqID,
		User:      user,
		LeaveType: lt,
		At:        time.Now().UTC(),
		Detail:    detail,
	}
}
