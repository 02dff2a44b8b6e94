/*
scheduler.go - SLA escalation sweeper

PURPOSE:
  Periodically finds requests that have sat at one approval level past the
  SLA and escalates them to the next authority. The core exposes the
  Escalate transition; deciding WHEN the SLA has expired lives here.

DESIGN:
  - Background goroutine with a configurable sweep interval
  - A request is overdue when its last activity predates now minus the SLA
  - Escalation at the top authority is a no-op inside the core, so sweeping
    the same overdue request repeatedly is harmless
  - Each sweep is independent; failures are logged and retried next tick

USAGE:
  sweeper := NewEscalationSweeper(workflow, sla, interval, logger)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - leave/workflow.go: Escalate and PendingOlderThan
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

// EscalationSweeper moves overdue pending requests up the authority chain.
type EscalationSweeper struct {
	workflow *leave.ApprovalWorkflow
	sla      time.Duration
	interval time.Duration
	logger   *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewEscalationSweeper(workflow *leave.ApprovalWorkflow, sla, interval time.Duration, logger *zap.Logger) *EscalationSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EscalationSweeper{
		workflow: workflow,
		sla:      sla,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the sweeper.
func (s *EscalationSweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticker = time.NewTicker(s.interval)
	s.wg.Add(1)
	go s.run()

	s.logger.Info("escalation sweeper started",
		zap.Duration("sla", s.sla), zap.Duration("interval", s.interval))
}

// Stop stops the sweeper and waits for an in-flight sweep to finish.
func (s *EscalationSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.logger.Info("escalation sweeper stopped")
	}
}

func (s *EscalationSweeper) run() {
	defer s.wg.Done()

	// Sweep immediately on start so a restart does not delay escalations.
	s.Sweep(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.Sweep(context.Background())
		case <-s.stop:
			return
		}
	}
}

// Sweep escalates every request whose last activity predates the SLA cutoff.
// Exposed for tests and manual admin triggers.
func (s *EscalationSweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.sla)
	overdue, err := s.workflow.PendingOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("escalation sweep failed to list pending requests", zap.Error(err))
		return
	}

	escalated := 0
	for _, req := range overdue {
		if _, err := s.workflow.Escalate(ctx, req.ID, "sla-sweeper"); err != nil {
			s.logger.Error("escalation failed",
				zap.String("request", string(req.ID)), zap.Error(err))
			continue
		}
		escalated++
	}
	if len(overdue) > 0 {
		s.logger.Info("escalation sweep completed",
			zap.Int("overdue", len(overdue)), zap.Int("escalated", escalated))
	}
}
