/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, optional leave.yaml, LEAVE_* env vars)
  2. Build the zap logger
  3. Open the SQLite store (also the holiday calendar and audit log)
  4. Wire ledger, conflict detector, and approval workflow
  5. Start the SLA escalation sweeper
  6. Start the HTTP server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (configurable timeout)
  3. Stop the sweeper, close the database
  4. Exit

EXAMPLES:
  # Run with defaults (./data/leave.db, port 8080)
  ./server

  # In-memory database on another port
  LEAVE_DATABASE_PATH=":memory:" LEAVE_SERVER_PORT=3000 ./server

SEE ALSO:
  - config/config.go: Configuration keys and precedence
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// The SQLite store backs every port: balances, requests, reference data,
	// conflict inputs, holidays, and the audit log.
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	ledger := leave.NewBalanceLedger(store, store,
		leave.WithAudit(store),
		leave.WithEvents(leave.LogSink{Logger: logger}),
		leave.WithLedgerLogger(logger),
		leave.WithCarryForwardCap(decimal.NewFromFloat(cfg.Ledger.CarryForwardCapDays)),
	)
	detector := leave.NewConflictDetector(store, logger)
	workflow := leave.NewApprovalWorkflow(ledger, store, detector, store,
		leave.WithCalendar(store),
		leave.WithWorkflowAudit(store),
		leave.WithWorkflowEvents(leave.LogSink{Logger: logger}),
		leave.WithWorkflowLogger(logger),
		leave.WithWorkflowPolicy(leave.WorkflowPolicy{
			SubstituteHardBlock: cfg.Workflow.SubstituteHardBlock,
			EscalationSLA:       cfg.Workflow.EscalationSLA,
		}),
	)

	handler := api.NewHandler(ledger, workflow, detector, store, store, logger)
	handler.MinGapDays = cfg.Planning.MinCoverageGapDays
	router := api.NewRouter(handler)

	sweeper := api.NewEscalationSweeper(workflow,
		cfg.Workflow.EscalationSLA, cfg.Workflow.SweepInterval, logger)
	sweeper.Start()
	defer sweeper.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("database", cfg.Database.Path))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	var zcfg zap.Config
	if cfg.Log.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
