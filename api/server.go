/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/requests/*      Leave request lifecycle
  /api/balances/*      Balance reads and HR adjustments
  /api/availability    Candidate availability classification
  /api/planning/*      Team overlap clusters and coverage gaps
  /api/leave-types/*   Leave type reference data
  /api/profiles        Working profile reference data
  /api/holidays/*      Company holiday calendar
  /api/audit           Audit log queries
  /healthz             Liveness probe

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Leave request lifecycle
		r.Route("/requests", func(r chi.Router) {
			r.Post("/", h.SubmitRequest)
			r.Post("/draft", h.SaveDraft)
			r.Get("/pending", h.ListPendingRequests)
			r.Get("/{id}", h.GetRequest)
			r.Post("/{id}/approve", h.ApproveRequest)
			r.Post("/{id}/reject", h.RejectRequest)
			r.Post("/{id}/cancel", h.CancelRequest)
			r.Post("/{id}/escalate", h.EscalateRequest)
			r.Post("/{id}/document", h.MarkDocumentVerified)
		})

		// Balance routes
		r.Route("/balances/{user}/{type}/{year}", func(r chi.Router) {
			r.Get("/", h.GetBalance)
			r.Post("/adjust", h.AdjustBalance)
		})

		// Availability and team planning
		r.Post("/availability", h.CheckAvailability)
		r.Route("/planning", func(r chi.Router) {
			r.Post("/overlaps", h.OverlapClusters)
			r.Post("/gaps", h.CoverageGaps)
		})

		// Reference data
		r.Route("/leave-types", func(r chi.Router) {
			r.Get("/", h.ListLeaveTypes)
			r.Post("/", h.PutLeaveType)
		})
		r.Post("/profiles", h.PutProfile)
		r.Route("/holidays", func(r chi.Router) {
			r.Get("/", h.ListHolidays)
			r.Post("/", h.AddHoliday)
		})

		// Audit
		r.Get("/audit", h.QueryAudit)
	})

	return r
}
