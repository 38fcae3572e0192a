/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack and route table. This is the
  wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (logrus)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/rates/*          Minimum wages and grade coefficients
  /api/employees/*      Profile ledger and insurance salary
  /api/suggestions/*    Grade suggestion review
  /api/detections       Change detection preview
  /api/reports/*        Monthly reports
  /api/records/*        Change record decisions

SECURITY NOTE:
  No authentication middleware. The caller identity in X-Actor-ID is
  trusted as already authorized.
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, log logrus.FieldLogger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", ActorHeader},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/rates", func(r chi.Router) {
			r.Get("/wages", h.ListWages)
			r.Post("/wages", h.UpsertWage)
			r.Get("/wages/lookup", h.LookupWage)
			r.Post("/wages/{id}/deactivate", h.DeactivateWage)

			r.Get("/grades", h.ListGrades)
			r.Post("/grades", h.UpsertGrade)
			r.Get("/grades/lookup", h.LookupGrade)
			r.Post("/grades/{id}/deactivate", h.DeactivateGrade)
		})

		r.Route("/employees/{id}", func(r chi.Router) {
			r.Get("/profile", h.GetProfile)
			r.Get("/profile/history", h.GetProfileHistory)
			r.Post("/profile/changes", h.ApplyProfileChange)
			r.Get("/insurance-salary", h.GetInsuranceSalary)
		})

		r.Route("/suggestions", func(r chi.Router) {
			r.Get("/", h.ListSuggestions)
			r.Post("/scan", h.ScanSuggestions)
			r.Post("/sweep", h.SweepSuggestions)
			r.Post("/{id}/approve", h.ApproveSuggestion)
			r.Post("/{id}/reject", h.RejectSuggestion)
		})

		r.Get("/detections", h.PreviewDetection)

		r.Route("/reports", func(r chi.Router) {
			r.Get("/", h.ListReports)
			r.Post("/", h.CreateReport)
			r.Get("/{id}", h.GetReport)
			r.Post("/{id}/generate", h.GenerateReport)
			r.Get("/{id}/records", h.ListRecords)
			r.Post("/{id}/finalize", h.FinalizeReport)
			r.Post("/{id}/export", h.ExportReport)
		})

		r.Route("/records", func(r chi.Router) {
			r.Post("/{id}/approve", h.ApproveRecord)
			r.Post("/{id}/reject", h.RejectRecord)
			r.Post("/{id}/adjust", h.AdjustRecord)
		})
	})

	return r
}

// requestLogger logs one line per request with status and latency.
func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.WithFields(logrus.Fields{
					"request_id": middleware.GetReqID(r.Context()),
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     ww.Status(),
					"bytes":      ww.BytesWritten(),
					"duration":   time.Since(start),
					"actor":      r.Header.Get(ActorHeader),
				}).Info("http request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
