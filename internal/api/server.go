// Package api exposes the HTTP surface: import job submission and
// polling, segment definitions, and duplicate-check previews. Handlers
// are thin; routing and auth carry no business logic here.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brightwell/donorhub/internal/dedup"
	"github.com/brightwell/donorhub/internal/importer"
	"github.com/brightwell/donorhub/internal/repository/postgres"
	"github.com/brightwell/donorhub/internal/segment"
)

// Deps bundles everything the HTTP layer serves.
type Deps struct {
	Orchestrator *importer.Orchestrator
	Jobs         importer.JobStore
	Progress     *importer.ProgressCache
	Donors       *postgres.DonorRepo
	Segments     *segment.Store
	Detector     *dedup.Detector
	UploadDir    string
}

// NewRouter builds the chi router with all routes registered.
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-User-ID", "X-Org-ID"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	imports := &ImportsAPI{deps: deps}
	segments := &SegmentsAPI{deps: deps}
	donors := &DonorsAPI{deps: deps}

	r.Route("/api", func(r chi.Router) {
		imports.RegisterRoutes(r)
		segments.RegisterRoutes(r)
		donors.RegisterRoutes(r)
	})

	return r
}

// Identity comes from the auth layer upstream of this core; these
// headers are its hand-off points.
func orgID(r *http.Request) string {
	if v := r.Header.Get("X-Org-ID"); v != "" {
		return v
	}
	return "default"
}

func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
