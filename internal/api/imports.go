package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/brightwell/donorhub/internal/domain"
	"github.com/brightwell/donorhub/internal/importer"
)

// ImportsAPI handles import job endpoints.
type ImportsAPI struct {
	deps Deps
}

// RegisterRoutes registers import job routes.
func (a *ImportsAPI) RegisterRoutes(r chi.Router) {
	r.Route("/imports", func(r chi.Router) {
		r.Post("/", a.CreateImport)
		r.Get("/", a.ListImports)
		r.Post("/mapping/suggest", a.SuggestMapping)
		r.Route("/{jobID}", func(r chi.Router) {
			r.Get("/", a.GetImport)
			r.Get("/progress", a.GetProgress)
			r.Post("/cancel", a.CancelImport)
		})
	})
}

// CreateImport accepts a multipart upload, stages the file, creates the
// job, and launches detached processing. Responds immediately with the
// job ID for polling.
func (a *ImportsAPI) CreateImport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	var mapping map[string]string
	if err := json.Unmarshal([]byte(r.FormValue("field_mapping")), &mapping); err != nil {
		respondError(w, http.StatusBadRequest, "field_mapping must be a JSON object")
		return
	}
	strategy := domain.DedupStrategy(r.FormValue("dedup_strategy"))
	if strategy == "" {
		strategy = domain.DedupSkip
	}

	// Stage before creating the job record so a staging failure never
	// strands a pending job with no file to process.
	staged, err := a.stageFile(file, header.Filename)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "stage upload: "+err.Error())
		return
	}

	job, err := a.deps.Orchestrator.CreateJob(r.Context(), orgID(r), userID(r),
		header.Filename, header.Size, mapping, strategy)
	if err != nil {
		os.Remove(staged)
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Detached from the request context: the job outlives this call.
	a.deps.Orchestrator.LaunchFile(context.Background(), job, staged)

	respondJSON(w, http.StatusAccepted, job)
}

func (a *ImportsAPI) stageFile(src io.Reader, filename string) (string, error) {
	if err := os.MkdirAll(a.deps.UploadDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(a.deps.UploadDir, uuid.New().String()+filepath.Ext(filename))
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (a *ImportsAPI) GetImport(w http.ResponseWriter, r *http.Request) {
	job, err := a.deps.Jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if errors.Is(err, importer.ErrJobNotFound) {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// GetProgress serves the Redis mirror when fresh, falling back to the
// job record.
func (a *ImportsAPI) GetProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if a.deps.Progress != nil {
		if snap, err := a.deps.Progress.Get(r.Context(), jobID); err == nil && snap != nil {
			respondJSON(w, http.StatusOK, snap)
			return
		}
	}

	job, err := a.deps.Jobs.Get(r.Context(), jobID)
	if errors.Is(err, importer.ErrJobNotFound) {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (a *ImportsAPI) ListImports(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := a.deps.Jobs.List(r.Context(), userID(r), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, jobs)
}

func (a *ImportsAPI) CancelImport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	err := a.deps.Jobs.RequestCancel(r.Context(), chi.URLParam(r, "jobID"), body.Reason)
	if errors.Is(err, importer.ErrJobNotFound) {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if errors.Is(err, importer.ErrJobTerminal) {
		respondError(w, http.StatusConflict, "job already finished")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancel requested"})
}

// SuggestMapping auto-maps uploaded file headers to donor attributes.
func (a *ImportsAPI) SuggestMapping(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Headers []string `json:"headers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	respondJSON(w, http.StatusOK, importer.SuggestMapping(body.Headers))
}
