package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/brightwell/donorhub/internal/segment"
)

// SegmentsAPI handles segment definition endpoints.
type SegmentsAPI struct {
	deps Deps
}

// RegisterRoutes registers segment routes.
func (a *SegmentsAPI) RegisterRoutes(r chi.Router) {
	r.Route("/segments", func(r chi.Router) {
		r.Get("/", a.ListSegments)
		r.Post("/", a.CreateSegment)
		r.Post("/preview", a.PreviewSegment)
		r.Get("/fields", a.ListFields)
		r.Route("/{segmentID}", func(r chi.Router) {
			r.Get("/", a.GetSegment)
			r.Put("/", a.UpdateSegment)
			r.Delete("/", a.DeleteSegment)
			r.Post("/refresh", a.RefreshSegment)
			r.Get("/donors", a.GetSegmentDonors)
		})
	})
}

// segmentRequest is the create/update body. Description is a pointer
// so an update distinguishes "omitted, keep current" from an explicit
// empty string that clears it.
type segmentRequest struct {
	Name        string        `json:"name"`
	Description *string       `json:"description,omitempty"`
	Rules       segment.Group `json:"rules"`
}

func (a *SegmentsAPI) CreateSegment(w http.ResponseWriter, r *http.Request) {
	var req segmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	def := &segment.Definition{
		OrganizationID: orgID(r),
		Name:           req.Name,
		CreatedBy:      userID(r),
	}
	if req.Description != nil {
		def.Description = *req.Description
	}
	if err := a.deps.Segments.Create(r.Context(), def, req.Rules); err != nil {
		respondCompileError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, def)
}

func (a *SegmentsAPI) UpdateSegment(w http.ResponseWriter, r *http.Request) {
	var req segmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	def, err := a.deps.Segments.Get(r.Context(), orgID(r), chi.URLParam(r, "segmentID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if def == nil {
		respondError(w, http.StatusNotFound, "segment not found")
		return
	}

	if req.Name != "" {
		def.Name = req.Name
	}
	if req.Description != nil {
		def.Description = *req.Description
	}
	if err := a.deps.Segments.Update(r.Context(), def, req.Rules); err != nil {
		respondCompileError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, def)
}

func (a *SegmentsAPI) GetSegment(w http.ResponseWriter, r *http.Request) {
	def, err := a.deps.Segments.Get(r.Context(), orgID(r), chi.URLParam(r, "segmentID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if def == nil {
		respondError(w, http.StatusNotFound, "segment not found")
		return
	}
	respondJSON(w, http.StatusOK, def)
}

func (a *SegmentsAPI) ListSegments(w http.ResponseWriter, r *http.Request) {
	defs, err := a.deps.Segments.List(r.Context(), orgID(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, defs)
}

func (a *SegmentsAPI) DeleteSegment(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Segments.Delete(r.Context(), orgID(r), chi.URLParam(r, "segmentID")); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RefreshSegment recalculates the cached match-count estimate.
func (a *SegmentsAPI) RefreshSegment(w http.ResponseWriter, r *http.Request) {
	def, err := a.deps.Segments.Refresh(r.Context(), orgID(r), chi.URLParam(r, "segmentID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if def == nil {
		respondError(w, http.StatusNotFound, "segment not found")
		return
	}
	respondJSON(w, http.StatusOK, def)
}

// PreviewSegment compiles an ad hoc rule tree and returns its match
// count, plus the generated SQL when debug is requested.
func (a *SegmentsAPI) PreviewSegment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rules segment.Group `json:"rules"`
		Debug bool          `json:"debug,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	filter, err := segment.Compile(req.Rules)
	if err != nil {
		respondCompileError(w, err)
		return
	}

	frag, args := filter.SQL()
	count, err := a.deps.Donors.CountBySegment(r.Context(), orgID(r), frag, args)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{"estimated_count": count}
	if req.Debug {
		resp["query_sql"] = frag
	}
	respondJSON(w, http.StatusOK, resp)
}

func (a *SegmentsAPI) GetSegmentDonors(w http.ResponseWriter, r *http.Request) {
	def, err := a.deps.Segments.Get(r.Context(), orgID(r), chi.URLParam(r, "segmentID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if def == nil {
		respondError(w, http.StatusNotFound, "segment not found")
		return
	}

	filter, err := segment.CompileJSON(def.Rules)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	frag, args := filter.SQL()
	donors, err := a.deps.Donors.QueryBySegment(r.Context(), orgID(r), frag, args, 100)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, donors)
}

func (a *SegmentsAPI) ListFields(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, segment.Fields())
}

// respondCompileError maps the compiler's taxonomy onto 400s; anything
// else is a 500.
func respondCompileError(w http.ResponseWriter, err error) {
	var unknownField *segment.UnknownFieldError
	var unsupportedOp *segment.UnsupportedOperatorError
	var malformed *segment.MalformedValueError
	if errors.As(err, &unknownField) || errors.As(err, &unsupportedOp) || errors.As(err, &malformed) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}
