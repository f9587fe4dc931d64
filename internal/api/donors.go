package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/brightwell/donorhub/internal/dedup"
)

// DonorsAPI handles donor record and duplicate-check endpoints.
type DonorsAPI struct {
	deps Deps
}

// RegisterRoutes registers donor routes.
func (a *DonorsAPI) RegisterRoutes(r chi.Router) {
	r.Route("/donors", func(r chi.Router) {
		r.Post("/check-duplicates", a.CheckDuplicates)
		r.Get("/{donorID}", a.GetDonor)
	})
}

func (a *DonorsAPI) GetDonor(w http.ResponseWriter, r *http.Request) {
	d, err := a.deps.Donors.Get(r.Context(), orgID(r), chi.URLParam(r, "donorID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if d == nil {
		respondError(w, http.StatusNotFound, "donor not found")
		return
	}
	respondJSON(w, http.StatusOK, d)
}

// CheckDuplicates runs the detector against an ad hoc candidate and
// returns ranked matches. Strategies default to all when omitted.
func (a *DonorsAPI) CheckDuplicates(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Candidate  dedup.Candidate  `json:"candidate"`
		Strategies []dedup.Strategy `json:"strategies,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Candidate.Email == "" && req.Candidate.Phone == "" &&
		req.Candidate.FirstName == "" && req.Candidate.LastName == "" {
		respondError(w, http.StatusBadRequest, "candidate needs at least one identifying field")
		return
	}

	strategies := req.Strategies
	if len(strategies) == 0 {
		strategies = dedup.AllStrategies
	}

	matches, err := a.deps.Detector.FindDuplicates(r.Context(), orgID(r), req.Candidate, strategies)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if matches == nil {
		matches = []dedup.Match{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"matches":    matches,
		"has_exact":  len(matches) > 0 && matches[0].Confidence == dedup.ConfidenceHigh,
		"candidates": len(matches),
	})
}
