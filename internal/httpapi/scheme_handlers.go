package httpapi

import (
	"net/http"
	"time"

	"janseva.org/internal/registry"
)

type createSchemeRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Eligibility string `json:"eligibility"`
}

type listSchemesResponse struct {
	Items []registry.Scheme `json:"items"`
	AsOf  time.Time         `json:"as_of"`
}

func (a *API) createScheme(w http.ResponseWriter, r *http.Request) {
	var req createSchemeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	scheme, err := a.portal.AddScheme(r.Context(), actor(r), registry.NewScheme{
		Name:        req.Name,
		Description: req.Description,
		Eligibility: req.Eligibility,
	})
	if err != nil {
		handlePortalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, scheme)
}

func (a *API) listSchemes(w http.ResponseWriter, r *http.Request) {
	items, err := a.portal.ListSchemes(r.Context(), actor(r))
	if err != nil {
		handlePortalError(w, r, err)
		return
	}
	if items == nil {
		items = []registry.Scheme{}
	}
	writeJSON(w, http.StatusOK, listSchemesResponse{Items: items, AsOf: time.Now().UTC()})
}

func (a *API) schemeStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.portal.SchemeStats(r.Context(), actor(r))
	if err != nil {
		handlePortalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
