package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"janseva.org/internal/ledger"
	"janseva.org/internal/portal"
)

const maxIdempotencyKey = 128

type submitApplicationRequest struct {
	SchemeName     string `json:"scheme_name"`
	Name           string `json:"name"`
	Age            int    `json:"age"`
	NationalID     string `json:"national_id"`
	Address        string `json:"address"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type decideRequest struct {
	Decision string `json:"decision"`
}

type listApplicationsResponse struct {
	Items     []ledger.Application `json:"items"`
	NextAfter int64                `json:"next_after"`
	AsOf      time.Time            `json:"as_of"`
}

func (a *API) submitApplication(w http.ResponseWriter, r *http.Request) {
	var req submitApplicationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	idem := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if req.IdempotencyKey != "" {
		bodyKey := strings.TrimSpace(req.IdempotencyKey)
		if idem == "" {
			idem = bodyKey
		} else if idem != bodyKey {
			writeError(w, r, http.StatusBadRequest, "Idempotency-Key header and body value must match")
			return
		}
	}
	if len(idem) > maxIdempotencyKey {
		writeError(w, r, http.StatusBadRequest, "Idempotency-Key too long")
		return
	}

	app, err := a.portal.SubmitApplication(r.Context(), actor(r), portal.ApplicationForm{
		SchemeName: req.SchemeName,
		Applicant: ledger.Applicant{
			Name:       req.Name,
			Age:        req.Age,
			NationalID: req.NationalID,
			Address:    req.Address,
		},
	}, idem)
	if err != nil {
		handlePortalError(w, r, err)
		return
	}

	if idem != "" {
		w.Header().Set("Idempotency-Key", idem)
	}
	w.Header().Set("Location", "/v1/applications/"+strconv.FormatInt(app.ID, 10))
	writeJSON(w, http.StatusCreated, app)
}

func (a *API) listApplications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var after int64
	if raw := strings.TrimSpace(q.Get("after")); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			writeError(w, r, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = v
	}
	// One extra row tells whether another page exists.
	filter := ledger.Filter{AfterID: after, Limit: limit + 1}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := ledger.ParseStatus(raw)
		if err != nil {
			handlePortalError(w, r, err)
			return
		}
		filter.Status = status
	}

	items, err := a.portal.ListApplications(r.Context(), actor(r), filter)
	if err != nil {
		handlePortalError(w, r, err)
		return
	}
	if items == nil {
		items = []ledger.Application{}
	}
	resp := listApplicationsResponse{Items: items, AsOf: time.Now().UTC()}
	if len(items) > limit {
		resp.Items = items[:limit]
		resp.NextAfter = resp.Items[limit-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) getApplication(w http.ResponseWriter, r *http.Request) {
	id, ok := applicationID(w, r)
	if !ok {
		return
	}
	app, err := a.portal.GetApplication(r.Context(), actor(r), id)
	if err != nil {
		handlePortalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (a *API) decideApplication(w http.ResponseWriter, r *http.Request) {
	id, ok := applicationID(w, r)
	if !ok {
		return
	}
	var req decideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	decision, err := ledger.ParseDecision(req.Decision)
	if err != nil {
		handlePortalError(w, r, err)
		return
	}
	app, err := a.portal.Decide(r.Context(), actor(r), id, decision)
	if err != nil {
		handlePortalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func applicationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "application id must be a positive integer")
		return 0, false
	}
	return id, true
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}
