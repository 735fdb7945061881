package httpapi

import (
	"net/http"
	"time"

	"janseva.org/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type adminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success   bool      `json:"success"`
	Role      auth.Role `json:"role"`
	Username  string    `json:"username"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type meResponse struct {
	Username     string            `json:"username"`
	Role         auth.Role         `json:"role"`
	Panel        string            `json:"panel"`
	Capabilities []auth.Permission `json:"capabilities"`
	ExpiresAt    time.Time         `json:"expires_at"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	a.openSession(w, r, req.Username, req.Password, req.Role)
}

// adminLogin is the separate administrator sign-in; the role is implied.
func (a *API) adminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	a.openSession(w, r, req.Username, req.Password, string(auth.RoleAdministrator))
}

func (a *API) openSession(w http.ResponseWriter, r *http.Request, username, password, role string) {
	if a.sessions == nil {
		writeError(w, r, http.StatusServiceUnavailable, "sessions unavailable")
		return
	}
	login, err := a.sessions.Login(r.Context(), username, password, role)
	if err != nil {
		handlePortalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Success:   true,
		Role:      login.Actor.Role,
		Username:  login.Actor.Username,
		Token:     login.Token,
		ExpiresAt: login.ExpiresAt,
	})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	if err := a.sessions.Logout(r.Context(), principal.SessionID); err != nil {
		handlePortalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, meResponse{
		Username:     principal.Actor.Username,
		Role:         principal.Actor.Role,
		Panel:        principal.Actor.Role.Label(),
		Capabilities: principal.Actor.Capabilities().List(),
		ExpiresAt:    principal.ExpiresAt,
	})
}
