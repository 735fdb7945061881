package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"janseva.org/api/spec"
	"janseva.org/internal/audit"
	"janseva.org/internal/obs"
	"janseva.org/internal/portal"
	"janseva.org/internal/session"
)

const serviceName = "janseva-api"

// HealthChecker is anything that can report its own liveness, e.g. the Redis session store.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ReadyProbe pings the backing stores that are configured.
type ReadyProbe struct {
	DB       *sql.DB
	Sessions HealthChecker
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if rp.Sessions != nil {
		if err := rp.Sessions.Health(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// API is the HTTP transport of the portal.
type API struct {
	router     chi.Router
	readyProbe readinessChecker
	version    string

	portal   *portal.Service
	sessions *session.Service

	rateBurst   int
	ratePerSec  float64
	corsOrigins []string
}

// Option customizes an API.
type Option func(*API)

// WithRateLimit sets the per-client token bucket. Non-positive values disable limiting.
func WithRateLimit(burst int, perSec float64) Option {
	return func(a *API) {
		a.rateBurst = burst
		a.ratePerSec = perSec
	}
}

// WithCORSOrigins lists browser origins allowed to call the API.
func WithCORSOrigins(origins []string) Option {
	return func(a *API) { a.corsOrigins = origins }
}

func New(rp readinessChecker, version string, p *portal.Service, sessions *session.Service, opts ...Option) *API {
	a := &API{
		router:     chi.NewRouter(),
		readyProbe: rp,
		version:    version,
		portal:     p,
		sessions:   sessions,
		rateBurst:  100,
		ratePerSec: 50,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	// health/ready/info
	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Get("/openapi.yaml", a.OpenAPISpec)
	r.Handle("/metrics", obs.Handler())

	r.Post("/v1/login", a.login)
	r.Post("/v1/admin/login", a.adminLogin)

	r.Group(func(r chi.Router) {
		r.Use(a.withAuth)

		r.Post("/v1/logout", a.logout)
		r.Get("/v1/me", a.me)

		r.Route("/v1/schemes", func(r chi.Router) {
			r.Get("/", a.listSchemes)
			r.Post("/", a.createScheme)
			r.Get("/stats", a.schemeStats)
		})

		r.Route("/v1/applications", func(r chi.Router) {
			r.Get("/", a.listApplications)
			r.Post("/", a.submitApplication)
			r.Get("/{id}", a.getApplication)
			r.Patch("/{id}", a.decideApplication)
		})

		r.Get("/v1/events", a.Stream)
	})
}

// Handler returns the router wrapped in the middleware chain and metrics.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = MaxBodyBytes(h, maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(a.corsOrigins)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.readyProbe != nil {
		if err := a.readyProbe.Check(r.Context()); err != nil {
			obs.SetReady(false)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	}
	if a.portal != nil {
		info["citizen_scope"] = string(a.portal.Scope())
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

// --- helpers ---

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
