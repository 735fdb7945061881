// Package portal is the role-gated entry point to the scheme registry and
// the application ledger. Transports call nothing else.
package portal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"janseva.org/internal/audit"
	"janseva.org/internal/auth"
	"janseva.org/internal/ledger"
	"janseva.org/internal/obs"
	"janseva.org/internal/registry"
	"janseva.org/internal/stream"
)

// CitizenScope controls which applications a citizen may list.
type CitizenScope string

const (
	ScopeOwn CitizenScope = "own"
	ScopeAll CitizenScope = "all"
)

// ParseCitizenScope accepts own|all; empty means own.
func ParseCitizenScope(raw string) (CitizenScope, error) {
	switch CitizenScope(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ScopeOwn:
		return ScopeOwn, nil
	case ScopeAll:
		return ScopeAll, nil
	}
	return "", fmt.Errorf("unknown citizen scope %q (want own or all)", raw)
}

// ApplicationForm is what a citizen fills in to apply for a scheme.
type ApplicationForm struct {
	SchemeName string
	Applicant  ledger.Applicant
}

// Service orchestrates gated portal operations.
type Service struct {
	schemes registry.Service
	apps    ledger.Service
	events  *stream.Stream
	scope   CitizenScope
	flight  singleflight.Group
}

// Option customizes a Service.
type Option func(*Service)

// WithCitizenScope selects whether citizens see only their own applications.
func WithCitizenScope(scope CitizenScope) Option {
	return func(s *Service) { s.scope = scope }
}

// WithStream publishes workflow events on events.
func WithStream(events *stream.Stream) Option {
	return func(s *Service) { s.events = events }
}

// New builds the portal over a registry and a ledger.
func New(schemes registry.Service, apps ledger.Service, opts ...Option) *Service {
	s := &Service{schemes: schemes, apps: apps, scope: ScopeOwn}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scope reports the configured citizen scope.
func (s *Service) Scope() CitizenScope { return s.scope }

// AddScheme adds a scheme to the registry (Administrator).
func (s *Service) AddScheme(ctx context.Context, actor auth.Actor, in registry.NewScheme) (registry.Scheme, error) {
	return s.AddSchemeAsync(ctx, actor, in).Wait(ctx)
}

// AddSchemeAsync issues AddScheme. Only a repeat of the same form by the same
// administrator coalesces; any other add of a taken name reaches the registry
// and fails with registry.ErrConflict.
func (s *Service) AddSchemeAsync(ctx context.Context, actor auth.Actor, in registry.NewScheme) *Future[registry.Scheme] {
	if err := auth.Require(actor, auth.PermSchemeCreate); err != nil {
		return failed[registry.Scheme](err)
	}
	in.CreatedBy = actor.Username
	if err := in.Validate(); err != nil {
		return failed[registry.Scheme](err)
	}
	ctx = context.WithoutCancel(ctx)
	n := in.Normalize()
	key := strings.Join([]string{"scheme", actor.Username, registry.NameKey(n.Name), n.Description, n.Eligibility}, "\x00")
	return start(&s.flight, "scheme.create", key, func() (registry.Scheme, error) {
		began := time.Now()
		scheme, err := s.schemes.AddScheme(ctx, in)
		obs.ObserveOperation("scheme.create", time.Since(began), err)
		if err != nil {
			return registry.Scheme{}, err
		}
		obs.RecordSchemeCreated()
		_ = audit.LogEvent(ctx, audit.EventSchemeCreate, map[string]any{
			"scheme_id":   scheme.ID,
			"scheme_name": scheme.Name,
		})
		s.publish(stream.Event{Kind: stream.KindSchemeCreated, SchemeName: scheme.Name, Actor: actor.Username})
		return scheme, nil
	})
}

// ListSchemes returns every scheme in creation order (any role).
func (s *Service) ListSchemes(ctx context.Context, actor auth.Actor) ([]registry.Scheme, error) {
	if err := auth.Require(actor, auth.PermSchemeView); err != nil {
		return nil, err
	}
	return s.schemes.ListSchemes(ctx)
}

// SchemeStats aggregates application counts (Administrator).
func (s *Service) SchemeStats(ctx context.Context, actor auth.Actor) (registry.Stats, error) {
	if err := auth.Require(actor, auth.PermSchemeStats); err != nil {
		return registry.Stats{}, err
	}
	return s.schemes.Stats(ctx)
}

// SubmitApplication files an application as the acting citizen.
func (s *Service) SubmitApplication(ctx context.Context, actor auth.Actor, form ApplicationForm, idemKey string) (ledger.Application, error) {
	return s.SubmitAsync(ctx, actor, form, idemKey).Wait(ctx)
}

// SubmitAsync issues SubmitApplication. Concurrent submissions carrying the
// same idempotency key coalesce.
func (s *Service) SubmitAsync(ctx context.Context, actor auth.Actor, form ApplicationForm, idemKey string) *Future[ledger.Application] {
	if err := auth.Require(actor, auth.PermApplicationCreate); err != nil {
		return failed[ledger.Application](err)
	}
	sub := ledger.Submission{SchemeName: form.SchemeName, Applicant: form.Applicant, SubmittedBy: actor.Username}
	if err := sub.Validate(); err != nil {
		return failed[ledger.Application](err)
	}
	idemKey = strings.TrimSpace(idemKey)
	if ledger.ReservedKey(idemKey) {
		return failed[ledger.Application](fmt.Errorf("%w: idempotency key prefix %q is reserved", ledger.ErrInvalidInput, ledger.SeedKeyPrefix))
	}
	key := ""
	if idemKey != "" {
		key = "submit:" + ledger.IdempotencyScope(actor.Username, idemKey)
	}
	ctx = context.WithoutCancel(ctx)
	return start(&s.flight, "application.submit", key, func() (ledger.Application, error) {
		began := time.Now()
		app, replayed, err := s.apps.Submit(ctx, sub, idemKey)
		obs.ObserveOperation("application.submit", time.Since(began), err)
		if err != nil {
			return ledger.Application{}, err
		}
		fields := map[string]any{
			"application_id": app.ID,
			"scheme_name":    app.SchemeName,
		}
		if idemKey != "" {
			fields["idempotency_key"] = idemKey
		}
		if replayed {
			_ = audit.LogEvent(ctx, audit.EventSubmitReplay, fields)
			return app, nil
		}
		obs.RecordSubmission(app.SchemeName)
		_ = audit.LogEvent(ctx, audit.EventSubmit, fields)
		s.publish(stream.Event{
			Kind:          stream.KindApplicationSubmitted,
			SchemeName:    app.SchemeName,
			ApplicationID: app.ID,
			Status:        string(app.Status),
			SubmittedBy:   app.SubmittedBy,
			Actor:         actor.Username,
		})
		return app, nil
	})
}

// ListApplications lists what the actor may see: officers see everything,
// citizens their own (or everything under ScopeAll), administrators nothing.
func (s *Service) ListApplications(ctx context.Context, actor auth.Actor, f ledger.Filter) ([]ledger.Application, error) {
	owner, err := s.visibility(actor)
	if err != nil {
		return nil, err
	}
	if owner != "" {
		f.SubmittedBy = owner
	}
	return s.apps.List(ctx, f)
}

// GetApplication fetches one application under the same visibility rules.
// Applications the actor may not see are reported as not found.
func (s *Service) GetApplication(ctx context.Context, actor auth.Actor, id int64) (ledger.Application, error) {
	owner, err := s.visibility(actor)
	if err != nil {
		return ledger.Application{}, err
	}
	app, err := s.apps.Get(ctx, id)
	if err != nil {
		return ledger.Application{}, err
	}
	if owner != "" && app.SubmittedBy != owner {
		return ledger.Application{}, fmt.Errorf("%w: %d", ledger.ErrNotFound, id)
	}
	return app, nil
}

// Decide approves or rejects a pending application (Officer).
func (s *Service) Decide(ctx context.Context, actor auth.Actor, id int64, decision ledger.Status) (ledger.Application, error) {
	return s.DecideAsync(ctx, actor, id, decision).Wait(ctx)
}

// DecideAsync issues Decide. The same officer repeating the same decision on
// the same application coalesces so a double click cannot decide twice.
func (s *Service) DecideAsync(ctx context.Context, actor auth.Actor, id int64, decision ledger.Status) *Future[ledger.Application] {
	if err := auth.Require(actor, auth.PermApplicationDecide); err != nil {
		return failed[ledger.Application](err)
	}
	if !decision.Terminal() {
		return failed[ledger.Application](fmt.Errorf("%w: decision must be Approved or Rejected, got %q", ledger.ErrInvalidInput, decision))
	}
	ctx = context.WithoutCancel(ctx)
	key := fmt.Sprintf("decide:%d:%s\x00%s", id, decision, actor.Username)
	return start(&s.flight, "application.decide", key, func() (ledger.Application, error) {
		began := time.Now()
		app, err := s.apps.Decide(ctx, id, decision, actor.Username)
		obs.ObserveOperation("application.decide", time.Since(began), err)
		if err != nil {
			return ledger.Application{}, err
		}
		obs.RecordDecision(string(decision))
		_ = audit.LogEvent(ctx, audit.EventDecide, map[string]any{
			"application_id": app.ID,
			"scheme_name":    app.SchemeName,
			"decision":       string(decision),
		})
		s.publish(stream.Event{
			Kind:          stream.KindApplicationDecided,
			SchemeName:    app.SchemeName,
			ApplicationID: app.ID,
			Status:        string(app.Status),
			SubmittedBy:   app.SubmittedBy,
			Actor:         actor.Username,
		})
		return app, nil
	})
}

// visibility returns the username the actor's view is restricted to, or ""
// when the actor sees every application.
func (s *Service) visibility(actor auth.Actor) (string, error) {
	switch {
	case actor.Can(auth.PermApplicationViewAll):
		return "", nil
	case actor.Can(auth.PermApplicationViewOwn):
		if s.scope == ScopeAll {
			return "", nil
		}
		return actor.Username, nil
	}
	return "", auth.Require(actor, auth.PermApplicationViewOwn)
}

func (s *Service) publish(evt stream.Event) {
	if s.events != nil {
		s.events.Publish(evt)
	}
}
