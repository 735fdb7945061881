package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"janseva.org/internal/audit"
	"janseva.org/internal/auth"
	"janseva.org/internal/ids"
	"janseva.org/internal/obs"
)

// Login is the outcome of a successful sign-in.
type Login struct {
	SessionID string
	Actor     auth.Actor
	Token     string
	ExpiresAt time.Time
}

// Service signs actors in and out. Credentials are not verified: any non-empty
// password is accepted.
type Service struct {
	store  Store
	tokens *auth.TokenIssuer
	now    func() time.Time
}

// NewService wires a store to a token issuer.
func NewService(store Store, tokens *auth.TokenIssuer) *Service {
	return &Service{store: store, tokens: tokens, now: time.Now}
}

// Login validates the form fields, opens a session and returns its bearer token.
func (s *Service) Login(ctx context.Context, username, password, role string) (Login, error) {
	if strings.TrimSpace(username) == "" || password == "" || strings.TrimSpace(role) == "" {
		return Login{}, fmt.Errorf("%w: username, password and role are required", auth.ErrInvalidInput)
	}
	parsed, err := auth.ParseRole(role)
	if err != nil {
		return Login{}, err
	}
	actor, err := auth.NewActor(username, parsed)
	if err != nil {
		return Login{}, err
	}

	now := s.now().UTC()
	sess := Session{
		ID:        ids.NewAt(now),
		Actor:     actor,
		CreatedAt: now,
		ExpiresAt: now.Add(s.tokens.TTL()),
	}
	token, expires, err := s.tokens.Issue(actor, sess.ID)
	if err != nil {
		return Login{}, err
	}
	sess.ExpiresAt = expires
	if err := s.store.Save(ctx, sess); err != nil {
		return Login{}, fmt.Errorf("save session: %w", err)
	}

	obs.RecordLogin(string(actor.Role))
	actx := auth.ContextWithPrincipal(ctx, auth.Principal{Actor: actor, SessionID: sess.ID, ExpiresAt: expires})
	_ = audit.LogEvent(actx, audit.EventLogin, map[string]any{"session_id": sess.ID})

	return Login{SessionID: sess.ID, Actor: actor, Token: token, ExpiresAt: expires}, nil
}

// Resolve maps a bearer token to its live session.
func (s *Service) Resolve(ctx context.Context, token string) (auth.Principal, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return auth.Principal{}, fmt.Errorf("%w: %v", auth.ErrUnauthenticated, err)
	}
	sess, err := s.store.Get(ctx, claims.ID)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired) {
		return auth.Principal{}, fmt.Errorf("%w: %v", auth.ErrUnauthenticated, err)
	}
	if err != nil {
		return auth.Principal{}, err
	}
	if sess.Actor.Username != claims.Subject || sess.Actor.Role != claims.Role {
		return auth.Principal{}, fmt.Errorf("%w: token does not match session", auth.ErrUnauthenticated)
	}
	return auth.Principal{Actor: sess.Actor, SessionID: sess.ID, ExpiresAt: sess.ExpiresAt}, nil
}

// Logout destroys the session. Logging out twice fails with ErrNotFound.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, audit.EventLogout, map[string]any{"session_id": sessionID})
	return nil
}
