package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"janseva.org/internal/registry"
)

// Service defines ledger operations.
type Service interface {
	// Submit records a Pending application. replayed is true when idemKey
	// matched an earlier submission by the same citizen and nothing was created.
	Submit(ctx context.Context, sub Submission, idemKey string) (app Application, replayed bool, err error)
	List(ctx context.Context, f Filter) ([]Application, error)
	Get(ctx context.Context, id int64) (Application, error)
	Decide(ctx context.Context, id int64, decision Status, decidedBy string) (Application, error)
}

// SchemeCounter is the part of the registry the ledger needs: it confirms a
// scheme exists and bumps its application count in one step.
type SchemeCounter interface {
	RecordApplication(ctx context.Context, name string) (registry.Scheme, error)
}

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu      sync.RWMutex
	schemes SchemeCounter
	apps    []*Application
	lastID  int64
	idem    map[string]int64 // scoped idemKey -> application id
	now     func() time.Time
}

// NewInMemory creates a fresh ledger counting submissions in schemes.
func NewInMemory(schemes SchemeCounter) *InMemory {
	return &InMemory{
		schemes: schemes,
		idem:    make(map[string]int64),
		now:     time.Now,
	}
}

func (s *InMemory) Submit(ctx context.Context, sub Submission, idemKey string) (Application, bool, error) {
	if err := sub.Validate(); err != nil {
		return Application{}, false, err
	}
	idemKey = strings.TrimSpace(idemKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Idempotency
	if idemKey != "" {
		if id, ok := s.idem[IdempotencyScope(sub.SubmittedBy, idemKey)]; ok {
			return copyApp(s.apps[id-1]), true, nil
		}
	}

	scheme, err := s.schemes.RecordApplication(ctx, sub.SchemeName)
	if errors.Is(err, registry.ErrNotFound) {
		return Application{}, false, fmt.Errorf("%w %q", ErrUnknownScheme, sub.SchemeName)
	}
	if err != nil {
		return Application{}, false, err
	}

	s.lastID++
	app := &Application{
		ID:          s.lastID,
		SchemeName:  scheme.Name,
		Applicant:   sub.Applicant.normalize(),
		Status:      StatusPending,
		SubmittedBy: strings.TrimSpace(sub.SubmittedBy),
		SubmittedAt: s.now().UTC(),
	}
	s.apps = append(s.apps, app)
	if idemKey != "" {
		s.idem[IdempotencyScope(sub.SubmittedBy, idemKey)] = app.ID
	}
	return *app, false, nil
}

func (s *InMemory) List(ctx context.Context, f Filter) ([]Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := []Application{}
	for _, app := range s.apps {
		if !f.Match(*app) {
			continue
		}
		res = append(res, copyApp(app))
		if f.Limit > 0 && len(res) >= f.Limit {
			break
		}
	}
	return res, nil
}

func (s *InMemory) Get(ctx context.Context, id int64) (Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, err := s.lookup(id)
	if err != nil {
		return Application{}, err
	}
	return copyApp(app), nil
}

func (s *InMemory) Decide(ctx context.Context, id int64, decision Status, decidedBy string) (Application, error) {
	if !decision.Terminal() {
		return Application{}, fmt.Errorf("%w: decision must be Approved or Rejected, got %q", ErrInvalidInput, decision)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	app, err := s.lookup(id)
	if err != nil {
		return Application{}, err
	}
	if app.Status != StatusPending {
		return Application{}, fmt.Errorf("%w: application %d is already %s", ErrInvalidTransition, id, app.Status)
	}
	now := s.now().UTC()
	app.Status = decision
	app.DecidedBy = strings.TrimSpace(decidedBy)
	app.DecidedAt = &now
	return copyApp(app), nil
}

func (s *InMemory) lookup(id int64) (*Application, error) {
	if id < 1 || id > int64(len(s.apps)) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return s.apps[id-1], nil
}

func copyApp(app *Application) Application {
	out := *app
	if app.DecidedAt != nil {
		t := *app.DecidedAt
		out.DecidedAt = &t
	}
	return out
}
