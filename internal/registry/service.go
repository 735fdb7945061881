package registry

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Service defines registry operations.
type Service interface {
	AddScheme(ctx context.Context, in NewScheme) (Scheme, error)
	ListSchemes(ctx context.Context) ([]Scheme, error)
	SchemeByName(ctx context.Context, name string) (Scheme, error)
	RecordApplication(ctx context.Context, name string) (Scheme, error)
	Stats(ctx context.Context) (Stats, error)
}

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu      sync.RWMutex
	schemes []*Scheme
	byName  map[string]*Scheme
	lastID  int64
	now     func() time.Time
}

// NewInMemory creates an empty registry.
func NewInMemory() *InMemory {
	return &InMemory{
		byName: make(map[string]*Scheme),
		now:    time.Now,
	}
}

func (r *InMemory) AddScheme(ctx context.Context, in NewScheme) (Scheme, error) {
	if err := in.Validate(); err != nil {
		return Scheme{}, err
	}
	in = in.Normalize()
	key := NameKey(in.Name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[key]; ok {
		return Scheme{}, fmt.Errorf("%w: %q", ErrConflict, in.Name)
	}
	r.lastID++
	s := &Scheme{
		ID:          r.lastID,
		Name:        in.Name,
		Description: in.Description,
		Eligibility: in.Eligibility,
		CreatedAt:   r.now().UTC(),
		CreatedBy:   in.CreatedBy,
	}
	r.schemes = append(r.schemes, s)
	r.byName[key] = s
	return *s, nil
}

func (r *InMemory) ListSchemes(ctx context.Context) ([]Scheme, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Scheme, 0, len(r.schemes))
	for _, s := range r.schemes {
		out = append(out, *s)
	}
	return out, nil
}

func (r *InMemory) SchemeByName(ctx context.Context, name string) (Scheme, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[NameKey(name)]
	if !ok {
		return Scheme{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return *s, nil
}

func (r *InMemory) RecordApplication(ctx context.Context, name string) (Scheme, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byName[NameKey(name)]
	if !ok {
		return Scheme{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	s.ApplicationCount++
	return *s, nil
}

func (r *InMemory) Stats(ctx context.Context) (Stats, error) {
	list, err := r.ListSchemes(ctx)
	if err != nil {
		return Stats{}, err
	}
	return StatsOf(list), nil
}
