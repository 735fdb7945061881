// Package registry holds the catalogue of welfare schemes citizens can apply for.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Scheme is a welfare programme. Schemes are never edited or deleted.
type Scheme struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	Eligibility      string    `json:"eligibility"`
	ApplicationCount int64     `json:"application_count"`
	CreatedAt        time.Time `json:"created_at"`
	CreatedBy        string    `json:"created_by,omitempty"`
}

// NewScheme is the input of AddScheme.
type NewScheme struct {
	Name        string
	Description string
	Eligibility string
	CreatedBy   string
}

// SchemeCount is one row of Stats.
type SchemeCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Stats aggregates application counts across the registry.
type Stats struct {
	TotalSchemes      int           `json:"total_schemes"`
	TotalApplications int64         `json:"total_applications"`
	PerScheme         []SchemeCount `json:"per_scheme"`
}

var (
	ErrInvalidInput = errors.New("registry: invalid input")
	ErrNotFound     = errors.New("registry: scheme not found")
	ErrConflict     = errors.New("registry: scheme already exists")
)

// Normalize trims every field.
func (n NewScheme) Normalize() NewScheme {
	return NewScheme{
		Name:        strings.TrimSpace(n.Name),
		Description: strings.TrimSpace(n.Description),
		Eligibility: strings.TrimSpace(n.Eligibility),
		CreatedBy:   strings.TrimSpace(n.CreatedBy),
	}
}

// Validate reports every empty field at once.
func (n NewScheme) Validate() error {
	n = n.Normalize()
	var missing []string
	if n.Name == "" {
		missing = append(missing, "name")
	}
	if n.Description == "" {
		missing = append(missing, "description")
	}
	if n.Eligibility == "" {
		missing = append(missing, "eligibility")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ErrInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}

// NameKey is the case-insensitive uniqueness key of a scheme name.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// StatsOf folds schemes into Stats, preserving their order.
func StatsOf(schemes []Scheme) Stats {
	st := Stats{TotalSchemes: len(schemes), PerScheme: make([]SchemeCount, 0, len(schemes))}
	for _, s := range schemes {
		st.TotalApplications += s.ApplicationCount
		st.PerScheme = append(st.PerScheme, SchemeCount{Name: s.Name, Count: s.ApplicationCount})
	}
	return st
}
