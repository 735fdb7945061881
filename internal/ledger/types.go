package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of an application.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == StatusApproved || s == StatusRejected }

// ParseStatus accepts any casing of the three status names.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending":
		return StatusPending, nil
	case "approved":
		return StatusApproved, nil
	case "rejected":
		return StatusRejected, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, raw)
}

// ParseDecision accepts Approved/Rejected and the verbs approve/reject.
func ParseDecision(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved", "approve":
		return StatusApproved, nil
	case "rejected", "reject":
		return StatusRejected, nil
	}
	return "", fmt.Errorf("%w: decision must be Approved or Rejected, got %q", ErrInvalidInput, raw)
}

// Applicant holds the personal details entered on the application form.
type Applicant struct {
	Name       string `json:"name"`
	Age        int    `json:"age"`
	NationalID string `json:"national_id"`
	Address    string `json:"address"`
}

const maxAge = 150

// Validate reports every missing or out-of-range field at once.
func (a Applicant) Validate() error {
	var problems []string
	if strings.TrimSpace(a.Name) == "" {
		problems = append(problems, "name required")
	}
	if a.Age < 1 || a.Age > maxAge {
		problems = append(problems, fmt.Sprintf("age must be between 1 and %d", maxAge))
	}
	if strings.TrimSpace(a.NationalID) == "" {
		problems = append(problems, "national_id required")
	}
	if strings.TrimSpace(a.Address) == "" {
		problems = append(problems, "address required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}

func (a Applicant) normalize() Applicant {
	return Applicant{
		Name:       strings.TrimSpace(a.Name),
		Age:        a.Age,
		NationalID: strings.TrimSpace(a.NationalID),
		Address:    strings.TrimSpace(a.Address),
	}
}

// Application is one citizen's request for a scheme.
type Application struct {
	ID          int64      `json:"id"`
	SchemeName  string     `json:"scheme_name"`
	Applicant   Applicant  `json:"applicant"`
	Status      Status     `json:"status"`
	SubmittedBy string     `json:"submitted_by"`
	SubmittedAt time.Time  `json:"submitted_at"`
	DecidedBy   string     `json:"decided_by,omitempty"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
}

// Submission is the input of Submit.
type Submission struct {
	SchemeName  string
	Applicant   Applicant
	SubmittedBy string
}

// Validate checks the submission fields other than scheme existence.
func (s Submission) Validate() error {
	if strings.TrimSpace(s.SchemeName) == "" {
		return fmt.Errorf("%w: scheme_name required", ErrInvalidInput)
	}
	if strings.TrimSpace(s.SubmittedBy) == "" {
		return fmt.Errorf("%w: submitter required", ErrInvalidInput)
	}
	return s.Applicant.Validate()
}

// Filter narrows List. Zero values match everything; Limit <= 0 means no limit.
type Filter struct {
	SubmittedBy string
	Status      Status
	AfterID     int64
	Limit       int
}

// Match reports whether app passes the filter's field predicates.
func (f Filter) Match(app Application) bool {
	if f.SubmittedBy != "" && app.SubmittedBy != f.SubmittedBy {
		return false
	}
	if f.Status != "" && app.Status != f.Status {
		return false
	}
	return app.ID > f.AfterID
}

var (
	ErrInvalidInput      = errors.New("ledger: invalid input")
	ErrNotFound          = errors.New("ledger: application not found")
	ErrInvalidTransition = errors.New("ledger: invalid status transition")

	// ErrUnknownScheme is a validation failure: the form named a scheme that does not exist.
	ErrUnknownScheme = fmt.Errorf("%w: unknown scheme", ErrInvalidInput)
)

// SeedKeyPrefix marks idempotency keys reserved for seed data. Clients may
// not submit keys carrying it.
const SeedKeyPrefix = "seed:"

// ReservedKey reports whether key belongs to the seed namespace.
func ReservedKey(key string) bool {
	return strings.HasPrefix(key, SeedKeyPrefix)
}

// IdempotencyScope keys idempotent submissions per submitter.
func IdempotencyScope(submittedBy, key string) string {
	return submittedBy + "\x00" + key
}
