// Package seed loads schemes and applications from YAML documents.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"janseva.org/internal/ledger"
	"janseva.org/internal/registry"
)

//go:embed demo.yaml
var demoYAML []byte

// Document is a seed file.
type Document struct {
	Schemes      []Scheme      `yaml:"schemes"`
	Applications []Application `yaml:"applications"`
}

type Scheme struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Eligibility string `yaml:"eligibility"`
	CreatedBy   string `yaml:"created_by"`
}

type Applicant struct {
	Name       string `yaml:"name"`
	Age        int    `yaml:"age"`
	NationalID string `yaml:"national_id"`
	Address    string `yaml:"address"`
}

// Application may carry a terminal status, applied through Decide.
type Application struct {
	Scheme      string    `yaml:"scheme"`
	SubmittedBy string    `yaml:"submitted_by"`
	Applicant   Applicant `yaml:"applicant"`
	Status      string    `yaml:"status"`
	DecidedBy   string    `yaml:"decided_by"`
}

// Result counts what Apply created.
type Result struct {
	Schemes      int
	Applications int
	Decisions    int
}

// Parse decodes a seed document, rejecting unknown keys.
func Parse(r io.Reader) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Document{}, fmt.Errorf("decode seed: %w", err)
	}
	return doc, nil
}

// LoadFile parses the seed document at path.
func LoadFile(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, err
	}
	defer f.Close()
	return Parse(f)
}

// Demo returns the built-in demo document.
func Demo() Document {
	doc, err := Parse(bytes.NewReader(demoYAML))
	if err != nil {
		panic(err)
	}
	return doc
}

// keyNamespace scopes the name-based UUIDs used as seed idempotency keys.
var keyNamespace = uuid.MustParse("9b6f3c52-7a1e-4d0b-8c3f-2e5d1a4b6c70")

// applicationKey derives the idempotency key of the nth identical copy of a
// within its document. Keys depend on content, not position, so different
// documents never collide and re-applying one replays instead of duplicating.
func applicationKey(a Application, nth int) string {
	content := strings.Join([]string{
		registry.NameKey(a.Scheme),
		strings.TrimSpace(a.SubmittedBy),
		strings.TrimSpace(a.Applicant.Name),
		strconv.Itoa(a.Applicant.Age),
		strings.TrimSpace(a.Applicant.NationalID),
		strings.TrimSpace(a.Applicant.Address),
		strconv.Itoa(nth),
	}, "\x00")
	return ledger.SeedKeyPrefix + uuid.NewSHA1(keyNamespace, []byte(content)).String()
}

// Apply writes doc into the stores. Re-applying a document is harmless:
// existing schemes are skipped and each application replays through an
// idempotency key derived from its content.
func Apply(ctx context.Context, schemes registry.Service, apps ledger.Service, doc Document) (Result, error) {
	var res Result
	for _, s := range doc.Schemes {
		_, err := schemes.AddScheme(ctx, registry.NewScheme{
			Name:        s.Name,
			Description: s.Description,
			Eligibility: s.Eligibility,
			CreatedBy:   s.CreatedBy,
		})
		switch {
		case err == nil:
			res.Schemes++
		case errors.Is(err, registry.ErrConflict):
		default:
			return res, fmt.Errorf("seed scheme %q: %w", s.Name, err)
		}
	}

	seen := make(map[string]int)
	for i, a := range doc.Applications {
		base := applicationKey(a, 0)
		key := applicationKey(a, seen[base])
		seen[base]++
		app, replayed, err := apps.Submit(ctx, ledger.Submission{
			SchemeName: a.Scheme,
			Applicant: ledger.Applicant{
				Name:       a.Applicant.Name,
				Age:        a.Applicant.Age,
				NationalID: a.Applicant.NationalID,
				Address:    a.Applicant.Address,
			},
			SubmittedBy: a.SubmittedBy,
		}, key)
		if err != nil {
			return res, fmt.Errorf("seed application %d: %w", i+1, err)
		}
		if !replayed {
			res.Applications++
		}
		if a.Status == "" {
			continue
		}
		status, err := ledger.ParseStatus(a.Status)
		if err != nil {
			return res, fmt.Errorf("seed application %d: %w", i+1, err)
		}
		if status == ledger.StatusPending {
			continue
		}
		_, err = apps.Decide(ctx, app.ID, status, a.DecidedBy)
		switch {
		case err == nil:
			res.Decisions++
		case errors.Is(err, ledger.ErrInvalidTransition):
		default:
			return res, fmt.Errorf("seed decision %d: %w", i+1, err)
		}
	}
	return res, nil
}
