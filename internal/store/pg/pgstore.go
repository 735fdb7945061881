package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"janseva.org/internal/ledger"
	"janseva.org/internal/registry"
)

const uniqueViolation = "23505"

// Store keeps schemes and applications in PostgreSQL. A submission and its
// scheme's application count are written in one transaction.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ registry.Service = (*Store)(nil)
	_ ledger.Service   = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// --- registry ---

const schemeColumns = `id, name, description, eligibility, application_count, created_at, created_by`

func (s *Store) AddScheme(ctx context.Context, in registry.NewScheme) (registry.Scheme, error) {
	if err := in.Validate(); err != nil {
		return registry.Scheme{}, err
	}
	in = in.Normalize()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return registry.Scheme{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Serializes id assignment; readers are not blocked.
	if _, err := tx.ExecContext(ctx, `lock table schemes in exclusive mode`); err != nil {
		return registry.Scheme{}, err
	}
	var exists bool
	if err := tx.QueryRowContext(ctx, `select exists(select 1 from schemes where name_key = $1)`, registry.NameKey(in.Name)).Scan(&exists); err != nil {
		return registry.Scheme{}, err
	}
	if exists {
		return registry.Scheme{}, fmt.Errorf("%w: %q", registry.ErrConflict, in.Name)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `select coalesce(max(id), 0) + 1 from schemes`).Scan(&id); err != nil {
		return registry.Scheme{}, err
	}
	created := s.now().UTC()
	if _, err := tx.ExecContext(ctx, `
		insert into schemes(id, name, name_key, description, eligibility, application_count, created_by, created_at)
		values ($1, $2, $3, $4, $5, 0, $6, $7)
	`, id, in.Name, registry.NameKey(in.Name), in.Description, in.Eligibility, in.CreatedBy, created); err != nil {
		if isUniqueViolation(err) {
			return registry.Scheme{}, fmt.Errorf("%w: %q", registry.ErrConflict, in.Name)
		}
		return registry.Scheme{}, err
	}
	if err := tx.Commit(); err != nil {
		return registry.Scheme{}, err
	}
	return registry.Scheme{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		Eligibility: in.Eligibility,
		CreatedAt:   created,
		CreatedBy:   in.CreatedBy,
	}, nil
}

func (s *Store) ListSchemes(ctx context.Context) ([]registry.Scheme, error) {
	rows, err := s.db.QueryContext(ctx, `select `+schemeColumns+` from schemes order by id asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []registry.Scheme{}
	for rows.Next() {
		sc, err := scanScheme(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, sc)
	}
	return res, rows.Err()
}

func (s *Store) SchemeByName(ctx context.Context, name string) (registry.Scheme, error) {
	row := s.db.QueryRowContext(ctx, `select `+schemeColumns+` from schemes where name_key = $1`, registry.NameKey(name))
	sc, err := scanScheme(row)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Scheme{}, fmt.Errorf("%w: %q", registry.ErrNotFound, name)
	}
	return sc, err
}

func (s *Store) RecordApplication(ctx context.Context, name string) (registry.Scheme, error) {
	row := s.db.QueryRowContext(ctx, `
		update schemes set application_count = application_count + 1
		where name_key = $1
		returning `+schemeColumns, registry.NameKey(name))
	sc, err := scanScheme(row)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Scheme{}, fmt.Errorf("%w: %q", registry.ErrNotFound, name)
	}
	return sc, err
}

func (s *Store) Stats(ctx context.Context) (registry.Stats, error) {
	list, err := s.ListSchemes(ctx)
	if err != nil {
		return registry.Stats{}, err
	}
	return registry.StatsOf(list), nil
}

// --- ledger ---

const appColumns = `id, scheme_name, applicant_name, applicant_age, national_id, address, status, submitted_by, submitted_at, decided_by, decided_at`

func (s *Store) Submit(ctx context.Context, sub ledger.Submission, idemKey string) (ledger.Application, bool, error) {
	if err := sub.Validate(); err != nil {
		return ledger.Application{}, false, err
	}
	idemKey = strings.TrimSpace(idemKey)
	submitter := strings.TrimSpace(sub.SubmittedBy)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Application{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock order: applications table, then the scheme row.
	if _, err := tx.ExecContext(ctx, `lock table applications in exclusive mode`); err != nil {
		return ledger.Application{}, false, err
	}

	// Idempotency: return existing application if idemKey already recorded
	if idemKey != "" {
		row := tx.QueryRowContext(ctx, `select `+appColumns+` from applications where submitted_by = $1 and idempotency_key = $2`, submitter, idemKey)
		app, err := scanApplication(row)
		if err == nil {
			return app, true, nil
		} else if !errors.Is(err, sql.ErrNoRows) {
			return ledger.Application{}, false, err
		}
	}

	var schemeID int64
	var schemeName string
	err = tx.QueryRowContext(ctx, `select id, name from schemes where name_key = $1 for update`, registry.NameKey(sub.SchemeName)).Scan(&schemeID, &schemeName)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Application{}, false, fmt.Errorf("%w %q", ledger.ErrUnknownScheme, sub.SchemeName)
	}
	if err != nil {
		return ledger.Application{}, false, err
	}

	var id int64
	if err := tx.QueryRowContext(ctx, `select coalesce(max(id), 0) + 1 from applications`).Scan(&id); err != nil {
		return ledger.Application{}, false, err
	}
	app := ledger.Application{
		ID:         id,
		SchemeName: schemeName,
		Applicant: ledger.Applicant{
			Name:       strings.TrimSpace(sub.Applicant.Name),
			Age:        sub.Applicant.Age,
			NationalID: strings.TrimSpace(sub.Applicant.NationalID),
			Address:    strings.TrimSpace(sub.Applicant.Address),
		},
		Status:      ledger.StatusPending,
		SubmittedBy: submitter,
		SubmittedAt: s.now().UTC(),
	}
	if _, err := tx.ExecContext(ctx, `
		insert into applications(id, scheme_id, scheme_name, applicant_name, applicant_age, national_id, address, status, submitted_by, submitted_at, idempotency_key)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, nullif($11, ''))
	`, app.ID, schemeID, app.SchemeName, app.Applicant.Name, app.Applicant.Age, app.Applicant.NationalID,
		app.Applicant.Address, string(app.Status), app.SubmittedBy, app.SubmittedAt, idemKey); err != nil {
		return ledger.Application{}, false, err
	}
	if _, err := tx.ExecContext(ctx, `update schemes set application_count = application_count + 1 where id = $1`, schemeID); err != nil {
		return ledger.Application{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Application{}, false, err
	}
	return app, false, nil
}

func (s *Store) List(ctx context.Context, f ledger.Filter) ([]ledger.Application, error) {
	var limit sql.NullInt64
	if f.Limit > 0 {
		limit = sql.NullInt64{Int64: int64(f.Limit), Valid: true}
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+appColumns+`
		from applications
		where ($1 = '' or submitted_by = $1)
		  and ($2 = '' or status = $2)
		  and id > $3
		order by id asc
		limit $4
	`, f.SubmittedBy, string(f.Status), f.AfterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []ledger.Application{}
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, app)
	}
	return res, rows.Err()
}

func (s *Store) Get(ctx context.Context, id int64) (ledger.Application, error) {
	app, err := scanApplication(s.db.QueryRowContext(ctx, `select `+appColumns+` from applications where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Application{}, fmt.Errorf("%w: %d", ledger.ErrNotFound, id)
	}
	return app, err
}

func (s *Store) Decide(ctx context.Context, id int64, decision ledger.Status, decidedBy string) (ledger.Application, error) {
	if !decision.Terminal() {
		return ledger.Application{}, fmt.Errorf("%w: decision must be Approved or Rejected, got %q", ledger.ErrInvalidInput, decision)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Application{}, err
	}
	defer func() { _ = tx.Rollback() }()

	app, err := scanApplication(tx.QueryRowContext(ctx, `select `+appColumns+` from applications where id = $1 for update`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Application{}, fmt.Errorf("%w: %d", ledger.ErrNotFound, id)
	}
	if err != nil {
		return ledger.Application{}, err
	}
	if app.Status != ledger.StatusPending {
		return ledger.Application{}, fmt.Errorf("%w: application %d is already %s", ledger.ErrInvalidTransition, id, app.Status)
	}
	now := s.now().UTC()
	by := strings.TrimSpace(decidedBy)
	if _, err := tx.ExecContext(ctx, `
		update applications set status = $2, decided_by = $3, decided_at = $4
		where id = $1 and status = 'Pending'
	`, id, string(decision), by, now); err != nil {
		return ledger.Application{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Application{}, err
	}
	app.Status = decision
	app.DecidedBy = by
	app.DecidedAt = &now
	return app, nil
}

// --- helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanScheme(row scanner) (registry.Scheme, error) {
	var sc registry.Scheme
	err := row.Scan(&sc.ID, &sc.Name, &sc.Description, &sc.Eligibility, &sc.ApplicationCount, &sc.CreatedAt, &sc.CreatedBy)
	return sc, err
}

func scanApplication(row scanner) (ledger.Application, error) {
	var (
		app       ledger.Application
		status    string
		decidedBy sql.NullString
		decidedAt sql.NullTime
	)
	err := row.Scan(&app.ID, &app.SchemeName, &app.Applicant.Name, &app.Applicant.Age, &app.Applicant.NationalID,
		&app.Applicant.Address, &status, &app.SubmittedBy, &app.SubmittedAt, &decidedBy, &decidedAt)
	if err != nil {
		return ledger.Application{}, err
	}
	app.Status = ledger.Status(status)
	if decidedBy.Valid {
		app.DecidedBy = decidedBy.String
	}
	if decidedAt.Valid {
		t := decidedAt.Time.UTC()
		app.DecidedAt = &t
	}
	return app, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
