package pg

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"janseva.org/internal/ledger"
	"janseva.org/internal/registry"
)

var fixedNow = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := New(db)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func q(sql string) string { return regexp.QuoteMeta(sql) }

var appCols = []string{"id", "scheme_name", "applicant_name", "applicant_age", "national_id", "address", "status", "submitted_by", "submitted_at", "decided_by", "decided_at"}

func TestAddScheme(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(q(`lock table schemes in exclusive mode`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q(`select exists(select 1 from schemes where name_key = $1)`)).
		WithArgs("pm-kisan").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(q(`select coalesce(max(id), 0) + 1 from schemes`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectExec(`insert into schemes`).
		WithArgs(int64(3), "PM-KISAN", "pm-kisan", "Income support", "Farmers", "admin", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sc, err := s.AddScheme(context.Background(), registry.NewScheme{Name: " PM-KISAN ", Description: "Income support", Eligibility: "Farmers", CreatedBy: "admin"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), sc.ID)
	assert.Equal(t, "PM-KISAN", sc.Name)
	assert.Zero(t, sc.ApplicationCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddSchemeConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(q(`lock table schemes in exclusive mode`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q(`select exists(`)).WithArgs("pmay").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := s.AddScheme(context.Background(), registry.NewScheme{Name: "PMAY", Description: "d", Eligibility: "e"})
	require.ErrorIs(t, err, registry.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddSchemeUniqueViolationMapsToConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(q(`lock table schemes`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q(`select exists(`)).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(q(`select coalesce(max(id), 0) + 1 from schemes`)).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec(`insert into schemes`).WillReturnError(&pgconn.PgError{Code: uniqueViolation})
	mock.ExpectRollback()

	_, err := s.AddScheme(context.Background(), registry.NewScheme{Name: "PMAY", Description: "d", Eligibility: "e"})
	require.ErrorIs(t, err, registry.ErrConflict)
}

func TestAddSchemeValidationSkipsDatabase(t *testing.T) {
	s, mock := newMockStore(t)
	_, err := s.AddScheme(context.Background(), registry.NewScheme{Name: "x"})
	require.ErrorIs(t, err, registry.ErrInvalidInput)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitIncrementsCountInSameTransaction(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(q(`lock table applications in exclusive mode`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q(`from applications where submitted_by = $1 and idempotency_key = $2`)).
		WithArgs("ram", "k1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(q(`select id, name from schemes where name_key = $1 for update`)).
		WithArgs("pm-kisan").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "PM-KISAN"))
	mock.ExpectQuery(q(`select coalesce(max(id), 0) + 1 from applications`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(4)))
	mock.ExpectExec(`insert into applications`).
		WithArgs(int64(4), int64(1), "PM-KISAN", "Ram Kumar", 45, "1234", "Rampur", "Pending", "ram", fixedNow, "k1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(`update schemes set application_count = application_count + 1 where id = $1`)).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	app, replayed, err := s.Submit(context.Background(), ledger.Submission{
		SchemeName:  "pm-kisan",
		Applicant:   ledger.Applicant{Name: "Ram Kumar", Age: 45, NationalID: "1234", Address: "Rampur"},
		SubmittedBy: "ram",
	}, "k1")
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, int64(4), app.ID)
	assert.Equal(t, "PM-KISAN", app.SchemeName)
	assert.Equal(t, ledger.StatusPending, app.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitReplay(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(q(`lock table applications`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q(`idempotency_key = $2`)).WithArgs("ram", "k1").
		WillReturnRows(sqlmock.NewRows(appCols).
			AddRow(int64(2), "PM-KISAN", "Ram Kumar", 45, "1234", "Rampur", "Pending", "ram", fixedNow, nil, nil))
	mock.ExpectRollback()

	app, replayed, err := s.Submit(context.Background(), ledger.Submission{
		SchemeName:  "PM-KISAN",
		Applicant:   ledger.Applicant{Name: "Ram Kumar", Age: 45, NationalID: "1234", Address: "Rampur"},
		SubmittedBy: "ram",
	}, "k1")
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, int64(2), app.ID)
	assert.Nil(t, app.DecidedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitUnknownScheme(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(q(`lock table applications`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q(`select id, name from schemes`)).WithArgs("nope").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, _, err := s.Submit(context.Background(), ledger.Submission{
		SchemeName:  "Nope",
		Applicant:   ledger.Applicant{Name: "n", Age: 30, NationalID: "x", Address: "y"},
		SubmittedBy: "ram",
	}, "")
	require.ErrorIs(t, err, ledger.ErrUnknownScheme)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDecide(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q(`from applications where id = $1 for update`)).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(appCols).
			AddRow(int64(1), "PMAY", "Sita Devi", 38, "5678", "Lucknow", "Pending", "sita", fixedNow, nil, nil))
	mock.ExpectExec(`update applications set status = \$2`).
		WithArgs(int64(1), "Approved", "officer1", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	app, err := s.Decide(context.Background(), 1, ledger.StatusApproved, "officer1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApproved, app.Status)
	assert.Equal(t, "officer1", app.DecidedBy)
	require.NotNil(t, app.DecidedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDecideTerminalFails(t *testing.T) {
	s, mock := newMockStore(t)
	decided := fixedNow.Add(-time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(q(`for update`)).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(appCols).
			AddRow(int64(3), "MGNREGA", "Mohan Singh", 52, "9012", "Patna", "Approved", "mohan", fixedNow, "officer1", decided))
	mock.ExpectRollback()

	_, err := s.Decide(context.Background(), 3, ledger.StatusRejected, "officer2")
	require.ErrorIs(t, err, ledger.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDecideUnknownApplication(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q(`for update`)).WithArgs(int64(42)).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.Decide(context.Background(), 42, ledger.StatusApproved, "o")
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestListPassesFilter(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`from applications\s+where`).
		WithArgs("ram", "Pending", int64(0), sql.NullInt64{Int64: 10, Valid: true}).
		WillReturnRows(sqlmock.NewRows(appCols).
			AddRow(int64(1), "PM-KISAN", "Ram Kumar", 45, "1234", "Rampur", "Pending", "ram", fixedNow, nil, nil))

	list, err := s.List(context.Background(), ledger.Filter{SubmittedBy: "ram", Status: ledger.StatusPending, Limit: 10})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Ram Kumar", list[0].Applicant.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStats(t *testing.T) {
	s, mock := newMockStore(t)
	cols := []string{"id", "name", "description", "eligibility", "application_count", "created_at", "created_by"}
	mock.ExpectQuery(q(`from schemes order by id asc`)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(1), "PM-KISAN", "d", "e", int64(2), fixedNow, "admin").
			AddRow(int64(2), "PMAY", "d", "e", int64(1), fixedNow, "admin"))

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalSchemes)
	assert.Equal(t, int64(3), st.TotalApplications)
}

func TestGetNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(q(`from applications where id = $1`)).WithArgs(int64(9)).WillReturnError(sql.ErrNoRows)
	_, err := s.Get(context.Background(), 9)
	require.ErrorIs(t, err, ledger.ErrNotFound)
}
