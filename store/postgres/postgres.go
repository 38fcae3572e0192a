/*
Package postgres provides a PostgreSQL-backed implementation of the engine stores.

PURPOSE:
  Same interfaces and schema as store/sqlite, for deployments that share
  the HRIS database. Typed columns: DATE for calendar days, NUMERIC for
  amounts, TIMESTAMPTZ for timestamps.

CONCURRENCY:
  pgxpool connections. Writers that must serialize per table family take a
  transaction-scoped advisory lock. Record writes take FOR SHARE on the
  owning report row; Finalize takes FOR UPDATE, so a decision either
  commits before Finalize reads the records or sees FINALIZED.

USAGE:
  store, err := postgres.New(ctx, os.Getenv("DATABASE_URL"))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/participation"
	"github.com/warp/insurance-engine/profile"
	"github.com/warp/insurance-engine/rates"
	"github.com/warp/insurance-engine/report"
	"github.com/warp/insurance-engine/suggestion"
)

// Advisory lock keys.
const (
	lockRates    int64 = 0x1A5_0001
	lockProfiles int64 = 0x1A5_0002
)

// Store implements all storage interfaces using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects, pings and migrates.
func New(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// Connection pool settings
	config.MaxConns = 25
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Rates() *RateStore                  { return &RateStore{s: s} }
func (s *Store) Profiles() *ProfileStore            { return &ProfileStore{s: s} }
func (s *Store) Suggestions() *SuggestionStore      { return &SuggestionStore{s: s} }
func (s *Store) Reports() *ReportStore              { return &ReportStore{s: s} }
func (s *Store) Participation() *ParticipationStore { return &ParticipationStore{s: s} }
func (s *Store) HR() *HRStore                       { return &HRStore{s: s} }

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS minimum_wages (
	id TEXT PRIMARY KEY,
	region SMALLINT NOT NULL CHECK (region BETWEEN 1 AND 4),
	amount NUMERIC(18,2) NOT NULL,
	effective_from DATE NOT NULL,
	effective_to DATE,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_wages_region_from ON minimum_wages(region, effective_from);
CREATE UNIQUE INDEX IF NOT EXISTS idx_wages_open_region
	ON minimum_wages(region) WHERE effective_to IS NULL AND is_active;

CREATE TABLE IF NOT EXISTS position_salary_grades (
	id TEXT PRIMARY KEY,
	position_id TEXT NOT NULL,
	grade SMALLINT NOT NULL CHECK (grade BETWEEN 1 AND 7),
	coefficient NUMERIC(10,4) NOT NULL,
	effective_from DATE NOT NULL,
	effective_to DATE,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_grades_key_from ON position_salary_grades(position_id, grade, effective_from);
CREATE UNIQUE INDEX IF NOT EXISTS idx_grades_open_key
	ON position_salary_grades(position_id, grade) WHERE effective_to IS NULL AND is_active;

CREATE TABLE IF NOT EXISTS employee_insurance_profiles (
	id TEXT PRIMARY KEY,
	employee_id TEXT NOT NULL,
	position_id TEXT,
	grade SMALLINT NOT NULL CHECK (grade BETWEEN 1 AND 7),
	applied_from DATE NOT NULL,
	applied_to DATE,
	reason TEXT NOT NULL,
	source_document TEXT,
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_profiles_employee_from ON employee_insurance_profiles(employee_id, applied_from);
CREATE UNIQUE INDEX IF NOT EXISTS idx_profiles_current
	ON employee_insurance_profiles(employee_id) WHERE applied_to IS NULL;

CREATE TABLE IF NOT EXISTS grade_suggestions (
	id TEXT PRIMARY KEY,
	employee_id TEXT NOT NULL,
	profile_id TEXT NOT NULL,
	current_grade SMALLINT NOT NULL,
	suggested_grade SMALLINT NOT NULL,
	tenure_years INTEGER NOT NULL,
	status TEXT NOT NULL,
	suggested_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	appendix_id TEXT,
	decided_by TEXT NOT NULL DEFAULT '',
	decided_at TIMESTAMPTZ,
	note TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_suggestions_status_expiry ON grade_suggestions(status, expires_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_suggestions_pending
	ON grade_suggestions(employee_id) WHERE status = 'PENDING';

CREATE TABLE IF NOT EXISTS insurance_monthly_reports (
	id TEXT PRIMARY KEY,
	year INTEGER NOT NULL,
	month SMALLINT NOT NULL CHECK (month BETWEEN 1 AND 12),
	status TEXT NOT NULL DEFAULT 'DRAFT',
	totals_json JSONB NOT NULL DEFAULT '{}',
	export_path TEXT NOT NULL DEFAULT '',
	exported_at TIMESTAMPTZ,
	exported_by TEXT NOT NULL DEFAULT '',
	finalized_at TIMESTAMPTZ,
	finalized_by TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (year, month)
);

CREATE TABLE IF NOT EXISTS insurance_change_records (
	id TEXT PRIMARY KEY,
	report_id TEXT NOT NULL REFERENCES insurance_monthly_reports(id) ON DELETE CASCADE,
	employee_id TEXT NOT NULL,
	change_type TEXT NOT NULL,
	auto_reason TEXT NOT NULL,
	effective_date DATE NOT NULL,
	insurance_salary NUMERIC(18,2),
	prior_salary NUMERIC(18,2),
	social BOOLEAN NOT NULL DEFAULT FALSE,
	health BOOLEAN NOT NULL DEFAULT FALSE,
	unemployment BOOLEAN NOT NULL DEFAULT FALSE,
	contract_id TEXT,
	appendix_id TEXT,
	leave_request_id TEXT NOT NULL DEFAULT '',
	detection_note TEXT NOT NULL DEFAULT '',
	approval_status TEXT NOT NULL DEFAULT 'PENDING',
	adjusted_salary NUMERIC(18,2),
	adjust_reason TEXT NOT NULL DEFAULT '',
	decision_note TEXT NOT NULL DEFAULT '',
	decided_by TEXT NOT NULL DEFAULT '',
	decided_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (report_id, employee_id)
);
CREATE INDEX IF NOT EXISTS idx_records_report_status ON insurance_change_records(report_id, approval_status);

CREATE TABLE IF NOT EXISTS insurance_participations (
	id TEXT PRIMARY KEY,
	employee_id TEXT NOT NULL,
	start_date DATE NOT NULL,
	end_date DATE,
	social BOOLEAN NOT NULL DEFAULT FALSE,
	health BOOLEAN NOT NULL DEFAULT FALSE,
	unemployment BOOLEAN NOT NULL DEFAULT FALSE,
	insurance_salary NUMERIC(18,2) NOT NULL,
	status TEXT NOT NULL,
	source_contract TEXT,
	source_appendix TEXT,
	source_report TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_participations_employee_start ON insurance_participations(employee_id, start_date DESC);

CREATE TABLE IF NOT EXISTS employees (
	id TEXT PRIMARY KEY,
	code TEXT NOT NULL,
	full_name TEXT NOT NULL,
	region SMALLINT NOT NULL,
	hire_date DATE NOT NULL
);

CREATE TABLE IF NOT EXISTS contracts (
	id TEXT PRIMARY KEY,
	employee_id TEXT NOT NULL,
	status TEXT NOT NULL,
	start_date DATE NOT NULL,
	end_date DATE,
	termination_date DATE,
	insurance_salary NUMERIC(18,2),
	social BOOLEAN NOT NULL DEFAULT FALSE,
	health BOOLEAN NOT NULL DEFAULT FALSE,
	unemployment BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_contracts_employee ON contracts(employee_id, start_date);

CREATE TABLE IF NOT EXISTS contract_appendices (
	id TEXT PRIMARY KEY,
	contract_id TEXT NOT NULL DEFAULT '',
	employee_id TEXT NOT NULL,
	effective_date DATE NOT NULL,
	insurance_salary NUMERIC(18,2),
	position_id TEXT,
	grade SMALLINT
);
CREATE INDEX IF NOT EXISTS idx_appendices_employee ON contract_appendices(employee_id, effective_date);

CREATE TABLE IF NOT EXISTS absences (
	id TEXT PRIMARY KEY,
	employee_id TEXT NOT NULL,
	absence_type TEXT NOT NULL,
	start_date DATE NOT NULL,
	end_date DATE NOT NULL,
	affects_insurance BOOLEAN NOT NULL DEFAULT FALSE,
	leave_request_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_absences_employee_window ON absences(employee_id, start_date, end_date);

CREATE TABLE IF NOT EXISTS employment_periods (
	id TEXT PRIMARY KEY,
	employee_id TEXT NOT NULL,
	start_date DATE NOT NULL,
	end_date DATE,
	status TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_employment_employee ON employment_periods(employee_id, start_date);
`

// =============================================================================
// TRANSACTIONS
// =============================================================================

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// withTx executes fn inside a database transaction.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback error: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// withLockedTx is withTx holding a transaction-scoped advisory lock.
func (s *Store) withLockedTx(ctx context.Context, key int64, fn func(tx pgx.Tx) error) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, key); err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
		return fn(tx)
	})
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

// Dates and amounts go over the wire as text; pgx sends string arguments
// in text format to any column type.

func dateArg(d generic.Date) string { return d.String() }

func nullDateArg(d *generic.Date) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func nullDecimalArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func nullDocArg(d *generic.DocumentID) *string {
	if d == nil || *d == "" {
		return nil
	}
	s := string(*d)
	return &s
}

func fromDate(t time.Time) generic.Date {
	return generic.NewDate(t.Year(), t.Month(), t.Day())
}

func fromNullDate(t *time.Time) *generic.Date {
	if t == nil {
		return nil
	}
	d := fromDate(*t)
	return &d
}

func fromNullDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func fromNullDoc(s *string) *generic.DocumentID {
	if s == nil || *s == "" {
		return nil
	}
	d := generic.DocumentID(*s)
	return &d
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// execOne runs an UPDATE that must hit exactly one row.
func execOne(ctx context.Context, q querier, kind, id, query string, args ...any) error {
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return &generic.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

var (
	_ rates.Store         = (*RateStore)(nil)
	_ profile.Store       = (*ProfileStore)(nil)
	_ suggestion.Store    = (*SuggestionStore)(nil)
	_ report.Store        = (*ReportStore)(nil)
	_ participation.Store = (*ParticipationStore)(nil)
)
