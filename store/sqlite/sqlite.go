/*
Package sqlite provides a SQLite-backed implementation of the engine stores.

PURPOSE:
  Implements every persistence interface (rates, profile, suggestion,
  report, participation) plus the HR collaborator tables, using SQLite.
  store/postgres carries the same schema for PostgreSQL.

INTERFACES IMPLEMENTED:
  rates.Store:           Store.Rates()
  profile.Store:         Store.Profiles()
  suggestion.Store:      Store.Suggestions()
  report.Store:          Store.Reports()
  participation.Store:   Store.Participation()
  hr.Directory, hr.ContractSource, hr.AbsenceSource, hr.EmploymentSource:
                         Store.HR()

KEY TABLES:
  minimum_wages, position_salary_grades:  Effective-dated rate tables
  employee_insurance_profiles:            Profile ledger slices
  grade_suggestions:                      Seniority proposals
  insurance_monthly_reports:              One row per (year, month)
  insurance_change_records:               Detected changes, cascade with report
  insurance_participations:               Reported baseline
  employees, contracts, contract_appendices, absences, employment_periods

INVARIANT INDEXES:
  Partial unique indexes back the engine invariants so a bug above the
  store still cannot commit a violation:
  - idx_wages_open_region:       one open active wage per region
  - idx_grades_open_key:         one open active coefficient per (position, grade)
  - idx_profiles_current:        one current slice per employee
  - idx_suggestions_pending:     one PENDING suggestion per employee
  - UNIQUE(year, month):         one report per period
  - UNIQUE(report_id, employee_id): one record per employee per report

CONCURRENCY:
  One connection (SetMaxOpenConns(1)) guarded by sync.RWMutex: reads share
  the read lock, transactions take the write lock. Inside a transaction
  every read goes through the sql.Tx, never through the parent store.

DATES:
  Calendar days are TEXT "YYYY-MM-DD"; timestamps are fixed-width UTC TEXT;
  amounts are decimal strings.

USAGE:
  store, err := sqlite.New("./data/insurance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  rateSvc := rates.NewService(store.Rates())

MIGRATION:
  Schema is auto-migrated on New().
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/participation"
	"github.com/warp/insurance-engine/profile"
	"github.com/warp/insurance-engine/rates"
	"github.com/warp/insurance-engine/report"
	"github.com/warp/insurance-engine/suggestion"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A :memory: database lives per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Rates() *RateStore                  { return &RateStore{s: s} }
func (s *Store) Profiles() *ProfileStore            { return &ProfileStore{s: s} }
func (s *Store) Suggestions() *SuggestionStore      { return &SuggestionStore{s: s} }
func (s *Store) Reports() *ReportStore              { return &ReportStore{s: s} }
func (s *Store) Participation() *ParticipationStore { return &ParticipationStore{s: s} }
func (s *Store) HR() *HRStore                       { return &HRStore{s: s} }

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Region minimum wages
	CREATE TABLE IF NOT EXISTS minimum_wages (
		id TEXT PRIMARY KEY,
		region INTEGER NOT NULL CHECK (region BETWEEN 1 AND 4),
		amount TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_wages_region_from
		ON minimum_wages(region, effective_from);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_wages_open_region
		ON minimum_wages(region) WHERE effective_to IS NULL AND is_active = 1;

	-- Position grade coefficients
	CREATE TABLE IF NOT EXISTS position_salary_grades (
		id TEXT PRIMARY KEY,
		position_id TEXT NOT NULL,
		grade INTEGER NOT NULL CHECK (grade BETWEEN 1 AND 7),
		coefficient TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_grades_key_from
		ON position_salary_grades(position_id, grade, effective_from);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_grades_open_key
		ON position_salary_grades(position_id, grade) WHERE effective_to IS NULL AND is_active = 1;

	-- Profile ledger
	CREATE TABLE IF NOT EXISTS employee_insurance_profiles (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		position_id TEXT,
		grade INTEGER NOT NULL CHECK (grade BETWEEN 1 AND 7),
		applied_from TEXT NOT NULL,
		applied_to TEXT,
		reason TEXT NOT NULL,
		source_document TEXT,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_profiles_employee_from
		ON employee_insurance_profiles(employee_id, applied_from);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_profiles_current
		ON employee_insurance_profiles(employee_id) WHERE applied_to IS NULL;

	-- Grade suggestions
	CREATE TABLE IF NOT EXISTS grade_suggestions (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		profile_id TEXT NOT NULL,
		current_grade INTEGER NOT NULL,
		suggested_grade INTEGER NOT NULL,
		tenure_years INTEGER NOT NULL,
		status TEXT NOT NULL,
		suggested_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		appendix_id TEXT,
		decided_by TEXT NOT NULL DEFAULT '',
		decided_at TEXT,
		note TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_suggestions_status_expiry
		ON grade_suggestions(status, expires_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_suggestions_pending
		ON grade_suggestions(employee_id) WHERE status = 'PENDING';

	-- Monthly reports
	CREATE TABLE IF NOT EXISTS insurance_monthly_reports (
		id TEXT PRIMARY KEY,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL CHECK (month BETWEEN 1 AND 12),
		status TEXT NOT NULL DEFAULT 'DRAFT',
		totals_json TEXT NOT NULL DEFAULT '{}',
		export_path TEXT NOT NULL DEFAULT '',
		exported_at TEXT,
		exported_by TEXT NOT NULL DEFAULT '',
		finalized_at TEXT,
		finalized_by TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(year, month)
	);

	-- Change records
	CREATE TABLE IF NOT EXISTS insurance_change_records (
		id TEXT PRIMARY KEY,
		report_id TEXT NOT NULL REFERENCES insurance_monthly_reports(id) ON DELETE CASCADE,
		employee_id TEXT NOT NULL,
		change_type TEXT NOT NULL,
		auto_reason TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		insurance_salary TEXT,
		prior_salary TEXT,
		social INTEGER NOT NULL DEFAULT 0,
		health INTEGER NOT NULL DEFAULT 0,
		unemployment INTEGER NOT NULL DEFAULT 0,
		contract_id TEXT,
		appendix_id TEXT,
		leave_request_id TEXT NOT NULL DEFAULT '',
		detection_note TEXT NOT NULL DEFAULT '',
		approval_status TEXT NOT NULL DEFAULT 'PENDING',
		adjusted_salary TEXT,
		adjust_reason TEXT NOT NULL DEFAULT '',
		decision_note TEXT NOT NULL DEFAULT '',
		decided_by TEXT NOT NULL DEFAULT '',
		decided_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(report_id, employee_id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_report_status
		ON insurance_change_records(report_id, approval_status);

	-- Participation baseline
	CREATE TABLE IF NOT EXISTS insurance_participations (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		social INTEGER NOT NULL DEFAULT 0,
		health INTEGER NOT NULL DEFAULT 0,
		unemployment INTEGER NOT NULL DEFAULT 0,
		insurance_salary TEXT NOT NULL,
		status TEXT NOT NULL,
		source_contract TEXT,
		source_appendix TEXT,
		source_report TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_participations_employee_start
		ON insurance_participations(employee_id, start_date DESC);

	-- HR collaborator tables
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		full_name TEXT NOT NULL,
		region INTEGER NOT NULL,
		hire_date TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		status TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		termination_date TEXT,
		insurance_salary TEXT,
		social INTEGER NOT NULL DEFAULT 0,
		health INTEGER NOT NULL DEFAULT 0,
		unemployment INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_employee
		ON contracts(employee_id, start_date);

	CREATE TABLE IF NOT EXISTS contract_appendices (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL DEFAULT '',
		employee_id TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		insurance_salary TEXT,
		position_id TEXT,
		grade INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_appendices_employee
		ON contract_appendices(employee_id, effective_date);

	CREATE TABLE IF NOT EXISTS absences (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		absence_type TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		affects_insurance INTEGER NOT NULL DEFAULT 0,
		leave_request_id TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_absences_employee_window
		ON absences(employee_id, start_date, end_date);

	CREATE TABLE IF NOT EXISTS employment_periods (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		status TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_employment_employee
		ON employment_periods(employee_id, start_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx executes fn within a database transaction.
func (s *Store) withTx(ctx context.Context, fn func(q querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// read runs fn against the database under the read lock.
func (s *Store) read(fn func(q querier) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.db)
}

// write runs a single statement under the write lock.
func (s *Store) write(fn func(q querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.db)
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func formatDate(d generic.Date) string { return d.String() }

func nullDate(d *generic.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseDate(s string) (generic.Date, error) {
	return generic.ParseDate(s)
}

func parseNullDate(ns sql.NullString) (*generic.Date, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	d, err := generic.ParseDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDecimal(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDoc(d *generic.DocumentID) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return nullString(string(*d))
}

func parseNullDoc(ns sql.NullString) *generic.DocumentID {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	d := generic.DocumentID(ns.String)
	return &d
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func rowsAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var (
	_ rates.Store         = (*RateStore)(nil)
	_ profile.Store       = (*ProfileStore)(nil)
	_ suggestion.Store    = (*SuggestionStore)(nil)
	_ report.Store        = (*ReportStore)(nil)
	_ participation.Store = (*ParticipationStore)(nil)
)
