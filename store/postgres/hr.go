package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/hr"
)

// HRStore reads the HR collaborator tables. In a shared HRIS database these
// are usually views; the Put methods exist for seeding.
type HRStore struct{ s *Store }

func (h *HRStore) Sources() hr.Sources {
	return hr.Sources{Directory: h, Contracts: h, Absences: h, Employment: h}
}

func (h *HRStore) PutEmployee(ctx context.Context, e hr.Employee) error {
	_, err := h.s.pool.Exec(ctx, `
		INSERT INTO employees (id, code, full_name, region, hire_date) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code, full_name = EXCLUDED.full_name,
			region = EXCLUDED.region, hire_date = EXCLUDED.hire_date`,
		string(e.ID), e.Code, e.FullName, int(e.Region), dateArg(e.HireDate))
	return wrap("employee", err)
}

func (h *HRStore) PutContract(ctx context.Context, c hr.Contract) error {
	_, err := h.s.pool.Exec(ctx, `
		INSERT INTO contracts (id, employee_id, status, start_date, end_date, termination_date,
			insurance_salary, social, health, unemployment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date, termination_date = EXCLUDED.termination_date,
			insurance_salary = EXCLUDED.insurance_salary, social = EXCLUDED.social,
			health = EXCLUDED.health, unemployment = EXCLUDED.unemployment`,
		string(c.ID), string(c.EmployeeID), string(c.Status), dateArg(c.Start), nullDateArg(c.End),
		nullDateArg(c.TerminationDate), nullDecimalArg(c.InsuranceSalary),
		c.Coverage.Social, c.Coverage.Health, c.Coverage.Unemployment)
	return wrap("contract", err)
}

func (h *HRStore) PutAppendix(ctx context.Context, a hr.Appendix) error {
	var position *string
	if a.PositionID != nil {
		s := string(*a.PositionID)
		position = &s
	}
	var grade *int
	if a.Grade != nil {
		g := int(*a.Grade)
		grade = &g
	}
	_, err := h.s.pool.Exec(ctx, `
		INSERT INTO contract_appendices (id, contract_id, employee_id, effective_date, insurance_salary, position_id, grade)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET effective_date = EXCLUDED.effective_date,
			insurance_salary = EXCLUDED.insurance_salary, position_id = EXCLUDED.position_id, grade = EXCLUDED.grade`,
		string(a.ID), string(a.ContractID), string(a.EmployeeID), dateArg(a.EffectiveDate),
		nullDecimalArg(a.InsuranceSalary), position, grade)
	return wrap("appendix", err)
}

func (h *HRStore) PutAbsence(ctx context.Context, a hr.Absence) error {
	_, err := h.s.pool.Exec(ctx, `
		INSERT INTO absences (id, employee_id, absence_type, start_date, end_date, affects_insurance, leave_request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET absence_type = EXCLUDED.absence_type, start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date, affects_insurance = EXCLUDED.affects_insurance`,
		a.ID, string(a.EmployeeID), string(a.Type), dateArg(a.Start), dateArg(a.End), a.AffectsInsurance, a.LeaveRequestID)
	return wrap("absence", err)
}

func (h *HRStore) PutEmploymentPeriod(ctx context.Context, p hr.EmploymentPeriod) error {
	_, err := h.s.pool.Exec(ctx, `
		INSERT INTO employment_periods (id, employee_id, start_date, end_date, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET end_date = EXCLUDED.end_date, status = EXCLUDED.status`,
		p.ID, string(p.EmployeeID), dateArg(p.Start), nullDateArg(p.End), string(p.Status))
	return wrap("employment period", err)
}

func wrap(kind string, err error) error {
	if err != nil {
		return fmt.Errorf("store %s: %w", kind, err)
	}
	return nil
}

func (h *HRStore) ListEmployees(ctx context.Context) ([]hr.Employee, error) {
	rows, err := h.s.pool.Query(ctx, `SELECT id, code, full_name, region, hire_date FROM employees ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query employees: %w", err)
	}
	defer rows.Close()

	out := []hr.Employee{}
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (h *HRStore) GetEmployee(ctx context.Context, id generic.EmployeeID) (*hr.Employee, error) {
	e, err := scanEmployee(h.s.pool.QueryRow(ctx,
		`SELECT id, code, full_name, region, hire_date FROM employees WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "employee", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEmployee(row scanner) (hr.Employee, error) {
	var (
		e      hr.Employee
		id     string
		region int16
		hire   time.Time
	)
	if err := row.Scan(&id, &e.Code, &e.FullName, &region, &hire); err != nil {
		return e, err
	}
	e.ID = generic.EmployeeID(id)
	e.Region = generic.Region(region)
	e.HireDate = fromDate(hire)
	return e, nil
}

func (h *HRStore) ContractsForEmployee(ctx context.Context, employee generic.EmployeeID) ([]hr.Contract, error) {
	rows, err := h.s.pool.Query(ctx, `
		SELECT id, employee_id, status, start_date, end_date, termination_date, insurance_salary::text,
			social, health, unemployment
		FROM contracts WHERE employee_id = $1 ORDER BY start_date`, string(employee))
	if err != nil {
		return nil, fmt.Errorf("query contracts: %w", err)
	}
	defer rows.Close()

	var out []hr.Contract
	for rows.Next() {
		var (
			c               hr.Contract
			id, emp, status string
			start           time.Time
			end, terminated *time.Time
			salary          *string
		)
		if err := rows.Scan(&id, &emp, &status, &start, &end, &terminated, &salary,
			&c.Coverage.Social, &c.Coverage.Health, &c.Coverage.Unemployment); err != nil {
			return nil, err
		}
		c.ID = generic.DocumentID(id)
		c.EmployeeID = generic.EmployeeID(emp)
		c.Status = hr.ContractStatus(status)
		c.Start = fromDate(start)
		c.End = fromNullDate(end)
		c.TerminationDate = fromNullDate(terminated)
		if c.InsuranceSalary, err = fromNullDecimal(salary); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const appendixColumns = `id, contract_id, employee_id, effective_date, insurance_salary::text, position_id, grade`

func (h *HRStore) AppendicesForEmployee(ctx context.Context, employee generic.EmployeeID) ([]hr.Appendix, error) {
	rows, err := h.s.pool.Query(ctx, `
		SELECT `+appendixColumns+` FROM contract_appendices
		WHERE employee_id = $1 ORDER BY effective_date`, string(employee))
	if err != nil {
		return nil, fmt.Errorf("query appendices: %w", err)
	}
	defer rows.Close()

	var out []hr.Appendix
	for rows.Next() {
		a, err := scanAppendix(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (h *HRStore) GetAppendix(ctx context.Context, id generic.DocumentID) (*hr.Appendix, error) {
	a, err := scanAppendix(h.s.pool.QueryRow(ctx,
		`SELECT `+appendixColumns+` FROM contract_appendices WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "appendix", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanAppendix(row scanner) (hr.Appendix, error) {
	var (
		a                 hr.Appendix
		id, contract, emp string
		at                time.Time
		salary, position  *string
		grade             *int16
	)
	if err := row.Scan(&id, &contract, &emp, &at, &salary, &position, &grade); err != nil {
		return a, err
	}
	a.ID = generic.DocumentID(id)
	a.ContractID = generic.DocumentID(contract)
	a.EmployeeID = generic.EmployeeID(emp)
	a.EffectiveDate = fromDate(at)
	if position != nil && *position != "" {
		p := generic.PositionID(*position)
		a.PositionID = &p
	}
	if grade != nil {
		g := generic.Grade(*grade)
		a.Grade = &g
	}
	var err error
	a.InsuranceSalary, err = fromNullDecimal(salary)
	return a, err
}

func (h *HRStore) AbsencesForEmployee(ctx context.Context, employee generic.EmployeeID, from, to generic.Date) ([]hr.Absence, error) {
	rows, err := h.s.pool.Query(ctx, `
		SELECT id, employee_id, absence_type, start_date, end_date, affects_insurance, leave_request_id
		FROM absences
		WHERE employee_id = $1 AND start_date <= $2 AND end_date >= $3
		ORDER BY start_date`, string(employee), dateArg(to), dateArg(from))
	if err != nil {
		return nil, fmt.Errorf("query absences: %w", err)
	}
	defer rows.Close()

	var out []hr.Absence
	for rows.Next() {
		var (
			a          hr.Absence
			emp, kind  string
			start, end time.Time
		)
		if err := rows.Scan(&a.ID, &emp, &kind, &start, &end, &a.AffectsInsurance, &a.LeaveRequestID); err != nil {
			return nil, err
		}
		a.EmployeeID = generic.EmployeeID(emp)
		a.Type = hr.AbsenceType(kind)
		a.Start = fromDate(start)
		a.End = fromDate(end)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (h *HRStore) PeriodsForEmployee(ctx context.Context, employee generic.EmployeeID) ([]hr.EmploymentPeriod, error) {
	rows, err := h.s.pool.Query(ctx, `
		SELECT id, employee_id, start_date, end_date, status
		FROM employment_periods WHERE employee_id = $1 ORDER BY start_date`, string(employee))
	if err != nil {
		return nil, fmt.Errorf("query employment periods: %w", err)
	}
	defer rows.Close()

	var out []hr.EmploymentPeriod
	for rows.Next() {
		var (
			p           hr.EmploymentPeriod
			emp, status string
			start       time.Time
			end         *time.Time
		)
		if err := rows.Scan(&p.ID, &emp, &start, &end, &status); err != nil {
			return nil, err
		}
		p.EmployeeID = generic.EmployeeID(emp)
		p.Status = hr.PeriodStatus(status)
		p.Start = fromDate(start)
		p.End = fromNullDate(end)
		out = append(out, p)
	}
	return out, rows.Err()
}

var (
	_ hr.Directory        = (*HRStore)(nil)
	_ hr.ContractSource   = (*HRStore)(nil)
	_ hr.AbsenceSource    = (*HRStore)(nil)
	_ hr.EmploymentSource = (*HRStore)(nil)
)
