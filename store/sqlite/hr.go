package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/hr"
)

// =============================================================================
// HR COLLABORATOR TABLES
// =============================================================================

// HRStore implements the hr source interfaces over local mirror tables.
// The Put methods upsert rows for seeding and sync jobs.
type HRStore struct{ s *Store }

// Sources returns the store as the detection engine's collaborator bundle.
func (h *HRStore) Sources() hr.Sources {
	return hr.Sources{Directory: h, Contracts: h, Absences: h, Employment: h}
}

func (h *HRStore) PutEmployee(ctx context.Context, e hr.Employee) error {
	return h.s.write(func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT OR REPLACE INTO employees (id, code, full_name, region, hire_date)
			VALUES (?, ?, ?, ?, ?)`,
			string(e.ID), e.Code, e.FullName, int(e.Region), formatDate(e.HireDate))
		return wrap("employee", err)
	})
}

func (h *HRStore) PutContract(ctx context.Context, c hr.Contract) error {
	return h.s.write(func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT OR REPLACE INTO contracts (id, employee_id, status, start_date, end_date,
				termination_date, insurance_salary, social, health, unemployment)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(c.ID), string(c.EmployeeID), string(c.Status), formatDate(c.Start), nullDate(c.End),
			nullDate(c.TerminationDate), nullDecimal(c.InsuranceSalary),
			boolInt(c.Coverage.Social), boolInt(c.Coverage.Health), boolInt(c.Coverage.Unemployment))
		return wrap("contract", err)
	})
}

func (h *HRStore) PutAppendix(ctx context.Context, a hr.Appendix) error {
	var position sql.NullString
	if a.PositionID != nil {
		position = nullString(string(*a.PositionID))
	}
	var grade sql.NullInt64
	if a.Grade != nil {
		grade = sql.NullInt64{Int64: int64(*a.Grade), Valid: true}
	}
	return h.s.write(func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT OR REPLACE INTO contract_appendices (id, contract_id, employee_id, effective_date,
				insurance_salary, position_id, grade)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			string(a.ID), string(a.ContractID), string(a.EmployeeID), formatDate(a.EffectiveDate),
			nullDecimal(a.InsuranceSalary), position, grade)
		return wrap("appendix", err)
	})
}

func (h *HRStore) PutAbsence(ctx context.Context, a hr.Absence) error {
	return h.s.write(func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT OR REPLACE INTO absences (id, employee_id, absence_type, start_date, end_date,
				affects_insurance, leave_request_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ID, string(a.EmployeeID), string(a.Type), formatDate(a.Start), formatDate(a.End),
			boolInt(a.AffectsInsurance), a.LeaveRequestID)
		return wrap("absence", err)
	})
}

func (h *HRStore) PutEmploymentPeriod(ctx context.Context, p hr.EmploymentPeriod) error {
	return h.s.write(func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT OR REPLACE INTO employment_periods (id, employee_id, start_date, end_date, status)
			VALUES (?, ?, ?, ?, ?)`,
			p.ID, string(p.EmployeeID), formatDate(p.Start), nullDate(p.End), string(p.Status))
		return wrap("employment period", err)
	})
}

func wrap(kind string, err error) error {
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", kind, err)
	}
	return nil
}

// ===== Directory =====

func (h *HRStore) ListEmployees(ctx context.Context) ([]hr.Employee, error) {
	var out []hr.Employee
	err := h.s.read(func(q querier) error {
		rows, err := q.QueryContext(ctx, `SELECT id, code, full_name, region, hire_date FROM employees ORDER BY id`)
		if err != nil {
			return fmt.Errorf("failed to query employees: %w", err)
		}
		defer rows.Close()
		out = []hr.Employee{}
		for rows.Next() {
			e, err := scanEmployee(rows)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

func (h *HRStore) GetEmployee(ctx context.Context, id generic.EmployeeID) (*hr.Employee, error) {
	var out *hr.Employee
	err := h.s.read(func(q querier) error {
		e, err := scanEmployee(q.QueryRowContext(ctx,
			`SELECT id, code, full_name, region, hire_date FROM employees WHERE id = ?`, string(id)))
		if errors.Is(err, sql.ErrNoRows) {
			return &generic.NotFoundError{Kind: "employee", ID: string(id)}
		}
		if err != nil {
			return err
		}
		out = &e
		return nil
	})
	return out, err
}

func scanEmployee(row scanner) (hr.Employee, error) {
	var (
		e        hr.Employee
		id, hire string
		region   int
	)
	if err := row.Scan(&id, &e.Code, &e.FullName, &region, &hire); err != nil {
		return e, err
	}
	e.ID = generic.EmployeeID(id)
	e.Region = generic.Region(region)
	var err error
	e.HireDate, err = parseDate(hire)
	return e, err
}

// ===== ContractSource =====

func (h *HRStore) ContractsForEmployee(ctx context.Context, employee generic.EmployeeID) ([]hr.Contract, error) {
	var out []hr.Contract
	err := h.s.read(func(q querier) error {
		rows, err := q.QueryContext(ctx, `
			SELECT id, employee_id, status, start_date, end_date, termination_date, insurance_salary,
				social, health, unemployment
			FROM contracts WHERE employee_id = ? ORDER BY start_date`, string(employee))
		if err != nil {
			return fmt.Errorf("failed to query contracts: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				c                            hr.Contract
				id, emp, status, start       string
				end, terminated, salary      sql.NullString
				social, health, unemployment int
			)
			if err := rows.Scan(&id, &emp, &status, &start, &end, &terminated, &salary,
				&social, &health, &unemployment); err != nil {
				return err
			}
			c.ID = generic.DocumentID(id)
			c.EmployeeID = generic.EmployeeID(emp)
			c.Status = hr.ContractStatus(status)
			c.Coverage = hr.Coverage{Social: social == 1, Health: health == 1, Unemployment: unemployment == 1}
			if c.Start, err = parseDate(start); err != nil {
				return err
			}
			if c.End, err = parseNullDate(end); err != nil {
				return err
			}
			if c.TerminationDate, err = parseNullDate(terminated); err != nil {
				return err
			}
			if c.InsuranceSalary, err = parseNullDecimal(salary); err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

const appendixColumns = `id, contract_id, employee_id, effective_date, insurance_salary, position_id, grade`

func (h *HRStore) AppendicesForEmployee(ctx context.Context, employee generic.EmployeeID) ([]hr.Appendix, error) {
	var out []hr.Appendix
	err := h.s.read(func(q querier) error {
		rows, err := q.QueryContext(ctx, `
			SELECT `+appendixColumns+` FROM contract_appendices
			WHERE employee_id = ? ORDER BY effective_date`, string(employee))
		if err != nil {
			return fmt.Errorf("failed to query appendices: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			a, err := scanAppendix(rows)
			if err != nil {
				return err
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	return out, err
}

func (h *HRStore) GetAppendix(ctx context.Context, id generic.DocumentID) (*hr.Appendix, error) {
	var out *hr.Appendix
	err := h.s.read(func(q querier) error {
		a, err := scanAppendix(q.QueryRowContext(ctx,
			`SELECT `+appendixColumns+` FROM contract_appendices WHERE id = ?`, string(id)))
		if errors.Is(err, sql.ErrNoRows) {
			return &generic.NotFoundError{Kind: "appendix", ID: string(id)}
		}
		if err != nil {
			return err
		}
		out = &a
		return nil
	})
	return out, err
}

func scanAppendix(row scanner) (hr.Appendix, error) {
	var (
		a                     hr.Appendix
		id, contract, emp, at string
		salary, position      sql.NullString
		grade                 sql.NullInt64
	)
	if err := row.Scan(&id, &contract, &emp, &at, &salary, &position, &grade); err != nil {
		return a, err
	}
	a.ID = generic.DocumentID(id)
	a.ContractID = generic.DocumentID(contract)
	a.EmployeeID = generic.EmployeeID(emp)
	if position.Valid && position.String != "" {
		p := generic.PositionID(position.String)
		a.PositionID = &p
	}
	if grade.Valid {
		g := generic.Grade(grade.Int64)
		a.Grade = &g
	}
	var err error
	if a.EffectiveDate, err = parseDate(at); err != nil {
		return a, err
	}
	a.InsuranceSalary, err = parseNullDecimal(salary)
	return a, err
}

// ===== AbsenceSource =====

func (h *HRStore) AbsencesForEmployee(ctx context.Context, employee generic.EmployeeID, from, to generic.Date) ([]hr.Absence, error) {
	var out []hr.Absence
	err := h.s.read(func(q querier) error {
		rows, err := q.QueryContext(ctx, `
			SELECT id, employee_id, absence_type, start_date, end_date, affects_insurance, leave_request_id
			FROM absences
			WHERE employee_id = ? AND start_date <= ? AND end_date >= ?
			ORDER BY start_date`, string(employee), formatDate(to), formatDate(from))
		if err != nil {
			return fmt.Errorf("failed to query absences: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				a                     hr.Absence
				emp, kind, start, end string
				affects               int
			)
			if err := rows.Scan(&a.ID, &emp, &kind, &start, &end, &affects, &a.LeaveRequestID); err != nil {
				return err
			}
			a.EmployeeID = generic.EmployeeID(emp)
			a.Type = hr.AbsenceType(kind)
			a.AffectsInsurance = affects == 1
			if a.Start, err = parseDate(start); err != nil {
				return err
			}
			if a.End, err = parseDate(end); err != nil {
				return err
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	return out, err
}

// ===== EmploymentSource =====

func (h *HRStore) PeriodsForEmployee(ctx context.Context, employee generic.EmployeeID) ([]hr.EmploymentPeriod, error) {
	var out []hr.EmploymentPeriod
	err := h.s.read(func(q querier) error {
		rows, err := q.QueryContext(ctx, `
			SELECT id, employee_id, start_date, end_date, status
			FROM employment_periods WHERE employee_id = ? ORDER BY start_date`, string(employee))
		if err != nil {
			return fmt.Errorf("failed to query employment periods: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				p                  hr.EmploymentPeriod
				emp, start, status string
				end                sql.NullString
			)
			if err := rows.Scan(&p.ID, &emp, &start, &end, &status); err != nil {
				return err
			}
			p.EmployeeID = generic.EmployeeID(emp)
			p.Status = hr.PeriodStatus(status)
			if p.Start, err = parseDate(start); err != nil {
				return err
			}
			if p.End, err = parseNullDate(end); err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}

// =============================================================================
// INTERFACE ASSERTIONS
// =============================================================================

var (
	_ hr.Directory        = (*HRStore)(nil)
	_ hr.ContractSource   = (*HRStore)(nil)
	_ hr.AbsenceSource    = (*HRStore)(nil)
	_ hr.EmploymentSource = (*HRStore)(nil)
)
