package memory

import (
	"context"
	"sort"

	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/hr"
)

// HRStore implements hr.Directory, hr.ContractSource, hr.AbsenceSource and
// hr.EmploymentSource, with Put methods for seeding.
type HRStore struct{ s *Store }

// Sources returns the store as the detection engine's collaborator bundle.
func (h *HRStore) Sources() hr.Sources {
	return hr.Sources{Directory: h, Contracts: h, Absences: h, Employment: h}
}

func (h *HRStore) PutEmployee(e hr.Employee) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	h.s.employees[e.ID] = e
}

func (h *HRStore) PutContract(c hr.Contract) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	h.s.contracts[c.ID] = c
}

func (h *HRStore) PutAppendix(a hr.Appendix) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	h.s.appendices[a.ID] = a
}

func (h *HRStore) PutAbsence(a hr.Absence) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	h.s.absences[a.ID] = a
}

func (h *HRStore) PutEmploymentPeriod(p hr.EmploymentPeriod) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	h.s.periods[p.ID] = p
}

func (h *HRStore) ListEmployees(_ context.Context) ([]hr.Employee, error) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	out := make([]hr.Employee, 0, len(h.s.employees))
	for _, e := range h.s.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (h *HRStore) GetEmployee(_ context.Context, id generic.EmployeeID) (*hr.Employee, error) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	e, ok := h.s.employees[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "employee", ID: string(id)}
	}
	return &e, nil
}

func (h *HRStore) ContractsForEmployee(_ context.Context, employee generic.EmployeeID) ([]hr.Contract, error) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	var out []hr.Contract
	for _, c := range h.s.contracts {
		if c.EmployeeID == employee {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (h *HRStore) AppendicesForEmployee(_ context.Context, employee generic.EmployeeID) ([]hr.Appendix, error) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	var out []hr.Appendix
	for _, a := range h.s.appendices {
		if a.EmployeeID == employee {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EffectiveDate.Before(out[j].EffectiveDate) })
	return out, nil
}

func (h *HRStore) GetAppendix(_ context.Context, id generic.DocumentID) (*hr.Appendix, error) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	a, ok := h.s.appendices[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "appendix", ID: string(id)}
	}
	return &a, nil
}

func (h *HRStore) AbsencesForEmployee(_ context.Context, employee generic.EmployeeID, from, to generic.Date) ([]hr.Absence, error) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	window := generic.Period{Start: from, End: to}
	var out []hr.Absence
	for _, a := range h.s.absences {
		if a.EmployeeID == employee && a.Range().OverlapsPeriod(window) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (h *HRStore) PeriodsForEmployee(_ context.Context, employee generic.EmployeeID) ([]hr.EmploymentPeriod, error) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	var out []hr.EmploymentPeriod
	for _, p := range h.s.periods {
		if p.EmployeeID == employee {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}
