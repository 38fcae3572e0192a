package memory

import (
	"context"
	"sort"

	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/rates"
)

// RateStore implements rates.Store.
type RateStore struct{ s *Store }

func (r *RateStore) WithTx(_ context.Context, fn func(tx rates.Tx) error) error {
	return r.s.withTx(func() error { return fn(rateTx{t: &r.s.tables}) })
}

func (r *RateStore) WagesCovering(_ context.Context, region generic.Region, date generic.Date) ([]rates.MinimumWage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []rates.MinimumWage
	for _, w := range r.s.wages {
		if w.IsActive && w.Region == region && w.Effective.Contains(date) {
			out = append(out, w)
		}
	}
	sortWages(out)
	return out, nil
}

func (r *RateStore) GradesCovering(_ context.Context, position generic.PositionID, grade generic.Grade, date generic.Date) ([]rates.PositionSalaryGrade, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []rates.PositionSalaryGrade
	for _, g := range r.s.grades {
		if g.IsActive && g.PositionID == position && g.Grade == grade && g.Effective.Contains(date) {
			out = append(out, g)
		}
	}
	sortGrades(out)
	return out, nil
}

func (r *RateStore) ListWages(_ context.Context, region generic.Region) ([]rates.MinimumWage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []rates.MinimumWage{}
	for _, w := range r.s.wages {
		if region == 0 || w.Region == region {
			out = append(out, w)
		}
	}
	sortWages(out)
	return out, nil
}

func (r *RateStore) ListGrades(_ context.Context, position generic.PositionID) ([]rates.PositionSalaryGrade, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []rates.PositionSalaryGrade{}
	for _, g := range r.s.grades {
		if position == "" || g.PositionID == position {
			out = append(out, g)
		}
	}
	sortGrades(out)
	return out, nil
}

// rateTx runs with the store write lock held.
type rateTx struct{ t *tables }

func (tx rateTx) WagesForRegion(_ context.Context, region generic.Region) ([]rates.MinimumWage, error) {
	var out []rates.MinimumWage
	for _, w := range tx.t.wages {
		if w.Region == region {
			out = append(out, w)
		}
	}
	sortWages(out)
	return out, nil
}

func (tx rateTx) GetWage(_ context.Context, id string) (*rates.MinimumWage, error) {
	w, ok := tx.t.wages[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "minimum wage", ID: id}
	}
	return &w, nil
}

func (tx rateTx) InsertWage(_ context.Context, w rates.MinimumWage) error {
	if _, ok := tx.t.wages[w.ID]; ok {
		return generic.ErrDuplicate
	}
	tx.t.wages[w.ID] = w
	return nil
}

func (tx rateTx) CloseWage(_ context.Context, id string, to generic.Date) error {
	w, ok := tx.t.wages[id]
	if !ok {
		return &generic.NotFoundError{Kind: "minimum wage", ID: id}
	}
	w.Effective.To = to.Ptr()
	tx.t.wages[id] = w
	return nil
}

func (tx rateTx) SetWageActive(_ context.Context, id string, active bool) error {
	w, ok := tx.t.wages[id]
	if !ok {
		return &generic.NotFoundError{Kind: "minimum wage", ID: id}
	}
	w.IsActive = active
	tx.t.wages[id] = w
	return nil
}

func (tx rateTx) GradesForKey(_ context.Context, position generic.PositionID, grade generic.Grade) ([]rates.PositionSalaryGrade, error) {
	var out []rates.PositionSalaryGrade
	for _, g := range tx.t.grades {
		if g.PositionID == position && g.Grade == grade {
			out = append(out, g)
		}
	}
	sortGrades(out)
	return out, nil
}

func (tx rateTx) GetGrade(_ context.Context, id string) (*rates.PositionSalaryGrade, error) {
	g, ok := tx.t.grades[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "grade coefficient", ID: id}
	}
	return &g, nil
}

func (tx rateTx) InsertGrade(_ context.Context, g rates.PositionSalaryGrade) error {
	if _, ok := tx.t.grades[g.ID]; ok {
		return generic.ErrDuplicate
	}
	tx.t.grades[g.ID] = g
	return nil
}

func (tx rateTx) CloseGrade(_ context.Context, id string, to generic.Date) error {
	g, ok := tx.t.grades[id]
	if !ok {
		return &generic.NotFoundError{Kind: "grade coefficient", ID: id}
	}
	g.Effective.To = to.Ptr()
	tx.t.grades[id] = g
	return nil
}

func (tx rateTx) SetGradeActive(_ context.Context, id string, active bool) error {
	g, ok := tx.t.grades[id]
	if !ok {
		return &generic.NotFoundError{Kind: "grade coefficient", ID: id}
	}
	g.IsActive = active
	tx.t.grades[id] = g
	return nil
}

func sortWages(ws []rates.MinimumWage) {
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].Region != ws[j].Region {
			return ws[i].Region < ws[j].Region
		}
		return ws[i].Effective.From.Before(ws[j].Effective.From)
	})
}

func sortGrades(gs []rates.PositionSalaryGrade) {
	sort.Slice(gs, func(i, j int) bool {
		if gs[i].PositionID != gs[j].PositionID {
			return gs[i].PositionID < gs[j].PositionID
		}
		if gs[i].Grade != gs[j].Grade {
			return gs[i].Grade < gs[j].Grade
		}
		return gs[i].Effective.From.Before(gs[j].Effective.From)
	})
}
