package memory

import (
	"context"
	"sort"

	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/profile"
)

// ProfileStore implements profile.Store.
type ProfileStore struct{ s *Store }

func (p *ProfileStore) WithTx(_ context.Context, fn func(tx profile.Tx) error) error {
	return p.s.withTx(func() error { return fn(profileTx{t: &p.s.tables}) })
}

func (p *ProfileStore) Current(_ context.Context, employee generic.EmployeeID) (*profile.Profile, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	return currentProfile(&p.s.tables, employee), nil
}

func (p *ProfileStore) AsOf(_ context.Context, employee generic.EmployeeID, date generic.Date) (*profile.Profile, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	for _, pr := range p.s.profiles {
		if pr.EmployeeID == employee && pr.Applied.Contains(date) {
			return &pr, nil
		}
	}
	return nil, nil
}

func (p *ProfileStore) History(_ context.Context, employee generic.EmployeeID) ([]profile.Profile, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	out := []profile.Profile{}
	for _, pr := range p.s.profiles {
		if pr.EmployeeID == employee {
			out = append(out, pr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Applied.From.Before(out[j].Applied.From) })
	return out, nil
}

func (p *ProfileStore) ListCurrent(_ context.Context) ([]profile.Profile, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	out := []profile.Profile{}
	for _, pr := range p.s.profiles {
		if pr.IsCurrent() {
			out = append(out, pr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out, nil
}

func currentProfile(t *tables, employee generic.EmployeeID) *profile.Profile {
	for _, pr := range t.profiles {
		if pr.EmployeeID == employee && pr.IsCurrent() {
			return &pr
		}
	}
	return nil
}

type profileTx struct{ t *tables }

func (tx profileTx) Current(_ context.Context, employee generic.EmployeeID) (*profile.Profile, error) {
	return currentProfile(tx.t, employee), nil
}

func (tx profileTx) Close(_ context.Context, id string, to generic.Date) error {
	pr, ok := tx.t.profiles[id]
	if !ok {
		return &generic.NotFoundError{Kind: "profile", ID: id}
	}
	pr.Applied.To = to.Ptr()
	tx.t.profiles[id] = pr
	return nil
}

// Insert enforces the single-current-slice invariant the way a partial
// unique index would.
func (tx profileTx) Insert(_ context.Context, pr profile.Profile) error {
	if pr.IsCurrent() && currentProfile(tx.t, pr.EmployeeID) != nil {
		return &generic.InvariantError{Op: "insert profile", Message: "employee " + string(pr.EmployeeID) + " already has a current profile"}
	}
	tx.t.profiles[pr.ID] = pr
	return nil
}
