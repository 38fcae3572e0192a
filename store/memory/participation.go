package memory

import (
	"context"
	"sort"

	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/participation"
)

// ParticipationStore implements participation.Store.
type ParticipationStore struct{ s *Store }

func (ps *ParticipationStore) Latest(_ context.Context, employee generic.EmployeeID, before generic.Date) (*participation.Participation, error) {
	ps.s.mu.RLock()
	defer ps.s.mu.RUnlock()
	var best *participation.Participation
	for _, p := range ps.s.participations {
		if p.EmployeeID != employee || !p.Start.Before(before) {
			continue
		}
		if best == nil || p.Start.After(best.Start) || (p.Start.Equal(best.Start) && p.CreatedAt.After(best.CreatedAt)) {
			cp := p
			best = &cp
		}
	}
	return best, nil
}

func (ps *ParticipationStore) History(_ context.Context, employee generic.EmployeeID) ([]participation.Participation, error) {
	ps.s.mu.RLock()
	defer ps.s.mu.RUnlock()
	out := []participation.Participation{}
	for _, p := range ps.s.participations {
		if p.EmployeeID == employee {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// Put seeds a baseline record.
func (ps *ParticipationStore) Put(_ context.Context, p participation.Participation) error {
	ps.s.mu.Lock()
	defer ps.s.mu.Unlock()
	ps.s.participations[p.ID] = p
	return nil
}

// participationWriter runs with the store write lock held.
type participationWriter struct{ t *tables }

func (w participationWriter) Open(_ context.Context, employee generic.EmployeeID) (*participation.Participation, error) {
	var best *participation.Participation
	for _, p := range w.t.participations {
		if p.EmployeeID == employee && p.End == nil && (best == nil || p.Start.After(best.Start)) {
			cp := p
			best = &cp
		}
	}
	return best, nil
}

func (w participationWriter) Close(_ context.Context, id string, end generic.Date, status participation.Status) error {
	p, ok := w.t.participations[id]
	if !ok {
		return &generic.NotFoundError{Kind: "participation", ID: id}
	}
	p.End = end.Ptr()
	p.Status = status
	w.t.participations[id] = p
	return nil
}

func (w participationWriter) Insert(_ context.Context, p participation.Participation) error {
	w.t.participations[p.ID] = p
	return nil
}
