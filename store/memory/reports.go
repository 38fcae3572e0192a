package memory

import (
	"context"
	"sort"
	"time"

	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/report"
)

// ReportStore implements report.Store.
type ReportStore struct{ s *Store }

func (rs *ReportStore) CreateReport(_ context.Context, r report.Report) error {
	rs.s.mu.Lock()
	defer rs.s.mu.Unlock()
	for _, existing := range rs.s.reports {
		if existing.Year == r.Year && existing.Month == r.Month {
			return generic.ErrDuplicate
		}
	}
	rs.s.reports[r.ID] = r
	return nil
}

func (rs *ReportStore) GetReport(_ context.Context, id string) (*report.Report, error) {
	rs.s.mu.RLock()
	defer rs.s.mu.RUnlock()
	r, ok := rs.s.reports[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (rs *ReportStore) FindReport(_ context.Context, year int, month time.Month) (*report.Report, error) {
	rs.s.mu.RLock()
	defer rs.s.mu.RUnlock()
	for _, r := range rs.s.reports {
		if r.Year == year && r.Month == month {
			return &r, nil
		}
	}
	return nil, nil
}

func (rs *ReportStore) ListReports(_ context.Context) ([]report.Report, error) {
	rs.s.mu.RLock()
	defer rs.s.mu.RUnlock()
	out := make([]report.Report, 0, len(rs.s.reports))
	for _, r := range rs.s.reports {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].Month > out[j].Month
	})
	return out, nil
}

func (rs *ReportStore) GetRecord(_ context.Context, id string) (*report.ChangeRecord, error) {
	rs.s.mu.RLock()
	defer rs.s.mu.RUnlock()
	rec, ok := rs.s.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (rs *ReportStore) ListRecords(_ context.Context, reportID string) ([]report.ChangeRecord, error) {
	rs.s.mu.RLock()
	defer rs.s.mu.RUnlock()
	return recordsOf(&rs.s.tables, reportID), nil
}

func (rs *ReportStore) InsertRecord(_ context.Context, rec report.ChangeRecord) error {
	rs.s.mu.Lock()
	defer rs.s.mu.Unlock()
	if err := draftLocked(&rs.s.tables, rec.ReportID, "insert change record"); err != nil {
		return err
	}
	for _, existing := range rs.s.records {
		if existing.ReportID == rec.ReportID && existing.EmployeeID == rec.EmployeeID {
			return generic.ErrDuplicate
		}
	}
	rs.s.records[rec.ID] = rec
	return nil
}

func (rs *ReportStore) RefreshRecord(_ context.Context, rec report.ChangeRecord) (bool, error) {
	return rs.replacePending(rec)
}

func (rs *ReportStore) Decide(_ context.Context, rec report.ChangeRecord) (bool, error) {
	return rs.replacePending(rec)
}

// replacePending swaps a record in while it is PENDING and its report DRAFT.
func (rs *ReportStore) replacePending(rec report.ChangeRecord) (bool, error) {
	rs.s.mu.Lock()
	defer rs.s.mu.Unlock()
	current, ok := rs.s.records[rec.ID]
	if !ok || current.ApprovalStatus != report.ApprovalPending {
		return false, nil
	}
	r, ok := rs.s.reports[current.ReportID]
	if !ok || r.Status != report.StatusDraft {
		return false, nil
	}
	rs.s.records[rec.ID] = rec
	return true, nil
}

func (rs *ReportStore) Finalize(ctx context.Context, reportID string, fn report.FinalizeFunc) (*report.Report, error) {
	var out report.Report
	err := rs.s.withTx(func() error {
		r, ok := rs.s.reports[reportID]
		if !ok {
			return &generic.NotFoundError{Kind: "report", ID: reportID}
		}
		next, err := fn(ctx, r, recordsOf(&rs.s.tables, reportID), participationWriter{t: &rs.s.tables})
		if err != nil {
			return err
		}
		rs.s.reports[reportID] = next
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (rs *ReportStore) SetExport(_ context.Context, reportID, location, actor string, at time.Time) error {
	rs.s.mu.Lock()
	defer rs.s.mu.Unlock()
	r, ok := rs.s.reports[reportID]
	if !ok {
		return &generic.NotFoundError{Kind: "report", ID: reportID}
	}
	r.ExportPath = location
	r.ExportedBy = actor
	r.ExportedAt = &at
	rs.s.reports[reportID] = r
	return nil
}

func draftLocked(t *tables, reportID, op string) error {
	r, ok := t.reports[reportID]
	if !ok {
		return &generic.NotFoundError{Kind: "report", ID: reportID}
	}
	if r.Status != report.StatusDraft {
		return &generic.StateConflictError{Op: op, State: string(r.Status), Blocking: []string{reportID}}
	}
	return nil
}

func recordsOf(t *tables, reportID string) []report.ChangeRecord {
	out := []report.ChangeRecord{}
	for _, rec := range t.records {
		if rec.ReportID == reportID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out
}
