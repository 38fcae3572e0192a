// Package memory provides in-memory implementations of every engine store
// (for testing/dev).
package memory

import (
	"maps"
	"sync"

	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/hr"
	"github.com/warp/insurance-engine/participation"
	"github.com/warp/insurance-engine/profile"
	"github.com/warp/insurance-engine/rates"
	"github.com/warp/insurance-engine/report"
	"github.com/warp/insurance-engine/suggestion"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Store holds every table behind one lock. Component views (Rates,
// Profiles, ...) share it, so a transaction in one view is isolated from
// writes in all others.
type Store struct {
	mu sync.RWMutex
	tables
}

type tables struct {
	wages          map[string]rates.MinimumWage
	grades         map[string]rates.PositionSalaryGrade
	profiles       map[string]profile.Profile
	suggestions    map[string]suggestion.Suggestion
	reports        map[string]report.Report
	records        map[string]report.ChangeRecord
	participations map[string]participation.Participation

	employees  map[generic.EmployeeID]hr.Employee
	contracts  map[generic.DocumentID]hr.Contract
	appendices map[generic.DocumentID]hr.Appendix
	absences   map[string]hr.Absence
	periods    map[string]hr.EmploymentPeriod
}

func New() *Store {
	return &Store{tables: tables{
		wages:          make(map[string]rates.MinimumWage),
		grades:         make(map[string]rates.PositionSalaryGrade),
		profiles:       make(map[string]profile.Profile),
		suggestions:    make(map[string]suggestion.Suggestion),
		reports:        make(map[string]report.Report),
		records:        make(map[string]report.ChangeRecord),
		participations: make(map[string]participation.Participation),
		employees:      make(map[generic.EmployeeID]hr.Employee),
		contracts:      make(map[generic.DocumentID]hr.Contract),
		appendices:     make(map[generic.DocumentID]hr.Appendix),
		absences:       make(map[string]hr.Absence),
		periods:        make(map[string]hr.EmploymentPeriod),
	}}
}

func (s *Store) Rates() *RateStore                  { return &RateStore{s: s} }
func (s *Store) Profiles() *ProfileStore            { return &ProfileStore{s: s} }
func (s *Store) Suggestions() *SuggestionStore      { return &SuggestionStore{s: s} }
func (s *Store) Reports() *ReportStore              { return &ReportStore{s: s} }
func (s *Store) Participation() *ParticipationStore { return &ParticipationStore{s: s} }
func (s *Store) HR() *HRStore                       { return &HRStore{s: s} }

// withTx runs fn under the write lock and restores every table if fn fails.
func (s *Store) withTx(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	backup := s.tables.clone()
	if err := fn(); err != nil {
		s.tables = backup
		return err
	}
	return nil
}

func (t tables) clone() tables {
	return tables{
		wages:          maps.Clone(t.wages),
		grades:         maps.Clone(t.grades),
		profiles:       maps.Clone(t.profiles),
		suggestions:    maps.Clone(t.suggestions),
		reports:        maps.Clone(t.reports),
		records:        maps.Clone(t.records),
		participations: maps.Clone(t.participations),
		employees:      maps.Clone(t.employees),
		contracts:      maps.Clone(t.contracts),
		appendices:     maps.Clone(t.appendices),
		absences:       maps.Clone(t.absences),
		periods:        maps.Clone(t.periods),
	}
}

var (
	_ rates.Store         = (*RateStore)(nil)
	_ profile.Store       = (*ProfileStore)(nil)
	_ suggestion.Store    = (*SuggestionStore)(nil)
	_ report.Store        = (*ReportStore)(nil)
	_ participation.Store = (*ParticipationStore)(nil)
	_ hr.Directory        = (*HRStore)(nil)
	_ hr.ContractSource   = (*HRStore)(nil)
	_ hr.AbsenceSource    = (*HRStore)(nil)
	_ hr.EmploymentSource = (*HRStore)(nil)
)
