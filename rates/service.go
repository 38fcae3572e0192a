package rates

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/insurance-engine/generic"
)

// Service is the rate store's write and lookup surface.
type Service struct {
	store Store
	clock generic.Clock
	log   logrus.FieldLogger
}

// Option configures a Service.
type Option func(*Service)

func WithClock(c generic.Clock) Option        { return func(s *Service) { s.clock = c } }
func WithLogger(l logrus.FieldLogger) Option { return func(s *Service) { s.log = l } }

// NewService creates a rate service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		clock: generic.SystemClock{},
		log:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "rates")
	return s
}

// =============================================================================
// WRITES
// =============================================================================

// UpsertWage records a new wage for a region. If an open-ended active wage
// exists for the region and starts before EffectiveFrom, it is closed on the
// day before. Re-submitting the same (region, amount, from) is a no-op that
// returns the existing record.
func (s *Service) UpsertWage(ctx context.Context, in UpsertWageInput) (*MinimumWage, error) {
	if !in.Region.Valid() {
		return nil, &generic.ValidationError{Field: "region", Message: "must be between 1 and 4"}
	}
	if !in.Amount.IsPositive() {
		return nil, &generic.ValidationError{Field: "amount", Message: "must be positive"}
	}
	if in.EffectiveFrom.IsZero() {
		return nil, &generic.ValidationError{Field: "effective_from", Message: "is required"}
	}

	var result MinimumWage
	err := s.store.WithTx(ctx, func(tx Tx) error {
		existing, err := tx.WagesForRegion(ctx, in.Region)
		if err != nil {
			return err
		}
		slots := make([]slot, len(existing))
		for i, w := range existing {
			slots[i] = slot{id: w.ID, effective: w.Effective, active: w.IsActive, sameValue: w.Amount.Equal(in.Amount)}
		}
		p, err := planInsert(wageKey(in.Region), slots, in.EffectiveFrom)
		if err != nil {
			return err
		}
		if p.duplicate >= 0 {
			result = existing[p.duplicate]
			return nil
		}
		if p.closeID != "" {
			if err := tx.CloseWage(ctx, p.closeID, in.EffectiveFrom.AddDays(-1)); err != nil {
				return err
			}
		}
		result = MinimumWage{
			ID:        generic.NewID("wage"),
			Region:    in.Region,
			Amount:    in.Amount,
			Effective: generic.OpenRange(in.EffectiveFrom),
			IsActive:  true,
			CreatedAt: s.clock.Now(),
		}
		return tx.InsertWage(ctx, result)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"region":         int(result.Region),
		"amount":         result.Amount.String(),
		"effective_from": result.Effective.From.String(),
		"wage_id":        result.ID,
	}).Info("minimum wage recorded")
	return &result, nil
}

// UpsertGrade records a new coefficient for a (position, grade) with the
// same closing and idempotence rules as UpsertWage.
func (s *Service) UpsertGrade(ctx context.Context, in UpsertGradeInput) (*PositionSalaryGrade, error) {
	if in.PositionID == "" {
		return nil, &generic.ValidationError{Field: "position_id", Message: "is required"}
	}
	if !in.Grade.Valid() {
		return nil, &generic.ValidationError{Field: "grade", Message: "must be between 1 and 7"}
	}
	if !in.Coefficient.IsPositive() {
		return nil, &generic.ValidationError{Field: "coefficient", Message: "must be positive"}
	}
	if in.EffectiveFrom.IsZero() {
		return nil, &generic.ValidationError{Field: "effective_from", Message: "is required"}
	}

	var result PositionSalaryGrade
	err := s.store.WithTx(ctx, func(tx Tx) error {
		existing, err := tx.GradesForKey(ctx, in.PositionID, in.Grade)
		if err != nil {
			return err
		}
		slots := make([]slot, len(existing))
		for i, g := range existing {
			slots[i] = slot{id: g.ID, effective: g.Effective, active: g.IsActive, sameValue: g.Coefficient.Equal(in.Coefficient)}
		}
		p, err := planInsert(gradeKey(in.PositionID, in.Grade), slots, in.EffectiveFrom)
		if err != nil {
			return err
		}
		if p.duplicate >= 0 {
			result = existing[p.duplicate]
			return nil
		}
		if p.closeID != "" {
			if err := tx.CloseGrade(ctx, p.closeID, in.EffectiveFrom.AddDays(-1)); err != nil {
				return err
			}
		}
		result = PositionSalaryGrade{
			ID:          generic.NewID("grade"),
			PositionID:  in.PositionID,
			Grade:       in.Grade,
			Coefficient: in.Coefficient,
			Effective:   generic.OpenRange(in.EffectiveFrom),
			IsActive:    true,
			CreatedAt:   s.clock.Now(),
		}
		return tx.InsertGrade(ctx, result)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"position_id":    string(result.PositionID),
		"grade":          int(result.Grade),
		"coefficient":    result.Coefficient.String(),
		"effective_from": result.Effective.From.String(),
		"grade_id":       result.ID,
	}).Info("grade coefficient recorded")
	return &result, nil
}

// DeactivateWage removes a wage record from lookups without deleting it.
func (s *Service) DeactivateWage(ctx context.Context, id string) (*MinimumWage, error) {
	var out *MinimumWage
	err := s.store.WithTx(ctx, func(tx Tx) error {
		w, err := tx.GetWage(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.SetWageActive(ctx, id, false); err != nil {
			return err
		}
		w.IsActive = false
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithField("wage_id", id).Info("minimum wage deactivated")
	return out, nil
}

// DeactivateGrade removes a coefficient record from lookups without deleting it.
func (s *Service) DeactivateGrade(ctx context.Context, id string) (*PositionSalaryGrade, error) {
	var out *PositionSalaryGrade
	err := s.store.WithTx(ctx, func(tx Tx) error {
		g, err := tx.GetGrade(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.SetGradeActive(ctx, id, false); err != nil {
			return err
		}
		g.IsActive = false
		out = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithField("grade_id", id).Info("grade coefficient deactivated")
	return out, nil
}

// =============================================================================
// LOOKUPS
// =============================================================================

// WageAt returns the active wage record covering date, or nil.
func (s *Service) WageAt(ctx context.Context, region generic.Region, date generic.Date) (*MinimumWage, error) {
	found, err := s.store.WagesCovering(ctx, region, date)
	if err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return &found[0], nil
	default:
		return nil, &generic.OverlapError{
			Key: wageKey(region), Effective: date,
			ExistingID: found[1].ID, Existing: found[1].Effective,
		}
	}
}

// GradeAt returns the active coefficient record covering date, or nil.
func (s *Service) GradeAt(ctx context.Context, position generic.PositionID, grade generic.Grade, date generic.Date) (*PositionSalaryGrade, error) {
	found, err := s.store.GradesCovering(ctx, position, grade, date)
	if err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return &found[0], nil
	default:
		return nil, &generic.OverlapError{
			Key: gradeKey(position, grade), Effective: date,
			ExistingID: found[1].ID, Existing: found[1].Effective,
		}
	}
}

// LookupWage returns the wage amount in effect on date. ok is false when no
// active record covers date.
func (s *Service) LookupWage(ctx context.Context, region generic.Region, date generic.Date) (amount decimal.Decimal, ok bool, err error) {
	w, err := s.WageAt(ctx, region, date)
	if err != nil || w == nil {
		return decimal.Zero, false, err
	}
	return w.Amount, true, nil
}

// LookupGrade returns the coefficient in effect on date.
func (s *Service) LookupGrade(ctx context.Context, position generic.PositionID, grade generic.Grade, date generic.Date) (coef decimal.Decimal, ok bool, err error) {
	g, err := s.GradeAt(ctx, position, grade, date)
	if err != nil || g == nil {
		return decimal.Zero, false, err
	}
	return g.Coefficient, true, nil
}

// RequireWage is LookupWage with a MissingRateError in place of ok=false.
func (s *Service) RequireWage(ctx context.Context, region generic.Region, date generic.Date) (decimal.Decimal, error) {
	amount, ok, err := s.LookupWage(ctx, region, date)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, &generic.MissingRateError{Kind: "minimum_wage", Region: region, Date: date}
	}
	return amount, nil
}

// RequireGrade is LookupGrade with a MissingRateError in place of ok=false.
func (s *Service) RequireGrade(ctx context.Context, position generic.PositionID, grade generic.Grade, date generic.Date) (decimal.Decimal, error) {
	coef, ok, err := s.LookupGrade(ctx, position, grade, date)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, &generic.MissingRateError{Kind: "grade_coefficient", Position: position, Grade: grade, Date: date}
	}
	return coef, nil
}

func (s *Service) ListWages(ctx context.Context, region generic.Region) ([]MinimumWage, error) {
	return s.store.ListWages(ctx, region)
}

func (s *Service) ListGrades(ctx context.Context, position generic.PositionID) ([]PositionSalaryGrade, error) {
	return s.store.ListGrades(ctx, position)
}

// =============================================================================
// INSERT PLANNING
// =============================================================================

type slot struct {
	id        string
	effective generic.Range
	active    bool
	sameValue bool
}

type insertPlan struct {
	closeID   string
	duplicate int
}

// planInsert decides how a new open record starting at from fits the
// existing history of a key. Only active records take part.
func planInsert(key string, slots []slot, from generic.Date) (insertPlan, error) {
	plan := insertPlan{duplicate: -1}
	overlap := func(s slot) error {
		return &generic.OverlapError{Key: key, Effective: from, ExistingID: s.id, Existing: s.effective}
	}

	for i, s := range slots {
		if !s.active {
			continue
		}
		if s.effective.From.Equal(from) {
			if s.sameValue && s.effective.IsOpen() {
				plan.duplicate = i
				continue
			}
			return insertPlan{}, overlap(s)
		}
		if s.effective.IsOpen() {
			if from.Before(s.effective.From) || plan.closeID != "" {
				return insertPlan{}, overlap(s)
			}
			plan.closeID = s.id
			continue
		}
		// Closed record: the new open range covers everything from `from` on.
		if s.effective.Contains(from) || from.Before(s.effective.From) {
			return insertPlan{}, overlap(s)
		}
	}

	if plan.duplicate >= 0 {
		plan.closeID = ""
	}
	return plan, nil
}
